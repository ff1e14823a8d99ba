// Package fetcher downloads remote documents with rate limiting and bounded retries.
package fetcher

import (
	"context"
	"io"
)

// Fetcher defines the interface for downloading remote data.
type Fetcher interface {
	// Download fetches the URL and returns the response body. Any status
	// other than 200 is an error.
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}
