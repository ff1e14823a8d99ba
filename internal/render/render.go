// Package render produces the HTML of a page once its client-side content
// has loaded.
package render

import (
	"context"

	"github.com/rotisserie/eris"
)

// ErrSelectorMissing is returned when the rendered page never contains the
// element the caller waits for.
var ErrSelectorMissing = eris.New("render: wait selector not found")

// Renderer fetches a URL and returns its HTML after waitSelector matches.
// An empty waitSelector returns as soon as the document has loaded.
type Renderer interface {
	Render(ctx context.Context, url, waitSelector string) (string, error)
	Name() string
}
