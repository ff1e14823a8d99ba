package fetcher

import (
	"io"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
)

// MaxJSONBytes bounds the size of a JSON document read by ReadJSON.
const MaxJSONBytes = 32 << 20

// ReadJSON reads a whole JSON document from r and checks that it is
// well-formed. The caller keeps the bytes for both typed decoding and
// path lookups.
func ReadJSON(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxJSONBytes+1))
	if err != nil {
		return nil, eris.Wrap(err, "json: read body")
	}
	if len(data) > MaxJSONBytes {
		return nil, eris.Errorf("json: document exceeds %d bytes", MaxJSONBytes)
	}
	if !gjson.ValidBytes(data) {
		return nil, eris.New("json: malformed document")
	}
	return data, nil
}

