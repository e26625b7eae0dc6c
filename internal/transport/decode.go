package transport

import (
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
)

// maxBodySize bounds decoded response bodies.
const maxBodySize = 32 * 1024 * 1024

// readBody reads the response body, undoing the Content-Encoding negotiated
// through Accept-Encoding.
func readBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body

	encoding := strings.ToLower(strings.TrimSpace(strings.Split(resp.Header.Get("Content-Encoding"), ",")[0]))
	switch encoding {
	case "", "identity":
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("decode gzip response: %w", err)
		}
		defer func() {
			_ = gz.Close()
		}()
		reader = gz
	case "br":
		reader = brotli.NewReader(resp.Body)
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}

	body, err := io.ReadAll(io.LimitReader(reader, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return body, nil
}
