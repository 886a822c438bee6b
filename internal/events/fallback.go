package events

import (
	_ "embed"
	"fmt"
	"os"
)

// bundledEvents is the dataset shipped with the binary, used whenever
// the remote source is unconfigured or unavailable.
//
//go:embed data/events.json
var bundledEvents []byte

// LoadFallback returns the raw fallback records. When path is empty the
// bundled dataset is used; otherwise the file at path, which must have
// the same shape as the remote /events body.
func LoadFallback(path string) ([]Raw, error) {
	data := bundledEvents
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read fallback dataset: %w", err)
		}
		data = b
	}

	raws, err := DecodeCollection(data)
	if err != nil {
		return nil, fmt.Errorf("decode fallback dataset %q: %w", displayPath(path), err)
	}
	return raws, nil
}

func displayPath(path string) string {
	if path == "" {
		return "bundled"
	}
	return path
}
