package hooks

import (
	_ "embed"
	"fmt"
	"os"
)

// DefaultPayload is the hook payload loaded into the target process when no
// override is configured. Opaque to this package; the engine runs it.
//
//go:embed payload.js
var DefaultPayload string

// LoadPayload reads a payload override from disk.
func LoadPayload(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("hooks: read payload %s: %w", path, err)
	}
	return string(data), nil
}
