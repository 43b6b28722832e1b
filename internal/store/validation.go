package store

import (
	"strings"

	"github.com/kapetan-io/errors"
)

const maxPathLength = 1024

// pathValidation is embedded by every backend so path rules are enforced
// identically regardless of driver. Paths are built by this module, not
// taken from clients, so violations are bugs and reported as plain errors.
type pathValidation struct{}

func (pathValidation) validatePath(path string) error {
	if path == "" {
		return errors.New("path is invalid; cannot be empty")
	}
	if !strings.HasPrefix(path, "/") {
		return errors.Errorf("path is invalid; '%s' must be absolute", path)
	}
	if len(path) > maxPathLength {
		return errors.Errorf("path is invalid; cannot be greater than '%d' characters", maxPathLength)
	}
	if strings.HasSuffix(path, "/") {
		return errors.Errorf("path is invalid; '%s' cannot end with '/'", path)
	}
	if strings.Contains(path, "//") {
		return errors.Errorf("path is invalid; '%s' cannot contain empty segments", path)
	}
	return nil
}
