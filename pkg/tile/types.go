package tile

import (
	"errors"
	"fmt"
)

var (
	// ErrUnrecognizedImage is returned when tile bytes are not a known image format
	ErrUnrecognizedImage = errors.New("unrecognized image format")

	// ErrMissingVariable is returned when a URL template references a variable with no value
	ErrMissingVariable = errors.New("no value provided for template variable")
)

// Coords addresses a tile in a grid by column, row and zoom level.
type Coords struct {
	X, Y, Z int
}

func (c Coords) String() string {
	return fmt.Sprintf("%d/%d/%d", c.Z, c.X, c.Y)
}

// FetchError represents a failed tile download
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
