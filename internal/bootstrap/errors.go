package bootstrap

import (
	"fmt"

	"github.com/qdl-go/qdl/internal/filetype"
)

// UnsupportedFileError is returned for well-formed files no loader handles:
// unrecognised documents and contents descriptors.
type UnsupportedFileError struct {
	Path string
	Kind filetype.Kind
}

func (e *UnsupportedFileError) Error() string {
	if e.Kind == filetype.Unknown {
		return fmt.Sprintf("failed to detect file type of %s", e.Path)
	}
	return fmt.Sprintf("%s: %s files are not supported", e.Path, e.Kind)
}

type LoadError struct {
	Path string
	Kind filetype.Kind
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loading %s file %s: %s", e.Kind, e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}
