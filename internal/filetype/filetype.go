// Package filetype tells the XML support files of a flashing run apart by
// sniffing their root element, and for "data" roots their first relevant
// child. Nothing below that level is interpreted.
package filetype

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/qdl-go/qdl/internal/logs"
)

type Kind int

const (
	Unknown Kind = iota
	Patch
	Program
	StorageProvisioning
	Contents
)

func (k Kind) String() string {
	switch k {
	case Patch:
		return "patch"
	case Program:
		return "program"
	case StorageProvisioning:
		return "storage provisioning"
	case Contents:
		return "contents"
	}
	return "unknown"
}

var (
	ErrNoRoot        = errors.New("document has no root element")
	ErrExtraContent  = errors.New("content outside the root element")
	ErrDuplicateAttr = errors.New("attribute given twice")
)

// ParseError means the file could not be read or is not well-formed XML.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse %s: %s", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

type Detector struct {
	Log *logs.Logger
}

// Detect classifies the file at path with a detector that does not log.
func Detect(path string) (Kind, error) {
	return (&Detector{}).Detect(path)
}

// Detect classifies the file at path. A well-formed document that matches
// no rule is Unknown with a nil error.
func (d *Detector) Detect(path string) (Kind, error) {
	f, err := os.Open(path)
	if err != nil {
		return Unknown, &ParseError{Path: path, Err: err}
	}
	defer f.Close()

	kind, err := DetectReader(f)
	if err != nil {
		return Unknown, &ParseError{Path: path, Err: err}
	}
	d.Log.Debugf("%s: %s", path, kind)
	return kind, nil
}

// DetectReader classifies an XML stream. The whole stream is read so that
// malformed documents are rejected even when the deciding element came early.
func DetectReader(r io.Reader) (Kind, error) {
	dec := xml.NewDecoder(r)
	// only ASCII tag names are looked at, so any declared charset will do
	dec.CharsetReader = func(label string, input io.Reader) (io.Reader, error) {
		return input, nil
	}
	kind := Unknown
	root := ""
	decided := false
	depth := 0

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Unknown, err
		}

		switch t := tok.(type) {
		case xml.CharData:
			if depth == 0 && len(bytes.TrimSpace(t)) != 0 {
				return Unknown, ErrExtraContent
			}
		case xml.StartElement:
			if err := checkAttrs(t); err != nil {
				return Unknown, err
			}
			depth++
			if depth == 1 {
				if root != "" {
					return Unknown, ErrExtraContent
				}
				root = t.Name.Local
				switch root {
				case "patches":
					kind = Patch
				case "contents":
					kind = Contents
				}
				continue
			}
			// first program or ufs child of <data> decides
			if depth == 2 && root == "data" && !decided {
				switch t.Name.Local {
				case "program":
					kind = Program
					decided = true
				case "ufs":
					kind = StorageProvisioning
					decided = true
				}
			}
		case xml.EndElement:
			depth--
		}
	}

	if root == "" {
		return Unknown, ErrNoRoot
	}
	return kind, nil
}

func checkAttrs(el xml.StartElement) error {
	for i, a := range el.Attr {
		for _, b := range el.Attr[:i] {
			if a.Name == b.Name {
				return fmt.Errorf("%w: %s on <%s>", ErrDuplicateAttr, a.Name.Local, el.Name.Local)
			}
		}
	}
	return nil
}
