// Package stage holds the default loaders. They check that each support
// file is a readable regular file and record it in a Manifest for the flash
// engine; interpreting the file contents is the flash engine's job.
package stage

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/qdl-go/qdl/internal/filetype"
	"github.com/qdl-go/qdl/internal/logs"
)

var ErrNotRegular = errors.New("not a regular file")

// Entry is one staged support file.
type Entry struct {
	Kind     filetype.Kind
	Path     string
	Size     int64
	Finalize bool // storage provisioning only
}

// Manifest implements the loaders used by the bootstrap and keeps the staged
// entries in the order they were loaded.
type Manifest struct {
	Log *logs.Logger

	mutex   sync.Mutex
	entries []Entry
}

func New(log *logs.Logger) *Manifest {
	return &Manifest{Log: log}
}

func (m *Manifest) LoadPatch(path string) error {
	return m.add(filetype.Patch, path, false)
}

func (m *Manifest) LoadProgram(path string) error {
	return m.add(filetype.Program, path, false)
}

func (m *Manifest) LoadStorageProvisioning(path string, finalize bool) error {
	return m.add(filetype.StorageProvisioning, path, finalize)
}

// Entries returns a copy of the staged entries.
func (m *Manifest) Entries() []Entry {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return append([]Entry(nil), m.entries...)
}

// Of returns the staged entries of one kind.
func (m *Manifest) Of(kind filetype.Kind) []Entry {
	var res []Entry
	for _, e := range m.Entries() {
		if e.Kind == kind {
			res = append(res, e)
		}
	}
	return res
}

func (m *Manifest) add(kind filetype.Kind, path string, finalize bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	if !fi.Mode().IsRegular() {
		return fmt.Errorf("%s: %w", path, ErrNotRegular)
	}

	e := Entry{
		Kind:     kind,
		Path:     path,
		Size:     fi.Size(),
		Finalize: finalize,
	}
	m.mutex.Lock()
	m.entries = append(m.entries, e)
	m.mutex.Unlock()

	m.Log.Debugf("staged %s %s (%d bytes, finalize %t)", kind, path, e.Size, finalize)
	return nil
}
