// Package assets provides the blob sources a VM loads classes from: a
// data directory, an in-memory map and a SQLite asset pack.
package assets

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/chazu/sauce/vm"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger(vm.LogAssets)

// Ext is the file extension of a class blob.
const Ext = ".sob"

// DirSource serves blobs from a data directory. Titles name classes
// without regard to case, so a name that does not match exactly is
// looked up case-insensitively.
type DirSource struct {
	Dir string
}

// NewDirSource returns a source reading from dir.
func NewDirSource(dir string) *DirSource {
	return &DirSource{Dir: dir}
}

// Load reads the blob stored under name.
func (s *DirSource) Load(name string) ([]byte, bool, error) {
	data, err := os.ReadFile(filepath.Join(s.Dir, name))
	if err == nil {
		return data, true, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, err
	}

	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, false, fmt.Errorf("reading %s: %w", s.Dir, err)
	}
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(e.Name(), name) {
			log.Debugf("%s resolved as %s", name, e.Name())
			data, err := os.ReadFile(filepath.Join(s.Dir, e.Name()))
			if err != nil {
				return nil, false, err
			}
			return data, true, nil
		}
	}
	return nil, false, nil
}

// Names lists the blob files in the directory.
func (s *DirSource) Names() ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), Ext) {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// MemSource serves blobs from memory, keyed by file name.
type MemSource map[string][]byte

// Load returns the blob stored under name, ignoring case.
func (s MemSource) Load(name string) ([]byte, bool, error) {
	if b, ok := s[name]; ok {
		return b, true, nil
	}
	for k, b := range s {
		if strings.EqualFold(k, name) {
			return b, true, nil
		}
	}
	return nil, false, nil
}

// Add stores the encoded blob of each builder under its file name.
func (s MemSource) Add(classes ...*vm.SobBuilder) MemSource {
	for _, b := range classes {
		s[b.Sob().Name] = b.Bytes()
	}
	return s
}

// Chain tries each source in order.
type Chain []vm.BlobSource

// Load returns the first blob found.
func (c Chain) Load(name string) ([]byte, bool, error) {
	for _, src := range c {
		data, ok, err := src.Load(name)
		if err != nil || ok {
			return data, ok, err
		}
	}
	return nil, false, nil
}
