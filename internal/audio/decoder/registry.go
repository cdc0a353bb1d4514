package decoder

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/winramp/winramp-dsp/internal/domain"
)

// Opener builds a Source from seekable data. closer, when non-nil, is
// closed together with the Source.
type Opener func(rs io.ReadSeeker, closer io.Closer) (Source, error)

// Registry maps file extensions to openers.
type Registry struct {
	mu      sync.RWMutex
	openers map[string]Opener
}

// NewRegistry returns a registry with every built-in format registered.
func NewRegistry() *Registry {
	r := &Registry{openers: make(map[string]Opener)}
	r.Register("wav", OpenWAV)
	r.Register("wave", OpenWAV)
	r.Register("aiff", OpenAIFF)
	r.Register("aif", OpenAIFF)
	r.Register("mp3", OpenMP3)
	r.Register("flac", OpenFLAC)
	r.Register("ogg", OpenOgg)
	r.Register("oga", OpenOgg)
	return r
}

// Register adds or replaces the opener for ext. The extension is matched
// case-insensitively, with or without the leading dot.
func (r *Registry) Register(ext string, open Opener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.openers[normalizeExt(ext)] = open
}

// Supports reports whether path has a registered extension.
func (r *Registry) Supports(path string) bool {
	_, ok := r.lookup(filepath.Ext(path))
	return ok
}

// Formats lists the registered extensions, sorted.
func (r *Registry) Formats() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	formats := make([]string, 0, len(r.openers))
	for ext := range r.openers {
		formats = append(formats, ext)
	}
	sort.Strings(formats)
	return formats
}

// Open opens the file at path and picks the decoder by its extension.
func (r *Registry) Open(path string) (Source, error) {
	open, ok := r.lookup(filepath.Ext(path))
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedFormat, filepath.Ext(path))
	}

	f, err := os.Open(path)
	if err != nil {
		switch {
		case errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("%w: %s", domain.ErrFileNotFound, path)
		case errors.Is(err, os.ErrPermission):
			return nil, fmt.Errorf("%w: %s", domain.ErrFileAccessDenied, path)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	src, err := open(f, f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return src, nil
}

// OpenReader decodes rs as the format named by ext. The caller keeps
// ownership of rs.
func (r *Registry) OpenReader(rs io.ReadSeeker, ext string) (Source, error) {
	open, ok := r.lookup(ext)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedFormat, ext)
	}
	return open(rs, nil)
}

func (r *Registry) lookup(ext string) (Opener, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	open, ok := r.openers[normalizeExt(ext)]
	return open, ok
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}
