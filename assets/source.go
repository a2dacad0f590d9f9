// Package assets fetches model and environment files and decodes them into
// scene objects off the main thread.
package assets

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
)

// Blob is a temporary in-memory copy of a source file. Release must be
// called once decoding is over; later calls are no-ops.
type Blob struct {
	Name string
	Data []byte
	// Path is the local file the blob was read from, empty for remote data.
	Path string

	once      sync.Once
	onRelease func()
}

// NewBlob wraps data. onRelease, if set, runs on the first Release.
func NewBlob(name string, data []byte, path string, onRelease func()) *Blob {
	return &Blob{Name: name, Data: data, Path: path, onRelease: onRelease}
}

// Release drops the blob's data.
func (b *Blob) Release() {
	b.once.Do(func() {
		b.Data = nil
		if b.onRelease != nil {
			b.onRelease()
		}
	})
}

// Source is where a model or environment comes from.
type Source interface {
	Name() string
	Open(ctx context.Context) (*Blob, error)
}

// FileSource reads a local file, e.g. a CLI argument or an OS file drop.
type FileSource struct {
	Path string
}

func (s FileSource) Name() string { return filepath.Base(s.Path) }

func (s FileSource) Open(ctx context.Context) (*Blob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.Path, err)
	}
	return NewBlob(s.Name(), data, s.Path, nil), nil
}

// URLSource downloads over HTTP(S). A nil Client means http.DefaultClient.
type URLSource struct {
	URL    string
	Client *http.Client
}

func (s URLSource) Name() string { return path.Base(s.URL) }

func (s URLSource) Open(ctx context.Context) (*Blob, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", s.URL, err)
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", s.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: %s", s.URL, resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.URL, err)
	}
	return NewBlob(s.Name(), data, "", nil), nil
}

// SourceFor picks URLSource for http(s) locations and FileSource otherwise.
func SourceFor(location string) Source {
	if isURL(location) {
		return URLSource{URL: location}
	}
	return FileSource{Path: location}
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
