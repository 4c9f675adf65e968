// Package fsdir lists and fetches the regular files of a local directory
// tree. Resource ids are slash-separated paths relative to the root and the
// modification marker is the file mtime.
package fsdir

import (
	"context"
	"fmt"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/pollsync/internal/engine"
	"github.com/dokzlo13/pollsync/internal/resource"
)

// FileInfo is the extensions payload carried for every file.
type FileInfo struct {
	Size int64       `json:"size"`
	Mode fs.FileMode `json:"mode"`
}

// Source lists and reads files under Root.
type Source struct {
	root    string
	pattern string
	// conditional enables the NotModified short-cut in GetResource.
	conditional bool
}

// Option configures a Source.
type Option func(*Source)

// WithPattern restricts listing to base names matching a filepath.Match pattern.
func WithPattern(pattern string) Option {
	return func(s *Source) { s.pattern = pattern }
}

// WithConditionalFetch makes GetResource report resource.ErrNotModified for
// files that have not changed since their last successful retrieval.
func WithConditionalFetch(enabled bool) Option {
	return func(s *Source) { s.conditional = enabled }
}

// New creates a source rooted at dir.
func New(dir string, opts ...Option) (*Source, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open source dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source %s is not a directory", dir)
	}

	s := &Source{root: dir, pattern: "*"}
	for _, opt := range opts {
		opt(s)
	}
	if _, err := filepath.Match(s.pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", s.pattern, err)
	}
	return s, nil
}

// GetMetadata walks the tree and returns one descriptor per matching file.
func (s *Source) GetMetadata(ctx context.Context, _ engine.Filter) ([]resource.Descriptor[FileInfo], error) {
	var out []resource.Descriptor[FileInfo]

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if ok, _ := filepath.Match(s.pattern, d.Name()); !ok {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			// Removed between readdir and stat
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}

		out = append(out, resource.Descriptor[FileInfo]{
			ID:         filepath.ToSlash(rel),
			Marker:     resource.At(info.ModTime().UTC()),
			Extensions: FileInfo{Size: info.Size(), Mode: info.Mode()},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Debug().Str("root", s.root).Int("files", len(out)).Msg("Directory listed")
	return out, nil
}

// GetResource reads one file.
func (s *Source) GetResource(ctx context.Context, d resource.Descriptor[FileInfo], last *resource.State[FileInfo]) (*resource.Payload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := s.Path(d.ID)
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if s.conditional && unchangedSince(info, last) {
		return nil, resource.ErrNotModified
	}

	body, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return resource.NewPayload(body, contentType(path, body)), nil
}

// Path returns the absolute location of a resource id.
func (s *Source) Path(id string) string {
	return filepath.Join(s.root, filepath.FromSlash(id))
}

// unchangedSince reports whether a file still has the mtime and size recorded
// at its last successful retrieval. Any other mtime, earlier ones included,
// counts as a change.
func unchangedSince(info fs.FileInfo, last *resource.State[FileInfo]) bool {
	if last == nil || last.RetrievedAt == nil || last.RetryCount > 0 {
		return false
	}
	if info.Size() != last.Extensions.Size {
		return false
	}
	return info.ModTime().Equal(last.Marker.At)
}

func contentType(path string, body []byte) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return http.DetectContentType(body)
}

