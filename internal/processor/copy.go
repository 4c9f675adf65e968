package processor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dokzlo13/pollsync/internal/resource"
	"github.com/dokzlo13/pollsync/internal/scheduler"
)

// Copy mirrors every payload into a target directory, keyed by resource id.
type Copy[E any] struct {
	dir string
}

// NewCopy creates a copy processor. Option "dir" is required.
func NewCopy[E any](_ context.Context, _ string, opts map[string]string) (scheduler.Processor[E], error) {
	dir := opts["dir"]
	if dir == "" {
		return nil, errors.New("option dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create target dir: %w", err)
	}
	return &Copy[E]{dir: dir}, nil
}

func (p *Copy[E]) Process(_ context.Context, d resource.Descriptor[E], payload *resource.Payload) error {
	rel := filepath.FromSlash(d.ID)
	if !filepath.IsLocal(rel) {
		return fmt.Errorf("resource id %q escapes target dir", d.ID)
	}
	target := filepath.Join(p.dir, rel)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	// Write then rename so readers never see a partial file
	tmp, err := os.CreateTemp(filepath.Dir(target), ".pollsync-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(payload.Body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), target)
}
