package processor

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/pollsync/internal/resource"
	"github.com/dokzlo13/pollsync/internal/scheduler"
)

// Log writes one line per processed payload.
type Log[E any] struct {
	name  string
	level zerolog.Level
}

// NewLog creates a log processor. Option "level" sets the log level
// (default info).
func NewLog[E any](_ context.Context, name string, opts map[string]string) (scheduler.Processor[E], error) {
	level := zerolog.InfoLevel
	if s := opts["level"]; s != "" {
		l, err := zerolog.ParseLevel(s)
		if err != nil {
			return nil, fmt.Errorf("invalid level: %w", err)
		}
		level = l
	}
	return &Log[E]{name: name, level: level}, nil
}

func (p *Log[E]) Process(_ context.Context, d resource.Descriptor[E], payload *resource.Payload) error {
	log.WithLevel(p.level).
		Str("processor", p.name).
		Str("resource_id", d.ID).
		Str("marker", d.Marker.String()).
		Int("bytes", len(payload.Body)).
		Str("content_type", payload.ContentType).
		Str("checksum", payload.Checksum().String()).
		Msg("Resource received")
	return nil
}
