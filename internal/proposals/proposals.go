// Package proposals reads trade proposal batches written by the strategy
// layer.
package proposals

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/rs/zerolog"

	"coinbase-trader/internal/domain"
)

// Batch is one cycle's worth of proposals.
type Batch struct {
	ID          string                 `json:"id"`
	Regime      string                 `json:"regime"`
	GeneratedAt time.Time              `json:"generated_at"`
	Proposals   []domain.TradeProposal `json:"proposals"`
}

// Source yields the next batch. An empty batch means nothing to do.
type Source interface {
	Next(ctx context.Context) (Batch, error)
}

// FileSource consumes a JSON batch file. The file is claimed by renaming it
// before it is parsed, so a batch is never handed out twice, including
// across restarts.
type FileSource struct {
	path   string
	maxAge time.Duration
	now    func() time.Time
	logger zerolog.Logger
}

var _ Source = (*FileSource)(nil)

// Options for creating a FileSource.
type Options struct {
	Path   string
	MaxAge time.Duration // zero disables the staleness check
	Now    func() time.Time
	Logger zerolog.Logger
}

// NewFileSource creates a FileSource.
func NewFileSource(opts Options) *FileSource {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &FileSource{path: opts.Path, maxAge: opts.MaxAge, now: now, logger: opts.Logger}
}

// Next implements Source.
func (s *FileSource) Next(ctx context.Context) (Batch, error) {
	if err := ctx.Err(); err != nil {
		return Batch{}, err
	}

	claimed := s.path + ".consumed"
	if err := os.Rename(s.path, claimed); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Batch{}, nil
		}
		return Batch{}, fmt.Errorf("claim proposal batch: %w", err)
	}

	data, err := os.ReadFile(claimed)
	if err != nil {
		return Batch{}, fmt.Errorf("read proposal batch: %w", err)
	}
	var b Batch
	if err := json.Unmarshal(data, &b); err != nil {
		return Batch{}, fmt.Errorf("decode proposal batch: %w", err)
	}

	if s.maxAge > 0 && !b.GeneratedAt.IsZero() {
		if age := s.now().Sub(b.GeneratedAt); age > s.maxAge {
			s.logger.Warn().
				Str("batch", b.ID).
				Dur("age", age).
				Int("proposals", len(b.Proposals)).
				Msg("dropping stale proposal batch")
			return Batch{ID: b.ID, Regime: b.Regime, GeneratedAt: b.GeneratedAt}, nil
		}
	}
	return b, nil
}

// Static hands out a fixed queue of batches, then empty ones.
type Static struct {
	Batches []Batch
}

var _ Source = (*Static)(nil)

// Next implements Source.
func (s *Static) Next(ctx context.Context) (Batch, error) {
	if err := ctx.Err(); err != nil {
		return Batch{}, err
	}
	if len(s.Batches) == 0 {
		return Batch{}, nil
	}
	b := s.Batches[0]
	s.Batches = s.Batches[1:]
	return b, nil
}
