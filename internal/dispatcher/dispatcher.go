// Package dispatcher fans frontier entries out to a fixed pool of fetch workers.
package dispatcher

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/pdfcrawler/internal/crawler"
)

// Source hands out frontier entries.
type Source interface {
	Take(ctx context.Context) (crawler.FrontierEntry, error)
	Done(entry crawler.FrontierEntry)
}

// Handler processes one entry. It must not return before every link it
// discovered has been offered back to the Source.
type Handler interface {
	Handle(ctx context.Context, entry crawler.FrontierEntry)
}

// Dispatcher runs Workers goroutines pulling from a Source.
type Dispatcher struct {
	source  Source
	handler Handler
	workers int
	logger  *zap.Logger
}

// New creates a Dispatcher. A non-positive worker count is treated as 1.
func New(source Source, handler Handler, workers int, logger *zap.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		source:  source,
		handler: handler,
		workers: workers,
		logger:  logger,
	}
}

// Run blocks until the source is exhausted or ctx ends. ctx stops new
// entries from being taken; workCtx bounds the entries already taken.
func (d *Dispatcher) Run(ctx, workCtx context.Context) error {
	var g errgroup.Group
	for i := 0; i < d.workers; i++ {
		logger := d.logger.With(zap.Int("fetch_worker", i))
		g.Go(func() error {
			return d.loop(ctx, workCtx, logger)
		})
	}
	return g.Wait()
}

func (d *Dispatcher) loop(ctx, workCtx context.Context, logger *zap.Logger) error {
	for {
		entry, err := d.source.Take(ctx)
		if err != nil {
			if errors.Is(err, crawler.ErrEmptyFrontier) {
				logger.Debug("frontier exhausted")
				return nil
			}
			if ctx.Err() != nil {
				logger.Debug("fetch worker stopping", zap.Error(err))
				return nil
			}
			return err
		}
		d.handler.Handle(workCtx, entry)
		d.source.Done(entry)
	}
}
