package factories

import (
	"context"

	"golang.org/x/sync/errgroup"

	"voicerelay/core"
	"voicerelay/metrics"
)

// Runnable is anything the pipeline keeps running alongside the channel.
type Runnable interface {
	Run(ctx context.Context) error
}

// Pipeline runs the channel and its side servers until the context ends or
// one of them fails.
type Pipeline struct {
	provider TransportProvider
	extras   []Runnable
	handlers *SessionHandlers
	logger   *core.Logger
}

// NewPipeline assembles a pipeline. handlers may be nil in tests.
func NewPipeline(provider TransportProvider, handlers *SessionHandlers, logger *core.Logger) *Pipeline {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Pipeline{
		provider: provider,
		handlers: handlers,
		logger:   logger.With(map[string]interface{}{"component": "pipeline"}),
	}
}

// WithMetrics serves the metrics exporter next to the channel. An empty
// address leaves the exporter off.
func (p *Pipeline) WithMetrics(cfg metrics.MetricsConfig) *Pipeline {
	if cfg.Addr != "" {
		p.extras = append(p.extras, metrics.NewExporter(cfg.Addr, p.logger))
	}
	return p
}

// With runs r next to the channel.
func (p *Pipeline) With(r Runnable) *Pipeline {
	p.extras = append(p.extras, r)
	return p
}

// Serve blocks until ctx is cancelled or a component fails, then releases
// the session handlers.
func (p *Pipeline) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return p.provider.Run(gctx)
	})
	for _, r := range p.extras {
		r := r
		g.Go(func() error {
			return r.Run(gctx)
		})
	}

	p.logger.Info("Relay started")
	err := g.Wait()
	if err != nil {
		p.logger.Error("Relay stopped with error", "error", err)
	} else {
		p.logger.Info("Relay stopped")
	}

	if p.handlers != nil {
		if closeErr := p.handlers.Close(); closeErr != nil {
			p.logger.Warn("Failed to close session store", "error", closeErr)
		}
	}
	return err
}
