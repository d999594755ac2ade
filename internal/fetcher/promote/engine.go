// Package promote composes a cheap HTTP engine with a browser engine,
// re-fetching pages headlessly when the HTTP result looks script-rendered.
package promote

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
)

// Engine implements crawler.Engine by probing with one engine and promoting to another.
type Engine struct {
	probe    crawler.Engine
	headless crawler.Engine
	detector crawler.HeadlessDetector
	logger   *zap.Logger
}

// New wires the probe and headless engines. A nil detector uses NewHeuristic(0).
func New(probe, headless crawler.Engine, detector crawler.HeadlessDetector, logger *zap.Logger) *Engine {
	if detector == nil {
		detector = NewHeuristic(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{probe: probe, headless: headless, detector: detector, logger: logger}
}

// Start starts both engines.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.probe.Start(ctx); err != nil {
		return fmt.Errorf("start probe engine: %w", err)
	}
	if err := e.headless.Start(ctx); err != nil {
		return fmt.Errorf("start headless engine: %w", err)
	}
	return nil
}

// Stop stops both engines and joins their errors.
func (e *Engine) Stop(ctx context.Context) error {
	return errors.Join(e.headless.Stop(ctx), e.probe.Stop(ctx))
}

// Fetch probes over HTTP and falls back to the browser when the probe fails
// or the detector asks for promotion.
func (e *Engine) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	resp, err := e.probe.Fetch(ctx, request)
	switch {
	case err != nil:
		if ctx.Err() != nil {
			return crawler.FetchResponse{}, err
		}
		e.logger.Debug("probe failed; promoting", zap.String("url", request.URL), zap.Error(err))
	case e.detector.ShouldPromote(resp):
		e.logger.Debug("promoting to headless", zap.String("url", request.URL), zap.Int("bytes", len(resp.Body)))
	default:
		return resp, nil
	}
	return e.headless.Fetch(ctx, request)
}
