// Package worker resolves a single crawl task into a tagged outcome.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
	"github.com/JakeFAU/sitemap-crawler/internal/telemetry"
)

// errEmptyContent marks pages that converted to no text.
var errEmptyContent = errors.New("page produced no text")

// Config controls Worker behavior.
type Config struct {
	// TaskTimeout bounds fetch plus conversion. Zero disables the bound.
	TaskTimeout time.Duration
	CacheMode   crawler.CacheMode
}

// Worker fetches and converts one page. It never panics and never returns an
// error; every failure becomes an Outcome.
type Worker struct {
	fetcher   crawler.Fetcher
	converter crawler.Converter
	limiter   crawler.RateLimiter
	tracer    trace.Tracer
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. limiter may be nil.
func New(
	fetcher crawler.Fetcher,
	converter crawler.Converter,
	limiter crawler.RateLimiter,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.CacheMode == "" {
		cfg.CacheMode = crawler.CacheBypass
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		fetcher:   fetcher,
		converter: converter,
		limiter:   limiter,
		tracer:    otel.Tracer(telemetry.TracerName),
		cfg:       cfg,
		logger:    logger,
	}
}

// Resolve runs the task. Panics inside the fetch or conversion are recovered
// and reported as raised errors so sibling tasks are unaffected.
func (w *Worker) Resolve(ctx context.Context, task crawler.Task) (out crawler.Outcome) {
	ctx, span := w.tracer.Start(ctx, "worker.resolve", trace.WithAttributes(
		attribute.String("url.full", task.URL),
		attribute.String("crawler.session", string(task.Session)),
		attribute.Int("crawler.index", task.Index),
	))
	defer func() {
		if r := recover(); r != nil {
			out = crawler.Outcome{Kind: crawler.OutcomeRaisedError, Err: fmt.Errorf("task panicked: %v", r)}
			w.logger.Error("task panicked",
				zap.String("url", task.URL),
				zap.String("session", string(task.Session)),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
		span.SetAttributes(attribute.String("crawler.outcome", out.Kind.String()))
		if out.Kind == crawler.OutcomeRaisedError && out.Err != nil {
			span.RecordError(out.Err)
			span.SetStatus(codes.Error, out.Err.Error())
		}
		span.End()
	}()
	return w.resolve(ctx, task)
}

func (w *Worker) resolve(ctx context.Context, task crawler.Task) crawler.Outcome {
	if w.cfg.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.TaskTimeout)
		defer cancel()
	}

	if w.limiter != nil {
		if err := w.limiter.Wait(ctx, task.URL); err != nil {
			return w.raised(task, fmt.Errorf("rate limit wait: %w", err))
		}
	}

	resp, err := w.fetcher.Fetch(ctx, crawler.FetchRequest{
		URL:       task.URL,
		Session:   task.Session,
		CacheMode: w.cfg.CacheMode,
	})
	if err != nil {
		return w.raised(task, fmt.Errorf("fetch: %w", err))
	}
	if !resp.OK() {
		return w.contentFailure(task, resp, fmt.Errorf("unusable response: status %d, %d bytes", resp.StatusCode, len(resp.Body)))
	}

	content, err := w.converter.Convert(string(resp.Body), resp.URL)
	if err != nil {
		return w.contentFailure(task, resp, fmt.Errorf("convert page: %w", err))
	}
	if content.Text == "" {
		return w.contentFailure(task, resp, errEmptyContent)
	}

	w.logger.Debug("task succeeded",
		zap.String("url", task.URL),
		zap.String("session", string(task.Session)),
		zap.Int("status", resp.StatusCode),
		zap.Bool("headless", resp.UsedHeadless),
		zap.Duration("duration", resp.Duration),
	)
	return crawler.Outcome{Kind: crawler.OutcomeSuccess, Content: content, Page: resp}
}

func (w *Worker) raised(task crawler.Task, err error) crawler.Outcome {
	w.logger.Error("error crawling url",
		zap.String("url", task.URL),
		zap.String("session", string(task.Session)),
		zap.Error(err),
	)
	return crawler.Outcome{Kind: crawler.OutcomeRaisedError, Err: err}
}

func (w *Worker) contentFailure(task crawler.Task, resp crawler.FetchResponse, err error) crawler.Outcome {
	w.logger.Warn("crawl produced no usable content",
		zap.String("url", task.URL),
		zap.String("session", string(task.Session)),
		zap.Int("status", resp.StatusCode),
		zap.Error(err),
	)
	return crawler.Outcome{Kind: crawler.OutcomeContentFailure, Page: resp, Err: err}
}
