package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"livetranslate/internal/eventstream"
	"livetranslate/internal/segment"
	"livetranslate/internal/upstream/openai"
)

const (
	DefaultQueueCapacity = 100
	DefaultStreamTimeout = 120 * time.Second
)

type Generator interface {
	Stream(ctx context.Context, prompt string) (*openai.Stream, error)
}

type Translator interface {
	Translate(ctx context.Context, text, language string) iter.Seq[eventstream.Event]
}

type Outcome string

const (
	OutcomeDone     Outcome = "done"
	OutcomeError    Outcome = "error"
	OutcomeTimeout  Outcome = "timeout"
	OutcomeCanceled Outcome = "canceled"
)

type ObserverFunc func(outcome Outcome, units int, duration time.Duration)

type Option func(*Service)

func WithObserver(observer ObserverFunc) Option {
	return func(s *Service) {
		s.observer = observer
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

type Request struct {
	ID       string
	Prompt   string
	Language string
}

type Service struct {
	generator     Generator
	translator    Translator
	queueCapacity int
	streamTimeout time.Duration
	observer      ObserverFunc
	logger        *slog.Logger
}

func New(generator Generator, translator Translator, queueCapacity int, streamTimeout time.Duration, opts ...Option) *Service {
	if queueCapacity <= 0 {
		queueCapacity = DefaultQueueCapacity
	}
	if streamTimeout <= 0 {
		streamTimeout = DefaultStreamTimeout
	}
	s := &Service{
		generator:     generator,
		translator:    translator,
		queueCapacity: queueCapacity,
		streamTimeout: streamTimeout,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

type itemKind int

const (
	itemOriginal itemKind = iota
	itemTranslate
	itemError
	itemEnd
)

// queueItem is one hand-off from the producer. Every producer sends exactly
// one itemEnd, and it is always its last item.
type queueItem struct {
	kind    itemKind
	text    string
	unit    segment.Unit
	message string
}

type result struct {
	outcome Outcome
	units   int
	message string
}

// Stream runs one generation and translation pipeline and yields its events.
// The last event is always exactly one of done or error.
func (s *Service) Stream(ctx context.Context, req Request) iter.Seq[eventstream.Event] {
	return func(yield func(eventstream.Event) bool) {
		started := time.Now()
		res := s.run(ctx, req, yield)
		duration := time.Since(started)

		if s.observer != nil {
			s.observer(res.outcome, res.units, duration)
		}
		attrs := []any{
			"request_id", req.ID,
			"outcome", string(res.outcome),
			"units", res.units,
			"duration_ms", duration.Milliseconds(),
		}
		if res.message != "" {
			s.logger.Warn("pipeline_finished", append(attrs, "error", res.message)...)
			return
		}
		s.logger.Info("pipeline_finished", attrs...)
	}
}

func (s *Service) run(ctx context.Context, req Request, yield func(eventstream.Event) bool) result {
	queue := make(chan queueItem, s.queueCapacity)
	var producer errgroup.Group
	producer.Go(func() error {
		s.produce(ctx, req.Prompt, queue)
		return nil
	})

	timer := time.NewTimer(s.streamTimeout)
	defer timer.Stop()

	res := result{}
	for {
		timer.Reset(s.streamTimeout)
		var item queueItem
		select {
		case item = <-queue:
		case <-timer.C:
			res.outcome, res.message = OutcomeTimeout, s.timeoutMessage()
			yield(eventstream.Error(res.message))
			detach(queue, &producer)
			return res
		}

		switch item.kind {
		case itemEnd:
			_ = producer.Wait()
			res.outcome = OutcomeDone
			yield(eventstream.Done())
			return res
		case itemError:
			res.outcome, res.message = OutcomeError, item.message
			yield(eventstream.Error(item.message))
			detach(queue, &producer)
			return res
		case itemOriginal:
			if !yield(eventstream.Original(item.text)) {
				res.outcome = OutcomeCanceled
				detach(queue, &producer)
				return res
			}
		case itemTranslate:
			res.units++
			outcome, message := s.translateUnit(ctx, req.Language, item.unit, timer, yield)
			if outcome != "" {
				res.outcome, res.message = outcome, message
				detach(queue, &producer)
				return res
			}
		}
	}
}

func (s *Service) produce(ctx context.Context, prompt string, queue chan<- queueItem) {
	defer func() { queue <- queueItem{kind: itemEnd} }()

	stream, err := s.generator.Stream(ctx, prompt)
	if err != nil {
		queue <- queueItem{kind: itemError, message: generationErrorMessage(err)}
		return
	}
	defer stream.Close()

	var seg segment.Segmenter
	for delta, err := range stream.Deltas() {
		if err != nil {
			queue <- queueItem{kind: itemError, message: generationErrorMessage(err)}
			return
		}
		queue <- queueItem{kind: itemOriginal, text: delta}
		if unit, ok := seg.Push(delta); ok {
			queue <- queueItem{kind: itemTranslate, unit: unit}
		}
	}
	if unit, ok := seg.Flush(); ok {
		queue <- queueItem{kind: itemTranslate, unit: unit}
	}
}

func (s *Service) translateUnit(ctx context.Context, language string, unit segment.Unit, timer *time.Timer, yield func(eventstream.Event) bool) (Outcome, string) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan eventstream.Event)
	go func() {
		defer close(events)
		for ev := range s.translator.Translate(ctx, unit.Text, language) {
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		timer.Reset(s.streamTimeout)
		select {
		case ev, ok := <-events:
			if !ok {
				if !unit.Final && !yield(eventstream.Separator()) {
					return OutcomeCanceled, ""
				}
				return "", ""
			}
			if ev.Type == eventstream.TypeError {
				yield(ev)
				return OutcomeError, ev.Message
			}
			if !yield(ev) {
				return OutcomeCanceled, ""
			}
		case <-timer.C:
			message := s.timeoutMessage()
			yield(eventstream.Error(message))
			return OutcomeTimeout, message
		}
	}
}

// detach lets an abandoned producer run to completion in the background.
func detach(queue <-chan queueItem, producer *errgroup.Group) {
	go func() {
		for item := range queue {
			if item.kind == itemEnd {
				break
			}
		}
		_ = producer.Wait()
	}()
}

func (s *Service) timeoutMessage() string {
	return fmt.Sprintf("stream timed out: no activity for %s", s.streamTimeout)
}

func generationErrorMessage(err error) string {
	var upstreamErr *openai.Error
	switch {
	case errors.As(err, &upstreamErr):
		return fmt.Sprintf("generation failed: upstream status %d", upstreamErr.StatusCode)
	case errors.Is(err, context.DeadlineExceeded):
		return "generation failed: timed out"
	default:
		return "generation failed: " + err.Error()
	}
}
