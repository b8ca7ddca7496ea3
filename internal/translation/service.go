package translation

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"livetranslate/internal/eventstream"
	"livetranslate/internal/upstream/openai"
)

const systemPromptFormat = "Translate to %s. Only output the translation."

type StreamClient interface {
	StreamChatCompletion(ctx context.Context, req openai.ChatCompletionRequest, opts ...openai.StreamOption) (*openai.Stream, error)
}

type Limiter interface {
	Acquire(ctx context.Context) (func(), error)
}

type Service struct {
	client  StreamClient
	limiter Limiter
	model   string
	timeout time.Duration
}

func New(client StreamClient, limiter Limiter, model string, timeout time.Duration) *Service {
	return &Service{
		client:  client,
		limiter: limiter,
		model:   strings.TrimSpace(model),
		timeout: timeout,
	}
}

func SystemPrompt(language string) string {
	return fmt.Sprintf(systemPromptFormat, strings.TrimSpace(language))
}

func (s *Service) Translate(ctx context.Context, text, language string) iter.Seq[eventstream.Event] {
	return func(yield func(eventstream.Event) bool) {
		acquireCtx, cancel := context.WithTimeout(ctx, s.timeout)
		release, err := s.limiter.Acquire(acquireCtx)
		cancel()
		if err != nil {
			yield(eventstream.Error(errorMessage(err)))
			return
		}
		defer release()

		stream, err := s.client.StreamChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: s.model,
			Messages: []openai.ChatMessage{
				{Role: "system", Content: SystemPrompt(language)},
				{Role: "user", Content: text},
			},
		}, openai.WithIdleTimeout(s.timeout))
		if err != nil {
			yield(eventstream.Error(errorMessage(err)))
			return
		}
		defer stream.Close()

		for delta, err := range stream.Deltas() {
			if err != nil {
				yield(eventstream.Error(errorMessage(err)))
				return
			}
			if !yield(eventstream.Translation(delta)) {
				return
			}
		}
	}
}

func errorMessage(err error) string {
	var upstreamErr *openai.Error
	switch {
	case errors.As(err, &upstreamErr):
		return fmt.Sprintf("translation failed: upstream status %d", upstreamErr.StatusCode)
	case errors.Is(err, context.DeadlineExceeded):
		return "translation failed: timed out"
	default:
		return "translation failed: " + err.Error()
	}
}
