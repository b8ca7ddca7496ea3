package generation

import (
	"context"
	"strings"
	"time"

	"livetranslate/internal/upstream/openai"
)

type StreamClient interface {
	StreamChatCompletion(ctx context.Context, req openai.ChatCompletionRequest, opts ...openai.StreamOption) (*openai.Stream, error)
}

type Limiter interface {
	Acquire(ctx context.Context) (func(), error)
}

type Service struct {
	client    StreamClient
	limiter   Limiter
	model     string
	maxTokens int
	timeout   time.Duration
}

func New(client StreamClient, limiter Limiter, model string, maxTokens int, timeout time.Duration) *Service {
	return &Service{
		client:    client,
		limiter:   limiter,
		model:     strings.TrimSpace(model),
		maxTokens: maxTokens,
		timeout:   timeout,
	}
}

// Stream opens the generation call for prompt. The returned stream holds an
// upstream slot until it is closed. The timeout bounds the wait for a slot and
// every wait on the upstream, not the length of the reply.
func (s *Service) Stream(ctx context.Context, prompt string) (*openai.Stream, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, s.timeout)
	release, err := s.limiter.Acquire(acquireCtx)
	cancel()
	if err != nil {
		return nil, err
	}

	stream, err := s.client.StreamChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     s.model,
		Messages:  []openai.ChatMessage{{Role: "user", Content: prompt}},
		MaxTokens: s.maxTokens,
	}, openai.WithIdleTimeout(s.timeout))
	if err != nil {
		release()
		return nil, err
	}
	stream.OnClose(release)
	return stream, nil
}
