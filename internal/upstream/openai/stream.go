package openai

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	dataPrefix   = "data: "
	doneSentinel = "[DONE]"
	maxLineBytes = 1 << 20
)

var ErrIdleTimeout = fmt.Errorf("upstream idle timeout: %w", context.DeadlineExceeded)

type StreamOption func(*streamOptions)

type streamOptions struct {
	idleTimeout time.Duration
}

// WithIdleTimeout bounds every wait on the upstream: connect and response
// headers, then each line read. Time the caller spends between reads is not
// counted.
func WithIdleTimeout(d time.Duration) StreamOption {
	return func(o *streamOptions) {
		o.idleTimeout = d
	}
}

func applyStreamOptions(opts []StreamOption) streamOptions {
	var o streamOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

type idleWatch struct {
	timeout time.Duration
	timer   *time.Timer
	fired   atomic.Bool
}

func newIdleWatch(timeout time.Duration, abort func()) *idleWatch {
	if timeout <= 0 {
		return nil
	}
	w := &idleWatch{timeout: timeout}
	w.timer = time.AfterFunc(timeout, func() {
		w.fired.Store(true)
		abort()
	})
	return w
}

func (w *idleWatch) arm() {
	if w != nil && !w.fired.Load() {
		w.timer.Reset(w.timeout)
	}
}

func (w *idleWatch) pause() {
	if w != nil {
		w.timer.Stop()
	}
}

func (w *idleWatch) expired() bool {
	return w != nil && w.fired.Load()
}

type Stream struct {
	body       io.ReadCloser
	statusCode int
	idle       *idleWatch

	closeOnce sync.Once
	hooks     []func()
	closeErr  error
}

func NewStream(body io.ReadCloser, opts ...StreamOption) *Stream {
	o := applyStreamOptions(opts)
	idle := newIdleWatch(o.idleTimeout, func() { _ = body.Close() })
	idle.pause()
	return newStream(body, http.StatusOK, idle)
}

func newStream(body io.ReadCloser, statusCode int, idle *idleWatch) *Stream {
	return &Stream{body: body, statusCode: statusCode, idle: idle}
}

func (s *Stream) StatusCode() int {
	return s.statusCode
}

func (s *Stream) OnClose(fn func()) {
	if fn != nil {
		s.hooks = append(s.hooks, fn)
	}
}

func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.idle.pause()
		s.closeErr = s.body.Close()
		for _, fn := range s.hooks {
			fn()
		}
	})
	return s.closeErr
}

func (s *Stream) Deltas() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		scanner := bufio.NewScanner(s.body)
		scanner.Buffer(make([]byte, 0, 64<<10), maxLineBytes)
		for {
			s.idle.arm()
			more := scanner.Scan()
			s.idle.pause()
			if !more {
				break
			}
			delta, done, ok := ParseStreamLine(scanner.Text())
			if done {
				return
			}
			if !ok || delta == "" {
				continue
			}
			if !yield(delta, nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			if s.idle.expired() {
				err = ErrIdleTimeout
			}
			yield("", fmt.Errorf("read chat completion stream: %w", err))
		}
	}
}

func ParseStreamLine(line string) (delta string, done bool, ok bool) {
	line = strings.TrimRight(line, "\r")
	if !strings.HasPrefix(line, dataPrefix) {
		return "", false, false
	}
	data := strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))
	if data == doneSentinel {
		return "", true, true
	}

	var chunk struct {
		Choices []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
		} `json:"choices"`
	}
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return "", false, false
	}
	if len(chunk.Choices) == 0 {
		return "", false, false
	}
	return chunk.Choices[0].Delta.Content, false, true
}
