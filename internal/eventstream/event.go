package eventstream

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

const (
	TypeOriginal    = "original"
	TypeTranslation = "translation"
	TypeSeparator   = "separator"
	TypeDone        = "done"
	TypeError       = "error"
)

type Event struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Message string `json:"message,omitempty"`
}

func Original(text string) Event    { return Event{Type: TypeOriginal, Text: text} }
func Translation(text string) Event { return Event{Type: TypeTranslation, Text: text} }
func Separator() Event              { return Event{Type: TypeSeparator} }
func Done() Event                   { return Event{Type: TypeDone} }
func Error(message string) Event    { return Event{Type: TypeError, Message: message} }

func (e Event) Terminal() bool {
	return e.Type == TypeDone || e.Type == TypeError
}

func SetHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

type Writer struct {
	w       io.Writer
	flusher http.Flusher
}

func NewWriter(w io.Writer) *Writer {
	flusher, _ := w.(http.Flusher)
	return &Writer{w: w, flusher: flusher}
}

func (w *Writer) Encode(ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	frame := make([]byte, 0, len(payload)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, payload...)
	frame = append(frame, '\n', '\n')
	if _, err := w.w.Write(frame); err != nil {
		return err
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}

var ErrStreamingUnsupported = errors.New("response writer does not support flushing")

func CanFlush(w io.Writer) error {
	if _, ok := w.(http.Flusher); !ok {
		return ErrStreamingUnsupported
	}
	return nil
}
