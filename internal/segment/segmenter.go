package segment

import "strings"

const Boundaries = ".!?\n"

type Unit struct {
	Text  string
	Final bool
}

type Segmenter struct {
	buf strings.Builder
}

func HasBoundary(delta string) bool {
	return strings.ContainsAny(delta, Boundaries)
}

// Push appends delta to the buffer. When delta contains a boundary anywhere,
// the whole buffer is returned as a unit and the buffer is reset, so text that
// follows the boundary inside the same delta travels with the current unit.
func (s *Segmenter) Push(delta string) (Unit, bool) {
	s.buf.WriteString(delta)
	if !HasBoundary(delta) {
		return Unit{}, false
	}
	return s.take(false)
}

func (s *Segmenter) Flush() (Unit, bool) {
	return s.take(true)
}

func (s *Segmenter) take(final bool) (Unit, bool) {
	text := s.buf.String()
	if strings.TrimSpace(text) == "" {
		if final {
			s.buf.Reset()
		}
		return Unit{}, false
	}
	s.buf.Reset()
	return Unit{Text: text, Final: final}, true
}
