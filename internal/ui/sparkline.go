package ui

import (
	"strings"
)

// Sparkline keeps a ring of recent throughput samples and renders
// them as a row of Unicode block characters for the TUI.
type Sparkline struct {
	samples []float64
	width   int
	head    int
	count   int
	max     float64
}

// SparklineChars are the eight block heights, lowest to highest.
var SparklineChars = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// NewSparkline builds a sparkline holding width samples. At one sample
// per second the default covers the last minute.
func NewSparkline(width int) *Sparkline {
	if width <= 0 {
		width = 60
	}
	return &Sparkline{
		samples: make([]float64, width),
		width:   width,
	}
}

// Add records a sample, overwriting the oldest once the ring is full.
func (s *Sparkline) Add(value float64) {
	s.samples[s.head] = value
	s.head = (s.head + 1) % s.width
	s.count++

	if value > s.max {
		s.max = value
	}
	// The running max only grows; rescan once per full ring so the
	// scale can come back down after a burst.
	if s.count%s.width == 0 {
		s.rescanMax()
	}
}

func (s *Sparkline) rescanMax() {
	s.max = 0
	for _, v := range s.samples {
		if v > s.max {
			s.max = v
		}
	}
	if s.max < 1 {
		s.max = 1
	}
}

// glyph picks the block character for value on the current scale.
func (s *Sparkline) glyph(value float64) rune {
	if s.max <= 0 {
		return SparklineChars[0]
	}
	idx := int(value / s.max * float64(len(SparklineChars)-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(SparklineChars) {
		idx = len(SparklineChars) - 1
	}
	return SparklineChars[idx]
}

// ordered returns the buffered samples oldest-first.
func (s *Sparkline) ordered() []float64 {
	n := s.count
	if n > s.width {
		n = s.width
	}
	out := make([]float64, 0, n)
	start := 0
	if s.count >= s.width {
		start = s.head
	}
	for i := 0; i < n; i++ {
		out = append(out, s.samples[(start+i)%s.width])
	}
	return out
}

// Render draws the full-width sparkline, left-padding with blanks
// until the ring has filled once.
func (s *Sparkline) Render() string {
	return s.RenderWithWidth(s.width)
}

// RenderWithWidth draws the most recent samples into exactly width
// cells, for when the terminal is narrower than the ring.
func (s *Sparkline) RenderWithWidth(width int) string {
	if width <= 0 || width > s.width {
		width = s.width
	}
	if s.count == 0 {
		return strings.Repeat(string(SparklineChars[0]), width)
	}
	if s.max <= 0 {
		s.rescanMax()
	}

	samples := s.ordered()
	if len(samples) > width {
		samples = samples[len(samples)-width:]
	}

	var sb strings.Builder
	sb.Grow(width * 3)
	for _, v := range samples {
		sb.WriteRune(s.glyph(v))
	}
	for i := len(samples); i < width; i++ {
		sb.WriteRune(' ')
	}
	return sb.String()
}

// Clear resets the ring to empty.
func (s *Sparkline) Clear() {
	for i := range s.samples {
		s.samples[i] = 0
	}
	s.head = 0
	s.count = 0
	s.max = 0
}

// Count returns how many samples were ever added.
func (s *Sparkline) Count() int {
	return s.count
}

// Max returns the current scaling maximum.
func (s *Sparkline) Max() float64 {
	return s.max
}
