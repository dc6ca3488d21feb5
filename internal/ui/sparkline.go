package ui

import "strings"

// sparkChars are the block characters for rendering, lowest to tallest.
var sparkChars = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// Sparkline keeps a bounded window of throughput samples and renders
// them as a block-character chart.
type Sparkline struct {
	samples  []float64
	capacity int
}

// NewSparkline creates a sparkline holding up to capacity samples.
func NewSparkline(capacity int) *Sparkline {
	if capacity <= 0 {
		capacity = 60
	}
	return &Sparkline{
		samples:  make([]float64, 0, capacity),
		capacity: capacity,
	}
}

// Add appends a sample, dropping the oldest once at capacity.
func (s *Sparkline) Add(value float64) {
	if value < 0 {
		value = 0
	}
	if len(s.samples) == s.capacity {
		copy(s.samples, s.samples[1:])
		s.samples = s.samples[:s.capacity-1]
	}
	s.samples = append(s.samples, value)
}

// Render draws the most recent samples into width characters, left
// padded with spaces while the window is still filling.
func (s *Sparkline) Render(width int) string {
	if width <= 0 {
		width = s.capacity
	}

	window := s.samples
	if len(window) > width {
		window = window[len(window)-width:]
	}

	var max float64
	for _, v := range window {
		if v > max {
			max = v
		}
	}
	if max <= 0 {
		max = 1
	}

	var sb strings.Builder
	sb.Grow(width * 3)
	for i := 0; i < width-len(window); i++ {
		sb.WriteRune(' ')
	}
	for _, v := range window {
		idx := int(v / max * float64(len(sparkChars)-1))
		if idx < 0 {
			idx = 0
		}
		if idx >= len(sparkChars) {
			idx = len(sparkChars) - 1
		}
		sb.WriteRune(sparkChars[idx])
	}
	return sb.String()
}

// Clear resets the sparkline.
func (s *Sparkline) Clear() {
	s.samples = s.samples[:0]
}

// Count returns the number of samples currently held.
func (s *Sparkline) Count() int {
	return len(s.samples)
}
