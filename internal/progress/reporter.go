// Package progress carries job progress from the archive engine to
// whatever renders it. The engine only knows the Reporter interface.
package progress

import (
	"math"
	"sync"
)

// Reporter receives normalized progress and current-item notifications.
// Implementations must tolerate duplicate or closely spaced values.
type Reporter interface {
	OnProgress(percent float64)
	OnItem(name string)
}

// Event is a single progress notification.
type Event struct {
	Percent float64 `json:"percent" yaml:"percent"`
	Item    string  `json:"item,omitempty" yaml:"item,omitempty"`
}

// Round1 rounds a percentage to one decimal place.
func Round1(percent float64) float64 {
	return math.Round(percent*10) / 10
}

// Nop discards all notifications.
type Nop struct{}

func (Nop) OnProgress(float64) {}
func (Nop) OnItem(string)      {}

// Funcs adapts plain functions to a Reporter. Nil fields are skipped.
type Funcs struct {
	Progress func(percent float64)
	Item     func(name string)
}

func (f Funcs) OnProgress(percent float64) {
	if f.Progress != nil {
		f.Progress(percent)
	}
}

func (f Funcs) OnItem(name string) {
	if f.Item != nil {
		f.Item(name)
	}
}

// Monotonic wraps a Reporter so that percentages are clamped to [0,100]
// and never go backwards within one job.
type Monotonic struct {
	next Reporter

	mu   sync.Mutex
	last float64
}

// NewMonotonic returns a guard in front of next. A nil next is treated as Nop.
func NewMonotonic(next Reporter) *Monotonic {
	if next == nil {
		next = Nop{}
	}
	return &Monotonic{next: next}
}

func (m *Monotonic) OnProgress(percent float64) {
	m.mu.Lock()
	percent = math.Max(0, math.Min(100, percent))
	if percent < m.last {
		percent = m.last
	}
	m.last = percent
	m.mu.Unlock()

	m.next.OnProgress(percent)
}

func (m *Monotonic) OnItem(name string) {
	m.next.OnItem(name)
}

// Last returns the highest percentage forwarded so far. Failed jobs log
// it to show how far they got.
func (m *Monotonic) Last() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Recorder keeps every event in memory for later inspection.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	items  []string
}

func (r *Recorder) OnProgress(percent float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Percent: percent})
}

func (r *Recorder) OnItem(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, name)
	r.events = append(r.events, Event{Percent: r.lastLocked(), Item: name})
}

func (r *Recorder) lastLocked() float64 {
	if len(r.events) == 0 {
		return 0
	}
	return r.events[len(r.events)-1].Percent
}

// Percents returns the recorded percentages in emission order, skipping
// item-only events.
func (r *Recorder) Percents() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]float64, 0, len(r.events))
	for _, e := range r.events {
		if e.Item == "" {
			out = append(out, e.Percent)
		}
	}
	return out
}

// Items returns the item names in emission order.
func (r *Recorder) Items() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.items...)
}

// Multi fans notifications out to several reporters in order.
type Multi []Reporter

func (m Multi) OnProgress(percent float64) {
	for _, r := range m {
		r.OnProgress(percent)
	}
}

func (m Multi) OnItem(name string) {
	for _, r := range m {
		r.OnItem(name)
	}
}
