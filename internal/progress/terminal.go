package progress

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	barWidth  = 40
	itemWidth = 40

	// Redraws per second; terminal output is the bottleneck for archives
	// made of many small files.
	renderRate  = 10
	renderBurst = 1
)

// Terminal draws a single-line progress bar. Redraws are rate limited,
// except the first draw and the one reaching 100, which always happen.
type Terminal struct {
	out     io.Writer
	limiter *rate.Limiter

	mu      sync.Mutex
	percent float64
	item    string
	drawn   bool
	done    bool
}

// NewTerminal returns a renderer writing to out.
func NewTerminal(out io.Writer) *Terminal {
	return &Terminal{
		out:     out,
		limiter: rate.NewLimiter(rate.Every(time.Second/renderRate), renderBurst),
	}
}

func (t *Terminal) OnProgress(percent float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.percent = percent
	t.render(percent >= 100)
}

func (t *Terminal) OnItem(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.item = name
	t.render(false)
}

// Finish terminates the progress line so following output starts clean.
func (t *Terminal) Finish() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.drawn && !t.done {
		fmt.Fprintln(t.out)
		t.done = true
	}
}

func (t *Terminal) render(force bool) {
	if t.done {
		return
	}
	if !force && t.drawn && !t.limiter.Allow() {
		return
	}
	t.drawn = true

	filled := min(max(int(t.percent/100*barWidth), 0), barWidth)
	bar := strings.Repeat("=", filled) + strings.Repeat(" ", barWidth-filled)

	fmt.Fprintf(t.out, "\r[%s] %5.1f%% %-*s", bar, t.percent, itemWidth, shortenItem(t.item, itemWidth))

	if t.percent >= 100 {
		fmt.Fprintln(t.out)
		t.done = true
	}
}

// shortenItem keeps the tail of name within width runes.
func shortenItem(name string, width int) string {
	r := []rune(name)
	if len(r) <= width {
		return name
	}
	return "..." + string(r[len(r)-(width-3):])
}
