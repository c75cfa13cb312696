package progress

import (
	"fmt"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"

	"github.com/mvdemo/rapidus/format"
)

// Bar tracks values consumed from a weights stream. The message names the layer
// currently being filled.
type Bar struct {
	mu sync.Mutex

	message      string
	messageWidth int

	maxValue     int
	currentValue int

	started time.Time
	elapsed time.Duration
}

func NewBar(message string, maxValue int) *Bar {
	return &Bar{
		message:      message,
		messageWidth: -1,
		maxValue:     maxValue,
		started:      time.Now(),
	}
}

// formatDuration limits the rendering of a time.Duration to 2 units
func formatDuration(d time.Duration) string {
	if d >= time.Hour {
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}

	return d.Round(time.Second).String()
}

func (b *Bar) String() string {
	termWidth, _, err := term.GetSize(int(os.Stderr.Fd()))
	if err != nil {
		termWidth = defaultTermWidth
	}

	return b.render(termWidth)
}

func (b *Bar) render(termWidth int) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var pre, mid, suf strings.Builder
	if b.message != "" {
		message := strings.TrimSpace(b.message)
		if b.messageWidth > 0 && len(message) > b.messageWidth {
			message = message[:b.messageWidth]
		}

		pre.WriteString(message)
		if b.messageWidth-pre.Len() >= 0 {
			pre.WriteString(strings.Repeat(" ", b.messageWidth-pre.Len()))
		}

		pre.WriteString(" ")
	}

	percent := b.percent()
	fmt.Fprintf(&pre, "%3.0f%% ", math.Floor(percent))

	fmt.Fprintf(&suf, "%s/%s values", format.HumanNumber(uint64(b.currentValue)), format.HumanNumber(uint64(b.maxValue)))
	if b.elapsed > 0 {
		fmt.Fprintf(&suf, " [%s]", formatDuration(b.elapsed))
	}

	// 2 boundary characters and 1 space at the end
	f := termWidth - pre.Len() - suf.Len() - 3
	if f > 0 {
		n := int(float64(f) * percent / 100)
		mid.WriteString("▕")
		mid.WriteString(strings.Repeat("█", n))
		mid.WriteString(strings.Repeat(" ", f-n))
		mid.WriteString("▏ ")
	}

	return pre.String() + mid.String() + suf.String()
}

// Set updates the bar. Values beyond the maximum are clamped.
func (b *Bar) Set(message string, value int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.message = message
	b.currentValue = min(value, b.maxValue)
	if b.maxValue > 0 && b.currentValue >= b.maxValue && b.elapsed == 0 {
		b.elapsed = time.Since(b.started)
	}
}

func (b *Bar) percent() float64 {
	if b.maxValue > 0 {
		return float64(b.currentValue) / float64(b.maxValue) * 100
	}

	return 0
}
