// Package pb renders the progress of a run as a one line bar.
package pb

import (
	"fmt"
	"strings"
	"sync"

	"github.com/fatih/color"
)

//nolint:gochecknoglobals
var (
	colorFaint   = color.New(color.Faint)
	statusColors = map[Status]*color.Color{
		Failed:  color.New(color.FgRed),
		Done:    color.New(color.FgGreen),
		Waiting: colorFaint,
	}
)

const (
	// DefaultWidth of the progress bar
	DefaultWidth = 30
	// threshold below which progress should be rendered as
	// percentages instead of filling bars
	minWidth = 8
)

// Status of the progress bar
type Status rune

// Progress bar status symbols
const (
	Waiting Status = '•'
	Running Status = '▸'
	Failed  Status = '✗'
	Done    Status = '✓'
)

// ProgressBar tracks a fixed number of checks. It is safe for concurrent
// use.
type ProgressBar struct {
	mutex sync.RWMutex
	width int
	color bool

	total    int
	finished int
	failed   int
	current  string
	status   Status
}

// ProgressBarOption modifies the progress bar in New.
type ProgressBarOption func(*ProgressBar)

// WithWidth sets the bar width, brackets included.
func WithWidth(width int) ProgressBarOption {
	return func(pb *ProgressBar) { pb.width = width }
}

// WithColor colorizes the status symbol and the bar padding.
func WithColor(enabled bool) ProgressBarOption {
	return func(pb *ProgressBar) { pb.color = enabled }
}

// New returns a bar for total checks.
func New(total int, options ...ProgressBarOption) *ProgressBar {
	pb := &ProgressBar{width: DefaultWidth, total: total, status: Waiting}
	for _, option := range options {
		option(pb)
	}
	return pb
}

// Start marks name as the running check.
func (pb *ProgressBar) Start(name string) {
	pb.mutex.Lock()
	defer pb.mutex.Unlock()

	pb.current = name
	pb.status = Running
}

// Finish records the outcome of the running check.
func (pb *ProgressBar) Finish(ok bool) {
	pb.mutex.Lock()
	defer pb.mutex.Unlock()

	pb.finished++
	pb.status = Done
	if !ok {
		pb.failed++
		pb.status = Failed
	}
}

// Progress returns the finished fraction, between 0 and 1.
func (pb *ProgressBar) Progress() float64 {
	pb.mutex.RLock()
	defer pb.mutex.RUnlock()

	return pb.progress()
}

func (pb *ProgressBar) progress() float64 {
	if pb.total <= 0 {
		return 1
	}
	return Clampf(float64(pb.finished)/float64(pb.total), 0, 1)
}

// String renders the bar with no limit on the check name.
func (pb *ProgressBar) String() string {
	return pb.Render(0)
}

// Render returns "<status> [====>-----] n/total name". Names longer than
// maxName are cut with an ellipsis; maxName <= 0 disables that.
func (pb *ProgressBar) Render(maxName int) string {
	pb.mutex.RLock()
	defer pb.mutex.RUnlock()

	name := pb.current
	if maxName > 3 && len(name) > maxName {
		name = name[:maxName-3] + "..."
	}

	out := fmt.Sprintf("%s %s %d/%d", pb.renderStatus(), pb.renderBar(), pb.position(), pb.total)
	if name != "" {
		out += " " + name
	}
	return out
}

// position is the 1-based index of the running check.
func (pb *ProgressBar) position() int {
	if pb.status == Running && pb.finished < pb.total {
		return pb.finished + 1
	}
	return pb.finished
}

func (pb *ProgressBar) renderStatus() string {
	status := string(pb.status)
	if c, ok := statusColors[pb.status]; pb.color && ok {
		status = c.Sprint(status)
	}
	return status
}

func (pb *ProgressBar) renderBar() string {
	progress := pb.progress()
	if pb.width <= minWidth {
		return fmt.Sprintf("[%3.f%%]", progress*100)
	}

	space := pb.width - 2
	filled := int(float64(space) * progress)

	filling := ""
	if filled > 0 {
		if filled < space {
			filling = strings.Repeat("=", filled-1) + ">"
		} else {
			filling = strings.Repeat("=", filled)
		}
	}
	padding := strings.Repeat("-", space-filled)
	if pb.color {
		padding = colorFaint.Sprint(padding)
	}
	return "[" + filling + padding + "]"
}

// Clampf returns the given value, "clamped" to the range [min, max].
func Clampf(val, min, max float64) float64 {
	switch {
	case val < min:
		return min
	case val > max:
		return max
	default:
		return val
	}
}
