// Package banner renders queued messages as terminal banners.
package banner

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/msageha/herald/internal/messages"
	"github.com/msageha/herald/internal/model"
)

const (
	colorText     lipgloss.Color = "#cdd6f4"
	colorSubtext0 lipgloss.Color = "#a6adc8"
	colorOverlay1 lipgloss.Color = "#7f849c"
	colorBlue     lipgloss.Color = "#89b4fa"
	colorRed      lipgloss.Color = "#f38ba8"
	colorGreen    lipgloss.Color = "#a6e3a1"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorText)
	bodyStyle   = lipgloss.NewStyle().Foreground(colorSubtext0)
	buttonStyle = lipgloss.NewStyle().Bold(true).Foreground(colorGreen)
	footerStyle = lipgloss.NewStyle().Foreground(colorOverlay1)
	hiddenStyle = lipgloss.NewStyle().Foreground(colorOverlay1).Italic(true)
)

// Options configures a Delegate. Zero animation durations complete inline.
type Options struct {
	Width    int
	ShowAnim time.Duration
	HideAnim time.Duration
}

// Delegate writes a rendered banner for every shown message and a one-line
// notice when it is hidden. Animations are simulated with timers.
type Delegate struct {
	opts      Options
	afterFunc func(d time.Duration, fn func())

	mu sync.Mutex
	w  io.Writer
}

func New(w io.Writer, opts Options) *Delegate {
	if opts.Width <= 0 {
		opts.Width = 60
	}
	return &Delegate{
		opts: opts,
		w:    w,
		afterFunc: func(d time.Duration, fn func()) {
			time.AfterFunc(d, fn)
		},
	}
}

func (b *Delegate) Show(rec *messages.Record, onShown func()) {
	b.write(Render(rec, b.opts.Width) + "\n")
	b.after(b.opts.ShowAnim, onShown)
}

func (b *Delegate) Hide(rec *messages.Record, animate bool, onHidden func()) {
	b.write(hiddenStyle.Render(fmt.Sprintf("~ %s hidden", rec.Key())) + "\n")
	if !animate {
		onHidden()
		return
	}
	b.after(b.opts.HideAnim, onHidden)
}

func (b *Delegate) after(d time.Duration, fn func()) {
	if d <= 0 {
		fn()
		return
	}
	b.afterFunc(d, fn)
}

func (b *Delegate) write(s string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, _ = io.WriteString(b.w, s)
}

// Render draws rec as a bordered banner of the given outer width.
func Render(rec *messages.Record, width int) string {
	border := colorBlue
	if rec.Priority == model.PriorityHigh {
		border = colorRed
	}
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(border).
		Padding(0, 1).
		Width(width - 2)

	title := rec.Properties.Title()
	if title == "" {
		title = string(rec.Identifier)
	}
	lines := []string{titleStyle.Render(title)}
	if desc := rec.Properties.Description(); desc != "" {
		lines = append(lines, bodyStyle.Render(desc))
	}
	if btn := rec.Properties[model.PropPrimaryButtonText]; btn != "" {
		lines = append(lines, buttonStyle.Render("["+btn+"]"))
	}
	lines = append(lines, footerStyle.Render(strings.Join([]string{
		string(rec.Identifier), rec.Scope.String(), string(rec.Priority),
	}, " · ")))

	return box.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}
