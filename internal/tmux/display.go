// Package tmux presents queued messages inside a running tmux server.
package tmux

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/msageha/herald/internal/messages"
)

// OptionName is the global user option holding the visible message, for
// use in status lines as #{@herald_message}.
const OptionName = "@herald_message"

// Available reports whether a tmux server is reachable from this process.
func Available() bool {
	if os.Getenv("TMUX") == "" {
		return false
	}
	_, err := exec.LookPath("tmux")
	return err == nil
}

// Delegate flashes every shown message with display-message and keeps it in
// OptionName until hidden. tmux has no animation, so completions fire inline.
type Delegate struct {
	run     func(args ...string) error
	onError func(error)
}

// NewDelegate uses the tmux binary. onError, if set, receives command failures.
func NewDelegate(onError func(error)) *Delegate {
	return &Delegate{run: run, onError: onError}
}

func (d *Delegate) Show(rec *messages.Record, onShown func()) {
	text := escape(Line(rec))
	d.check(d.run("set-option", "-g", OptionName, text))
	d.check(d.run("display-message", "-d", displayMs(rec), text))
	onShown()
}

func (d *Delegate) Hide(_ *messages.Record, _ bool, onHidden func()) {
	d.check(d.run("set-option", "-gu", OptionName))
	onHidden()
}

func (d *Delegate) check(err error) {
	if err != nil && d.onError != nil {
		d.onError(err)
	}
}

// Line formats rec on one line: "title: description".
func Line(rec *messages.Record) string {
	title := rec.Properties.Title()
	if title == "" {
		title = string(rec.Identifier)
	}
	if desc := rec.Properties.Description(); desc != "" {
		return title + ": " + desc
	}
	return title
}

func displayMs(rec *messages.Record) string {
	if rec.Duration > 0 {
		return fmt.Sprint(rec.Duration.Milliseconds())
	}
	return fmt.Sprint((3 * time.Second).Milliseconds())
}

// escape stops tmux from expanding formats in message text.
func escape(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "#", "##")
}

func run(args ...string) error {
	cmd := exec.Command("tmux", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("tmux %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}
