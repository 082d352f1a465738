// Package notify delivers messages as macOS desktop notifications.
package notify

import (
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// ErrUnsupported is returned off macOS.
var ErrUnsupported = errors.New("desktop notifications need macOS")

// Notification is one osascript "display notification" call.
type Notification struct {
	Title    string
	Subtitle string
	Body     string
	// Sound names a system sound; empty is silent.
	Sound string
}

// Script renders n as an AppleScript statement.
func (n Notification) Script() string {
	var b strings.Builder
	fmt.Fprintf(&b, "display notification %s with title %s", quote(n.Body), quote(n.Title))
	if n.Subtitle != "" {
		fmt.Fprintf(&b, " subtitle %s", quote(n.Subtitle))
	}
	if n.Sound != "" {
		fmt.Fprintf(&b, " sound name %s", quote(n.Sound))
	}
	return b.String()
}

// quote produces an AppleScript string literal.
func quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\r", " ", "\n", " ")
	return `"` + r.Replace(s) + `"`
}

// Post shows n through osascript.
func Post(n Notification) error {
	if runtime.GOOS != "darwin" {
		return ErrUnsupported
	}
	out, err := exec.Command("osascript", "-e", n.Script()).CombinedOutput()
	if err != nil {
		return fmt.Errorf("osascript: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Send posts title and message with the default sound.
func Send(title, message string) error {
	return Post(Notification{Title: title, Body: message, Sound: "default"})
}
