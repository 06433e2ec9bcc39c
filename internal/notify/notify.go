// Package notify surfaces build failures to the developer.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"git.home.luguber.info/inful/assetpipe/internal/foundation/errors"
)

// Notification is one message for the developer.
type Notification struct {
	Title   string
	Message string
	// File is the source the message refers to, if any.
	File string
}

// Notifier delivers notifications. Delivery failures are the notifier's
// concern; they never fail a build.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// LogNotifier writes notifications to a slog logger.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify implements Notifier.
func (l LogNotifier) Notify(_ context.Context, n Notification) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{slog.String("message", n.Message)}
	if n.File != "" {
		attrs = append(attrs, slog.String("file", n.File))
	}
	logger.Error(n.Title, attrs...)
}

// CommandNotifier runs an external program with the title and message as
// its last two arguments, e.g. "notify-send" or "terminal-notifier -message".
type CommandNotifier struct {
	Command string
	Logger  *slog.Logger
}

// Notify implements Notifier.
func (c CommandNotifier) Notify(ctx context.Context, n Notification) {
	args := strings.Fields(c.Command)
	if len(args) == 0 {
		return
	}
	msg := n.Message
	if n.File != "" {
		msg = n.File + ": " + msg
	}
	args = append(args, n.Title, msg)
	// #nosec G204 -- command comes from the project configuration
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		logger := c.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("Notification command failed",
			slog.String("command", args[0]),
			slog.String("error", err.Error()),
			slog.String("stderr", strings.TrimSpace(stderr.String())))
	}
}

// Multi fans a notification out to several notifiers.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, n Notification) {
	for _, x := range m {
		x.Notify(ctx, n)
	}
}

// FromError builds a notification from a classified build error.
func FromError(title string, err error) Notification {
	n := Notification{Title: title, Message: err.Error()}
	if ce, ok := errors.Root(err); ok {
		n.Message = ce.Message()
		if cause := ce.Cause(); cause != nil && !strings.Contains(n.Message, cause.Error()) {
			n.Message += ": " + cause.Error()
		}
	}
	if file, ok := errors.ContextString(err, "file"); ok {
		n.File = file
		if ce, ok := errors.Root(err); ok {
			if line, ok := ce.Context().Get("line"); ok {
				n.File += fmt.Sprintf(":%v", line)
			}
		}
	}
	return n
}
