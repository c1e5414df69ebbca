// Package channel delivers reminder messages over email, Telegram and Discord.
package channel

import (
	"context"
	"errors"
	"fmt"
)

// Sender delivers one message to one destination. Destination is opaque to
// callers: an email address, a Telegram chat id or a Discord webhook URL.
type Sender interface {
	Send(ctx context.Context, dest, subject, body string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, dest, subject, body string) error

func (f SenderFunc) Send(ctx context.Context, dest, subject, body string) error {
	return f(ctx, dest, subject, body)
}

var ErrNoSender = errors.New("no sender configured for channel")

// Permanent marks err as a configuration problem that retrying cannot fix.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

func permanentf(format string, args ...any) error {
	return Permanent(fmt.Errorf(format, args...))
}
