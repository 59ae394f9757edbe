// Package mail delivers account emails over SMTP.
//
// Senders classify failures: a *SendError with Temporary set may succeed on a
// later attempt (connection problems, 4xx replies), anything else is permanent.
// RetryingSender retries temporary failures with exponential backoff.
package mail

import (
	"context"
	"errors"
	"fmt"
)

// Message is one outbound email with text and HTML alternatives
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Sender delivers messages
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SendError is a classified delivery failure
type SendError struct {
	Temporary bool
	Err       error
}

func (e *SendError) Error() string {
	kind := "permanent"
	if e.Temporary {
		kind = "temporary"
	}
	return fmt.Sprintf("%s mail failure: %v", kind, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// IsTemporary reports whether err is a delivery failure worth retrying
func IsTemporary(err error) bool {
	var sendErr *SendError
	return errors.As(err, &sendErr) && sendErr.Temporary
}

func temporary(err error) error {
	return &SendError{Temporary: true, Err: err}
}

func permanent(err error) error {
	return &SendError{Err: err}
}
