package mail

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/platinummonkey/taskboard/pkg/observability"
)

// RetryConfig bounds redelivery of temporary failures
type RetryConfig struct {
	// Attempts includes the first try
	Attempts        int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig makes three attempts
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts:        3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

// RetryingSender retries temporary failures of the wrapped sender
type RetryingSender struct {
	next   Sender
	cfg    RetryConfig
	logger *observability.Logger
	// OnAttempt is called after each attempt with its outcome, if set
	OnAttempt func(err error)
}

// NewRetryingSender wraps next
func NewRetryingSender(next Sender, cfg RetryConfig, logger *observability.Logger) *RetryingSender {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &RetryingSender{next: next, cfg: cfg, logger: logger}
}

// Send delivers msg, retrying temporary failures. The last error is returned.
func (s *RetryingSender) Send(ctx context.Context, msg Message) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.cfg.InitialInterval
	policy.MaxInterval = s.cfg.MaxInterval
	policy.MaxElapsedTime = 0

	attempt := 0
	op := func() error {
		attempt++
		err := s.next.Send(ctx, msg)
		if s.OnAttempt != nil {
			s.OnAttempt(err)
		}
		if err == nil {
			return nil
		}
		if !IsTemporary(err) {
			return backoff.Permanent(err)
		}
		s.logger.WithError(err).WithField("attempt", attempt).Warn("mail delivery failed, retrying")
		return err
	}

	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(s.cfg.Attempts-1)), ctx)
	return backoff.Retry(op, b)
}
