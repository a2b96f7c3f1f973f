package upload

import (
	"context"
	"errors"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Retrier drives one artifact through repeated upload attempts until it
// succeeds or its retry budget is spent.
type Retrier struct {
	log     logrus.FieldLogger
	sender  Sender
	budget  int
	delay   time.Duration
	limiter *rate.Limiter
}

// NewRetrier creates a Retrier allowing budget additional attempts after
// the first. A nil limiter disables pacing.
func NewRetrier(
	log logrus.FieldLogger,
	sender Sender,
	budget int,
	delay time.Duration,
	limiter *rate.Limiter,
) *Retrier {
	return &Retrier{
		log:     log.WithField("component", "retrier"),
		sender:  sender,
		budget:  max(budget, 0),
		delay:   delay,
		limiter: limiter,
	}
}

// Do uploads req, retrying retriable failures. It returns the number of
// attempts made and, when the artifact could not be uploaded, a
// *FatalError. The same request is sent on every attempt.
func (r *Retrier) Do(ctx context.Context, req *Request) (int, error) {
	var (
		attempts int
		last     Outcome
	)

	log := r.log.WithFields(logrus.Fields{
		"path":        req.LocalPath,
		"destination": req.Destination,
	})

	operation := func() error {
		if err := r.pace(ctx); err != nil {
			return backoff.Permanent(r.fatal(req, attempts, err.Error(), err))
		}

		attempts++

		last = r.sender.Send(ctx, req)

		switch last.Kind {
		case KindSuccess:
			return nil
		case KindFatal:
			cause := ctx.Err()
			if cause == nil {
				cause = ErrAborted
			}

			return backoff.Permanent(r.fatal(req, attempts, last.Reason, cause))
		}

		return errors.New(last.Reason)
	}

	notify := func(_ error, next time.Duration) {
		log.WithFields(logrus.Fields{
			"attempt":   attempts,
			"remaining": r.budget + 1 - attempts,
			"reason":    last.Reason,
			"delay":     next,
		}).Warn("Retrying upload")
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(r.delay), uint64(r.budget)),
		ctx,
	)

	err := backoff.RetryNotify(operation, policy, notify)
	if err == nil {
		log.WithField("size", units.HumanSize(float64(req.Artifact.Size()))).
			Info("Artifact uploaded")

		return attempts, nil
	}

	var fatalErr *FatalError
	if errors.As(err, &fatalErr) {
		return attempts, fatalErr
	}

	// Cancelled while waiting out the retry delay.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return attempts, r.fatal(req, attempts, ctxErr.Error(), ctxErr)
	}

	return attempts, r.fatal(req, attempts, last.Reason, ErrBudgetExhausted)
}

// pace waits for the limiter before an attempt. The retry delay itself is
// applied by the backoff policy between attempts.
func (r *Retrier) pace(ctx context.Context) error {
	if r.limiter != nil {
		return r.limiter.Wait(ctx)
	}

	return ctx.Err()
}

func (r *Retrier) fatal(req *Request, attempts int, reason string, cause error) *FatalError {
	return &FatalError{
		Path:        req.LocalPath,
		Destination: req.Destination,
		Receiver:    req.ReceiverURL,
		Attempts:    attempts,
		Reason:      reason,
		Err:         cause,
	}
}
