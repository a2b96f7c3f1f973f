package upload

import (
	"context"
	"time"

	"github.com/docker/go-units"
	"github.com/ethpandaops/assetoor/pkg/artifact"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// BatchResult summarizes one publishing run.
type BatchResult struct {
	// Succeeded counts artifacts accepted by the receiver.
	Succeeded int
	// Skipped counts artifacts excluded from publishing.
	Skipped int
	// Failed counts artifacts that exhausted their retry budget.
	Failed int
	// Attempts counts upload attempts across all artifacts.
	Attempts int

	// Uploaded lists the logical paths of accepted artifacts in upload order.
	Uploaded []string

	// FirstFatal is the first artifact failure, if any.
	FirstFatal error

	Duration time.Duration
}

// Err returns the first fatal error of the batch.
func (b *BatchResult) Err() error {
	return b.FirstFatal
}

// Publisher walks an artifact set and uploads each eligible artifact in
// order, retrying per artifact.
type Publisher struct {
	log     logrus.FieldLogger
	opts    Options
	retrier *Retrier
}

// NewPublisher creates a Publisher. opts is copied, so later changes to it
// have no effect.
func NewPublisher(log logrus.FieldLogger, opts *Options, sender Sender) (*Publisher, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}

	log = log.WithField("component", "publisher")

	p := &Publisher{
		log:     log,
		opts:    *opts,
		retrier: NewRetrier(log, sender, opts.RetryBudget, opts.RetryDelay, limiter),
	}

	p.opts.ExtraFields = opts.ExtraFields.Clone()
	p.opts.Headers = opts.Headers.Clone()

	return p, nil
}

// RunBatch uploads every artifact of set that is not excluded. Artifacts
// are processed one at a time in set order; retries of an artifact finish
// before the next one starts. Unless ContinueOnError is set, the batch
// stops at the first artifact that could not be uploaded. RunBatch returns
// once every scheduled artifact reached a terminal state.
func (p *Publisher) RunBatch(ctx context.Context, set *artifact.Set) *BatchResult {
	start := time.Now()
	result := &BatchResult{}

	requests := make([]*Request, 0, set.Len())

	for _, a := range set.Artifacts() {
		req := NewRequest(&p.opts, a)
		if Excluded(req.RemoteFileName) {
			result.Skipped++

			p.log.WithField("path", a.Path).Debug("Skipping excluded artifact")

			continue
		}

		requests = append(requests, req)
	}

	p.log.WithFields(logrus.Fields{
		"artifacts": len(requests),
		"skipped":   result.Skipped,
		"size":      units.HumanSize(float64(set.TotalSize())),
		"receiver":  p.opts.ReceiverURL,
		"to":        p.opts.RemoteDir,
	}).Info("Begin upload")

	for _, req := range requests {
		attempts, err := p.retrier.Do(ctx, req)
		result.Attempts += attempts

		if err != nil {
			result.Failed++

			if result.FirstFatal == nil {
				result.FirstFatal = err
			}

			p.log.WithError(err).Error("Artifact upload failed")

			if !p.opts.ContinueOnError || ctx.Err() != nil {
				break
			}

			continue
		}

		result.Succeeded++
		result.Uploaded = append(result.Uploaded, req.Artifact.Path)
	}

	result.Duration = time.Since(start)

	fields := logrus.Fields{
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
		"skipped":   result.Skipped,
		"attempts":  result.Attempts,
		"duration":  result.Duration.Round(time.Millisecond),
	}

	if result.FirstFatal != nil {
		p.log.WithFields(fields).Error("Upload finished with errors")
	} else {
		p.log.WithFields(fields).Info("Upload finished")
	}

	return result
}
