package upload

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ethpandaops/assetoor/pkg/config"
	"github.com/ethpandaops/assetoor/pkg/formdata"
)

const (
	// DefaultRetryBudget is the number of additional attempts per artifact.
	DefaultRetryBudget = config.DefaultRetry

	// DefaultTimeout bounds a single request.
	DefaultTimeout = 30 * time.Second
)

// ErrMissingOption is returned when a required option is empty.
var ErrMissingOption = errors.New("missing required option")

// Options is the process-wide upload configuration. It is copied by value
// into the publisher and never modified afterwards.
type Options struct {
	ReceiverURL string
	RemoteDir   string
	ExtraFields formdata.Fields
	RetryBudget int

	Method     string
	FileField  string
	Headers    http.Header
	Timeout    time.Duration
	RetryDelay time.Duration
	KeepAlive  bool

	// RequestsPerSecond paces attempts sent to the receiver. Zero disables
	// pacing.
	RequestsPerSecond float64

	// ContinueOnError keeps publishing remaining artifacts after one has
	// exhausted its retry budget.
	ContinueOnError bool

	// OutputDir is the local directory artifacts were produced in. It is
	// only used to render log output.
	OutputDir string
}

// NewOptions returns options with defaults for everything but the required
// receiver URL and remote directory.
func NewOptions(receiverURL, remoteDir string) (*Options, error) {
	opts := &Options{
		ReceiverURL: receiverURL,
		RemoteDir:   remoteDir,
		RetryBudget: DefaultRetryBudget,
		Method:      http.MethodPost,
		FileField:   formdata.DefaultFileField,
		Timeout:     DefaultTimeout,
	}

	if err := opts.Validate(); err != nil {
		return nil, err
	}

	return opts, nil
}

// OptionsFromConfig builds upload options from the upload config section.
func OptionsFromConfig(cfg *config.UploadConfig) (*Options, error) {
	timeout, err := cfg.TimeoutDuration()
	if err != nil {
		return nil, err
	}

	delay, err := cfg.RetryDelayDuration()
	if err != nil {
		return nil, err
	}

	var headers http.Header
	if len(cfg.Headers) > 0 {
		headers = make(http.Header, len(cfg.Headers))
		for k, v := range cfg.Headers {
			headers.Set(k, v)
		}
	}

	opts := &Options{
		ReceiverURL:       cfg.Receiver,
		RemoteDir:         cfg.To,
		ExtraFields:       cfg.Data.Clone(),
		RetryBudget:       cfg.RetryBudget(),
		Method:            cfg.Method,
		FileField:         cfg.FileField,
		Headers:           headers,
		Timeout:           timeout,
		RetryDelay:        delay,
		KeepAlive:         cfg.KeepAlive,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		ContinueOnError:   cfg.ContinueOnError,
		OutputDir:         cfg.OutputDir,
	}

	if err := opts.Validate(); err != nil {
		return nil, err
	}

	return opts, nil
}

// Validate checks that required options are present.
func (o *Options) Validate() error {
	if o.ReceiverURL == "" {
		return fmt.Errorf("%w: receiver", ErrMissingOption)
	}

	if o.RemoteDir == "" {
		return fmt.Errorf("%w: to", ErrMissingOption)
	}

	if o.RetryBudget < 0 {
		return fmt.Errorf("retry budget must be >= 0, got %d", o.RetryBudget)
	}

	return nil
}
