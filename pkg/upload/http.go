package upload

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethpandaops/assetoor/pkg/endpoint"
	"github.com/ethpandaops/assetoor/pkg/formdata"
	"github.com/sirupsen/logrus"
)

// SuccessSentinel is the response body a receiver returns on acceptance.
const SuccessSentinel = "0"

// maxReasonLength caps how much of a response body ends up in a failure
// reason.
const maxReasonLength = 256

// httpSender uploads artifacts to a receiver as multipart form posts.
type httpSender struct {
	log      logrus.FieldLogger
	receiver string
	method   string
	field    string
	headers  http.Header
	pooling  bool
	client   *http.Client
}

// Ensure interface compliance.
var (
	_ Sender      = (*httpSender)(nil)
	_ Preflighter = (*httpSender)(nil)
)

// NewHTTPSender creates a Sender that posts artifacts to the receiver URL
// carried by each request. Unset method, file field and timeout fall back
// to POST, the default file field and DefaultTimeout.
func NewHTTPSender(log logrus.FieldLogger, opts *Options) Sender {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DisableKeepAlives = !opts.KeepAlive

	method := opts.Method
	if method == "" {
		method = http.MethodPost
	}

	field := opts.FileField
	if field == "" {
		field = formdata.DefaultFileField
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &httpSender{
		log:      log.WithField("component", "http-sender"),
		receiver: opts.ReceiverURL,
		method:   method,
		field:    field,
		headers:  opts.Headers,
		pooling:  opts.KeepAlive,
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

// Send performs one multipart upload. The receiver URL is resolved on
// every attempt.
func (s *httpSender) Send(ctx context.Context, req *Request) Outcome {
	target, err := endpoint.Resolve(req.ReceiverURL, &endpoint.Options{
		Method:  s.method,
		Pooling: s.pooling,
		Headers: s.headers,
	})
	if err != nil {
		return Retriable(err.Error())
	}

	body := formdata.Encode(req.Fields(), s.field, req.RemoteFileName, req.Artifact.Content)

	httpReq, err := http.NewRequestWithContext(ctx, target.Method, target.URL(), body.Reader())
	if err != nil {
		return Retriable(fmt.Sprintf("building request: %v", err))
	}

	// Caller headers first so the encoder-derived ones win.
	for key, values := range target.Headers {
		httpReq.Header[key] = append([]string(nil), values...)
	}

	httpReq.Header.Set("Content-Type", body.ContentType)
	httpReq.ContentLength = body.ContentLength
	httpReq.Close = !target.Pooling

	s.log.WithFields(logrus.Fields{
		"url":         target.URL(),
		"destination": req.Destination,
		"bytes":       body.ContentLength,
	}).Debug("Sending upload request")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Fatal(ctxErr.Error())
		}

		return Retriable(err.Error())
	}

	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Fatal(ctxErr.Error())
		}

		return Retriable(fmt.Sprintf("reading response: %v", err))
	}

	return classify(resp.StatusCode, string(data))
}

// Preflight checks that the receiver host accepts TCP connections.
func (s *httpSender) Preflight(ctx context.Context) error {
	target, err := endpoint.Resolve(s.receiver, nil)
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(target.Host, strconv.Itoa(target.Port))

	var d net.Dialer

	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("connecting to receiver %s: %w", addr, err)
	}

	return conn.Close()
}

// classify turns a receiver response into an outcome.
func classify(status int, body string) Outcome {
	ok := (status >= 200 && status < 300) || status == http.StatusNotModified
	if !ok {
		reason := fmt.Sprintf("status %d", status)
		if trimmed := strings.TrimSpace(body); trimmed != "" {
			reason += ": " + truncate(trimmed)
		}

		return Retriable(reason)
	}

	trimmed := strings.TrimSpace(body)
	if trimmed != SuccessSentinel {
		return Retriable(fmt.Sprintf("receiver rejected upload: %q", truncate(trimmed)))
	}

	return Success()
}

func truncate(s string) string {
	if len(s) <= maxReasonLength {
		return s
	}

	return s[:maxReasonLength] + "..."
}
