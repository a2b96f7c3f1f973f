package upload

import (
	"context"
	"io"
	"mime"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethpandaops/assetoor/pkg/artifact"
	"github.com/ethpandaops/assetoor/pkg/formdata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// receivedUpload is what a test receiver saw in one request.
type receivedUpload struct {
	method      string
	path        string
	contentType string
	length      int64
	header      http.Header
	fields      map[string]string
	fileField   string
	fileName    string
	content     []byte
}

// newTestReceiver starts a receiver that records uploads and answers with
// the given status and body.
func newTestReceiver(t *testing.T, status int, body string) (*httptest.Server, *[]receivedUpload) {
	t.Helper()

	var uploads []receivedUpload

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := receivedUpload{
			method:      r.Method,
			path:        r.URL.RequestURI(),
			contentType: r.Header.Get("Content-Type"),
			length:      r.ContentLength,
			header:      r.Header.Clone(),
			fields:      map[string]string{},
		}

		reader, err := r.MultipartReader()
		if err == nil {
			for {
				part, err := reader.NextPart()
				if err != nil {
					break
				}

				data, _ := io.ReadAll(part)
				_, params, _ := mime.ParseMediaType(part.Header.Get("Content-Disposition"))

				if name := params["filename"]; name != "" {
					got.fileField = part.FormName()
					got.fileName = name
					got.content = data
				} else {
					got.fields[part.FormName()] = string(data)
				}
			}
		}

		uploads = append(uploads, got)

		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))

	t.Cleanup(srv.Close)

	return srv, &uploads
}

func newHTTPTestRequest(t *testing.T, opts *Options, path string, content []byte) *Request {
	t.Helper()

	return NewRequest(opts, &artifact.Artifact{Path: path, Content: content})
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   Kind
		reason string
	}{
		{name: "ok sentinel", status: 200, body: "0", want: KindSuccess},
		{name: "ok sentinel with whitespace", status: 200, body: " 0\r\n", want: KindSuccess},
		{name: "created sentinel", status: 201, body: "0", want: KindSuccess},
		{name: "not modified sentinel", status: 304, body: "0", want: KindSuccess},
		{name: "ok with error body", status: 200, body: "permission denied", want: KindRetriable, reason: "permission denied"},
		{name: "ok with empty body", status: 200, body: "", want: KindRetriable, reason: "rejected"},
		{name: "ok with zero prefix", status: 200, body: "00", want: KindRetriable, reason: "00"},
		{name: "server error", status: 500, body: "boom", want: KindRetriable, reason: "status 500: boom"},
		{name: "server error with sentinel", status: 500, body: "0", want: KindRetriable, reason: "status 500"},
		{name: "redirect", status: 302, body: "", want: KindRetriable, reason: "status 302"},
		{name: "not found", status: 404, body: "", want: KindRetriable, reason: "status 404"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.status, tt.body)
			assert.Equal(t, tt.want, got.Kind)
			assert.Contains(t, got.Reason, tt.reason)
		})
	}
}

func TestClassify_TruncatesLongBodies(t *testing.T) {
	body := make([]byte, 4096)
	for i := range body {
		body[i] = 'x'
	}

	got := classify(200, string(body))
	assert.Equal(t, KindRetriable, got.Kind)
	assert.Less(t, len(got.Reason), 512)
}

func TestHTTPSender_Send(t *testing.T) {
	srv, uploads := newTestReceiver(t, http.StatusOK, "0")

	opts, err := NewOptions(srv.URL+"/receiver?token=abc", "/static")
	require.NoError(t, err)

	opts.ExtraFields = formdata.Fields{{Name: "project", Value: "web"}}
	opts.Headers = http.Header{
		"X-Build":      []string{"42"},
		"Content-Type": []string{"text/plain"},
	}

	sender := NewHTTPSender(newTestLogger(), opts)
	content := []byte("console.log('héllo')")

	outcome := sender.Send(context.Background(), newHTTPTestRequest(t, opts, "js/app.js?v=9", content))
	require.Equal(t, KindSuccess, outcome.Kind, outcome.Reason)

	require.Len(t, *uploads, 1)
	got := (*uploads)[0]

	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "/receiver?token=abc", got.path)
	assert.Contains(t, got.contentType, "multipart/form-data; boundary="+formdata.BoundaryPrefix)
	assert.Equal(t, "42", got.header.Get("X-Build"))
	assert.Greater(t, got.length, int64(len(content)))
	assert.Equal(t, map[string]string{
		"project": "web",
		"to":      "/static/js/app.js",
	}, got.fields)
	assert.Equal(t, formdata.DefaultFileField, got.fileField)
	assert.Equal(t, "js/app.js", got.fileName)
	assert.Equal(t, content, got.content)
}

func TestHTTPSender_CustomMethodAndField(t *testing.T) {
	srv, uploads := newTestReceiver(t, http.StatusOK, "0")

	opts, err := NewOptions(srv.URL, "/static")
	require.NoError(t, err)

	opts.Method = http.MethodPut
	opts.FileField = "asset"

	sender := NewHTTPSender(newTestLogger(), opts)

	outcome := sender.Send(context.Background(), newHTTPTestRequest(t, opts, "a.js", []byte("a")))
	require.Equal(t, KindSuccess, outcome.Kind, outcome.Reason)

	require.Len(t, *uploads, 1)
	assert.Equal(t, http.MethodPut, (*uploads)[0].method)
	assert.Equal(t, "asset", (*uploads)[0].fileField)
}

func TestHTTPSender_Rejection(t *testing.T) {
	srv, _ := newTestReceiver(t, http.StatusOK, "quota exceeded")

	opts, err := NewOptions(srv.URL, "/static")
	require.NoError(t, err)

	outcome := NewHTTPSender(newTestLogger(), opts).
		Send(context.Background(), newHTTPTestRequest(t, opts, "a.js", []byte("a")))

	assert.Equal(t, KindRetriable, outcome.Kind)
	assert.Contains(t, outcome.Reason, "quota exceeded")
}

func TestHTTPSender_MalformedURL(t *testing.T) {
	opts, err := NewOptions("http://local.test/%zz", "/static")
	require.NoError(t, err)

	outcome := NewHTTPSender(newTestLogger(), opts).
		Send(context.Background(), newHTTPTestRequest(t, opts, "a.js", []byte("a")))

	assert.Equal(t, KindRetriable, outcome.Kind)
	assert.Contains(t, outcome.Reason, "malformed url")
}

func TestHTTPSender_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	opts, err := NewOptions(url, "/static")
	require.NoError(t, err)

	outcome := NewHTTPSender(newTestLogger(), opts).
		Send(context.Background(), newHTTPTestRequest(t, opts, "a.js", []byte("a")))

	assert.Equal(t, KindRetriable, outcome.Kind)
	assert.NotEmpty(t, outcome.Reason)
}

func TestHTTPSender_TimeoutIsRetriable(t *testing.T) {
	release := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))

	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	opts, err := NewOptions(srv.URL, "/static")
	require.NoError(t, err)

	opts.Timeout = 50 * time.Millisecond

	outcome := NewHTTPSender(newTestLogger(), opts).
		Send(context.Background(), newHTTPTestRequest(t, opts, "a.js", []byte("a")))

	assert.Equal(t, KindRetriable, outcome.Kind)
}

func TestHTTPSender_CancelledContextIsFatal(t *testing.T) {
	srv, _ := newTestReceiver(t, http.StatusOK, "0")

	opts, err := NewOptions(srv.URL, "/static")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome := NewHTTPSender(newTestLogger(), opts).
		Send(ctx, newHTTPTestRequest(t, opts, "a.js", []byte("a")))

	assert.Equal(t, KindFatal, outcome.Kind)
	assert.Contains(t, outcome.Reason, "context canceled")
}

func TestHTTPSender_Preflight(t *testing.T) {
	srv, _ := newTestReceiver(t, http.StatusOK, "0")

	opts, err := NewOptions(srv.URL+"/receiver", "/static")
	require.NoError(t, err)

	sender := NewHTTPSender(newTestLogger(), opts)

	pf, ok := sender.(Preflighter)
	require.True(t, ok)
	require.NoError(t, pf.Preflight(context.Background()))

	srv.Close()
	require.Error(t, pf.Preflight(context.Background()))
}
