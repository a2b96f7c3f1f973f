package upload

import (
	"context"
	"net/http"
	"testing"

	"github.com/ethpandaops/assetoor/pkg/artifact"
	"github.com/ethpandaops/assetoor/pkg/formdata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSet(paths ...string) *artifact.Set {
	set := artifact.NewSet()
	for _, p := range paths {
		set.Add(p, []byte("content of "+p))
	}

	return set
}

func TestPublisher_SkipsHTMLAndUploads(t *testing.T) {
	srv, uploads := newTestReceiver(t, http.StatusOK, "0")

	opts, err := NewOptions(srv.URL+"/up", "/static")
	require.NoError(t, err)

	opts.RetryBudget = 1

	pub, err := NewPublisher(newTestLogger(), opts, NewHTTPSender(newTestLogger(), opts))
	require.NoError(t, err)

	result := pub.RunBatch(context.Background(), newTestSet("main.js", "index.html"))

	require.NoError(t, result.Err())
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, result.Skipped)
	assert.Zero(t, result.Failed)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, []string{"main.js"}, result.Uploaded)

	require.Len(t, *uploads, 1)
	assert.Equal(t, "/static/main.js", (*uploads)[0].fields[DestinationField])
	assert.Equal(t, "main.js", (*uploads)[0].fileName)
	assert.Equal(t, []byte("content of main.js"), (*uploads)[0].content)
}

func TestPublisher_LiteralOptionsDefaultToPost(t *testing.T) {
	srv, uploads := newTestReceiver(t, http.StatusOK, "0")

	opts := &Options{ReceiverURL: srv.URL + "/up", RemoteDir: "/static"}
	sender := NewHTTPSender(newTestLogger(), opts)

	hs, ok := sender.(*httpSender)
	require.True(t, ok)
	assert.Equal(t, DefaultTimeout, hs.client.Timeout)

	pub, err := NewPublisher(newTestLogger(), opts, sender)
	require.NoError(t, err)

	result := pub.RunBatch(context.Background(), newTestSet("js/main.js"))
	require.NoError(t, result.Err())

	require.Len(t, *uploads, 1)
	got := (*uploads)[0]
	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "/up", got.path)
	assert.Equal(t, formdata.DefaultFileField, got.fileField)
	assert.Equal(t, "js/main.js", got.fileName)
	assert.Equal(t, "/static/js/main.js", got.fields[DestinationField])
}

func TestPublisher_ServerErrorExhaustsBudget(t *testing.T) {
	srv, uploads := newTestReceiver(t, http.StatusInternalServerError, "boom")

	opts, err := NewOptions(srv.URL+"/up", "/static")
	require.NoError(t, err)

	opts.RetryBudget = 2

	pub, err := NewPublisher(newTestLogger(), opts, NewHTTPSender(newTestLogger(), opts))
	require.NoError(t, err)

	result := pub.RunBatch(context.Background(), newTestSet("main.js"))

	assert.Len(t, *uploads, 3)
	assert.Equal(t, 3, result.Attempts)
	assert.Zero(t, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	assert.Empty(t, result.Uploaded)

	err = result.Err()
	require.Error(t, err)
	require.ErrorIs(t, err, ErrBudgetExhausted)
	assert.Contains(t, err.Error(), "main.js")
	assert.Contains(t, err.Error(), srv.URL+"/up")
	assert.Contains(t, err.Error(), "boom")
}

func TestPublisher_UploadOrder(t *testing.T) {
	sender := &fakeSender{outcomes: []Outcome{Success()}}

	opts, err := NewOptions("http://local.test/up", "/cdn")
	require.NoError(t, err)

	pub, err := NewPublisher(newTestLogger(), opts, sender)
	require.NoError(t, err)

	result := pub.RunBatch(context.Background(),
		newTestSet("b.js", "a.css", "about.html", "img/logo.png?v=2"))

	require.NoError(t, result.Err())
	assert.Equal(t, []string{"/cdn/b.js", "/cdn/a.css", "/cdn/img/logo.png"}, sender.destinations())
	assert.Equal(t, []string{"b.js", "a.css", "img/logo.png?v=2"}, result.Uploaded)
}

func TestPublisher_StopsAtFirstFatal(t *testing.T) {
	sender := &fakeSender{outcomes: []Outcome{Success(), Retriable("down")}}

	opts, err := NewOptions("http://local.test/up", "/static")
	require.NoError(t, err)

	opts.RetryBudget = 1

	pub, err := NewPublisher(newTestLogger(), opts, sender)
	require.NoError(t, err)

	result := pub.RunBatch(context.Background(), newTestSet("a.js", "b.js", "c.js"))

	require.Error(t, result.Err())
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, []string{"/static/a.js", "/static/b.js", "/static/b.js"}, sender.destinations())

	var fatal *FatalError
	require.ErrorAs(t, result.Err(), &fatal)
	assert.Equal(t, "b.js", fatal.Path)
}

func TestPublisher_ContinueOnError(t *testing.T) {
	sender := &fakeSender{outcomes: []Outcome{
		Retriable("down"),
		Success(),
		Success(),
	}}

	opts, err := NewOptions("http://local.test/up", "/static")
	require.NoError(t, err)

	opts.RetryBudget = 0
	opts.ContinueOnError = true

	pub, err := NewPublisher(newTestLogger(), opts, sender)
	require.NoError(t, err)

	result := pub.RunBatch(context.Background(), newTestSet("a.js", "b.js", "c.js"))

	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, []string{"b.js", "c.js"}, result.Uploaded)

	var fatal *FatalError
	require.ErrorAs(t, result.Err(), &fatal)
	assert.Equal(t, "a.js", fatal.Path)
}

func TestPublisher_CancelledContext(t *testing.T) {
	sender := &fakeSender{outcomes: []Outcome{Success()}}

	opts, err := NewOptions("http://local.test/up", "/static")
	require.NoError(t, err)

	opts.ContinueOnError = true

	pub, err := NewPublisher(newTestLogger(), opts, sender)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := pub.RunBatch(ctx, newTestSet("a.js", "b.js"))

	assert.Empty(t, sender.calls)
	assert.Equal(t, 1, result.Failed)
	require.ErrorIs(t, result.Err(), context.Canceled)
}

func TestPublisher_EmptySet(t *testing.T) {
	sender := &fakeSender{outcomes: []Outcome{Success()}}

	opts, err := NewOptions("http://local.test/up", "/static")
	require.NoError(t, err)

	pub, err := NewPublisher(newTestLogger(), opts, sender)
	require.NoError(t, err)

	result := pub.RunBatch(context.Background(), newTestSet("index.html"))

	require.NoError(t, result.Err())
	assert.Empty(t, sender.calls)
	assert.Equal(t, 1, result.Skipped)
	assert.Zero(t, result.Succeeded)
}

func TestNewPublisher_CopiesOptions(t *testing.T) {
	sender := &fakeSender{outcomes: []Outcome{Success()}}

	opts, err := NewOptions("http://local.test/up", "/static")
	require.NoError(t, err)

	pub, err := NewPublisher(newTestLogger(), opts, sender)
	require.NoError(t, err)

	opts.RemoteDir = "/changed"

	pub.RunBatch(context.Background(), newTestSet("a.js"))

	assert.Equal(t, []string{"/static/a.js"}, sender.destinations())
}

func TestNewPublisher_InvalidOptions(t *testing.T) {
	_, err := NewPublisher(newTestLogger(), &Options{RemoteDir: "/static"}, &fakeSender{})
	require.ErrorIs(t, err, ErrMissingOption)

	_, err = NewPublisher(newTestLogger(), &Options{
		ReceiverURL: "http://local.test",
		RemoteDir:   "/static",
		RetryBudget: -1,
	}, &fakeSender{})
	require.Error(t, err)
}
