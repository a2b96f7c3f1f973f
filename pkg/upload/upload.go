package upload

import (
	"context"
	"path"
	"strings"

	"github.com/ethpandaops/assetoor/pkg/artifact"
	"github.com/ethpandaops/assetoor/pkg/formdata"
)

// DestinationField is the form field carrying the remote destination path.
const DestinationField = "to"

// Sender delivers a single upload request to remote storage.
type Sender interface {
	// Send performs one upload attempt and classifies its outcome.
	// Send never retries on its own.
	Send(ctx context.Context, req *Request) Outcome
}

// Preflighter is implemented by senders that can verify their target is
// reachable before a batch starts.
type Preflighter interface {
	Preflight(ctx context.Context) error
}

// Kind classifies the result of a single upload attempt.
type Kind int

const (
	// KindSuccess means the receiver accepted the artifact.
	KindSuccess Kind = iota
	// KindRetriable means the attempt failed and may be repeated.
	KindRetriable
	// KindFatal means the attempt failed and must not be repeated.
	KindFatal
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindRetriable:
		return "retriable"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Outcome is the classified result of one upload attempt.
type Outcome struct {
	Kind   Kind
	Reason string
}

// Success returns a successful outcome.
func Success() Outcome {
	return Outcome{Kind: KindSuccess}
}

// Retriable returns a failed outcome that may be retried.
func Retriable(reason string) Outcome {
	return Outcome{Kind: KindRetriable, Reason: reason}
}

// Fatal returns a failed outcome that ends retrying immediately.
func Fatal(reason string) Outcome {
	return Outcome{Kind: KindFatal, Reason: reason}
}

// Request is everything needed to upload one artifact. It is derived once
// per artifact and stays the same across retries.
type Request struct {
	ReceiverURL    string
	RemoteDir      string
	ExtraFields    formdata.Fields
	Artifact       *artifact.Artifact
	RemoteFileName string
	Destination    string

	// LocalPath is the artifact location shown in log output.
	LocalPath string
}

// NewRequest derives the upload request for a single artifact.
func NewRequest(opts *Options, a *artifact.Artifact) *Request {
	name := RemoteFileName(a.Path)

	local := a.Path
	if opts.OutputDir != "" {
		local = path.Join(toSlash(opts.OutputDir), name)
	}

	return &Request{
		ReceiverURL:    opts.ReceiverURL,
		RemoteDir:      opts.RemoteDir,
		ExtraFields:    opts.ExtraFields,
		Artifact:       a,
		RemoteFileName: name,
		Destination:    Destination(opts.RemoteDir, name),
		LocalPath:      local,
	}
}

// Fields returns the form fields sent with the request: the configured
// extra fields with the destination field set.
func (r *Request) Fields() formdata.Fields {
	fields := r.ExtraFields.Clone()
	fields.Set(DestinationField, r.Destination)

	return fields
}

// RemoteFileName strips any query string suffix from a logical path.
// Everything from the first '?' on is removed.
func RemoteFileName(logicalPath string) string {
	name, _, _ := strings.Cut(logicalPath, "?")

	return name
}

// Excluded reports whether an artifact must never be uploaded. Generated
// HTML entry documents stay local.
func Excluded(remoteFileName string) bool {
	return strings.HasSuffix(remoteFileName, ".html")
}

// Destination joins the remote directory and file name using forward
// slashes regardless of the host platform.
func Destination(remoteDir, remoteFileName string) string {
	return path.Join(toSlash(remoteDir), toSlash(remoteFileName))
}

func toSlash(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}
