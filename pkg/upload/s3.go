package upload

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/ethpandaops/assetoor/pkg/config"
	"github.com/sirupsen/logrus"
)

// s3API is the subset of the S3 client used by s3Sender.
type s3API interface {
	PutObject(
		ctx context.Context,
		params *s3.PutObjectInput,
		optFns ...func(*s3.Options),
	) (*s3.PutObjectOutput, error)
}

// s3Sender implements Sender for S3-compatible storage. Object keys are
// the upload destination below the configured prefix.
type s3Sender struct {
	log    logrus.FieldLogger
	cfg    *config.S3UploadConfig
	client s3API
}

// Ensure interface compliance.
var (
	_ Sender      = (*s3Sender)(nil)
	_ Preflighter = (*s3Sender)(nil)
)

// NewS3Sender creates a new S3 sender from the given configuration.
func NewS3Sender(
	log logrus.FieldLogger,
	cfg *config.S3UploadConfig,
) (Sender, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	return &s3Sender{
		log:    log.WithField("component", "s3-sender"),
		cfg:    cfg,
		client: newS3Client(cfg),
	}, nil
}

func newS3Client(cfg *config.S3UploadConfig) *s3.Client {
	opts := []func(*s3.Options){
		func(o *s3.Options) {
			if cfg.Region != "" {
				o.Region = cfg.Region
			} else {
				o.Region = "us-east-1"
			}

			if cfg.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.EndpointURL)
			}

			if cfg.ForcePathStyle {
				o.UsePathStyle = true
			}

			if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
				o.Credentials = credentials.NewStaticCredentialsProvider(
					cfg.AccessKeyID, cfg.SecretAccessKey, "",
				)
			}
		},
	}

	return s3.New(s3.Options{}, opts...)
}

// Preflight verifies S3 connectivity by writing a small test object.
func (u *s3Sender) Preflight(ctx context.Context) error {
	content := fmt.Sprintf("assetoor write test: %s", time.Now().UTC().Format(time.RFC3339))

	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.cfg.Bucket),
		Key:         aws.String(u.resolveKey(".assetoor-write-test")),
		Body:        strings.NewReader(content),
		ContentType: aws.String("text/plain"),
	})
	if err != nil {
		return fmt.Errorf("writing test object to s3://%s: %w", u.cfg.Bucket, err)
	}

	return nil
}

// Send uploads the artifact as a single object. Every failure is
// retriable unless the context is done.
func (u *s3Sender) Send(ctx context.Context, req *Request) Outcome {
	key := u.resolveKey(req.Destination)

	input := &s3.PutObjectInput{
		Bucket:        aws.String(u.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(req.Artifact.Content),
		ContentLength: aws.Int64(req.Artifact.Size()),
		ContentType:   aws.String(detectContentType(req.RemoteFileName)),
	}

	if len(req.ExtraFields) > 0 {
		input.Metadata = make(map[string]string, len(req.ExtraFields))
		for _, f := range req.ExtraFields {
			input.Metadata[f.Name] = f.Value
		}
	}

	if u.cfg.StorageClass != "" {
		input.StorageClass = s3types.StorageClass(u.cfg.StorageClass)
	}

	if u.cfg.ACL != "" {
		input.ACL = s3types.ObjectCannedACL(u.cfg.ACL)
	}

	u.log.WithFields(logrus.Fields{
		"key":    key,
		"bucket": u.cfg.Bucket,
	}).Debug("Uploading object")

	if _, err := u.client.PutObject(ctx, input); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Fatal(ctxErr.Error())
		}

		return Retriable(fmt.Sprintf("PutObject s3://%s/%s: %v", u.cfg.Bucket, key, err))
	}

	return Success()
}

// resolveKey builds the object key for a destination path.
func (u *s3Sender) resolveKey(destination string) string {
	key := strings.TrimLeft(destination, "/")

	prefix := strings.Trim(u.cfg.Prefix, "/")
	if prefix == "" {
		return key
	}

	return path.Join(prefix, key)
}

// detectContentType returns a MIME type based on file extension.
func detectContentType(name string) string {
	ext := path.Ext(name)
	if ext == "" {
		return "application/octet-stream"
	}

	ct := mime.TypeByExtension(ext)
	if ct == "" {
		return "application/octet-stream"
	}

	return ct
}
