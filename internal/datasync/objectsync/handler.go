// Package objectsync is the object storage backend for datasync: one YAML
// document per identity in an S3-compatible bucket.
package objectsync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dmitrijs2005/playersync/internal/common"
	"github.com/dmitrijs2005/playersync/internal/datasync"
	"github.com/dmitrijs2005/playersync/internal/logging"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const contentType = "application/yaml"

// ObjectAPI is the part of *s3.Client the handler uses.
type ObjectAPI interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Handler stores documents of type D at <prefix>/<uuid>.yml in bucket.
type Handler[H datasync.Holder[O], O any, D any] struct {
	client ObjectAPI
	bucket string
	prefix string
	codec  datasync.DocumentCodec[H, O, D]
	logger logging.Logger
}

func NewHandler[H datasync.Holder[O], O any, D any](client ObjectAPI, bucket, prefix string, codec datasync.DocumentCodec[H, O, D], l logging.Logger) *Handler[H, O, D] {
	if l == nil {
		l = logging.NewNop()
	}
	return &Handler[H, O, D]{
		client: client,
		bucket: bucket,
		prefix: prefix,
		codec:  codec,
		logger: l.With("module", "objectsync", "bucket", bucket),
	}
}

// Key is the object key of id.
func (h *Handler[H, O, D]) Key(id uuid.UUID) string {
	return path.Join(h.prefix, id.String()+".yml")
}

// Setup checks that the bucket is reachable.
func (h *Handler[H, O, D]) Setup(ctx context.Context) error {
	_, err := h.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(h.bucket)})
	if err != nil {
		return fmt.Errorf("%w: bucket %s: %w", common.ErrBackendUnavailable, h.bucket, err)
	}
	return nil
}

func (h *Handler[H, O, D]) Load(ctx context.Context, holder H) error {
	doc, err := h.read(ctx, holder.ID())
	if err != nil {
		return err
	}
	if err := h.codec.Apply(holder, doc); err != nil {
		return fmt.Errorf("apply document: %w", err)
	}
	return nil
}

func (h *Handler[H, O, D]) Save(ctx context.Context, holder H, _ bool) error {
	id := holder.ID()
	b, err := yaml.Marshal(h.codec.Document(holder))
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	_, err = h.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(h.bucket),
		Key:         aws.String(h.Key(id)),
		Body:        bytes.NewReader(b),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("%w: put %s: %w", common.ErrBackendUnavailable, id, err)
	}
	return nil
}

func (h *Handler[H, O, D]) Offline(ctx context.Context, id uuid.UUID) O {
	doc, err := h.read(ctx, id)
	if err != nil {
		h.logger.Error(ctx, "offline read failed", "uuid", id, "op", "offline", "error", err)
		return h.codec.Snapshot(id, nil)
	}
	return h.codec.Snapshot(id, doc)
}

func (h *Handler[H, O, D]) Close() error {
	return nil
}

// read returns nil when id has no object yet.
func (h *Handler[H, O, D]) read(ctx context.Context, id uuid.UUID) (*D, error) {
	out, err := h.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(h.bucket),
		Key:    aws.String(h.Key(id)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: get %s: %w", common.ErrBackendUnavailable, id, err)
	}
	defer out.Body.Close()

	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", common.ErrBackendUnavailable, id, err)
	}

	var doc D
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", id, err)
	}
	return &doc, nil
}
