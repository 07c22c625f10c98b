package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const archiveContentType = "application/x-ndjson"

// ObjectWriter uploads one object. storage.S3Client satisfies it.
type ObjectWriter interface {
	PutObject(ctx context.Context, key string, content io.Reader, contentType string) error
}

// ObjectArchiver writes each batch as one JSON-lines object under
// <prefix>/YYYY/MM/DD/<uuid>.jsonl
type ObjectArchiver struct {
	writer ObjectWriter
	prefix string
	now    func() time.Time
}

// NewObjectArchiver creates an archiver. prefix defaults to
// "webhook-deliveries".
func NewObjectArchiver(writer ObjectWriter, prefix string) *ObjectArchiver {
	if prefix == "" {
		prefix = "webhook-deliveries"
	}
	return &ObjectArchiver{writer: writer, prefix: prefix, now: time.Now}
}

// Archive uploads deliveries. An empty batch uploads nothing.
func (a *ObjectArchiver) Archive(ctx context.Context, deliveries []Delivery) error {
	if len(deliveries) == 0 {
		return nil
	}

	tracer := otel.Tracer("herohooks/delivery")
	ctx, span := tracer.Start(ctx, "delivery.Archive")
	defer span.End()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, d := range deliveries {
		if err := enc.Encode(d); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to encode delivery")
			return fmt.Errorf("failed to encode delivery %s: %w", d.ID, err)
		}
	}

	key := a.objectKey()
	span.SetAttributes(
		attribute.String("archive.key", key),
		attribute.Int("archive.rows", len(deliveries)),
		attribute.Int("archive.bytes", buf.Len()),
	)

	if err := a.writer.PutObject(ctx, key, &buf, archiveContentType); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to upload archive")
		return fmt.Errorf("failed to upload archive %s: %w", key, err)
	}

	span.SetStatus(codes.Ok, "archived")
	return nil
}

func (a *ObjectArchiver) objectKey() string {
	return fmt.Sprintf("%s/%s/%s.jsonl", a.prefix, a.now().UTC().Format("2006/01/02"), uuid.New().String())
}
