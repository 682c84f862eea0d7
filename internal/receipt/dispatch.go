package receipt

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
)

type objectPutter interface {
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// ObjectStoreOutbox writes each message to the receipts bucket under
// <yyyy>/<mm>/<uuid>.eml for a mail relay to pick up.
type ObjectStoreOutbox struct {
	client objectPutter
	bucket string
	logger *slog.Logger
}

func NewObjectStoreOutbox(client objectPutter, bucket string, logger *slog.Logger) *ObjectStoreOutbox {
	return &ObjectStoreOutbox{client: client, bucket: bucket, logger: logger}
}

func (o *ObjectStoreOutbox) Dispatch(ctx context.Context, msg Message) error {
	raw := msg.Bytes()
	key := fmt.Sprintf("%04d/%02d/%s.eml", msg.Date.Year(), int(msg.Date.Month()), uuid.NewString())
	_, err := o.client.PutObject(ctx, o.bucket, key, bytes.NewReader(raw), int64(len(raw)), minio.PutObjectOptions{
		ContentType: "message/rfc822",
		UserMetadata: map[string]string{
			"contribution-id": fmt.Sprint(msg.ContributionID),
			"template":        string(msg.Template),
		},
	})
	if err != nil {
		return fmt.Errorf("put receipt %s: %w", key, err)
	}
	if o.logger != nil {
		o.logger.Info("receipt queued", "contribution_id", msg.ContributionID, "template", msg.Template, "key", key)
	}
	return nil
}

// LogDispatcher only logs messages. It serves development setups without object storage.
type LogDispatcher struct {
	Logger *slog.Logger
}

func (d LogDispatcher) Dispatch(ctx context.Context, msg Message) error {
	if d.Logger != nil {
		d.Logger.Info("receipt composed",
			"contribution_id", msg.ContributionID,
			"template", msg.Template,
			"to", msg.To,
			"subject", msg.Subject,
		)
	}
	return nil
}
