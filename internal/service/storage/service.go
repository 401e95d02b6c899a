package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"

	"clinichub-backend/internal/domain"
	apperrors "clinichub-backend/pkg/errors"
)

// MaxAttachmentSize caps message attachments at 10MB.
const MaxAttachmentSize = 10 << 20

// allowedContentTypes maps accepted MIME types to the message type the
// resulting attachment produces.
var allowedContentTypes = map[string]string{
	"image/jpeg":         domain.MessageTypeImage,
	"image/png":          domain.MessageTypeImage,
	"image/gif":          domain.MessageTypeImage,
	"image/webp":         domain.MessageTypeImage,
	"application/pdf":    domain.MessageTypeFile,
	"application/msword": domain.MessageTypeFile,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": domain.MessageTypeFile,
	"text/plain": domain.MessageTypeFile,
}

// BlobClient is the subset of the MinIO wrapper the attachment service
// uses.
type BlobClient interface {
	UploadFile(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	DeleteFile(ctx context.Context, bucket, object string, opts minio.RemoveObjectOptions) error
}

// Attachment describes an uploaded blob ready to be attached to a
// message.
type Attachment struct {
	URL         string `json:"url"`
	FileName    string `json:"file_name"`
	FileSize    int64  `json:"file_size"`
	MessageType string `json:"message_type"`
}

// Service stores message attachments in blob storage and returns
// retrievable URLs.
type Service struct {
	blobs     BlobClient
	bucket    string
	publicURL string
	logger    *zap.Logger
}

// NewService creates an attachment service. publicURL is the external
// base under which the bucket is reachable.
func NewService(blobs BlobClient, bucket, publicURL string, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		blobs:     blobs,
		bucket:    bucket,
		publicURL: strings.TrimRight(publicURL, "/"),
		logger:    log,
	}
}

// Upload validates and stores one attachment under the owner's prefix.
func (s *Service) Upload(ctx context.Context, ownerID, fileName, contentType string, size int64, reader io.Reader) (*Attachment, error) {
	if size <= 0 {
		return nil, apperrors.InvalidContentError("empty file")
	}
	if size > MaxAttachmentSize {
		return nil, apperrors.InvalidContentError(
			fmt.Sprintf("file exceeds %dMB limit", MaxAttachmentSize>>20))
	}

	messageType, ok := allowedContentTypes[strings.ToLower(contentType)]
	if !ok {
		return nil, apperrors.ValidationError("unsupported file type: " + contentType)
	}

	object := fmt.Sprintf("attachments/%s/%s%s", ownerID, uuid.NewString(), strings.ToLower(path.Ext(fileName)))
	_, err := s.blobs.UploadFile(ctx, s.bucket, object, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return nil, apperrors.StorageUnavailableError(err)
	}

	s.logger.Info("attachment uploaded",
		zap.String("owner_id", ownerID),
		zap.String("object", object),
		zap.Int64("size", size))

	return &Attachment{
		URL:         fmt.Sprintf("%s/%s/%s", s.publicURL, s.bucket, object),
		FileName:    fileName,
		FileSize:    size,
		MessageType: messageType,
	}, nil
}

// DeleteByURL removes a previously uploaded attachment given its public
// URL. URLs outside this service's bucket are rejected.
func (s *Service) DeleteByURL(ctx context.Context, url string) error {
	prefix := fmt.Sprintf("%s/%s/", s.publicURL, s.bucket)
	if !strings.HasPrefix(url, prefix) {
		return apperrors.ValidationError("unknown attachment url")
	}
	object := strings.TrimPrefix(url, prefix)
	if object == "" {
		return apperrors.ValidationError("unknown attachment url")
	}

	if err := s.blobs.DeleteFile(ctx, s.bucket, object, minio.RemoveObjectOptions{}); err != nil {
		return apperrors.StorageUnavailableError(err)
	}
	return nil
}
