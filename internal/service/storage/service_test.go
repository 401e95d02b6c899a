package storage

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinichub-backend/internal/domain"
	apperrors "clinichub-backend/pkg/errors"
)

type fakeBlobClient struct {
	uploads      []string
	deletes      []string
	uploadedSize int64
	err          error
}

func (f *fakeBlobClient) UploadFile(_ context.Context, _, object string, _ io.Reader, size int64, _ minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.err != nil {
		return minio.UploadInfo{}, f.err
	}
	f.uploads = append(f.uploads, object)
	f.uploadedSize = size
	return minio.UploadInfo{Key: object, Size: size}, nil
}

func (f *fakeBlobClient) DeleteFile(_ context.Context, _, object string, _ minio.RemoveObjectOptions) error {
	if f.err != nil {
		return f.err
	}
	f.deletes = append(f.deletes, object)
	return nil
}

func newStorageFixture() (*Service, *fakeBlobClient) {
	blobs := &fakeBlobClient{}
	return NewService(blobs, "clinichub", "https://blobs.clinic.test", nil), blobs
}

func TestUpload_Image(t *testing.T) {
	svc, blobs := newStorageFixture()

	attachment, err := svc.Upload(context.Background(), "patient-1", "xray.PNG", "image/png", 2048, strings.NewReader("png bytes"))

	require.NoError(t, err)
	assert.Equal(t, domain.MessageTypeImage, attachment.MessageType)
	assert.Equal(t, "xray.PNG", attachment.FileName)
	assert.EqualValues(t, 2048, attachment.FileSize)
	assert.True(t, strings.HasPrefix(attachment.URL, "https://blobs.clinic.test/clinichub/attachments/patient-1/"))
	assert.True(t, strings.HasSuffix(attachment.URL, ".png"))
	require.Len(t, blobs.uploads, 1)
}

func TestUpload_Document(t *testing.T) {
	svc, _ := newStorageFixture()

	attachment, err := svc.Upload(context.Background(), "doctor-1", "report.pdf", "application/pdf", 1024, strings.NewReader("pdf bytes"))

	require.NoError(t, err)
	assert.Equal(t, domain.MessageTypeFile, attachment.MessageType)
}

func TestUpload_RejectsUnsupportedType(t *testing.T) {
	svc, blobs := newStorageFixture()

	_, err := svc.Upload(context.Background(), "patient-1", "run.exe", "application/x-msdownload", 1024, strings.NewReader("nope"))

	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))
	assert.Empty(t, blobs.uploads)
}

func TestUpload_SizeLimits(t *testing.T) {
	svc, _ := newStorageFixture()
	ctx := context.Background()

	_, err := svc.Upload(ctx, "patient-1", "empty.png", "image/png", 0, strings.NewReader(""))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidContent))

	_, err = svc.Upload(ctx, "patient-1", "huge.png", "image/png", MaxAttachmentSize+1, strings.NewReader("x"))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidContent))
}

func TestUpload_StorageFailure(t *testing.T) {
	svc, blobs := newStorageFixture()
	blobs.err = assert.AnError

	_, err := svc.Upload(context.Background(), "patient-1", "xray.png", "image/png", 1024, strings.NewReader("png"))

	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeStorageUnavailable))
}

func TestDeleteByURL(t *testing.T) {
	svc, blobs := newStorageFixture()

	err := svc.DeleteByURL(context.Background(), "https://blobs.clinic.test/clinichub/attachments/patient-1/abc.png")

	require.NoError(t, err)
	require.Len(t, blobs.deletes, 1)
	assert.Equal(t, "attachments/patient-1/abc.png", blobs.deletes[0])
}

func TestDeleteByURL_ForeignURLRejected(t *testing.T) {
	svc, blobs := newStorageFixture()

	err := svc.DeleteByURL(context.Background(), "https://elsewhere.test/other/abc.png")

	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))
	assert.Empty(t, blobs.deletes)
}
