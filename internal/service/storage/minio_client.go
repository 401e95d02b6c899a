package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// CircuitBreakerState represents the state of the circuit breaker.
type CircuitBreakerState int

const (
	CircuitBreakerClosed CircuitBreakerState = iota
	CircuitBreakerHalfOpen
	CircuitBreakerOpen
)

// ErrCircuitOpen is returned while the breaker is rejecting calls.
var ErrCircuitOpen = errors.New("blob storage circuit breaker is open")

// CircuitBreakerConfig holds circuit breaker settings.
type CircuitBreakerConfig struct {
	MaxFailures  int
	Timeout      time.Duration
	ResetTimeout time.Duration
}

// DefaultCircuitBreakerConfig returns default circuit breaker settings.
func DefaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		MaxFailures:  5,
		Timeout:      10 * time.Second,
		ResetTimeout: 30 * time.Second,
	}
}

// MinioClient wraps the MinIO client behind a circuit breaker so a dead
// blob store degrades file messaging instead of hanging every upload.
type MinioClient struct {
	client *minio.Client
	config *CircuitBreakerConfig
	logger *zap.Logger

	mu          sync.Mutex
	state       CircuitBreakerState
	failures    int
	lastFailure time.Time
}

// NewMinioClient creates a MinIO-backed blob client.
func NewMinioClient(endpoint, accessKey, secretKey string, useSSL bool, log *zap.Logger) (*MinioClient, error) {
	minioClient, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &MinioClient{
		client: minioClient,
		config: DefaultCircuitBreakerConfig(),
		logger: log,
		state:  CircuitBreakerClosed,
	}, nil
}

// EnsureBucket creates the bucket if it does not exist yet.
func (c *MinioClient) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := c.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if exists {
		return nil
	}
	if err := c.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	return nil
}

// UploadFile uploads an object, guarded by the breaker.
func (c *MinioClient) UploadFile(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	var info minio.UploadInfo
	err := c.do(ctx, func(ctx context.Context) error {
		var err error
		info, err = c.client.PutObject(ctx, bucket, object, reader, size, opts)
		return err
	})
	if err != nil {
		return minio.UploadInfo{}, fmt.Errorf("upload failed: %w", err)
	}
	return info, nil
}

// GetFile fetches an object, guarded by the breaker.
func (c *MinioClient) GetFile(ctx context.Context, bucket, object string, opts minio.GetObjectOptions) (*minio.Object, error) {
	var obj *minio.Object
	err := c.do(ctx, func(ctx context.Context) error {
		var err error
		obj, err = c.client.GetObject(ctx, bucket, object, opts)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	return obj, nil
}

// DeleteFile removes an object, guarded by the breaker.
func (c *MinioClient) DeleteFile(ctx context.Context, bucket, object string, opts minio.RemoveObjectOptions) error {
	err := c.do(ctx, func(ctx context.Context) error {
		return c.client.RemoveObject(ctx, bucket, object, opts)
	})
	if err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}
	return nil
}

// do runs one storage operation through the breaker with the configured
// timeout.
func (c *MinioClient) do(ctx context.Context, op func(ctx context.Context) error) error {
	if !c.allow() {
		return ErrCircuitOpen
	}

	opCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	if err := op(opCtx); err != nil {
		c.onFailure(err)
		return err
	}
	c.onSuccess()
	return nil
}

// allow reports whether a call may proceed, moving an open breaker to
// half-open once the reset timeout has elapsed.
func (c *MinioClient) allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == CircuitBreakerOpen {
		if time.Since(c.lastFailure) < c.config.ResetTimeout {
			return false
		}
		c.state = CircuitBreakerHalfOpen
	}
	return true
}

func (c *MinioClient) onSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = 0
	c.state = CircuitBreakerClosed
	c.lastFailure = time.Time{}
}

func (c *MinioClient) onFailure(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures++
	c.lastFailure = time.Now()
	if c.failures >= c.config.MaxFailures {
		c.state = CircuitBreakerOpen
		c.logger.Warn("blob storage circuit breaker opened",
			zap.Int("failures", c.failures),
			zap.Error(err))
		return
	}
	c.logger.Debug("blob storage operation failed",
		zap.Int("failures", c.failures),
		zap.Error(err))
}

// GetState returns the current circuit breaker state.
func (c *MinioClient) GetState() CircuitBreakerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
