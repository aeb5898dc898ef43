// Package s3store keeps a virtual tape in an S3 bucket. Every record is
// one object; the layout is a msgpack object next to them.
//
// Object layout under KeyPrefix:
//
//	layout.msgpack
//	files/<fileID>/<index>
package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/marmos91/dittotape/internal/logger"
	"github.com/marmos91/dittotape/pkg/device/vtape"
)

// ErrStoreClosed is returned after Close.
var ErrStoreClosed = errors.New("s3 tape store closed")

const layoutObject = "layout.msgpack"

// Config holds configuration for the S3 tape store.
type Config struct {
	Bucket string

	// Region is the AWS region (optional, uses SDK default if empty).
	Region string

	// Endpoint is the S3 endpoint URL, for S3-compatible services.
	Endpoint string

	// KeyPrefix is prepended to every object key. Should end with "/".
	KeyPrefix string

	// AccessKeyID and SecretAccessKey select static credentials instead of
	// the SDK default chain.
	AccessKeyID     string
	SecretAccessKey string

	// ForcePathStyle forces path-style addressing (Localstack, MinIO).
	ForcePathStyle bool
}

// Store is a vtape.Store backed by S3.
type Store struct {
	client    *s3.Client
	bucket    string
	keyPrefix string

	mu     sync.RWMutex
	closed bool
}

// New creates a store with an existing client.
func New(client *s3.Client, cfg Config) *Store {
	return &Store{
		client:    client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
	}
}

// NewFromConfig builds the S3 client from cfg.
func NewFromConfig(ctx context.Context, cfg Config) (*Store, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	logger.Debug("S3 tape store configured",
		logger.KeyBackend, "s3",
		logger.KeyBucket, cfg.Bucket,
		logger.KeyKey, cfg.KeyPrefix)
	return New(s3.NewFromConfig(awsCfg, s3Opts...), cfg), nil
}

func (s *Store) fileKey(fileID string) string {
	return s.keyPrefix + "files/" + fileID + "/"
}

func (s *Store) recordKey(fileID string, idx int) string {
	return fmt.Sprintf("%s%012d", s.fileKey(fileID), idx)
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

func (s *Store) getObject(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil, vtape.ErrNotFound
		}
		return nil, fmt.Errorf("s3 get object: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read s3 object body: %w", err)
	}
	return data, nil
}

func (s *Store) putObject(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("s3 put object: %w", err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context) (vtape.Layout, error) {
	if err := s.checkOpen(); err != nil {
		return vtape.Layout{}, err
	}
	data, err := s.getObject(ctx, s.keyPrefix+layoutObject)
	if errors.Is(err, vtape.ErrNotFound) {
		return vtape.Layout{}, nil
	}
	if err != nil {
		return vtape.Layout{}, err
	}
	var layout vtape.Layout
	if err := msgpack.Unmarshal(data, &layout); err != nil {
		return vtape.Layout{}, fmt.Errorf("decode tape layout: %w", err)
	}
	return layout, nil
}

func (s *Store) Get(ctx context.Context, fileID string, idx int) ([]byte, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.getObject(ctx, s.recordKey(fileID, idx))
}

func (s *Store) Put(ctx context.Context, fileID string, idx int, data []byte) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.putObject(ctx, s.recordKey(fileID, idx), data)
}

// Commit uploads the layout, then deletes the objects of dropped files.
func (s *Store) Commit(ctx context.Context, layout vtape.Layout, dropped []vtape.File) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	data, err := msgpack.Marshal(&layout)
	if err != nil {
		return fmt.Errorf("encode tape layout: %w", err)
	}
	if err := s.putObject(ctx, s.keyPrefix+layoutObject, data); err != nil {
		return err
	}
	for _, f := range dropped {
		if err := s.deletePrefix(ctx, s.fileKey(f.ID)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) deletePrefix(ctx context.Context, prefix string) error {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("s3 list objects: %w", err)
		}
		if len(page.Contents) == 0 {
			continue
		}

		objects := make([]types.ObjectIdentifier, len(page.Contents))
		for i, obj := range page.Contents {
			objects[i] = types.ObjectIdentifier{Key: obj.Key}
		}
		_, err = s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: objects},
		})
		if err != nil {
			return fmt.Errorf("s3 delete objects: %w", err)
		}
	}
	return nil
}

// HealthCheck verifies the bucket is reachable.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return fmt.Errorf("S3 health check failed: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func isNotFoundError(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "NoSuchKey") ||
		strings.Contains(errStr, "NotFound") ||
		strings.Contains(errStr, "404")
}

var _ vtape.Store = (*Store)(nil)
