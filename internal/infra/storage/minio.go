package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/lifecycle"

	"github.com/bryanwahyu/dance-analyzer/internal/domain/results"
)

const (
	resultPrefix    = "results/"
	lifecycleRuleID = "expire-results"
)

// Store keeps one JSON object per result under results/<id>.json. Expiry is
// enforced on read from createdAt and, asynchronously, by a bucket lifecycle
// rule.
type Store struct {
	client     *minio.Client
	bucketName string
	region     string
	ttl        time.Duration
	now        func() time.Time
}

// New buat koneksi MinIO, ensures the bucket exists and installs the
// lifecycle rule for ttl.
func New(ctx context.Context, endpoint, region, bucket, accessKey, secretKey string, useSSL bool, ttl time.Duration) (*Store, error) {
	cli, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, err
	}

	// pastikan bucket ada
	exists, err := cli.BucketExists(ctx, bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := cli.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}); err != nil {
			return nil, err
		}
	}

	if err := cli.SetBucketLifecycle(ctx, bucket, lifecycleConfig(ttl)); err != nil {
		return nil, fmt.Errorf("set bucket lifecycle: %w", err)
	}

	return &Store{client: cli, bucketName: bucket, region: region, ttl: ttl, now: time.Now}, nil
}

// lifecycleConfig expires result objects after ttl, rounded up to whole days.
func lifecycleConfig(ttl time.Duration) *lifecycle.Configuration {
	days := int((ttl + 24*time.Hour - 1) / (24 * time.Hour))
	if days < 1 {
		days = 1
	}
	cfg := lifecycle.NewConfiguration()
	cfg.Rules = []lifecycle.Rule{{
		ID:         lifecycleRuleID,
		Status:     "Enabled",
		RuleFilter: lifecycle.Filter{Prefix: resultPrefix},
		Expiration: lifecycle.Expiration{Days: lifecycle.ExpirationDays(days)},
	}}
	return cfg
}

func objectKey(id string) string {
	return resultPrefix + id + ".json"
}

// Put implementasi results.Repository
func (s *Store) Put(ctx context.Context, id string, rec *results.Record, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	_, err = s.client.PutObject(ctx, s.bucketName, objectKey(id), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
		Expires:     rec.ExpiresAt(ttl),
	})
	if err != nil {
		return fmt.Errorf("minio put %s: %w", objectKey(id), err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*results.Record, error) {
	obj, err := s.client.GetObject(ctx, s.bucketName, objectKey(id), minio.GetObjectOptions{})
	if err != nil {
		return nil, s.mapErr(id, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.mapErr(id, err)
	}
	var rec results.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode %s: %w", objectKey(id), err)
	}
	if rec.Expired(s.now(), s.ttl) {
		return nil, results.ErrNotFound
	}
	return &rec, nil
}

// Check implements the health checker.
func (s *Store) Check(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucketName)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("bucket %s missing", s.bucketName)
	}
	return nil
}

func (s *Store) mapErr(id string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return results.ErrNotFound
	}
	return fmt.Errorf("minio get %s: %w", objectKey(id), err)
}

var _ results.Repository = (*Store)(nil)
