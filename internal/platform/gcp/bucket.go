package gcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/yungbote/bookdraft-backend/internal/platform/logger"
)

var (
	// ErrObjectNotFound is returned by DownloadJSON when the key does not exist.
	ErrObjectNotFound = errors.New("object not found")
	// ErrObjectExists is returned by UploadJSON(upsert=false) when the key is taken.
	ErrObjectExists = errors.New("object already exists")
)

// JSONStore is the blob contract the drafting engine persists through.
type JSONStore interface {
	DownloadJSON(ctx context.Context, bucket, key string, out any) error
	UploadJSON(ctx context.Context, bucket, key string, v any, upsert bool) error
}

type BucketService struct {
	log           *logger.Logger
	storageClient *storage.Client
	storageMode   ObjectStorageMode
	bucket        string
	writeTimeout  time.Duration
	readTimeout   time.Duration
}

func NewBucketServiceWithConfig(log *logger.Logger, storageCfg ObjectStorageConfig) (*BucketService, error) {
	if err := ValidateObjectStorageConfig(storageCfg); err != nil {
		return nil, fmt.Errorf("validate object storage config: %w", err)
	}
	serviceLog := log.With("service", "BucketService")

	stClient, err := newStorageClientForMode(context.Background(), storageCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	serviceLog.Info(
		"Object storage initialized",
		"mode", storageCfg.Mode,
		"mode_source", storageCfg.ModeSource(),
		"emulator_host", storageCfg.EmulatorHost,
		"bucket", storageCfg.Bucket,
	)

	return &BucketService{
		log:           serviceLog,
		storageClient: stClient,
		storageMode:   storageCfg.Mode,
		bucket:        storageCfg.Bucket,
		writeTimeout:  2 * time.Minute,
		readTimeout:   time.Minute,
	}, nil
}

func newStorageClientForMode(ctx context.Context, storageCfg ObjectStorageConfig) (*storage.Client, error) {
	switch storageCfg.Mode {
	case ObjectStorageModeGCS:
		opts := ClientOptionsFromEnv()
		opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
		return storage.NewClient(ctx, opts...)
	case ObjectStorageModeGCSEmulator:
		endpoint := strings.TrimRight(strings.TrimSpace(storageCfg.EmulatorHost), "/")
		_ = os.Setenv("STORAGE_EMULATOR_HOST", endpoint)
		return storage.NewClient(ctx, option.WithoutAuthentication())
	default:
		return nil, &ObjectStorageConfigError{Code: ObjectStorageConfigErrorInvalidMode, Mode: string(storageCfg.Mode)}
	}
}

func (bs *BucketService) bucketName(bucket string) string {
	if b := strings.TrimSpace(bucket); b != "" {
		return b
	}
	return bs.bucket
}

func (bs *BucketService) DownloadJSON(ctx context.Context, bucket, key string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, bs.readTimeout)
	defer cancel()

	name := bs.bucketName(bucket)
	r, err := bs.storageClient.Bucket(name).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("gs://%s/%s: %w", name, key, ErrObjectNotFound)
		}
		return fmt.Errorf("open gs://%s/%s: %w", name, key, err)
	}
	defer r.Close()

	raw, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read gs://%s/%s: %w", name, key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode gs://%s/%s: %w", name, key, err)
	}
	return nil
}

func (bs *BucketService) UploadJSON(ctx context.Context, bucket, key string, v any, upsert bool) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	ctx, cancel := context.WithTimeout(ctx, bs.writeTimeout)
	defer cancel()

	name := bs.bucketName(bucket)
	obj := bs.storageClient.Bucket(name).Object(key)
	if !upsert {
		obj = obj.If(storage.Conditions{DoesNotExist: true})
	}
	w := obj.NewWriter(ctx)
	w.ContentType = contentTypeForKey(key)
	if _, err := io.Copy(w, bytes.NewReader(raw)); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write data to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		var gErr *googleapi.Error
		if errors.As(err, &gErr) && gErr.Code == 412 {
			return fmt.Errorf("gs://%s/%s: %w", name, key, ErrObjectExists)
		}
		return fmt.Errorf("failed to close GCS writer: %w", err)
	}
	bs.log.Debug("Uploaded JSON object", "bucket", name, "key", key, "bytes", len(raw), "upsert", upsert)
	return nil
}

func contentTypeForKey(key string) string {
	s := strings.ToLower(strings.TrimSpace(key))
	switch {
	case strings.HasSuffix(s, ".json"):
		return "application/json"
	case strings.HasSuffix(s, ".png"):
		return "image/png"
	default:
		return "application/octet-stream"
	}
}
