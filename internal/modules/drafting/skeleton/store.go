package skeleton

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/yungbote/bookdraft-backend/internal/platform/gcp"
	"github.com/yungbote/bookdraft-backend/internal/platform/logger"
)

var ErrSkeletonNotFound = errors.New("skeleton not found")

// MetaMismatchError is returned when a stored skeleton belongs to another
// book or version than the one requested.
type MetaMismatchError struct {
	WantBook, WantVersion string
	GotBook, GotVersion   string
}

func (e *MetaMismatchError) Error() string {
	return fmt.Sprintf("skeleton meta mismatch: want book=%q version=%q got book=%q version=%q",
		e.WantBook, e.WantVersion, e.GotBook, e.GotVersion)
}

func SkeletonPath(bookID, versionID string) string {
	return path.Join(bookID, versionID, "skeleton.json")
}

func CanonicalPath(bookID, versionID string) string {
	return path.Join(bookID, versionID, "canonical.json")
}

type Store struct {
	log    *logger.Logger
	blobs  gcp.JSONStore
	bucket string
}

func NewStore(log *logger.Logger, blobs gcp.JSONStore, bucket string) *Store {
	return &Store{log: log.With("service", "SkeletonStore"), blobs: blobs, bucket: bucket}
}

func (s *Store) Load(ctx context.Context, bookID, versionID string) (*Skeleton, error) {
	var sk Skeleton
	if err := s.blobs.DownloadJSON(ctx, s.bucket, SkeletonPath(bookID, versionID), &sk); err != nil {
		if errors.Is(err, gcp.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: book=%s version=%s", ErrSkeletonNotFound, bookID, versionID)
		}
		return nil, fmt.Errorf("load skeleton: %w", err)
	}
	if sk.Meta.BookID != bookID || sk.Meta.VersionID != versionID {
		return nil, &MetaMismatchError{
			WantBook: bookID, WantVersion: versionID,
			GotBook: sk.Meta.BookID, GotVersion: sk.Meta.VersionID,
		}
	}
	return &sk, nil
}

func (s *Store) Save(ctx context.Context, sk *Skeleton) error {
	if sk.Meta.SchemaVersion == 0 {
		sk.Meta.SchemaVersion = SchemaVersion
	}
	key := SkeletonPath(sk.Meta.BookID, sk.Meta.VersionID)
	if err := s.blobs.UploadJSON(ctx, s.bucket, key, sk, true); err != nil {
		return fmt.Errorf("save skeleton: %w", err)
	}
	return nil
}

// SaveCanonical recompiles the whole version and overwrites canonical.json.
func (s *Store) SaveCanonical(ctx context.Context, sk *Skeleton) (string, error) {
	key := CanonicalPath(sk.Meta.BookID, sk.Meta.VersionID)
	doc := Compile(sk)
	if err := s.blobs.UploadJSON(ctx, s.bucket, key, doc, true); err != nil {
		return "", fmt.Errorf("save canonical: %w", err)
	}
	s.log.Debug("Canonical compiled", "book_id", sk.Meta.BookID, "version_id", sk.Meta.VersionID, "chapters", len(doc.Chapters))
	return key, nil
}
