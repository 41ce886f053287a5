package archive

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"siteeditor/api/internal/store"
)

// objectClient is the subset of *minio.Client the mirror uses.
type objectClient interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

// ObjectMirror copies snapshots into an S3-compatible bucket under
// subjects/<subject>/ and applies the same retention cap as the database.
type ObjectMirror struct {
	client objectClient
	bucket string
	keep   int
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// NewObjectMirror connects to MinIO and creates the bucket if it is missing.
func NewObjectMirror(ctx context.Context, cfg MinIOConfig, keep int) (*ObjectMirror, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	mirror := newObjectMirror(client, cfg.Bucket, keep)
	if err := mirror.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return mirror, nil
}

func newObjectMirror(client objectClient, bucket string, keep int) *ObjectMirror {
	if keep <= 0 {
		keep = DefaultMaxSnapshots
	}
	return &ObjectMirror{client: client, bucket: bucket, keep: keep}
}

func (m *ObjectMirror) ensureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", m.bucket, err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", m.bucket, err)
	}
	return nil
}

func subjectPrefix(subjectID string) string {
	return "subjects/" + subjectID + "/"
}

// objectKey sorts lexically in snapshot order.
func objectKey(snap store.VersionSnapshot) string {
	return fmt.Sprintf("%s%012d-v%d.html", subjectPrefix(snap.SubjectID), snap.ID, snap.Version)
}

func (m *ObjectMirror) Put(ctx context.Context, snap store.VersionSnapshot) error {
	_, err := m.client.PutObject(ctx, m.bucket, objectKey(snap), strings.NewReader(snap.Content), int64(len(snap.Content)), minio.PutObjectOptions{
		ContentType: "text/html; charset=utf-8",
		UserMetadata: map[string]string{
			"source":  snap.Source,
			"version": strconv.FormatInt(snap.Version, 10),
		},
	})
	if err != nil {
		return fmt.Errorf("put snapshot object: %w", err)
	}
	return m.prune(ctx, snap.SubjectID)
}

func (m *ObjectMirror) prune(ctx context.Context, subjectID string) error {
	var keys []string
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: subjectPrefix(subjectID), Recursive: true}) {
		if obj.Err != nil {
			return fmt.Errorf("list snapshot objects: %w", obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	if len(keys) <= m.keep {
		return nil
	}
	sort.Strings(keys)
	for _, key := range keys[:len(keys)-m.keep] {
		if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("remove snapshot object %s: %w", key, err)
		}
	}
	return nil
}
