package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/kebairia/backman/internal/archive"
	"github.com/kebairia/backman/internal/config"
)

// ErrUpload indicates the archive could not be copied to the bucket. The
// local archive is left untouched.
var ErrUpload = errors.New("cloud upload failed")

// S3Uploader copies finished archives to one S3 bucket.
type S3Uploader struct {
	uploader *s3manager.Uploader
	bucket   string
	prefix   string
}

// NewS3Uploader builds an uploader from cfg. Empty access keys fall back to
// the default AWS credential chain (env, shared config, instance role).
func NewS3Uploader(cfg config.CloudConfig) (*S3Uploader, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: bucket is required", ErrUpload)
	}

	awsCfg := &aws.Config{Region: aws.String(cfg.Region)}
	if cfg.AccessKey != "" || cfg.SecretKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}
	if cfg.Endpoint != "" {
		// S3-compatible stores (MinIO, Ceph) need path-style addressing.
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: create AWS session: %v", ErrUpload, err)
	}

	return &S3Uploader{
		uploader: s3manager.NewUploader(sess),
		bucket:   cfg.Bucket,
		prefix:   cfg.Prefix,
	}, nil
}

// Key returns the object key for an archive: <prefix><file name>.
func (u *S3Uploader) Key(a archive.Archive) string {
	return path.Join(u.prefix, filepath.Base(a.Path))
}

// Upload copies a to the bucket and returns its s3:// location.
func (u *S3Uploader) Upload(ctx context.Context, a archive.Archive) (string, error) {
	f, err := os.Open(a.Path)
	if err != nil {
		return "", fmt.Errorf("%w: open %q: %v", ErrUpload, a.Path, err)
	}
	defer f.Close()

	key := u.Key(a)
	_, err = u.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
		Body:   f,
		Metadata: map[string]*string{
			"target":      aws.String(a.Target),
			"created-at":  aws.String(a.CreatedAt.UTC().Format(archive.TimestampLayout)),
			"compression": aws.String(string(a.Format)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: put s3://%s/%s: %v", ErrUpload, u.bucket, key, err)
	}
	return fmt.Sprintf("s3://%s/%s", u.bucket, key), nil
}
