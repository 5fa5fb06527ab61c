// Package storage keeps candidate resumes in S3-compatible object storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MaxResumeBytes caps an uploaded resume at 5 MiB.
const MaxResumeBytes = 5 << 20

var (
	ErrUnsupportedType = errors.New("unsupported resume type")
	ErrTooLarge        = errors.New("resume too large")
	ErrEmpty           = errors.New("resume is empty")
)

var allowedTypes = map[string]string{
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

type objectClient interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type Resumes struct {
	client objectClient
	bucket string
}

func NewResumes(opts Options) (*Resumes, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &Resumes{client: client, bucket: opts.Bucket}, nil
}

func (r *Resumes) EnsureBucket(ctx context.Context) error {
	exists, err := r.client.BucketExists(ctx, r.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", r.bucket, err)
	}
	if exists {
		return nil
	}
	if err := r.client.MakeBucket(ctx, r.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", r.bucket, err)
	}
	return nil
}

// ValidateResume checks the extension and size and returns the content
// type to store. The declared content type is ignored in favor of the one
// implied by the extension.
func ValidateResume(filename string, size int64) (string, error) {
	ext := strings.ToLower(path.Ext(filename))
	contentType, ok := allowedTypes[ext]
	if !ok {
		return "", fmt.Errorf("%w: %q (allowed: pdf, doc, docx)", ErrUnsupportedType, ext)
	}
	if size <= 0 {
		return "", ErrEmpty
	}
	if size > MaxResumeBytes {
		return "", fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, size, MaxResumeBytes)
	}
	return contentType, nil
}

// SanitizeFilename keeps letters, digits, dot, dash and underscore.
func SanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "resume"
	}
	return out
}

func ResumeKey(referralID, filename string) string {
	return "resumes/" + referralID + "/" + SanitizeFilename(filename)
}

func (r *Resumes) PutResume(ctx context.Context, referralID, filename string, body io.Reader, size int64) (string, error) {
	contentType, err := ValidateResume(filename, size)
	if err != nil {
		return "", err
	}
	key := ResumeKey(referralID, filename)
	_, err = r.client.PutObject(ctx, r.bucket, key, body, size, minio.PutObjectOptions{
		ContentType:        contentType,
		ContentDisposition: fmt.Sprintf("attachment; filename=%q", SanitizeFilename(filename)),
	})
	if err != nil {
		return "", fmt.Errorf("put resume: %w", err)
	}
	return key, nil
}

func (r *Resumes) PresignResume(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := r.client.PresignedGetObject(ctx, r.bucket, key, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign resume: %w", err)
	}
	return u.String(), nil
}

func (r *Resumes) DeleteResume(ctx context.Context, key string) error {
	if err := r.client.RemoveObject(ctx, r.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete resume: %w", err)
	}
	return nil
}
