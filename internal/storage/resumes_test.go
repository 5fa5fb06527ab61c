package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/url"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObjects struct {
	buckets map[string]bool
	objects map[string][]byte
	types   map[string]string
	putErr  error
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{buckets: map[string]bool{}, objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeObjects) BucketExists(_ context.Context, bucket string) (bool, error) {
	return f.buckets[bucket], nil
}

func (f *fakeObjects) MakeBucket(_ context.Context, bucket string, _ minio.MakeBucketOptions) error {
	f.buckets[bucket] = true
	return nil
}

func (f *fakeObjects) PutObject(_ context.Context, bucket, key string, reader io.Reader, _ int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.putErr != nil {
		return minio.UploadInfo{}, f.putErr
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.objects[bucket+"/"+key] = data
	f.types[bucket+"/"+key] = opts.ContentType
	return minio.UploadInfo{Bucket: bucket, Key: key, Size: int64(len(data))}, nil
}

func (f *fakeObjects) PresignedGetObject(_ context.Context, bucket, key string, _ time.Duration, _ url.Values) (*url.URL, error) {
	return &url.URL{Scheme: "https", Host: "objects.test", Path: "/" + bucket + "/" + key}, nil
}

func (f *fakeObjects) RemoveObject(_ context.Context, bucket, key string, _ minio.RemoveObjectOptions) error {
	delete(f.objects, bucket+"/"+key)
	return nil
}

func TestValidateResume(t *testing.T) {
	cases := []struct {
		name     string
		filename string
		size     int64
		wantType string
		wantErr  error
	}{
		{name: "pdf", filename: "cv.PDF", size: 1024, wantType: "application/pdf"},
		{name: "docx", filename: "cv.docx", size: 10, wantType: "application/vnd.openxmlformats-officedocument.wordprocessingml.document"},
		{name: "doc", filename: "old.doc", size: 10, wantType: "application/msword"},
		{name: "exe rejected", filename: "cv.exe", size: 10, wantErr: ErrUnsupportedType},
		{name: "no extension", filename: "resume", size: 10, wantErr: ErrUnsupportedType},
		{name: "empty", filename: "cv.pdf", size: 0, wantErr: ErrEmpty},
		{name: "too large", filename: "cv.pdf", size: MaxResumeBytes + 1, wantErr: ErrTooLarge},
		{name: "at limit", filename: "cv.pdf", size: MaxResumeBytes, wantType: "application/pdf"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ValidateResume(tc.filename, tc.size)
			if tc.wantErr != nil {
				assert.True(t, errors.Is(err, tc.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantType, got)
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"My CV (final).pdf":        "My_CV_final.pdf",
		"../../etc/passwd":         "passwd",
		`C:\Users\casey\cv.docx`:   "cv.docx",
		"résumé.pdf":               "rsum.pdf",
		"...":                      "resume",
		"":                         "resume",
		"jane-doe_2026.v2.pdf":     "jane-doe_2026.v2.pdf",
	}
	for in, want := range cases {
		assert.Equal(t, want, SanitizeFilename(in), "input %q", in)
	}
	assert.Equal(t, "resumes/ref_1/My_CV.pdf", ResumeKey("ref_1", "My CV.pdf"))
}

func TestResumesLifecycle(t *testing.T) {
	ctx := context.Background()
	objects := newFakeObjects()
	r := &Resumes{client: objects, bucket: "refery-resumes"}

	require.NoError(t, r.EnsureBucket(ctx))
	require.NoError(t, r.EnsureBucket(ctx))
	assert.True(t, objects.buckets["refery-resumes"])

	body := []byte("%PDF-1.7 fake")
	key, err := r.PutResume(ctx, "ref_1", "Casey Resume.pdf", bytes.NewReader(body), int64(len(body)))
	require.NoError(t, err)
	assert.Equal(t, "resumes/ref_1/Casey_Resume.pdf", key)
	assert.Equal(t, body, objects.objects["refery-resumes/"+key])
	assert.Equal(t, "application/pdf", objects.types["refery-resumes/"+key])

	link, err := r.PresignResume(ctx, key, 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "https://objects.test/refery-resumes/resumes/ref_1/Casey_Resume.pdf", link)

	require.NoError(t, r.DeleteResume(ctx, key))
	assert.Empty(t, objects.objects)

	_, err = r.PutResume(ctx, "ref_1", "virus.exe", bytes.NewReader(body), int64(len(body)))
	assert.ErrorIs(t, err, ErrUnsupportedType)

	objects.putErr = errors.New("disk full")
	_, err = r.PutResume(ctx, "ref_1", "cv.pdf", bytes.NewReader(body), int64(len(body)))
	require.Error(t, err)
}
