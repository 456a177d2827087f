package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStore_Put(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStore(filepath.Join(dir, "uploads"), "/uploads/")
	require.NoError(t, err)

	url, err := s.Put(context.Background(), Object{Name: "Brief.PDF", Body: strings.NewReader("%PDF")})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "/uploads/"), url)
	assert.True(t, strings.HasSuffix(url, ".pdf"), url)

	b, err := os.ReadFile(filepath.Join(s.Dir(), strings.TrimPrefix(url, "/uploads/")))
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(b))

	// same name twice never collides
	url2, err := s.Put(context.Background(), Object{Name: "Brief.PDF", Body: strings.NewReader("x")})
	require.NoError(t, err)
	assert.NotEqual(t, url, url2)
}

func TestLocalStore_CanceledContext(t *testing.T) {
	s, err := NewLocalStore(t.TempDir(), "/uploads")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Put(ctx, Object{Name: "a.txt", Body: strings.NewReader("a")})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLocalStore_Delete(t *testing.T) {
	s, err := NewLocalStore(t.TempDir(), "/uploads")
	require.NoError(t, err)

	url, err := s.Put(context.Background(), Object{Name: "a.txt", Body: strings.NewReader("a")})
	require.NoError(t, err)
	require.NoError(t, s.Delete(context.Background(), url))

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)

	assert.ErrorIs(t, s.Delete(context.Background(), "https://elsewhere.example/a.txt"), ErrForeignURL)
	assert.ErrorIs(t, s.Delete(context.Background(), "/uploads/../secrets"), ErrForeignURL)
	assert.Error(t, s.Delete(context.Background(), url), "already removed")
}

func TestObjectName(t *testing.T) {
	assert.True(t, strings.HasSuffix(objectName("photo.JPG"), ".jpg"))
	assert.False(t, strings.Contains(objectName("../../etc/passwd"), "/"))
	assert.Len(t, objectName("noext"), 36)
}

type fakePutter struct {
	in      *s3.PutObjectInput
	body    string
	deleted []string
	err     error
}

func (f *fakePutter) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, f.err
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.in = in
	b, _ := io.ReadAll(in.Body)
	f.body = string(b)
	return &s3.PutObjectOutput{}, f.err
}

func TestS3Store_Put(t *testing.T) {
	fp := &fakePutter{}
	s := newS3Store(fp, S3Options{Bucket: "chat-files", Prefix: "/chat/", PublicURL: "https://cdn.example.com/"})

	url, err := s.Put(context.Background(), Object{Name: "cv.docx", ContentType: "application/msword", Size: 3, Body: strings.NewReader("doc")})
	require.NoError(t, err)

	key := aws.ToString(fp.in.Key)
	assert.True(t, strings.HasPrefix(key, "chat/"), key)
	assert.Equal(t, "chat-files", aws.ToString(fp.in.Bucket))
	assert.Equal(t, "application/msword", aws.ToString(fp.in.ContentType))
	assert.Equal(t, "doc", fp.body)
	assert.Equal(t, "https://cdn.example.com/"+key, url)
}

func TestS3Store_PutError(t *testing.T) {
	fp := &fakePutter{err: errors.New("access denied")}
	s := newS3Store(fp, S3Options{Bucket: "b"})

	_, err := s.Put(context.Background(), Object{Name: "a.txt", Body: strings.NewReader("a")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
	assert.Equal(t, "https://b.s3.amazonaws.com", s.publicURL)
}

func TestS3Store_Delete(t *testing.T) {
	fp := &fakePutter{}
	s := newS3Store(fp, S3Options{Bucket: "chat-files", Prefix: "chat", PublicURL: "https://cdn.example.com"})

	url, err := s.Put(context.Background(), Object{Name: "a.png", Body: strings.NewReader("png")})
	require.NoError(t, err)
	require.NoError(t, s.Delete(context.Background(), url))
	assert.Equal(t, []string{aws.ToString(fp.in.Key)}, fp.deleted)

	assert.ErrorIs(t, s.Delete(context.Background(), "https://other.example/chat/x.png"), ErrForeignURL)
}
