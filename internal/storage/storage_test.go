package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"rdreport/internal/config"
)

func setupTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestLocal(t *testing.T) *LocalStorage {
	t.Helper()
	s, err := NewLocalStorage(LocalConfig{BasePath: t.TempDir()}, setupTestLogger())
	require.NoError(t, err)
	return s
}

func readAll(t *testing.T, rc io.ReadCloser) string {
	t.Helper()
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func TestLocalStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestLocal(t)

	require.NoError(t, s.Save(ctx, "projects/alpha.rdrproj", strings.NewReader("one")))
	require.NoError(t, s.Save(ctx, "projects/beta.rdrproj", strings.NewReader("two")))
	require.NoError(t, s.Save(ctx, "archive/x.pdf", strings.NewReader("pdf")))

	rc, err := s.Get(ctx, "projects/alpha.rdrproj")
	require.NoError(t, err)
	assert.Equal(t, "one", readAll(t, rc))

	// overwrite replaces the content
	require.NoError(t, s.Save(ctx, "projects/alpha.rdrproj", strings.NewReader("uno")))
	rc, err = s.Get(ctx, "projects/alpha.rdrproj")
	require.NoError(t, err)
	assert.Equal(t, "uno", readAll(t, rc))

	files, err := s.List(ctx, "projects/")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "projects/alpha.rdrproj", files[0].Key)
	assert.Equal(t, "projects/beta.rdrproj", files[1].Key)
	assert.Equal(t, int64(3), files[1].Size)

	ok, err := s.Exists(ctx, "archive/x.pdf")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Delete(ctx, "archive/x.pdf"))
	ok, err = s.Exists(ctx, "archive/x.pdf")
	require.NoError(t, err)
	assert.False(t, ok)

	// deleting twice is fine
	assert.NoError(t, s.Delete(ctx, "archive/x.pdf"))
}

func TestLocalStorageMissing(t *testing.T) {
	ctx := context.Background()
	s := newTestLocal(t)

	_, err := s.Get(ctx, "projects/none.rdrproj")
	assert.ErrorIs(t, err, ErrNotFound)

	files, err := s.List(ctx, "projects/")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestLocalStorageValidateKey(t *testing.T) {
	s := newTestLocal(t)
	assert.NoError(t, s.ValidateKey("projects/a.rdrproj"))
	assert.Error(t, s.ValidateKey(""))
	assert.Error(t, s.ValidateKey("../escape"))
	assert.Error(t, s.ValidateKey("projects/../../escape"))
	assert.Error(t, s.ValidateKey("/abs/path"))
	assert.Error(t, s.ValidateKey(strings.Repeat("k", maxKeyLength+1)))
}

func TestNewLocalStorageRejectsRelativePath(t *testing.T) {
	_, err := NewLocalStorage(LocalConfig{BasePath: "relative/dir"}, setupTestLogger())
	assert.Error(t, err)
}

func TestBuilder(t *testing.T) {
	logger := setupTestLogger()

	s, err := NewStorageBuilder(config.Storage{Type: StorageTypeLocal, BasePath: t.TempDir()}, logger).Build()
	require.NoError(t, err)
	_, ok := s.(*ValidationMiddleware)
	assert.True(t, ok, "builder wraps storage with validation")

	err = s.Save(context.Background(), "../outside", strings.NewReader("x"))
	assert.Error(t, err)

	_, err = NewStorageBuilder(config.Storage{Type: "ftp"}, logger).Build()
	assert.Error(t, err)

	_, err = NewStorageBuilder(config.Storage{Type: StorageTypeS3}, logger).Build()
	assert.Error(t, err, "bucket and region are required")
}

// MockStorage is a mock implementation of the Storage interface
type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) Save(ctx context.Context, key string, reader io.Reader) error {
	args := m.Called(ctx, key, reader)
	return args.Error(0)
}

func (m *MockStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	args := m.Called(ctx, key)
	rc, _ := args.Get(0).(io.ReadCloser)
	return rc, args.Error(1)
}

func (m *MockStorage) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockStorage) Exists(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *MockStorage) List(ctx context.Context, prefix string) ([]FileInfo, error) {
	args := m.Called(ctx, prefix)
	files, _ := args.Get(0).([]FileInfo)
	return files, args.Error(1)
}

func (m *MockStorage) GetURL(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

func (m *MockStorage) JoinPath(elem ...string) string {
	return strings.Join(elem, "/")
}

func (m *MockStorage) ValidateKey(key string) error {
	return validateKey(key)
}

func TestRetryMiddlewareRewindsReader(t *testing.T) {
	inner := new(MockStorage)
	var seen []string
	inner.On("Save", mock.Anything, "k", mock.Anything).
		Run(func(args mock.Arguments) {
			data, _ := io.ReadAll(args.Get(2).(io.Reader))
			seen = append(seen, string(data))
		}).
		Return(errors.New("connection reset")).Once()
	inner.On("Save", mock.Anything, "k", mock.Anything).
		Run(func(args mock.Arguments) {
			data, _ := io.ReadAll(args.Get(2).(io.Reader))
			seen = append(seen, string(data))
		}).
		Return(nil).Once()

	s := NewRetryMiddleware(inner, 2, time.Millisecond, setupTestLogger())
	require.NoError(t, s.Save(context.Background(), "k", bytes.NewReader([]byte("payload"))))
	assert.Equal(t, []string{"payload", "payload"}, seen)
	inner.AssertExpectations(t)
}

func TestRetryMiddlewareDoesNotRetry(t *testing.T) {
	t.Run("non-seekable reader", func(t *testing.T) {
		inner := new(MockStorage)
		inner.On("Save", mock.Anything, "k", mock.Anything).Return(errors.New("boom")).Once()
		s := NewRetryMiddleware(inner, 3, time.Millisecond, setupTestLogger())
		assert.Error(t, s.Save(context.Background(), "k", io.MultiReader(strings.NewReader("x"))))
		inner.AssertNumberOfCalls(t, "Save", 1)
	})

	t.Run("not found", func(t *testing.T) {
		inner := new(MockStorage)
		inner.On("Get", mock.Anything, "k").Return(nil, ErrNotFound).Once()
		s := NewRetryMiddleware(inner, 3, time.Millisecond, setupTestLogger())
		_, err := s.Get(context.Background(), "k")
		assert.ErrorIs(t, err, ErrNotFound)
		inner.AssertNumberOfCalls(t, "Get", 1)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		inner := new(MockStorage)
		inner.On("Delete", mock.Anything, "k").Return(errors.New("timeout"))
		s := NewRetryMiddleware(inner, 2, time.Millisecond, setupTestLogger())
		assert.Error(t, s.Delete(context.Background(), "k"))
		inner.AssertNumberOfCalls(t, "Delete", 3)
	})
}

func TestValidationMiddleware(t *testing.T) {
	inner := new(MockStorage)
	s := NewValidationMiddleware(inner)

	assert.Error(t, s.Save(context.Background(), "", strings.NewReader("x")))
	_, err := s.Get(context.Background(), "")
	assert.Error(t, err)
	inner.AssertNotCalled(t, "Save", mock.Anything, mock.Anything, mock.Anything)
	inner.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
}

type fakeS3 struct {
	objects map[string][]byte
	pages   int
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

// ListObjectsV2 returns one object per page to exercise pagination.
func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.pages++
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	// deterministic order
	for i := range keys {
		for j := i + 1; j < len(keys); j++ {
			if keys[j] < keys[i] {
				keys[i], keys[j] = keys[j], keys[i]
			}
		}
	}
	start := 0
	if tok := aws.ToString(in.ContinuationToken); tok != "" {
		for i, k := range keys {
			if k == tok {
				start = i
			}
		}
	}
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	if start < len(keys) {
		k := keys[start]
		out.Contents = []types.Object{{Key: aws.String(k), Size: aws.Int64(int64(len(f.objects[k])))}}
		if start+1 < len(keys) {
			out.IsTruncated = aws.Bool(true)
			out.NextContinuationToken = aws.String(keys[start+1])
		}
	}
	return out, nil
}

func TestS3Storage(t *testing.T) {
	ctx := context.Background()
	fake := &fakeS3{objects: map[string][]byte{}}
	s := NewS3StorageWithClient(fake, "reports", "http://localhost:9000/", setupTestLogger())

	require.NoError(t, s.Save(ctx, "archive/a.pdf", strings.NewReader("A")))
	require.NoError(t, s.Save(ctx, "archive/b.pdf", strings.NewReader("BB")))
	require.NoError(t, s.Save(ctx, "projects/p.rdrproj", strings.NewReader("{}")))

	files, err := s.List(ctx, "archive/")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "archive/a.pdf", files[0].Key)
	assert.Equal(t, int64(2), files[1].Size)
	assert.Equal(t, 2, fake.pages)

	_, err = s.Get(ctx, "archive/none.pdf")
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err := s.Exists(ctx, "projects/p.rdrproj")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Exists(ctx, "projects/q.rdrproj")
	require.NoError(t, err)
	assert.False(t, ok)

	u, err := s.GetURL(ctx, "archive/my report.pdf")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000/reports/archive/my%20report.pdf", u)

	assert.Error(t, s.ValidateKey("/leading"))
	assert.Equal(t, "application/pdf", contentType("x.PDF"))
}
