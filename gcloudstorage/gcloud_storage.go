package gcloudstorage

import (
	"context"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
)

// WriteObject stores data under name in bucket.
type WriteObject func(ctx context.Context, bucket, name string, data []byte) error

// ReadObject returns the content of an object. It returns an error
// wrapping storage.ErrObjectNotExist for a missing object.
type ReadObject func(ctx context.Context, bucket, name string) ([]byte, error)

// GCloudStorage wraps a Cloud Storage client. Object access goes through
// function fields so that tests can replace it.
type GCloudStorage struct {
	Client      *storage.Client
	WriteObject WriteObject
	ReadObject  ReadObject
}

// NewGCloudStorage returns a Cloud Storage client configured with opts.
func NewGCloudStorage(ctx context.Context, opts ...option.ClientOption) (*GCloudStorage, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage.NewClient: %v", err)
	}

	s := &GCloudStorage{Client: client}
	s.WriteObject = s.writeObject
	s.ReadObject = s.readObject
	return s, nil
}

// CredentialsOption returns the client option authenticating with the
// service account key in file. Application default credentials are used
// when file is empty.
func CredentialsOption(ctx context.Context, file string) ([]option.ClientOption, error) {
	if file == "" {
		return nil, nil
	}

	jsonKey, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("os.ReadFile: %v", err)
	}
	conf, err := google.JWTConfigFromJSON(jsonKey, storage.ScopeReadWrite)
	if err != nil {
		return nil, fmt.Errorf("google.JWTConfigFromJSON: %v", err)
	}
	return []option.ClientOption{option.WithTokenSource(conf.TokenSource(ctx))}, nil
}

// Close closes the underlying client.
func (s *GCloudStorage) Close() error {
	if s.Client == nil {
		return nil
	}
	return s.Client.Close()
}

func (s *GCloudStorage) writeObject(ctx context.Context, bucket, name string, data []byte) error {
	w := s.Client.Bucket(bucket).Object(name).NewWriter(ctx)
	w.ContentType = "application/dicom"
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("Writer.Write: %v", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("Writer.Close: %v", err)
	}
	return nil
}

func (s *GCloudStorage) readObject(ctx context.Context, bucket, name string) ([]byte, error) {
	r, err := s.Client.Bucket(bucket).Object(name).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("Object.NewReader: %w", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("io.ReadAll: %v", err)
	}
	return data, nil
}
