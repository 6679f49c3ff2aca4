// Package gcloudstorage stores instance bytes in a Google Cloud Storage bucket.
package gcloudstorage

import (
	"context"
	"errors"

	"cloud.google.com/go/storage"

	dicomweb "gitlab.com/medical-research/dicomweb"
	"gitlab.com/medical-research/dicomweb/store"
)

// Ensure service implements interface.
var _ store.BlobStore = (*CloudStorageService)(nil)

// CloudStorageService keeps blobs as objects of a single bucket.
type CloudStorageService struct {
	GCloudStorage *GCloudStorage
	Bucket        string
}

// NewCloudStorageService returns a new instance of CloudStorageService.
func NewCloudStorageService(gcloudStorage *GCloudStorage, bucket string) *CloudStorageService {
	return &CloudStorageService{
		GCloudStorage: gcloudStorage,
		Bucket:        bucket,
	}
}

// PutBlob writes data to the object named key.
func (s *CloudStorageService) PutBlob(ctx context.Context, key string, data []byte) error {
	if err := s.GCloudStorage.WriteObject(ctx, s.Bucket, key, data); err != nil {
		return dicomweb.Errorf(dicomweb.ESTORE, "cannot write gs://%s/%s: %v", s.Bucket, key, err)
	}
	return nil
}

// GetBlob reads the object named key.
func (s *CloudStorageService) GetBlob(ctx context.Context, key string) ([]byte, error) {
	data, err := s.GCloudStorage.ReadObject(ctx, s.Bucket, key)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, dicomweb.Errorf(dicomweb.ENOTFOUND, "blob not found: gs://%s/%s", s.Bucket, key)
	} else if err != nil {
		return nil, dicomweb.Errorf(dicomweb.ESTORE, "cannot read gs://%s/%s: %v", s.Bucket, key, err)
	}
	return data, nil
}
