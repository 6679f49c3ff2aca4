// Package store implements dicomweb.InstanceStore on top of a blob store
// holding the raw DICOM bytes and an index holding the hierarchy.
package store

import (
	"context"
	"errors"

	dicomweb "gitlab.com/medical-research/dicomweb"
	"gitlab.com/medical-research/dicomweb/dicom"
	"gitlab.com/medical-research/dicomweb/logger"
)

// Ensure service implements interface.
var _ dicomweb.InstanceStore = (*Store)(nil)

// BlobStore persists raw instance bytes by key.
type BlobStore interface {
	PutBlob(ctx context.Context, key string, data []byte) error

	// Returns ENOTFOUND if no blob is stored under key.
	GetBlob(ctx context.Context, key string) ([]byte, error)
}

// Index maps patients, studies and series to the instances they contain.
type Index interface {
	// Indexes an instance under every level. Indexing an instance twice is a no-op.
	AddInstance(ctx context.Context, rec *dicomweb.InstanceRecord) error

	Exists(ctx context.Context, level dicomweb.ResourceLevel, id string) (bool, error)

	// Returns the instances below a resource in insertion order.
	Instances(ctx context.Context, level dicomweb.ResourceLevel, id string) ([]*dicomweb.InstanceRecord, error)
}

// Store represents the instance store of the bridge.
type Store struct {
	Blobs BlobStore
	Index Index
}

// New returns a new instance of Store.
func New(blobs BlobStore, index Index) *Store {
	return &Store{Blobs: blobs, Index: index}
}

// NewMemory returns a Store kept entirely in memory.
func NewMemory() *Store {
	return New(NewMemoryBlobs(), NewMemoryIndex())
}

// BlobKey returns the blob key of an instance.
func BlobKey(id string) string {
	return "instances/" + id + ".dcm"
}

// GetInstance returns the DICOM bytes of an instance.
func (s *Store) GetInstance(ctx context.Context, id string) ([]byte, error) {
	data, err := s.Blobs.GetBlob(ctx, BlobKey(id))
	if err != nil {
		return nil, storeError("read instance "+id, err)
	}
	return data, nil
}

// ResourceExists reports whether the index knows a resource.
func (s *Store) ResourceExists(ctx context.Context, level dicomweb.ResourceLevel, id string) (bool, error) {
	ok, err := s.Index.Exists(ctx, level, id)
	if err != nil {
		return false, storeError("lookup "+level.String()+" "+id, err)
	}
	return ok, nil
}

// ListInstances returns the instances below a resource.
func (s *Store) ListInstances(ctx context.Context, level dicomweb.ResourceLevel, id string) ([]*dicomweb.InstanceRecord, error) {
	records, err := s.Index.Instances(ctx, level, id)
	if err != nil {
		return nil, storeError("list "+level.String()+" "+id, err)
	}
	return records, nil
}

// PutInstance parses, stores and indexes a DICOM instance. Returns EINVALID
// if data is not a DICOM instance.
func (s *Store) PutInstance(ctx context.Context, data []byte) (string, error) {
	info, err := dicom.ParseInstance(data)
	if err != nil {
		return "", err
	}
	rec := info.Record()

	if err := s.Blobs.PutBlob(ctx, BlobKey(rec.ID), data); err != nil {
		return "", storeError("write instance "+rec.ID, err)
	}
	if err := s.Index.AddInstance(ctx, rec); err != nil {
		return "", storeError("index instance "+rec.ID, err)
	}

	logger.Ctx(ctx).Debug().
		Str("instance", rec.ID).
		Str("sop_instance_uid", rec.SOPInstanceUID).
		Int("size", len(data)).
		Msg("stored instance")
	return rec.ID, nil
}

// storeError keeps application errors and reports anything else as ESTORE.
func storeError(op string, err error) error {
	var e *dicomweb.Error
	if errors.As(err, &e) {
		return err
	}
	return dicomweb.Errorf(dicomweb.ESTORE, "%s: %v", op, err)
}
