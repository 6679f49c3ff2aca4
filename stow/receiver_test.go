package stow_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dicomweb "gitlab.com/medical-research/dicomweb"
	"gitlab.com/medical-research/dicomweb/dicom"
	"gitlab.com/medical-research/dicomweb/internal/dicomtest"
	"gitlab.com/medical-research/dicomweb/store"
	"gitlab.com/medical-research/dicomweb/stow"
)

func part(t *testing.T, study, sop string) dicomweb.Part {
	return dicomweb.Part{
		ContentType: "application/dicom",
		Data:        dicomtest.Instance(t, dicomtest.UIDs{Patient: "P1", Study: study, Series: study + ".1", SOP: sop}),
	}
}

func TestReceiver_StoreInstances(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	r := stow.NewReceiver(s)

	res, err := r.StoreInstances(ctx, &dicomweb.StowServerRequest{
		Parts: []dicomweb.Part{
			part(t, "1.2.3", "1.2.3.1.1"),
			{ContentType: "application/dicom", Data: []byte("garbage")},
			part(t, "9.9.9", "9.9.9.1.1"),
			part(t, "1.2.3", "1.2.3.1.2"),
		},
		ExpectedStudy: "1.2.3",
		BaseURL:       "http://local/dicom-web/",
	})
	require.NoError(t, err)

	assert.Equal(t, "http://local/dicom-web/studies/1.2.3", res.RetrieveURL)
	require.Len(t, res.Success, 3)
	require.Len(t, res.Failed, 1)

	assert.Equal(t, "http://local/dicom-web/studies/1.2.3/series/1.2.3.1/instances/1.2.3.1.1", res.Success[0].RetrieveURL)
	assert.Equal(t, dicomtest.SecondaryCaptureImageStorage, res.Success[0].SOPClassUID)
	assert.Equal(t, "B006", res.Success[1].Code())
	assert.Equal(t, "9.9.9.1.1", res.Success[1].SOPInstanceUID)
	assert.Empty(t, res.Success[1].RetrieveURL)
	assert.Equal(t, "1.2.3.1.2", res.Success[2].SOPInstanceUID)
	assert.Equal(t, "C000", res.Failed[0].Code())

	// Discarded instances are not stored.
	ok, err := s.ResourceExists(ctx, dicomweb.LevelStudy, dicom.ResourceID("9.9.9"))
	require.NoError(t, err)
	assert.False(t, ok)
	records, err := s.ListInstances(ctx, dicomweb.LevelStudy, dicom.ResourceID("1.2.3"))
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestReceiver_NoStudyRestriction(t *testing.T) {
	res, err := stow.NewReceiver(store.NewMemory()).StoreInstances(context.Background(), &dicomweb.StowServerRequest{
		Parts: []dicomweb.Part{part(t, "1.2.3", "1.2.3.1.1"), part(t, "4.5.6", "4.5.6.1.1")},
	})
	require.NoError(t, err)
	assert.Len(t, res.Success, 2)
	assert.Empty(t, res.Failed)
	assert.Equal(t, "studies/1.2.3", res.RetrieveURL)
}

func TestReceiver_EmptyRequest(t *testing.T) {
	res, err := stow.NewReceiver(store.NewMemory()).StoreInstances(context.Background(), &dicomweb.StowServerRequest{})
	require.NoError(t, err)
	assert.Empty(t, res.RetrieveURL)
	assert.Empty(t, res.Success)
	assert.Empty(t, res.Failed)
}

func TestReceiver_UnsupportedPart(t *testing.T) {
	s := store.NewMemory()
	_, err := stow.NewReceiver(s).StoreInstances(context.Background(), &dicomweb.StowServerRequest{
		Parts: []dicomweb.Part{part(t, "1.2.3", "1.2.3.1.1"), {ContentType: "image/jpeg", Data: []byte{0xff}}},
	})
	assert.Equal(t, dicomweb.EUNSUPPORTED, dicomweb.ErrorCode(err))

	// Validation happens before anything is stored.
	ok, err := s.ResourceExists(context.Background(), dicomweb.LevelStudy, dicom.ResourceID("1.2.3"))
	require.NoError(t, err)
	assert.False(t, ok)
}

type brokenBlobs struct{}

func (brokenBlobs) PutBlob(ctx context.Context, key string, data []byte) error {
	return errors.New("disk full")
}

func (brokenBlobs) GetBlob(ctx context.Context, key string) ([]byte, error) {
	return nil, errors.New("disk full")
}

func TestReceiver_StoreFailure(t *testing.T) {
	s := store.New(brokenBlobs{}, store.NewMemoryIndex())
	res, err := stow.NewReceiver(s).StoreInstances(context.Background(), &dicomweb.StowServerRequest{
		Parts: []dicomweb.Part{part(t, "1.2.3", "1.2.3.1.1")},
	})
	require.NoError(t, err)
	assert.Empty(t, res.Success)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "0110", res.Failed[0].Code())
	assert.Equal(t, "1.2.3.1.1", res.Failed[0].SOPInstanceUID)
	assert.Empty(t, res.RetrieveURL)
}
