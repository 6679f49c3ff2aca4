// Package dicomtest builds small DICOM Part 10 files for tests.
package dicomtest

import (
	"bytes"
	"testing"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

const (
	// SecondaryCaptureImageStorage is the SOP class written into test instances.
	SecondaryCaptureImageStorage = "1.2.840.10008.5.1.4.1.1.7"

	explicitVRLittleEndian = "1.2.840.10008.1.2.1"
)

// UIDs identifies a test instance.
type UIDs struct {
	Patient string
	Study   string
	Series  string
	SOP     string
}

// Instance returns the bytes of a minimal Part 10 file carrying uids.
func Instance(tb testing.TB, uids UIDs) []byte {
	tb.Helper()

	ds := dicom.Dataset{Elements: []*dicom.Element{
		mustElement(tb, tag.FileMetaInformationVersion, []byte{0x00, 0x01}),
		mustElement(tb, tag.MediaStorageSOPClassUID, []string{SecondaryCaptureImageStorage}),
		mustElement(tb, tag.MediaStorageSOPInstanceUID, []string{uids.SOP}),
		mustElement(tb, tag.TransferSyntaxUID, []string{explicitVRLittleEndian}),
		mustElement(tb, tag.SOPClassUID, []string{SecondaryCaptureImageStorage}),
		mustElement(tb, tag.SOPInstanceUID, []string{uids.SOP}),
		mustElement(tb, tag.PatientID, []string{uids.Patient}),
		mustElement(tb, tag.StudyInstanceUID, []string{uids.Study}),
		mustElement(tb, tag.SeriesInstanceUID, []string{uids.Series}),
	}}

	var buf bytes.Buffer
	if err := dicom.Write(&buf, ds); err != nil {
		tb.Fatalf("write test instance: %v", err)
	}
	return buf.Bytes()
}

func mustElement(tb testing.TB, t tag.Tag, value interface{}) *dicom.Element {
	tb.Helper()
	e, err := dicom.NewElement(t, value)
	if err != nil {
		tb.Fatalf("new element %v: %v", t, err)
	}
	return e
}
