// Package dicom extracts the identifying attributes of DICOM instances.
package dicom

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	dicomweb "gitlab.com/medical-research/dicomweb"
)

// Info holds the identifying attributes of one DICOM instance.
type Info struct {
	PatientID         string
	StudyInstanceUID  string
	SeriesInstanceUID string
	SOPInstanceUID    string
	SOPClassUID       string
}

// ParseInstance reads the identifying attributes of a Part 10 DICOM file.
// Pixel data is skipped. Returns EINVALID if data is not DICOM or carries
// no SOPInstanceUID.
func ParseInstance(data []byte) (info *Info, err error) {
	defer func() {
		if r := recover(); r != nil {
			info, err = nil, dicomweb.Errorf(dicomweb.EINVALID, "cannot parse DICOM instance: %v", r)
		}
	}()

	ds, err := dicom.Parse(bytes.NewReader(data), int64(len(data)), nil, dicom.SkipPixelData())
	if err != nil {
		return nil, dicomweb.Errorf(dicomweb.EINVALID, "cannot parse DICOM instance: %v", err)
	}

	info = &Info{
		PatientID:         stringValue(&ds, tag.PatientID),
		StudyInstanceUID:  stringValue(&ds, tag.StudyInstanceUID),
		SeriesInstanceUID: stringValue(&ds, tag.SeriesInstanceUID),
		SOPInstanceUID:    stringValue(&ds, tag.SOPInstanceUID),
		SOPClassUID:       stringValue(&ds, tag.SOPClassUID),
	}
	if info.SOPInstanceUID == "" {
		return nil, dicomweb.Errorf(dicomweb.EINVALID, "not a DICOM instance: missing SOPInstanceUID")
	}
	return info, nil
}

// Record converts the attributes into an index record.
func (i *Info) Record() *dicomweb.InstanceRecord {
	return &dicomweb.InstanceRecord{
		ID:                ResourceID(i.SOPInstanceUID),
		PatientID:         i.PatientID,
		StudyInstanceUID:  i.StudyInstanceUID,
		SeriesInstanceUID: i.SeriesInstanceUID,
		SOPInstanceUID:    i.SOPInstanceUID,
		SOPClassUID:       i.SOPClassUID,
	}
}

// ResourceID derives the store id of a resource from its identifying DICOM
// value: PatientID, StudyInstanceUID, SeriesInstanceUID or SOPInstanceUID.
// The id is a SHA-1 digest written as five dash-separated groups of eight
// hex digits.
func ResourceID(uid string) string {
	sum := sha1.Sum([]byte(uid))
	h := hex.EncodeToString(sum[:])
	return fmt.Sprintf("%s-%s-%s-%s-%s", h[0:8], h[8:16], h[16:24], h[24:32], h[32:40])
}

// IDs returns the store ids of the patient, study, series and instance an
// instance belongs to.
func IDs(r *dicomweb.InstanceRecord) map[dicomweb.ResourceLevel]string {
	return map[dicomweb.ResourceLevel]string{
		dicomweb.LevelPatient:  ResourceID(r.PatientID),
		dicomweb.LevelStudy:    ResourceID(r.StudyInstanceUID),
		dicomweb.LevelSeries:   ResourceID(r.SeriesInstanceUID),
		dicomweb.LevelInstance: r.ID,
	}
}

func stringValue(ds *dicom.Dataset, t tag.Tag) string {
	e, err := ds.FindElementByTag(t)
	if err != nil || e.Value == nil {
		return ""
	}
	values, ok := e.Value.GetValue().([]string)
	if !ok || len(values) == 0 {
		return ""
	}
	// UI values are padded with NUL, text values with spaces.
	return strings.TrimRight(values[0], "\x00 ")
}
