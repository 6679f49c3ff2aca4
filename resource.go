package dicomweb

import (
	"context"
	"strings"
)

// ResourceLevel is a level of the patient/study/series/instance hierarchy.
type ResourceLevel int

const (
	// LevelAny lets the resolver try every level, most specific first.
	LevelAny ResourceLevel = iota
	LevelPatient
	LevelStudy
	LevelSeries
	LevelInstance
)

// String returns the plural collection name used in store keys and logs.
func (l ResourceLevel) String() string {
	switch l {
	case LevelPatient:
		return "patients"
	case LevelStudy:
		return "studies"
	case LevelSeries:
		return "series"
	case LevelInstance:
		return "instances"
	}
	return "any"
}

// ResourceSelector names one stored resource. Level may be LevelAny when the
// caller only has an opaque identifier.
type ResourceSelector struct {
	Level ResourceLevel
	ID    string
}

// RetrieveTarget identifies the remote WADO-RS resource to fetch.
type RetrieveTarget struct {
	Study    string `json:"Study"`
	Series   string `json:"Series,omitempty"`
	Instance string `json:"Instance,omitempty"`
}

// Validate enforces the WADO-RS hierarchy: a study is mandatory and an
// instance can only be addressed inside a series.
func (t *RetrieveTarget) Validate() error {
	if t.Study == "" {
		return Errorf(EINVALID, `a non-empty "Study" field is mandatory`)
	}
	if t.Series == "" && t.Instance != "" {
		return Errorf(EINVALID, `when specifying an "Instance" field, the "Series" field is mandatory`)
	}
	return nil
}

// Path returns the DICOMweb path of the target relative to the server root.
func (t *RetrieveTarget) Path() string {
	var b strings.Builder
	b.WriteString("studies/")
	b.WriteString(t.Study)
	if t.Series != "" {
		b.WriteString("/series/")
		b.WriteString(t.Series)
		if t.Instance != "" {
			b.WriteString("/instances/")
			b.WriteString(t.Instance)
		}
	}
	return b.String()
}

// InstanceRecord is the index entry of one stored instance.
type InstanceRecord struct {
	ID                string `json:"ID"`
	PatientID         string `json:"PatientID"`
	StudyInstanceUID  string `json:"StudyInstanceUID"`
	SeriesInstanceUID string `json:"SeriesInstanceUID"`
	SOPInstanceUID    string `json:"SOPInstanceUID"`
	SOPClassUID       string `json:"SOPClassUID"`
}

// InstanceStore is the object store holding DICOM instances.
type InstanceStore interface {
	// Returns the raw DICOM bytes of an instance.
	// Returns ENOTFOUND if the instance does not exist.
	GetInstance(ctx context.Context, id string) ([]byte, error)

	// Reports whether a resource with the given id exists at the given level.
	ResourceExists(ctx context.Context, level ResourceLevel, id string) (bool, error)

	// Lists the instances contained in a resource, in storage order. At the
	// instance level the single matching record is returned.
	ListInstances(ctx context.Context, level ResourceLevel, id string) ([]*InstanceRecord, error)

	// Stores a DICOM instance and returns its store-assigned id.
	PutInstance(ctx context.Context, data []byte) (string, error)
}
