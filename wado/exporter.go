package wado

import (
	"context"

	dicomweb "gitlab.com/medical-research/dicomweb"
	"gitlab.com/medical-research/dicomweb/dicom"
	"gitlab.com/medical-research/dicomweb/logger"
	"gitlab.com/medical-research/dicomweb/multipart"
	"gitlab.com/medical-research/dicomweb/negotiate"
)

// Ensure service implements interface.
var _ dicomweb.ExportService = (*Exporter)(nil)

// Exporter serves locally stored instances addressed by their UIDs.
type Exporter struct {
	store dicomweb.InstanceStore

	// NewBoundary returns the boundary of each multipart answer.
	NewBoundary func() (string, error)
}

// NewExporter returns an exporter reading from store.
func NewExporter(store dicomweb.InstanceStore) *Exporter {
	return &Exporter{store: store, NewBoundary: multipart.NewBoundary}
}

// ExportMultipart returns every instance of the target as a
// multipart/related body, along with its Content-Type.
func (e *Exporter) ExportMultipart(ctx context.Context, target *dicomweb.RetrieveTarget) (string, []byte, error) {
	records, err := e.find(ctx, target)
	if err != nil {
		return "", nil, err
	}

	boundary, err := e.NewBoundary()
	if err != nil {
		return "", nil, err
	}

	var body []byte
	for _, rec := range records {
		data, err := e.store.GetInstance(ctx, rec.ID)
		if err != nil {
			return "", nil, err
		}
		body = multipart.AppendPart(body, dicomweb.MediaTypeDICOM, data, boundary)
	}
	body = multipart.AppendClose(body, boundary)
	exportedCount.Add(float64(len(records)))

	logger.Ctx(ctx).Debug().
		Str("path", target.Path()).
		Int("instances", len(records)).
		Msg("exporting resource using WADO-RS")

	framing := negotiate.Framing{Boundary: boundary, Type: dicomweb.MediaTypeDICOM}
	return framing.ContentType(), body, nil
}

// ExportInstance returns the bytes of a single instance. When set, the
// series and study of target must match those of the instance.
func (e *Exporter) ExportInstance(ctx context.Context, target *dicomweb.RetrieveTarget) ([]byte, error) {
	if target.Instance == "" {
		return nil, dicomweb.Errorf(dicomweb.EINVALID, "missing SOPInstanceUID")
	}

	id := dicom.ResourceID(target.Instance)
	records, err := e.store.ListInstances(ctx, dicomweb.LevelInstance, id)
	if err != nil {
		return nil, err
	} else if len(records) == 0 {
		return nil, dicomweb.Errorf(dicomweb.ENOTFOUND, "no such SOPInstanceUID: %s", target.Instance)
	}

	rec := records[0]
	if target.Series != "" && rec.SeriesInstanceUID != target.Series {
		return nil, dicomweb.Errorf(dicomweb.ENOTFOUND, "instance %s does not belong to series %s", target.Instance, target.Series)
	} else if target.Study != "" && rec.StudyInstanceUID != target.Study {
		return nil, dicomweb.Errorf(dicomweb.ENOTFOUND, "instance %s does not belong to study %s", target.Instance, target.Study)
	}

	exportedCount.Inc()
	return e.store.GetInstance(ctx, rec.ID)
}

// find lists the instances of the deepest level named by target, keeping
// only those that belong to the enclosing study and series.
func (e *Exporter) find(ctx context.Context, target *dicomweb.RetrieveTarget) ([]*dicomweb.InstanceRecord, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}

	level, uid := dicomweb.LevelStudy, target.Study
	if target.Instance != "" {
		level, uid = dicomweb.LevelInstance, target.Instance
	} else if target.Series != "" {
		level, uid = dicomweb.LevelSeries, target.Series
	}

	id := dicom.ResourceID(uid)
	if ok, err := e.store.ResourceExists(ctx, level, id); err != nil {
		return nil, err
	} else if !ok {
		return nil, dicomweb.Errorf(dicomweb.ENOTFOUND, "unknown %s: %s", level, uid)
	}

	all, err := e.store.ListInstances(ctx, level, id)
	if err != nil {
		return nil, err
	}

	records := all[:0:0]
	for _, rec := range all {
		if rec.StudyInstanceUID != target.Study {
			continue
		} else if target.Series != "" && rec.SeriesInstanceUID != target.Series {
			continue
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return nil, dicomweb.Errorf(dicomweb.ENOTFOUND, "%s %s does not belong to %s", level, uid, target.Path())
	}
	return records, nil
}
