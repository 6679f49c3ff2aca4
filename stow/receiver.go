package stow

import (
	"context"

	dicomweb "gitlab.com/medical-research/dicomweb"
	"gitlab.com/medical-research/dicomweb/dicom"
	"gitlab.com/medical-research/dicomweb/logger"
	"gitlab.com/medical-research/dicomweb/negotiate"
)

// Ensure service implements interface.
var _ dicomweb.StowServerService = (*Receiver)(nil)

// Receiver stores the instances of inbound STOW-RS requests.
type Receiver struct {
	store dicomweb.InstanceStore
}

// NewReceiver returns a receiver writing to store.
func NewReceiver(store dicomweb.InstanceStore) *Receiver {
	return &Receiver{store: store}
}

// StoreInstances stores every part of req and reports one status record
// per part. Parts are processed independently: a failing part never aborts
// the others. A part that is not typed as DICOM fails the whole request.
func (r *Receiver) StoreInstances(ctx context.Context, req *dicomweb.StowServerRequest) (*dicomweb.StoreResult, error) {
	for i := range req.Parts {
		if ct := req.Parts[i].ContentType; ct != "" && !negotiate.IsDICOM(ct) {
			return nil, dicomweb.Errorf(dicomweb.EUNSUPPORTED, "the STOW-RS request contains a part that is not %s: %s", dicomweb.MediaTypeDICOM, ct)
		}
	}

	log := logger.Ctx(ctx)
	b := &StatusBuilder{}
	for i := range req.Parts {
		data := req.Parts[i].Data

		info, err := dicom.ParseInstance(data)
		if err != nil {
			log.Warn().Err(err).Int("part", i).Msg("STOW-RS part is not a valid DICOM instance")
			b.Record(Failure("", "", dicomweb.FailureCannotUnderstand))
			continue
		}

		if req.ExpectedStudy != "" && info.StudyInstanceUID != req.ExpectedStudy {
			log.Info().
				Str("expected", req.ExpectedStudy).
				Str("study", info.StudyInstanceUID).
				Str("instance", info.SOPInstanceUID).
				Msg("STOW-RS request restricted to another study, instance discarded")
			b.Record(Warning(info.SOPClassUID, info.SOPInstanceUID, dicomweb.WarningElementsDiscarded))
			continue
		}

		if _, err := r.store.PutInstance(ctx, data); err != nil {
			log.Error().Err(err).Str("instance", info.SOPInstanceUID).Msg("cannot store STOW-RS instance")
			b.Record(Failure(info.SOPClassUID, info.SOPInstanceUID, dicomweb.FailureProcessing))
			continue
		}

		study := req.BaseURL + "studies/" + info.StudyInstanceUID
		b.SetRetrieveURL(study)
		b.Record(Success(info.SOPClassUID, info.SOPInstanceUID,
			study+"/series/"+info.SeriesInstanceUID+"/instances/"+info.SOPInstanceUID))
	}
	return b.Assemble(), nil
}
