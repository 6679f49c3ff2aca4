package stow

import (
	dicomweb "gitlab.com/medical-research/dicomweb"
)

// StatusBuilder accumulates the per-part outcomes of a STOW-RS request.
// Successes and warnings land in the Referenced SOP sequence, failures in
// the Failed SOP sequence.
type StatusBuilder struct {
	result dicomweb.StoreResult
}

// Record appends rec to the sequence matching its outcome.
func (b *StatusBuilder) Record(rec dicomweb.StatusRecord) {
	receivedCount.WithLabelValues(outcomeLabel(rec.Outcome)).Inc()

	if rec.Outcome == dicomweb.OutcomeFailure {
		b.result.Failed = append(b.result.Failed, rec)
		return
	}
	b.result.Success = append(b.result.Success, rec)
}

// SetRetrieveURL sets the top-level retrieve URL. Only the first call wins.
func (b *StatusBuilder) SetRetrieveURL(url string) {
	if b.result.RetrieveURL == "" {
		b.result.RetrieveURL = url
	}
}

// Assemble returns the accumulated result.
func (b *StatusBuilder) Assemble() *dicomweb.StoreResult {
	res := b.result
	res.Success = append([]dicomweb.StatusRecord(nil), b.result.Success...)
	res.Failed = append([]dicomweb.StatusRecord(nil), b.result.Failed...)
	return &res
}

// Success returns the record of a stored instance.
func Success(classUID, instanceUID, retrieveURL string) dicomweb.StatusRecord {
	return dicomweb.StatusRecord{
		SOPClassUID:    classUID,
		SOPInstanceUID: instanceUID,
		Outcome:        dicomweb.OutcomeSuccess,
		RetrieveURL:    retrieveURL,
	}
}

// Warning returns the record of an instance accepted with a warning.
func Warning(classUID, instanceUID string, reason uint16) dicomweb.StatusRecord {
	return dicomweb.StatusRecord{
		SOPClassUID:    classUID,
		SOPInstanceUID: instanceUID,
		Outcome:        dicomweb.OutcomeWarning,
		Reason:         reason,
	}
}

// Failure returns the record of an instance that could not be stored.
func Failure(classUID, instanceUID string, reason uint16) dicomweb.StatusRecord {
	return dicomweb.StatusRecord{
		SOPClassUID:    classUID,
		SOPInstanceUID: instanceUID,
		Outcome:        dicomweb.OutcomeFailure,
		Reason:         reason,
	}
}

func outcomeLabel(o dicomweb.Outcome) string {
	switch o {
	case dicomweb.OutcomeWarning:
		return "warning"
	case dicomweb.OutcomeFailure:
		return "failure"
	default:
		return "success"
	}
}
