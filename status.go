package dicomweb

import "fmt"

// DICOM status codes used in STOW-RS responses.
const (
	// WarningElementsDiscarded flags an instance ignored because it does not
	// belong to the study the request was restricted to.
	WarningElementsDiscarded uint16 = 0xB006

	// FailureProcessing flags an instance the store could not persist.
	FailureProcessing uint16 = 0x0110

	// FailureCannotUnderstand flags a part that could not be parsed as DICOM.
	FailureCannotUnderstand uint16 = 0xC000
)

// Outcome is the result of processing one STOW-RS part.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeWarning
	OutcomeFailure
)

// StatusRecord is one item of the Referenced or Failed SOP sequence.
type StatusRecord struct {
	SOPClassUID    string
	SOPInstanceUID string
	Outcome        Outcome

	// Warning or failure reason. Zero on success.
	Reason uint16

	// WADO-RS URL of the stored instance, when stored.
	RetrieveURL string
}

// Code renders the reason as four upper-case hex digits, e.g. "B006".
func (r *StatusRecord) Code() string {
	if r.Outcome == OutcomeSuccess {
		return ""
	}
	return fmt.Sprintf("%04X", r.Reason)
}

// StatusSequencePair holds the Referenced (success and warning) and Failed SOP sequences.
type StatusSequencePair struct {
	Success []StatusRecord
	Failed  []StatusRecord
}

// StoreResult is the outcome of one STOW-RS store request.
type StoreResult struct {
	// Study-level retrieve URL of the first stored instance.
	RetrieveURL string

	StatusSequencePair
}
