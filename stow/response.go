package stow

import (
	"bytes"
	"encoding/json"
	"strings"

	dicomweb "gitlab.com/medical-research/dicomweb"
)

// CheckResponse validates the DICOM+JSON answer of a remote STOW-RS server
// to a request carrying expected instances. The Referenced SOP sequence must
// list every instance, and the failure sequences must be absent or empty.
func CheckResponse(body []byte, expected int, url string) error {
	var resp map[string]json.RawMessage
	if err := json.Unmarshal(body, &resp); err != nil {
		return dicomweb.Errorf(dicomweb.EPROTOCOL, "unable to parse STOW-RS JSON response from DICOMweb server %s", url)
	}

	n, err := sequenceSize(resp, TagReferencedSOPSequence, true, url)
	if err != nil {
		return err
	} else if n != expected {
		return dicomweb.Errorf(dicomweb.EPROTOCOL, "the STOW-RS server %s only stored %d instances out of %d", url, n, expected)
	}

	if n, err = sequenceSize(resp, TagFailedSOPSequence, false, url); err != nil {
		return err
	} else if n != 0 {
		return dicomweb.Errorf(dicomweb.EPROTOCOL, "the response from the STOW-RS server %s contains %d items in its Failed SOP Sequence", url, n)
	}

	if n, err = sequenceSize(resp, TagOtherFailuresSequence, false, url); err != nil {
		return err
	} else if n != 0 {
		return dicomweb.Errorf(dicomweb.EPROTOCOL, "the response from the STOW-RS server %s contains %d items in its Other Failures Sequence", url, n)
	}
	return nil
}

// sequenceSize returns the number of items of a sequence attribute. The tag
// is looked up in upper then lower case. An attribute without a Value has
// no items.
func sequenceSize(resp map[string]json.RawMessage, tag string, mandatory bool, url string) (int, error) {
	raw, ok := resp[strings.ToUpper(tag)]
	if !ok {
		raw, ok = resp[strings.ToLower(tag)]
	}
	if !ok {
		if mandatory {
			return 0, dicomweb.Errorf(dicomweb.EPROTOCOL, "the STOW-RS JSON response from DICOMweb server %s does not contain the mandatory tag %s", url, tag)
		}
		return 0, nil
	}

	var attr map[string]json.RawMessage
	if err := json.Unmarshal(raw, &attr); err != nil || attr == nil {
		return 0, dicomweb.Errorf(dicomweb.EPROTOCOL, "unable to parse STOW-RS JSON response from DICOMweb server %s: tag %s is not an object", url, tag)
	}

	value, ok := attr["Value"]
	if !ok {
		return 0, nil
	}

	var items []json.RawMessage
	if !bytes.HasPrefix(bytes.TrimSpace(value), []byte("[")) {
		return 0, dicomweb.Errorf(dicomweb.EPROTOCOL, "unable to parse STOW-RS JSON response from DICOMweb server %s: value of tag %s is not an array", url, tag)
	} else if err := json.Unmarshal(value, &items); err != nil {
		return 0, dicomweb.Errorf(dicomweb.EPROTOCOL, "unable to parse STOW-RS JSON response from DICOMweb server %s: %v", url, err)
	}
	return len(items), nil
}
