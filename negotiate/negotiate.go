// Package negotiate picks STOW-RS response encodings and validates the
// multipart/related framing of DICOMweb messages.
package negotiate

import (
	"errors"
	"fmt"
	"strings"

	dicomweb "gitlab.com/medical-research/dicomweb"
	"gitlab.com/medical-research/dicomweb/logger"
)

// Format is a DICOM response representation.
type Format int

const (
	FormatJSON Format = iota
	FormatXML
)

// ContentType returns the media type written with a response in f.
func (f Format) ContentType() string {
	if f == FormatXML {
		return "application/dicom+xml"
	}
	return "application/dicom+json"
}

// MultipartRelated is the base media type of every DICOMweb multipart body.
const MultipartRelated = "multipart/related"

// ResponseFormat chooses DICOM+XML when accept is exactly one of the XML
// media types and DICOM+JSON otherwise. It never fails.
func ResponseFormat(accept string) Format {
	switch strings.ToLower(accept) {
	case "", "application/dicom+json", "application/json", "*/*":
		return FormatJSON
	case "application/dicom+xml", "application/xml", "text/xml":
		return FormatXML
	}
	logger.Warn().Str("accept", accept).Msg("unsupported return MIME type, will return DICOM+JSON")
	return FormatJSON
}

// Framing is the validated framing of a multipart/related message.
type Framing struct {
	Boundary string
	Type     string
}

// ContentType renders the framing back into a Content-Type header value.
func (f *Framing) ContentType() string {
	return MultipartRelated + "; type=" + f.Type + "; boundary=" + f.Boundary
}

// InboundFraming validates the Content-Type of an inbound STOW-RS request.
// A missing or unparseable header, another base type, or a missing type or
// boundary parameter returns EINVALID. A type other than application/dicom
// returns EUNSUPPORTED.
func InboundFraming(contentType string) (*Framing, error) {
	f, err := parseFraming(contentType)
	if err != nil {
		return nil, dicomweb.Errorf(dicomweb.EINVALID, "invalid STOW-RS content type: %v", err)
	}
	if f.Type != dicomweb.MediaTypeDICOM {
		return nil, dicomweb.Errorf(dicomweb.EUNSUPPORTED, "only %s parts are supported, got %q", dicomweb.MediaTypeDICOM, f.Type)
	}
	return f, nil
}

// ResponseFraming applies the InboundFraming rules to the Content-Type of
// a remote WADO-RS answer. Every violation is a misbehaving remote and
// returns EPROTOCOL.
func ResponseFraming(contentType string) (*Framing, error) {
	f, err := parseFraming(contentType)
	if err != nil {
		return nil, dicomweb.Errorf(dicomweb.EPROTOCOL, "invalid content type from remote WADO-RS server: %v", err)
	}
	if f.Type != dicomweb.MediaTypeDICOM {
		return nil, dicomweb.Errorf(dicomweb.EPROTOCOL, "remote WADO-RS server answers with a %q multipart content type, but %q is expected", f.Type, dicomweb.MediaTypeDICOM)
	}
	return f, nil
}

// IsDICOM reports whether a part content type designates a DICOM payload,
// ignoring case and media type parameters.
func IsDICOM(contentType string) bool {
	base, _ := splitMediaType(contentType)
	return base == dicomweb.MediaTypeDICOM
}

func parseFraming(contentType string) (*Framing, error) {
	if strings.TrimSpace(contentType) == "" {
		return nil, errors.New("no content type provided")
	}

	base, params := splitMediaType(contentType)
	if base != MultipartRelated {
		return nil, fmt.Errorf("content type %q is not %s", base, MultipartRelated)
	}

	t, ok := params["type"]
	if !ok {
		return nil, errors.New("missing type parameter in content type")
	}
	boundary := params["boundary"]
	if boundary == "" {
		return nil, errors.New("missing boundary parameter in content type")
	}

	return &Framing{
		Boundary: boundary,
		Type:     strings.ToLower(t),
	}, nil
}

// splitMediaType splits a Content-Type value into its lower-cased base type
// and parameters. Parameter values are not required to be RFC 2045 tokens, so
// the usual unquoted "type=application/dicom" is accepted; one layer of
// surrounding double quotes is removed from each value.
func splitMediaType(v string) (string, map[string]string) {
	tokens := strings.Split(v, ";")
	base := strings.ToLower(strings.TrimSpace(tokens[0]))

	params := make(map[string]string, len(tokens)-1)
	for _, token := range tokens[1:] {
		kv := strings.SplitN(token, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(kv[0]))
		value := strings.TrimSpace(kv[1])
		if n := len(value); n >= 2 && value[0] == '"' && value[n-1] == '"' {
			value = value[1 : n-1]
		}
		params[key] = value
	}
	return base, params
}
