// Package multipart encodes and decodes multipart/related DICOMweb bodies.
//
// Parts are framed as
//
//	CRLF "--" boundary CRLF
//	"Content-Type: " type CRLF
//	"Content-Length: " length CRLF
//	CRLF
//	payload
//
// and a message ends with CRLF "--" boundary "--" CRLF. Payloads are never
// scanned for the boundary: DICOM encoding does not clash with the random
// boundaries used in practice.
package multipart

import (
	"bytes"
	"io"
	"mime/multipart"
	"strconv"

	"github.com/google/uuid"

	dicomweb "gitlab.com/medical-research/dicomweb"
)

const crlf = "\r\n"

// NewBoundary returns a fresh random boundary. Outbound messages never share
// one.
func NewBoundary() (string, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return "", dicomweb.Errorf(dicomweb.ENOMEM, "cannot generate multipart boundary: %v", err)
	}
	return u.String(), nil
}

// AppendPart appends the framing of one part to dst and returns the result.
func AppendPart(dst []byte, contentType string, payload []byte, boundary string) []byte {
	dst = append(dst, crlf+"--"...)
	dst = append(dst, boundary...)
	dst = append(dst, crlf+"Content-Type: "...)
	dst = append(dst, contentType...)
	dst = append(dst, crlf+"Content-Length: "...)
	dst = strconv.AppendInt(dst, int64(len(payload)), 10)
	dst = append(dst, crlf+crlf...)
	return append(dst, payload...)
}

// EncodePart returns the framing of one part.
func EncodePart(contentType string, payload []byte, boundary string) []byte {
	return AppendPart(make([]byte, 0, len(payload)+len(boundary)+64), contentType, payload, boundary)
}

// AppendClose appends the terminator emitted once after the last part.
func AppendClose(dst []byte, boundary string) []byte {
	dst = append(dst, crlf+"--"...)
	dst = append(dst, boundary...)
	return append(dst, "--"+crlf...)
}

// EncodeClose returns the terminator emitted once after the last part.
func EncodeClose(boundary string) []byte {
	return AppendClose(nil, boundary)
}

// EncodeAll frames every part and closes the message.
func EncodeAll(parts []dicomweb.Part, boundary string) []byte {
	var buf []byte
	for i := range parts {
		buf = AppendPart(buf, parts[i].ContentType, parts[i].Data, boundary)
	}
	return AppendClose(buf, boundary)
}

// Decode splits body into its parts, in message order. A preamble before the
// first boundary and the close marker are accepted. Each part keeps the
// content type of its own header, or "" when it has none.
// Returns EPROTOCOL if the body is not a well-formed multipart message.
func Decode(body []byte, boundary string) ([]dicomweb.Part, error) {
	if boundary == "" {
		return nil, dicomweb.Errorf(dicomweb.EPROTOCOL, "multipart: empty boundary")
	}

	r := multipart.NewReader(bytes.NewReader(body), boundary)

	var parts []dicomweb.Part
	for {
		p, err := r.NextRawPart()
		if err == io.EOF {
			return parts, nil
		} else if err != nil {
			return nil, dicomweb.Errorf(dicomweb.EPROTOCOL, "multipart: malformed section %d: %v", len(parts)+1, err)
		}

		data, err := io.ReadAll(p)
		if err != nil {
			return nil, dicomweb.Errorf(dicomweb.EPROTOCOL, "multipart: truncated section %d: %v", len(parts)+1, err)
		}

		parts = append(parts, dicomweb.Part{
			ContentType: p.Header.Get("Content-Type"),
			Data:        data,
		})
	}
}
