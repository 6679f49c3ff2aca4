package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"

	dicomweb "gitlab.com/medical-research/dicomweb"
	"gitlab.com/medical-research/dicomweb/multipart"
	"gitlab.com/medical-research/dicomweb/negotiate"
	"gitlab.com/medical-research/dicomweb/stow"
)

// handleStudies handles the "/dicom-web/studies" route. Only STOW-RS is
// served there.
func (s *Server) handleStudies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	s.handleStowServer(w, r)
}

// handleStudy handles the "/dicom-web/studies/{study}" route: STOW-RS
// restricted to a study on POST, WADO-RS retrieve on GET.
func (s *Server) handleStudy(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleStowServer(w, r)
	case http.MethodGet:
		s.handleWadoRetrieve(w, r)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

// handleStowServer stores the instances of a STOW-RS request and answers
// with the DICOM+JSON or DICOM+XML status of each part.
func (s *Server) handleStowServer(w http.ResponseWriter, r *http.Request) {
	framing, err := negotiate.InboundFraming(r.Header.Get("Content-Type"))
	if err != nil {
		Error(w, r, err)
		return
	}

	if s.MaxRequestSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.MaxRequestSize)
	}
	body, err := io.ReadAll(r.Body)
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		Error(w, r, dicomweb.Errorf(dicomweb.ETOOLARGE, "STOW-RS body exceeds %s", humanize.IBytes(uint64(tooLarge.Limit))))
		return
	} else if err != nil {
		Error(w, r, dicomweb.Errorf(dicomweb.EINVALID, "cannot read STOW-RS body: %v", err))
		return
	}

	// A malformed body is the client's fault here, not a remote's.
	parts, err := multipart.Decode(body, framing.Boundary)
	if err != nil {
		Error(w, r, dicomweb.Errorf(dicomweb.EINVALID, "%s", dicomweb.ErrorMessage(err)))
		return
	}

	format := negotiate.ResponseFormat(r.Header.Get("Accept"))

	result, err := s.StowServerService.StoreInstances(r.Context(), &dicomweb.StowServerRequest{
		Parts:         parts,
		ExpectedStudy: mux.Vars(r)["study"],
		BaseURL:       s.baseURL(r),
	})
	if err != nil {
		Error(w, r, err)
		return
	}

	buf, err := stow.Encode(result, format)
	if err != nil {
		Error(w, r, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.WriteHeader(http.StatusOK)
	w.Write(buf)
}

// handleStowClient handles the "POST /dicom-web/servers/{name}/stow" route.
func (s *Server) handleStowClient(w http.ResponseWriter, r *http.Request) {
	server, err := s.Servers.FindServer(mux.Vars(r)["name"])
	if err != nil {
		Error(w, r, err)
		return
	}

	req, err := decodeStowClientRequest(r.Body)
	if err != nil {
		Error(w, r, err)
		return
	}

	if err := s.StowClientService.SendResources(r.Context(), server, req); err != nil {
		Error(w, r, err)
		return
	}
	WriteJSONResponse(w, struct{}{}, http.StatusOK)
}

func decodeStowClientRequest(body io.Reader) (*dicomweb.StowClientRequest, error) {
	var req dicomweb.StowClientRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		return nil, dicomweb.Errorf(dicomweb.EINVALID, "invalid STOW-RS client request: %v", err)
	} else if req.Resources == nil {
		return nil, dicomweb.Errorf(dicomweb.EINVALID, `a request to the STOW-RS client must provide a JSON object with the field "Resources" containing an array of resources to be sent`)
	}
	return &req, nil
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	for _, m := range allowed {
		w.Header().Add("Allow", m)
	}
	WriteJSONResponse(w, &ErrorResponse{Error: "method not allowed"}, http.StatusMethodNotAllowed)
}
