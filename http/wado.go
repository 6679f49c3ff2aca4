package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	dicomweb "gitlab.com/medical-research/dicomweb"
)

// handleRetrieve handles the "POST /dicom-web/servers/{name}/retrieve" route.
func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	server, err := s.Servers.FindServer(mux.Vars(r)["name"])
	if err != nil {
		Error(w, r, err)
		return
	}

	var req dicomweb.RetrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, r, dicomweb.Errorf(dicomweb.EINVALID, "invalid WADO-RS client request: %v", err))
		return
	} else if req.Resources == nil {
		Error(w, r, dicomweb.Errorf(dicomweb.EINVALID, `a request to the WADO-RS client must provide a JSON object with the field "Resources"`))
		return
	}

	ids, err := s.RetrieveService.Retrieve(r.Context(), server, &req)
	if err != nil {
		Error(w, r, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	WriteJSONResponse(w, &RetrieveResponse{Instances: ids}, http.StatusOK)
}

// RetrieveResponse is the answer of the WADO-RS client.
type RetrieveResponse struct {
	Instances []string `json:"Instances"`
}

// handleGet handles the "POST /dicom-web/servers/{name}/get" route. The
// remote answer is relayed as is.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	server, err := s.Servers.FindServer(mux.Vars(r)["name"])
	if err != nil {
		Error(w, r, err)
		return
	}

	var req dicomweb.ProxyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, r, dicomweb.Errorf(dicomweb.EINVALID, "invalid GET request: %v", err))
		return
	}

	resp, err := s.RetrieveService.Proxy(r.Context(), server, &req)
	if err != nil {
		Error(w, r, err)
		return
	}

	for k, v := range resp.Header {
		w.Header().Set(k, v)
	}
	w.WriteHeader(resp.StatusCode)
	w.Write(resp.Body)
}

// handleWadoRetrieve serves the stored instances of a study, series or
// instance as multipart/related.
func (s *Server) handleWadoRetrieve(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	target := &dicomweb.RetrieveTarget{
		Study:    vars["study"],
		Series:   vars["series"],
		Instance: vars["instance"],
	}

	contentType, body, err := s.ExportService.ExportMultipart(r.Context(), target)
	if err != nil {
		Error(w, r, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// handleWadoURI handles the legacy "GET /wado" route. Only the DICOM
// rendering of an instance is available.
func (s *Server) handleWadoURI(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if v := q.Get("requestType"); v != "WADO" {
		Error(w, r, dicomweb.Errorf(dicomweb.EINVALID, "WADO: invalid requestType: %q", v))
		return
	}

	contentType := q.Get("contentType")
	if contentType == "" {
		contentType = dicomweb.MediaTypeDICOM
	}
	if !strings.EqualFold(contentType, dicomweb.MediaTypeDICOM) {
		Error(w, r, dicomweb.Errorf(dicomweb.EUNSUPPORTED, "WADO: unsupported content type: %q", contentType))
		return
	}

	buf, err := s.ExportService.ExportInstance(r.Context(), &dicomweb.RetrieveTarget{
		Study:    q.Get("studyUID"),
		Series:   q.Get("seriesUID"),
		Instance: q.Get("objectUID"),
	})
	if err != nil {
		Error(w, r, err)
		return
	}

	w.Header().Set("Content-Type", dicomweb.MediaTypeDICOM)
	w.WriteHeader(http.StatusOK)
	w.Write(buf)
}
