// Package healthcare implements dicomweb.Transport on top of the DICOMweb
// API of Google Cloud Healthcare, so that a Cloud Healthcare DICOM store
// can be used as a remote server.
package healthcare

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"strings"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	healthcare "google.golang.org/api/healthcare/v1"
	"google.golang.org/api/option"

	dicomweb "gitlab.com/medical-research/dicomweb"
	"gitlab.com/medical-research/dicomweb/logger"
)

// BaseURL is the root of the Cloud Healthcare API.
const BaseURL = "https://healthcare.googleapis.com/v1/"

// Ensure transport implements interface.
var _ dicomweb.Transport = (*Transport)(nil)

// call is what the transport needs of the generated DICOMweb calls.
type call interface {
	Header() http.Header
	Do(opts ...googleapi.CallOption) (*http.Response, error)
}

// Transport sends DICOMweb requests to Cloud Healthcare DICOM stores. The
// store of a server is taken from its URL, see ParentFromURL.
type Transport struct {
	stores *healthcare.ProjectsLocationsDatasetsDicomStoresService
}

// NewTransport returns a transport using the given client options.
func NewTransport(ctx context.Context, opts ...option.ClientOption) (*Transport, error) {
	svc, err := healthcare.NewService(ctx, opts...)
	if err != nil {
		return nil, dicomweb.Errorf(dicomweb.EINTERNAL, "healthcare.NewService: %v", err)
	}
	return &Transport{stores: svc.Projects.Locations.Datasets.DicomStores}, nil
}

// CredentialsOption returns the client option authenticating with the
// service account key in file. Application default credentials are used
// when file is empty.
func CredentialsOption(ctx context.Context, file string) ([]option.ClientOption, error) {
	if file == "" {
		return nil, nil
	}

	jsonKey, err := os.ReadFile(file)
	if err != nil {
		return nil, dicomweb.Errorf(dicomweb.EINVALID, "cannot read credentials file: %v", err)
	}
	creds, err := google.CredentialsFromJSON(ctx, jsonKey, healthcare.CloudHealthcareScope)
	if err != nil {
		return nil, dicomweb.Errorf(dicomweb.EINVALID, "google.CredentialsFromJSON: %v", err)
	}
	return []option.ClientOption{option.WithCredentials(creds)}, nil
}

// DicomWebURL returns the DICOMweb root of a DICOM store, given as
// "projects/P/locations/L/datasets/D/dicomStores/S".
func DicomWebURL(parent string) string {
	return BaseURL + strings.Trim(parent, "/") + "/dicomWeb/"
}

// ParentFromURL extracts the DICOM store name from its DICOMweb URL.
func ParentFromURL(u string) (string, error) {
	i := strings.Index(u, "projects/")
	j := strings.Index(u, "/dicomWeb")
	if i < 0 || j < i {
		return "", dicomweb.Errorf(dicomweb.EINVALID, "not a Cloud Healthcare DICOMweb URL: %s", u)
	}
	return u[i:j], nil
}

// Do sends req to the DICOM store of server.
func (t *Transport) Do(ctx context.Context, server *dicomweb.Server, req *dicomweb.Request) (*dicomweb.Response, error) {
	parent, err := ParentFromURL(server.URL)
	if err != nil {
		return nil, err
	}
	path := strings.Trim(req.Path, "/")

	c, err := t.newCall(ctx, parent, req.Method, path, req.Body)
	if err != nil {
		return nil, err
	}

	for _, h := range []map[string]string{server.HTTPHeaders, req.Header} {
		for k, v := range h {
			if v == "" {
				c.Header().Del(k)
				continue
			}
			c.Header().Set(k, v)
		}
	}

	opts := make([]googleapi.CallOption, 0, len(req.Query))
	for k, v := range req.Query {
		opts = append(opts, googleapi.QueryParameter(k, v))
	}

	logger.Ctx(ctx).Debug().
		Str("method", req.Method).
		Str("parent", parent).
		Str("path", path).
		Msg("sending request to Cloud Healthcare")

	resp, err := c.Do(opts...)
	if err != nil {
		return nil, dicomweb.Errorf(dicomweb.EPROTOCOL, "Cloud Healthcare request %s %s failed: %v", req.Method, path, err)
	}
	defer resp.Body.Close()

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, dicomweb.Errorf(dicomweb.EPROTOCOL, "could not read Cloud Healthcare response: %v", err)
	}

	header := make(map[string]string, len(resp.Header))
	for k, v := range resp.Header {
		header[k] = strings.Join(v, ", ")
	}
	return &dicomweb.Response{StatusCode: resp.StatusCode, Header: header, Body: buf}, nil
}

// newCall maps a DICOMweb path onto the matching generated call.
func (t *Transport) newCall(ctx context.Context, parent, method, path string, body []byte) (call, error) {
	segs := strings.Split(path, "/")
	studies := t.stores.Studies
	series := studies.Series
	instances := series.Instances

	switch method {
	case http.MethodPost:
		switch {
		case len(segs) == 1 && segs[0] == "studies":
			return t.stores.StoreInstances(parent, path, bytes.NewReader(body)).Context(ctx), nil
		case len(segs) == 2 && segs[0] == "studies":
			return studies.StoreInstances(parent, path, bytes.NewReader(body)).Context(ctx), nil
		}

	case http.MethodGet:
		switch {
		case match(segs, "studies"):
			return t.stores.SearchForStudies(parent, path).Context(ctx), nil
		case match(segs, "series"):
			return t.stores.SearchForSeries(parent, path).Context(ctx), nil
		case match(segs, "instances"):
			return t.stores.SearchForInstances(parent, path).Context(ctx), nil
		case match(segs, "studies", "*"):
			return studies.RetrieveStudy(parent, path).Context(ctx), nil
		case match(segs, "studies", "*", "metadata"):
			return studies.RetrieveMetadata(parent, path).Context(ctx), nil
		case match(segs, "studies", "*", "series"):
			return studies.SearchForSeries(parent, path).Context(ctx), nil
		case match(segs, "studies", "*", "instances"):
			return studies.SearchForInstances(parent, path).Context(ctx), nil
		case match(segs, "studies", "*", "series", "*"):
			return series.RetrieveSeries(parent, path).Context(ctx), nil
		case match(segs, "studies", "*", "series", "*", "metadata"):
			return series.RetrieveMetadata(parent, path).Context(ctx), nil
		case match(segs, "studies", "*", "series", "*", "instances"):
			return series.SearchForInstances(parent, path).Context(ctx), nil
		case match(segs, "studies", "*", "series", "*", "instances", "*"):
			return instances.RetrieveInstance(parent, path).Context(ctx), nil
		case match(segs, "studies", "*", "series", "*", "instances", "*", "metadata"):
			return instances.RetrieveMetadata(parent, path).Context(ctx), nil
		case match(segs, "studies", "*", "series", "*", "instances", "*", "rendered"):
			return instances.RetrieveRendered(parent, path).Context(ctx), nil
		}
	}
	return nil, dicomweb.Errorf(dicomweb.ENOTIMPLEMENTED, "Cloud Healthcare transport does not support %s %s", method, path)
}

// match reports whether segs follows pattern, "*" matching any non-empty segment.
func match(segs []string, pattern ...string) bool {
	if len(segs) != len(pattern) {
		return false
	}
	for i, p := range pattern {
		if segs[i] == "" || (p != "*" && p != segs[i]) {
			return false
		}
	}
	return true
}
