package dicomweb

import (
	"context"
	"sort"
	"strings"
)

// Transport kinds a Server can be reached through.
const (
	TransportHTTP       = "http"
	TransportHealthcare = "healthcare"
)

// Server describes a remote DICOMweb endpoint. It is owned by configuration
// and only ever read by the protocol code.
type Server struct {
	Name     string
	URL      string
	Username string
	Password string

	// Headers added to every request sent to the server.
	HTTPHeaders map[string]string

	// One of TransportHTTP (default) or TransportHealthcare.
	Transport string
}

// Request is a single call to a remote DICOMweb server. Path is relative to
// the server URL; Header and Query are passed through unmodified.
type Request struct {
	Method string
	Path   string
	Header map[string]string
	Query  map[string]string
	Body   []byte
}

// Response is the answer of a remote DICOMweb server.
type Response struct {
	StatusCode int
	Header     map[string]string
	Body       []byte
}

// HeaderValue returns a response header by case-insensitive name.
func (r *Response) HeaderValue(name string) (string, bool) {
	for k, v := range r.Header {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// Transport sends requests to remote DICOMweb servers. Implementations own
// connection handling, TLS and timeouts; authentication is taken from the
// Server and from the caller-supplied headers.
type Transport interface {
	Do(ctx context.Context, server *Server, req *Request) (*Response, error)
}

// ServerRegistry resolves configured remote servers by name.
type ServerRegistry interface {
	// Returns ENOTFOUND if no server is configured under that name.
	FindServer(name string) (*Server, error)
	ServerNames() []string
}

// Servers is a static ServerRegistry built from configuration.
type Servers map[string]*Server

// FindServer returns the server registered under name.
func (s Servers) FindServer(name string) (*Server, error) {
	server, ok := s[name]
	if !ok {
		return nil, Errorf(ENOTFOUND, "unknown DICOMweb server: %s", name)
	}
	return server, nil
}

// ServerNames returns the configured server names in sorted order.
func (s Servers) ServerNames() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
