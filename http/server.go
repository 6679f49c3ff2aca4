package http

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/acme/autocert"

	dicomweb "gitlab.com/medical-research/dicomweb"
	"gitlab.com/medical-research/dicomweb/logger"
)

// Generic HTTP metrics.
var (
	requestCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dicomweb_http_request_count",
		Help: "Total number of requests by route",
	}, []string{"method", "path"})

	requestSeconds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dicomweb_http_request_seconds",
		Help: "Total amount of request time by route, in seconds",
	}, []string{"method", "path"})
)

// ShutdownTimeout is the time given for outstanding requests to finish before shutdown.
const ShutdownTimeout = 1 * time.Second

// DefaultMaxRequestSize bounds inbound STOW-RS bodies.
const DefaultMaxRequestSize = 1 << 30

// Server represents an HTTP server. It is meant to wrap all HTTP functionality
// used by the application so that dependent packages (such as cmd/dicomd) do not
// need to reference the "net/http" package at all.
type Server struct {
	ln     net.Listener
	server *http.Server
	router *mux.Router

	// Bind address & domain for the server's listener.
	// If domain is specified, server is run on TLS using acme/autocert.
	Addr   string
	Domain string

	// Externally visible base URL, e.g. "https://pacs.example.org". When
	// empty, retrieve URLs are derived from the request host.
	PublicURL string

	// Upgrades STOW-RS progress connections.
	WebSocketUpgrader websocket.Upgrader

	// Largest STOW-RS body accepted, in bytes. Zero disables the limit.
	MaxRequestSize int64

	// Services used by the various HTTP routes.
	Servers           dicomweb.ServerRegistry
	StowServerService dicomweb.StowServerService
	StowClientService dicomweb.StowClientService
	RetrieveService   dicomweb.RetrieveService
	ExportService     dicomweb.ExportService
}

// NewServer returns a new instance of Server.
func NewServer() *Server {
	// Create a new server that wraps the net/http server & add a gorilla router.
	s := &Server{
		server:         &http.Server{},
		router:         mux.NewRouter(),
		MaxRequestSize: DefaultMaxRequestSize,

		// Progress sockets are opened by browser UIs served from other origins.
		WebSocketUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	// Report panics to external service.
	s.router.Use(reportPanic)

	// Our router is wrapped by another function handler to attach a
	// request-scoped logger. Forwarded headers are honored so that retrieve
	// URLs point at the proxy rather than at us.
	s.server.Handler = handlers.ProxyHeaders(http.HandlerFunc(s.serveHTTP))

	router := s.router.PathPrefix("/").Subrouter()
	router.Use(trackMetrics)

	router.HandleFunc("/version", s.handleVersion).Methods("GET")
	router.HandleFunc("/commit", s.handleCommit).Methods("GET")

	// STOW-RS and WADO-RS server.
	r := router.PathPrefix("/dicom-web").Subrouter()
	r.HandleFunc("/studies", s.handleStudies)
	r.HandleFunc("/studies/{study}", s.handleStudy)
	r.HandleFunc("/studies/{study}/series/{series}", s.handleWadoRetrieve).Methods("GET")
	r.HandleFunc("/studies/{study}/series/{series}/instances/{instance}", s.handleWadoRetrieve).Methods("GET")

	// Clients of remote DICOMweb servers.
	r.HandleFunc("/servers", s.handleServerList).Methods("GET")
	r.HandleFunc("/servers/{name}/stow", s.handleStowClient).Methods("POST")
	r.HandleFunc("/servers/{name}/stow/ws", s.handleStowClientWebSocket).Methods("GET")
	r.HandleFunc("/servers/{name}/get", s.handleGet).Methods("POST")
	r.HandleFunc("/servers/{name}/retrieve", s.handleRetrieve).Methods("POST")

	// Legacy WADO-URI.
	router.HandleFunc("/wado", s.handleWadoURI).Methods("GET")

	return s
}

// UseTLS returns true if the cert & key file are specified.
func (s *Server) UseTLS() bool {
	return s.Domain != ""
}

// Scheme returns the URL scheme for the server.
func (s *Server) Scheme() string {
	if s.UseTLS() {
		return "https"
	}
	return "http"
}

// Port returns the TCP port for the running server.
// This is useful in tests where we allocate a random port by using ":0".
func (s *Server) Port() int {
	if s.ln == nil {
		return 0
	}
	return s.ln.Addr().(*net.TCPAddr).Port
}

// URL returns the local base URL of the running server.
func (s *Server) URL() string {
	scheme, port := s.Scheme(), s.Port()

	// Use localhost unless a domain is specified.
	domain := "localhost"
	if s.Domain != "" {
		domain = s.Domain
	}

	// Return without port if using standard ports.
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		return fmt.Sprintf("%s://%s", s.Scheme(), domain)
	}
	return fmt.Sprintf("%s://%s:%d", s.Scheme(), domain, s.Port())
}

// Open validates the server options and begins listening on the bind address.
func (s *Server) Open() (err error) {
	if s.Servers == nil {
		s.Servers = dicomweb.Servers{}
	}

	// Open a listener on our bind address.
	if s.Domain != "" {
		s.ln = autocert.NewListener(s.Domain)
	} else {
		if s.ln, err = net.Listen("tcp", s.Addr); err != nil {
			return err
		}
	}

	// Begin serving requests on the listener. We use Serve() instead of
	// ListenAndServe() because it allows us to check for listen errors (such
	// as trying to use an already open port) synchronously.
	go s.server.Serve(s.ln)

	return nil
}

// Close gracefully shuts down the server.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// ServeHTTP serves a request without a listener. Used by tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.server.Handler.ServeHTTP(w, r)
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	// Tag every log line of the request with its id.
	l := logger.Ctx(r.Context()).With().
		Str("request_id", uuid.NewString()).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Logger()
	r = r.WithContext(logger.WithLogger(r.Context(), &l))

	// Delegate remaining HTTP handling to the gorilla router.
	s.router.ServeHTTP(w, r)
}

// baseURL returns the URL under which the DICOMweb routes are reachable,
// ending with "/".
func (s *Server) baseURL(r *http.Request) string {
	if s.PublicURL != "" {
		return strings.TrimSuffix(s.PublicURL, "/") + "/dicom-web/"
	}

	scheme := r.URL.Scheme
	if scheme == "" {
		scheme = "http"
		if r.TLS != nil {
			scheme = "https"
		}
	}
	return scheme + "://" + r.Host + "/dicom-web/"
}

// trackMetrics is middleware for tracking the request count and timing per route.
func trackMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Obtain path template & start time of request.
		t := time.Now()
		tmpl := requestPathTemplate(r)

		// Delegate to next handler in middleware chain.
		next.ServeHTTP(w, r)

		// Track total time unless it is the WebSocket endpoint for progress.
		if tmpl != "" && !strings.HasSuffix(tmpl, "/ws") {
			requestCount.WithLabelValues(r.Method, tmpl).Inc()
			requestSeconds.WithLabelValues(r.Method, tmpl).Add(time.Since(t).Seconds())
		}
	})
}

// requestPathTemplate returns the route path template for r.
func requestPathTemplate(r *http.Request) string {
	route := mux.CurrentRoute(r)
	if route == nil {
		return ""
	}
	tmpl, _ := route.GetPathTemplate()
	return tmpl
}

// reportPanic is middleware for catching panics and reporting them.
func reportPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logger.Ctx(r.Context()).Error().Interface("panic", err).Msg("recovered from panic")
				w.WriteHeader(http.StatusInternalServerError)
				dicomweb.ReportPanic(err)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// handleVersion displays the deployed version.
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte(dicomweb.Version))
}

// handleCommit displays the deployed commit.
func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte(dicomweb.Commit))
}

// handleServerList handles the "GET /dicom-web/servers" route.
func (s *Server) handleServerList(w http.ResponseWriter, r *http.Request) {
	names := s.Servers.ServerNames()
	if names == nil {
		names = []string{}
	}
	WriteJSONResponse(w, names, http.StatusOK)
}

// ListenAndServeTLSRedirect runs an HTTP server on port 80 to redirect users
// to the TLS-enabled port 443 server.
func ListenAndServeTLSRedirect(domain string) error {
	return http.ListenAndServe(":80", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "https://"+domain, http.StatusFound)
	}))
}

// ListenAndServeDebug runs an HTTP server with /debug endpoints (e.g. pprof, vars).
func ListenAndServeDebug(addr string) error {
	h := http.NewServeMux()
	h.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, h)
}
