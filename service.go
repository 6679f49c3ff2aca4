package dicomweb

import "context"

// MediaTypeDICOM is the content type of a DICOM part.
const MediaTypeDICOM = "application/dicom"

// Part is one section of a multipart/related message.
type Part struct {
	ContentType string
	Data        []byte
}

// Len returns the payload size of the part.
func (p *Part) Len() int { return len(p.Data) }

// StowClientRequest is the body of a STOW-RS client trigger.
type StowClientRequest struct {
	Resources   []string          `json:"Resources"`
	HTTPHeaders map[string]string `json:"HttpHeaders,omitempty"`
	Arguments   map[string]string `json:"Arguments,omitempty"`

	// Progress, if set, is called after every successful flush.
	Progress func(FlushProgress) `json:"-"`
}

// FlushProgress reports one completed STOW-RS flush.
type FlushProgress struct {
	// Instances accepted by the remote in this flush.
	Flushed int `json:"flushed"`

	// Instances accepted so far by the whole request.
	Sent int `json:"sent"`

	// Instances the request resolved to.
	Total int `json:"total"`
}

// StowClientService pushes locally stored resources to a remote server.
type StowClientService interface {
	SendResources(ctx context.Context, server *Server, req *StowClientRequest) error
}

// StowServerRequest is an inbound STOW-RS store request.
type StowServerRequest struct {
	Parts []Part

	// Optional study restriction taken from the request path.
	ExpectedStudy string

	// Base URL used to build WADO-RS retrieve URLs, ending in "/".
	BaseURL string
}

// StowServerService stores the parts of an inbound STOW-RS request.
type StowServerService interface {
	StoreInstances(ctx context.Context, req *StowServerRequest) (*StoreResult, error)
}

// RetrieveRequest is the body of a WADO-RS retrieve client call.
type RetrieveRequest struct {
	Resources   []RetrieveTarget  `json:"Resources"`
	HTTPHeaders map[string]string `json:"HttpHeaders,omitempty"`
	Arguments   map[string]string `json:"Arguments,omitempty"`
}

// ProxyRequest is the body of a GET passthrough to a remote server.
type ProxyRequest struct {
	URI         string            `json:"Uri"`
	HTTPHeaders map[string]string `json:"HttpHeaders,omitempty"`
	Arguments   map[string]string `json:"Arguments,omitempty"`
}

// RetrieveService fetches resources from remote WADO-RS servers.
type RetrieveService interface {
	// Retrieves and stores every requested resource and returns the sorted,
	// deduplicated ids of the stored instances.
	Retrieve(ctx context.Context, server *Server, req *RetrieveRequest) ([]string, error)

	// Forwards a single GET and returns the remote answer as is.
	Proxy(ctx context.Context, server *Server, req *ProxyRequest) (*Response, error)
}

// ExportService serves locally stored instances over WADO.
type ExportService interface {
	// Renders every instance below target as one multipart/related message.
	ExportMultipart(ctx context.Context, target *RetrieveTarget) (contentType string, body []byte, err error)

	// Returns a single instance after checking it belongs to the optional
	// series and study.
	ExportInstance(ctx context.Context, target *RetrieveTarget) ([]byte, error)
}
