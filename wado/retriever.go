package wado

import (
	"context"
	"sort"
	"strings"

	dicomweb "gitlab.com/medical-research/dicomweb"
	"gitlab.com/medical-research/dicomweb/logger"
	"gitlab.com/medical-research/dicomweb/multipart"
	"gitlab.com/medical-research/dicomweb/negotiate"
)

// Ensure service implements interface.
var _ dicomweb.RetrieveService = (*Retriever)(nil)

// Retriever pulls resources from remote WADO-RS servers.
type Retriever struct {
	store     dicomweb.InstanceStore
	transport dicomweb.Transport
}

// NewRetriever returns a retriever storing into store.
func NewRetriever(store dicomweb.InstanceStore, transport dicomweb.Transport) *Retriever {
	return &Retriever{store: store, transport: transport}
}

// Retrieve downloads every requested resource and stores its instances.
// The ids of the stored instances are returned sorted, without duplicates.
func (r *Retriever) Retrieve(ctx context.Context, server *dicomweb.Server, req *dicomweb.RetrieveRequest) ([]string, error) {
	for i := range req.Resources {
		if err := req.Resources[i].Validate(); err != nil {
			return nil, err
		}
	}

	ids := make(map[string]struct{})
	for i := range req.Resources {
		if err := r.retrieve(ctx, server, &req.Resources[i], req, ids); err != nil {
			return nil, err
		}
	}

	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (r *Retriever) retrieve(ctx context.Context, server *dicomweb.Server, target *dicomweb.RetrieveTarget, req *dicomweb.RetrieveRequest, ids map[string]struct{}) error {
	path := target.Path()

	header := map[string]string{"Accept": AcceptMultipartDICOM}
	for k, v := range req.HTTPHeaders {
		header[k] = v
	}

	resp, err := r.transport.Do(ctx, server, &dicomweb.Request{
		Method: "GET",
		Path:   path,
		Header: header,
		Query:  req.Arguments,
	})
	if err != nil {
		return err
	} else if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return dicomweb.Errorf(dicomweb.EPROTOCOL, "WADO-RS request to %s%s failed with HTTP status %d", server.URL, path, resp.StatusCode)
	}

	contentType, _ := resp.HeaderValue("Content-Type")
	framing, err := negotiate.ResponseFraming(contentType)
	if err != nil {
		return err
	}
	parts, err := multipart.Decode(resp.Body, framing.Boundary)
	if err != nil {
		return err
	}

	for i := range parts {
		if !negotiate.IsDICOM(parts[i].ContentType) {
			return dicomweb.Errorf(dicomweb.EPROTOCOL, "the remote WADO-RS server answers with a part of type %q instead of %s", parts[i].ContentType, dicomweb.MediaTypeDICOM)
		}
	}

	for i := range parts {
		id, err := r.store.PutInstance(ctx, parts[i].Data)
		if err != nil {
			return err
		}
		ids[id] = struct{}{}
		retrievedCount.Inc()
	}

	logger.Ctx(ctx).Info().
		Str("server", server.Name).
		Str("path", path).
		Int("instances", len(parts)).
		Msg("retrieved resource using WADO-RS")
	return nil
}

// Proxy forwards a GET to server and returns its answer unchanged, except
// for the Transfer-Encoding header which is dropped. A missing Content-Type
// is reported as application/octet-stream.
func (r *Retriever) Proxy(ctx context.Context, server *dicomweb.Server, req *dicomweb.ProxyRequest) (*dicomweb.Response, error) {
	if req.URI == "" {
		return nil, dicomweb.Errorf(dicomweb.EINVALID, "missing Uri")
	}

	resp, err := r.transport.Do(ctx, server, &dicomweb.Request{
		Method: "GET",
		Path:   req.URI,
		Header: req.HTTPHeaders,
		Query:  req.Arguments,
	})
	if err != nil {
		return nil, err
	}

	header := make(map[string]string, len(resp.Header)+1)
	for k, v := range resp.Header {
		if strings.EqualFold(k, "Transfer-Encoding") {
			continue
		}
		header[k] = v
	}
	out := &dicomweb.Response{StatusCode: resp.StatusCode, Header: header, Body: resp.Body}
	if ct, _ := out.HeaderValue("Content-Type"); ct == "" {
		for k := range header {
			if strings.EqualFold(k, "Content-Type") {
				delete(header, k)
			}
		}
		header["Content-Type"] = "application/octet-stream"
	}
	return out, nil
}
