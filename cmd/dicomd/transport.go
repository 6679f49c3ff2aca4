package main

import (
	"context"

	dicomweb "gitlab.com/medical-research/dicomweb"
)

// Ensure type implements interface.
var _ dicomweb.Transport = (Transports)(nil)

// Transports dispatches each request to the transport named by the
// server it is sent to.
type Transports map[string]dicomweb.Transport

// Do sends req through the transport of server.
func (t Transports) Do(ctx context.Context, server *dicomweb.Server, req *dicomweb.Request) (*dicomweb.Response, error) {
	name := server.Transport
	if name == "" {
		name = dicomweb.TransportHTTP
	}

	transport, ok := t[name]
	if !ok {
		return nil, dicomweb.Errorf(dicomweb.ENOTIMPLEMENTED, "transport %q not available for server %s", name, server.Name)
	}
	return transport.Do(ctx, server, req)
}
