package stow

import (
	"context"

	dicomweb "gitlab.com/medical-research/dicomweb"
	"gitlab.com/medical-research/dicomweb/logger"
	"gitlab.com/medical-research/dicomweb/multipart"
	"gitlab.com/medical-research/dicomweb/resource"
)

// Ensure service implements interface.
var _ dicomweb.StowClientService = (*Client)(nil)

// Client sends locally stored resources to remote STOW-RS servers.
type Client struct {
	store     dicomweb.InstanceStore
	resolver  *resource.Resolver
	transport dicomweb.Transport

	Config Config

	// NewBoundary overrides the boundary generator of every batch.
	NewBoundary func() (string, error)
}

// NewClient returns a client reading instances from store and talking to
// remote servers through transport.
func NewClient(store dicomweb.InstanceStore, transport dicomweb.Transport) *Client {
	return &Client{
		store:       store,
		resolver:    resource.NewResolver(store),
		transport:   transport,
		Config:      DefaultConfig,
		NewBoundary: multipart.NewBoundary,
	}
}

// SendResources expands every requested resource into its instances and
// pushes them to server in batches bounded by c.Config.
func (c *Client) SendResources(ctx context.Context, server *dicomweb.Server, req *dicomweb.StowClientRequest) error {
	ids, err := c.resolver.ExpandAll(ctx, req.Resources)
	if err != nil {
		return err
	}

	logger.Ctx(ctx).Info().
		Str("server", server.Name).
		Str("url", server.URL).
		Int("instances", len(ids)).
		Msg("sending instances using STOW-RS")

	batch := NewBatch(c.store, c.transport, server, c.Config, req.HTTPHeaders, req.Arguments)
	batch.NewBoundary = c.NewBoundary
	batch.Progress = req.Progress
	batch.Total = len(ids)

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := batch.Add(ctx, id); err != nil {
			return err
		}
	}
	if err := batch.Close(ctx); err != nil {
		return err
	}

	logger.Ctx(ctx).Info().
		Str("server", server.Name).
		Int("sent", batch.Sent()).
		Int("requests", batch.Flushes()).
		Msg("STOW-RS transfer complete")
	return nil
}
