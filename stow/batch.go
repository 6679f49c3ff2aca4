package stow

import (
	"context"

	"github.com/dustin/go-humanize"

	dicomweb "gitlab.com/medical-research/dicomweb"
	"gitlab.com/medical-research/dicomweb/logger"
	"gitlab.com/medical-research/dicomweb/multipart"
)

// Batch accumulates instances into a single multipart/related body and
// POSTs it to the "studies" endpoint of a remote server whenever one of the
// configured limits is reached.
type Batch struct {
	store     dicomweb.InstanceStore
	transport dicomweb.Transport
	server    *dicomweb.Server
	header    map[string]string
	query     map[string]string
	config    Config

	// NewBoundary returns the boundary of the next batch.
	NewBoundary func() (string, error)

	// Progress, if set, is called after every successful flush.
	Progress func(dicomweb.FlushProgress)

	// Total is the number of instances the caller intends to add. It is only
	// reported through Progress.
	Total int

	body     []byte
	boundary string
	count    int
	sent     int
	flushes  int
}

// NewBatch returns an empty batch targeting server.
func NewBatch(store dicomweb.InstanceStore, transport dicomweb.Transport, server *dicomweb.Server, config Config, header, query map[string]string) *Batch {
	return &Batch{
		store:       store,
		transport:   transport,
		server:      server,
		header:      header,
		query:       query,
		config:      config,
		NewBoundary: multipart.NewBoundary,
	}
}

// Len returns the number of instances waiting to be flushed.
func (b *Batch) Len() int { return b.count }

// Size returns the size of the pending body.
func (b *Batch) Size() int { return len(b.body) }

// Sent returns the number of instances accepted by the remote so far.
func (b *Batch) Sent() int { return b.sent }

// Flushes returns the number of requests sent so far.
func (b *Batch) Flushes() int { return b.flushes }

// Add reads instance id from the store and appends it to the batch. An
// instance that vanished from the store is skipped.
func (b *Batch) Add(ctx context.Context, id string) error {
	data, err := b.store.GetInstance(ctx, id)
	if dicomweb.ErrorCode(err) == dicomweb.ENOTFOUND {
		logger.Ctx(ctx).Warn().Str("instance", id).Msg("instance disappeared before STOW-RS, skipping")
		return nil
	} else if err != nil {
		return err
	}

	if b.count == 0 {
		if b.boundary, err = b.NewBoundary(); err != nil {
			return err
		}
		b.body = b.body[:0]
	}

	b.body = multipart.AppendPart(b.body, dicomweb.MediaTypeDICOM, data, b.boundary)
	b.count++

	return b.MaybeFlush(ctx, false)
}

// MaybeFlush sends the pending instances if force is set or a limit has
// been reached. An empty batch is never sent.
func (b *Batch) MaybeFlush(ctx context.Context, force bool) error {
	if b.count == 0 {
		return nil
	}

	full := (b.config.MaxInstances != 0 && b.count >= b.config.MaxInstances) ||
		(b.config.MaxBytes != 0 && int64(len(b.body)) >= b.config.MaxBytes)
	if !force && !full {
		return nil
	}
	return b.flush(ctx)
}

// Close sends whatever is left in the batch.
func (b *Batch) Close(ctx context.Context) error {
	return b.MaybeFlush(ctx, true)
}

func (b *Batch) flush(ctx context.Context) error {
	body := multipart.AppendClose(b.body, b.boundary)

	header := map[string]string{
		"Accept": "application/dicom+json",
		"Expect": "",
	}
	for k, v := range b.header {
		header[k] = v
	}
	header["Content-Type"] = "multipart/related; type=" + dicomweb.MediaTypeDICOM + "; boundary=" + b.boundary

	logger.Ctx(ctx).Info().
		Str("server", b.server.Name).
		Int("instances", b.count).
		Str("size", humanize.IBytes(uint64(len(body)))).
		Msg("sending STOW-RS request")

	resp, err := b.transport.Do(ctx, b.server, &dicomweb.Request{
		Method: "POST",
		Path:   "studies",
		Header: header,
		Query:  b.query,
		Body:   body,
	})
	if err != nil {
		return err
	} else if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return dicomweb.Errorf(dicomweb.EPROTOCOL, "STOW-RS request to %s failed with HTTP status %d", b.server.URL, resp.StatusCode)
	}

	if err := CheckResponse(resp.Body, b.count, b.server.URL); err != nil {
		return err
	}

	flushCount.Inc()
	instancesSent.Add(float64(b.count))
	bytesSent.Add(float64(len(body)))

	b.sent += b.count
	b.flushes++
	if b.Progress != nil {
		b.Progress(dicomweb.FlushProgress{Flushed: b.count, Sent: b.sent, Total: b.Total})
	}

	b.body = b.body[:0]
	b.boundary = ""
	b.count = 0
	return nil
}
