package stow_test

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	dicomweb "gitlab.com/medical-research/dicomweb"
	"gitlab.com/medical-research/dicomweb/internal/dicomtest"
	"gitlab.com/medical-research/dicomweb/multipart"
	"gitlab.com/medical-research/dicomweb/negotiate"
	"gitlab.com/medical-research/dicomweb/store"
)

// fakeTransport answers STOW-RS requests by acknowledging every part it
// received, unless status or body are overridden.
type fakeTransport struct {
	requests []*dicomweb.Request
	parts    [][]dicomweb.Part
	status   int
	body     string
	err      error
}

func (f *fakeTransport) Do(ctx context.Context, server *dicomweb.Server, req *dicomweb.Request) (*dicomweb.Response, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}

	framing, err := negotiate.InboundFraming(req.Header["Content-Type"])
	if err != nil {
		return nil, err
	}
	parts, err := multipart.Decode(req.Body, framing.Boundary)
	if err != nil {
		return nil, err
	}
	f.parts = append(f.parts, parts)

	resp := &dicomweb.Response{StatusCode: 200, Body: []byte(acknowledge(len(parts)))}
	if f.status != 0 {
		resp.StatusCode = f.status
	}
	if f.body != "" {
		resp.Body = []byte(f.body)
	}
	return resp, nil
}

func acknowledge(n int) string {
	items := make([]string, n)
	for i := range items {
		items[i] = "{}"
	}
	return `{"00081199":{"vr":"SQ","Value":[` + strings.Join(items, ",") + `]}}`
}

// seed stores n instances of a single series and returns their ids.
func seed(t *testing.T, s *store.Store, n int) []string {
	t.Helper()
	var ids []string
	for i := 0; i < n; i++ {
		id, err := s.PutInstance(context.Background(), dicomtest.Instance(t, dicomtest.UIDs{
			Patient: "P1",
			Study:   "1.2.3",
			Series:  "1.2.3.4",
			SOP:     fmt.Sprintf("1.2.3.4.%d", i+1),
		}))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

var remote = &dicomweb.Server{Name: "remote", URL: "http://remote/dicom-web/"}
