package stow_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dicomweb "gitlab.com/medical-research/dicomweb"
	"gitlab.com/medical-research/dicomweb/store"
	"gitlab.com/medical-research/dicomweb/stow"
)

func TestBatch_FlushCount(t *testing.T) {
	tests := []struct {
		name      string
		instances int
		config    stow.Config
		sizes     []int
	}{
		{"Empty", 0, stow.Config{MaxInstances: 10}, nil},
		{"Single", 1, stow.Config{MaxInstances: 10}, []int{1}},
		{"Exact", 10, stow.Config{MaxInstances: 10}, []int{10}},
		{"Remainder", 25, stow.Config{MaxInstances: 10}, []int{10, 10, 5}},
		{"Unlimited", 25, stow.Config{}, []int{25}},
		{"SizeTrigger", 3, stow.Config{MaxBytes: 1}, []int{1, 1, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s := store.NewMemory()
			ids := seed(t, s, tt.instances)
			tr := &fakeTransport{}

			b := stow.NewBatch(s, tr, remote, tt.config, nil, nil)
			for _, id := range ids {
				require.NoError(t, b.Add(ctx, id))
			}
			require.NoError(t, b.Close(ctx))

			var sizes []int
			for _, parts := range tr.parts {
				sizes = append(sizes, len(parts))
			}
			assert.Equal(t, tt.sizes, sizes)
			assert.Equal(t, len(tt.sizes), b.Flushes())
			assert.Equal(t, tt.instances, b.Sent())
			assert.Zero(t, b.Len())
		})
	}
}

func TestBatch_Request(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	ids := seed(t, s, 2)
	tr := &fakeTransport{}

	header := map[string]string{"Authorization": "Bearer x", "Content-Type": "text/plain"}
	query := map[string]string{"priority": "high"}
	b := stow.NewBatch(s, tr, remote, stow.DefaultConfig, header, query)
	b.NewBoundary = func() (string, error) { return "BOUNDARY", nil }

	for _, id := range ids {
		require.NoError(t, b.Add(ctx, id))
	}
	require.NoError(t, b.Close(ctx))

	require.Len(t, tr.requests, 1)
	req := tr.requests[0]
	assert.Equal(t, "POST", req.Method)
	assert.Equal(t, "studies", req.Path)
	assert.Equal(t, query, req.Query)
	assert.Equal(t, "application/dicom+json", req.Header["Accept"])
	assert.Equal(t, "", req.Header["Expect"])
	assert.Equal(t, "Bearer x", req.Header["Authorization"])
	assert.Equal(t, "multipart/related; type=application/dicom; boundary=BOUNDARY", req.Header["Content-Type"])
	assert.True(t, strings.HasSuffix(string(req.Body), "\r\n--BOUNDARY--\r\n"))

	for i, part := range tr.parts[0] {
		assert.Equal(t, "application/dicom", part.ContentType)
		data, err := s.GetInstance(ctx, ids[i])
		require.NoError(t, err)
		assert.Equal(t, data, part.Data)
	}
}

func TestBatch_FreshBoundaryPerFlush(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	ids := seed(t, s, 3)
	tr := &fakeTransport{}

	b := stow.NewBatch(s, tr, remote, stow.Config{MaxInstances: 1}, nil, nil)
	for _, id := range ids {
		require.NoError(t, b.Add(ctx, id))
	}

	seen := map[string]bool{}
	for _, req := range tr.requests {
		seen[req.Header["Content-Type"]] = true
	}
	assert.Len(t, seen, 3)
}

func TestBatch_SkipsMissingInstance(t *testing.T) {
	ctx := context.Background()
	tr := &fakeTransport{}

	b := stow.NewBatch(store.NewMemory(), tr, remote, stow.DefaultConfig, nil, nil)
	require.NoError(t, b.Add(ctx, "gone"))
	require.NoError(t, b.Close(ctx))
	assert.Empty(t, tr.requests)
}

func TestBatch_Progress(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	ids := seed(t, s, 3)

	var got []dicomweb.FlushProgress
	b := stow.NewBatch(s, &fakeTransport{}, remote, stow.Config{MaxInstances: 2}, nil, nil)
	b.Total = len(ids)
	b.Progress = func(p dicomweb.FlushProgress) { got = append(got, p) }
	for _, id := range ids {
		require.NoError(t, b.Add(ctx, id))
	}
	require.NoError(t, b.Close(ctx))

	assert.Equal(t, []dicomweb.FlushProgress{
		{Flushed: 2, Sent: 2, Total: 3},
		{Flushed: 1, Sent: 3, Total: 3},
	}, got)
}

func TestBatch_Errors(t *testing.T) {
	tests := []struct {
		name     string
		tr       *fakeTransport
		boundary func() (string, error)
		code     string
	}{
		{"HTTPStatus", &fakeTransport{status: 500}, nil, dicomweb.EPROTOCOL},
		{"ShortResponse", &fakeTransport{body: acknowledge(0)}, nil, dicomweb.EPROTOCOL},
		{"Transport", &fakeTransport{err: dicomweb.Errorf(dicomweb.EPROTOCOL, "connection refused")}, nil, dicomweb.EPROTOCOL},
		{"Boundary", &fakeTransport{}, func() (string, error) { return "", dicomweb.Errorf(dicomweb.ENOMEM, "no entropy") }, dicomweb.ENOMEM},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s := store.NewMemory()
			ids := seed(t, s, 1)

			b := stow.NewBatch(s, tt.tr, remote, stow.DefaultConfig, nil, nil)
			if tt.boundary != nil {
				b.NewBoundary = tt.boundary
			}
			err := b.Add(ctx, ids[0])
			if err == nil {
				err = b.Close(ctx)
			}
			require.Error(t, err)
			assert.Equal(t, tt.code, dicomweb.ErrorCode(err))
		})
	}
}

func TestParseMaxSize(t *testing.T) {
	n, err := stow.ParseMaxSize("10MiB")
	require.NoError(t, err)
	assert.Equal(t, int64(10<<20), n)

	n, err = stow.ParseMaxSize("0")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = stow.ParseMaxSize("lots")
	assert.Equal(t, dicomweb.EINVALID, dicomweb.ErrorCode(err))
}
