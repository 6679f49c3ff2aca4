package http

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	dicomweb "gitlab.com/medical-research/dicomweb"
	"gitlab.com/medical-research/dicomweb/logger"
)

// DefaultTimeout bounds a whole request to a remote server, body included.
const DefaultTimeout = 60 * time.Second

// Ensure client implements interface.
var _ dicomweb.Transport = (*Client)(nil)

// Client sends requests to remote DICOMweb servers over plain HTTP(S).
type Client struct {
	HTTPClient *http.Client
}

// NewClient returns a new instance of Client.
func NewClient(timeout time.Duration) *Client {
	return &Client{HTTPClient: &http.Client{Timeout: timeout}}
}

// Do sends req to server. The path of req is resolved against the server
// URL. Server headers are sent first and request headers override them;
// a header with an empty value is not sent. Any HTTP status is returned as
// a Response, only transport failures are errors.
func (c *Client) Do(ctx context.Context, server *dicomweb.Server, req *dicomweb.Request) (*dicomweb.Response, error) {
	u, err := requestURL(server.URL, req.Path, req.Query)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	r, err := http.NewRequestWithContext(ctx, req.Method, u, body)
	if err != nil {
		return nil, dicomweb.Errorf(dicomweb.EINVALID, "invalid request to DICOMweb server %s: %v", server.Name, err)
	}

	for _, h := range []map[string]string{server.HTTPHeaders, req.Header} {
		for k, v := range h {
			if v == "" {
				r.Header.Del(k)
				continue
			}
			r.Header.Set(k, v)
		}
	}
	if server.Username != "" || server.Password != "" {
		r.SetBasicAuth(server.Username, server.Password)
	}

	logger.Ctx(ctx).Debug().Str("method", req.Method).Str("url", u).Msg("sending request to DICOMweb server")

	resp, err := c.HTTPClient.Do(r)
	if err != nil {
		return nil, dicomweb.Errorf(dicomweb.EPROTOCOL, "cannot reach DICOMweb server %s: %v", server.Name, err)
	}
	defer resp.Body.Close()

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, dicomweb.Errorf(dicomweb.EPROTOCOL, "cannot read answer of DICOMweb server %s: %v", server.Name, err)
	}

	header := make(map[string]string, len(resp.Header))
	for k, v := range resp.Header {
		header[k] = strings.Join(v, ", ")
	}
	return &dicomweb.Response{StatusCode: resp.StatusCode, Header: header, Body: buf}, nil
}

// requestURL joins base and path and merges query into the result.
func requestURL(base, path string, query map[string]string) (string, error) {
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}

	u, err := url.Parse(base + strings.TrimPrefix(path, "/"))
	if err != nil {
		return "", dicomweb.Errorf(dicomweb.EINVALID, "invalid DICOMweb URL: %v", err)
	}
	if len(query) > 0 {
		q := u.Query()
		for k, v := range query {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
