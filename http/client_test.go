package http_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dicomweb "gitlab.com/medical-research/dicomweb"
	"gitlab.com/medical-research/dicomweb/dicom"
	dicomhttp "gitlab.com/medical-research/dicomweb/http"
	"gitlab.com/medical-research/dicomweb/multipart"
	"gitlab.com/medical-research/dicomweb/negotiate"
)

func TestClient_Do(t *testing.T) {
	var got *http.Request
	var gotBody []byte
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/dicom+json")
		w.Header().Add("X-Multi", "a")
		w.Header().Add("X-Multi", "b")
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{}`))
	}))
	defer remote.Close()

	server := &dicomweb.Server{
		Name:        "remote",
		URL:         remote.URL + "/dicom-web",
		Username:    "alice",
		Password:    "secret",
		HTTPHeaders: map[string]string{"X-Server": "1", "X-Override": "server"},
	}
	resp, err := dicomhttp.NewClient(dicomhttp.DefaultTimeout).Do(context.Background(), server, &dicomweb.Request{
		Method: "POST",
		Path:   "studies",
		Header: map[string]string{"X-Override": "request", "Expect": ""},
		Query:  map[string]string{"a": "b c"},
		Body:   []byte("payload"),
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "application/dicom+json", resp.Header["Content-Type"])
	assert.Equal(t, "a, b", resp.Header["X-Multi"])
	assert.Equal(t, "{}", string(resp.Body))

	assert.Equal(t, "POST", got.Method)
	assert.Equal(t, "/dicom-web/studies", got.URL.Path)
	assert.Equal(t, "b c", got.URL.Query().Get("a"))
	assert.Equal(t, "1", got.Header.Get("X-Server"))
	assert.Equal(t, "request", got.Header.Get("X-Override"))
	assert.Empty(t, got.Header.Get("Expect"))
	assert.Equal(t, "payload", string(gotBody))
	user, pass, ok := got.BasicAuth()
	assert.True(t, ok)
	assert.Equal(t, "alice", user)
	assert.Equal(t, "secret", pass)
}

func TestClient_Do_Unreachable(t *testing.T) {
	remote := httptest.NewServer(http.NotFoundHandler())
	remote.Close()

	_, err := dicomhttp.NewClient(dicomhttp.DefaultTimeout).Do(context.Background(),
		&dicomweb.Server{Name: "gone", URL: remote.URL}, &dicomweb.Request{Method: "GET", Path: "studies"})
	assert.Equal(t, dicomweb.EPROTOCOL, dicomweb.ErrorCode(err))
}

// stowRemote acknowledges STOW-RS requests the way a conforming server
// does and records the number of instances received.
func stowRemote(t *testing.T, received *int) *httptest.Server {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/dicom-web/studies", r.URL.Path)
		assert.Equal(t, "application/dicom+json", r.Header.Get("Accept"))

		framing, err := negotiate.InboundFraming(r.Header.Get("Content-Type"))
		if !assert.NoError(t, err) {
			return
		}
		body, _ := io.ReadAll(r.Body)
		parts, err := multipart.Decode(body, framing.Boundary)
		if !assert.NoError(t, err) {
			return
		}
		*received += len(parts)

		items := make([]map[string]interface{}, len(parts))
		for i := range items {
			items[i] = map[string]interface{}{}
		}
		w.Header().Set("Content-Type", "application/dicom+json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"00081199": map[string]interface{}{"vr": "SQ", "Value": items},
		})
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestServer_StowClient(t *testing.T) {
	var received int
	remote := stowRemote(t, &received)

	ts := MustOpenServer(t)
	ts.Servers["remote"] = &dicomweb.Server{Name: "remote", URL: remote.URL + "/dicom-web/"}

	id, err := ts.Store.PutInstance(context.Background(), instance(t, "1.2.3", "1.2.3.1", "1.2.3.1.1"))
	require.NoError(t, err)

	resp, body := do(t, "POST", ts.URL+"/dicom-web/servers/remote/stow", "application/json",
		[]byte(`{"Resources":["`+id+`"]}`))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.JSONEq(t, `{}`, string(body))
	assert.Equal(t, 1, received)
}

func TestServer_StowClient_BridgeToBridge(t *testing.T) {
	remote := MustOpenServer(t)
	ts := MustOpenServer(t)
	ts.Servers["remote"] = &dicomweb.Server{Name: "remote", URL: remote.URL + "/dicom-web/"}

	for _, sop := range []string{"1.2.3.1.1", "1.2.3.1.2", "1.2.3.1.3"} {
		_, err := ts.Store.PutInstance(context.Background(), instance(t, "1.2.3", "1.2.3.1", sop))
		require.NoError(t, err)
	}

	resp, body := do(t, "POST", ts.URL+"/dicom-web/servers/remote/stow", "application/json",
		[]byte(`{"Resources":["`+dicom.ResourceID("1.2.3")+`"]}`))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	records, err := remote.Store.ListInstances(context.Background(), dicomweb.LevelStudy, dicom.ResourceID("1.2.3"))
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestServer_StowClient_Errors(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/dicom+json")
		w.Write([]byte(`{"00081199":{"vr":"SQ","Value":[]},"00081198":{"vr":"SQ","Value":[{}]}}`))
	}))
	defer failing.Close()

	ts := MustOpenServer(t)
	ts.Servers["failing"] = &dicomweb.Server{Name: "failing", URL: failing.URL}
	id, err := ts.Store.PutInstance(context.Background(), instance(t, "1.2.3", "1.2.3.1", "1.2.3.1.1"))
	require.NoError(t, err)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"NotJSON", `Resources`, http.StatusBadRequest},
		{"NoResources", `{}`, http.StatusBadRequest},
		{"UnknownResource", `{"Resources":["nope"]}`, http.StatusNotFound},
		{"RemoteFailure", `{"Resources":["` + id + `"]}`, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, "POST", ts.URL+"/dicom-web/servers/failing/stow", "application/json", []byte(tt.body))
			assert.Equal(t, tt.status, resp.StatusCode, string(body))
		})
	}
}

func TestServer_Retrieve(t *testing.T) {
	a := instance(t, "1.2.3", "1.2.3.1", "1.2.3.1.1")
	b := instance(t, "1.2.3", "1.2.3.1", "1.2.3.1.2")
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/studies/1.2.3", r.URL.Path)
		w.Header().Set("Content-Type", `multipart/related; type="application/dicom"; boundary="B"`)
		w.Write(multipart.EncodeAll([]dicomweb.Part{
			{ContentType: "application/dicom", Data: a},
			{ContentType: "application/dicom", Data: b},
		}, "B"))
	}))
	defer remote.Close()

	ts := MustOpenServer(t)
	ts.Servers["remote"] = &dicomweb.Server{Name: "remote", URL: remote.URL}

	resp, body := do(t, "POST", ts.URL+"/dicom-web/servers/remote/retrieve", "application/json",
		[]byte(`{"Resources":[{"Study":"1.2.3"}]}`))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var out dicomhttp.RetrieveResponse
	require.NoError(t, json.Unmarshal(body, &out))
	want := []string{dicom.ResourceID("1.2.3.1.1"), dicom.ResourceID("1.2.3.1.2")}
	sort.Strings(want)
	assert.Equal(t, want, out.Instances)

	stored, err := ts.Store.GetInstance(context.Background(), dicom.ResourceID("1.2.3.1.2"))
	require.NoError(t, err)
	assert.Equal(t, b, stored)
}

func TestServer_Retrieve_BridgeToBridge(t *testing.T) {
	remote := MustOpenServer(t)
	for _, sop := range []string{"1.2.3.1.1", "1.2.3.2.1"} {
		series := sop[:len(sop)-2]
		_, err := remote.Store.PutInstance(context.Background(), instance(t, "1.2.3", series, sop))
		require.NoError(t, err)
	}

	ts := MustOpenServer(t)
	ts.Servers["remote"] = &dicomweb.Server{Name: "remote", URL: remote.URL + "/dicom-web/"}

	resp, body := do(t, "POST", ts.URL+"/dicom-web/servers/remote/retrieve", "application/json",
		[]byte(`{"Resources":[{"Study":"1.2.3","Series":"1.2.3.2"},{"Study":"1.2.3"}]}`))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var out dicomhttp.RetrieveResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Len(t, out.Instances, 2)
}

func TestServer_Retrieve_Errors(t *testing.T) {
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/dicom+json")
		w.Write([]byte(`[]`))
	}))
	defer remote.Close()

	ts := MustOpenServer(t)
	ts.Servers["remote"] = &dicomweb.Server{Name: "remote", URL: remote.URL}

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"NoResources", `{}`, http.StatusBadRequest},
		{"NoStudy", `{"Resources":[{"Series":"1"}]}`, http.StatusBadRequest},
		{"InstanceWithoutSeries", `{"Resources":[{"Study":"1","Instance":"2"}]}`, http.StatusBadRequest},
		{"NotMultipart", `{"Resources":[{"Study":"1"}]}`, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, "POST", ts.URL+"/dicom-web/servers/remote/retrieve", "application/json", []byte(tt.body))
			assert.Equal(t, tt.status, resp.StatusCode, string(body))
		})
	}
}

func TestServer_Get(t *testing.T) {
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/studies":
			assert.Equal(t, "P1", r.URL.Query().Get("PatientID"))
			assert.Equal(t, "application/dicom+json", r.Header.Get("Accept"))
			w.Header().Set("Content-Type", "application/dicom+json")
			w.Header().Set("X-Total", "0")
			w.Write([]byte(`[]`))
		default:
			w.Header()["Content-Type"] = nil
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer remote.Close()

	ts := MustOpenServer(t)
	ts.Servers["remote"] = &dicomweb.Server{Name: "remote", URL: remote.URL}

	resp, body := do(t, "POST", ts.URL+"/dicom-web/servers/remote/get", "application/json",
		[]byte(`{"Uri":"studies","HttpHeaders":{"Accept":"application/dicom+json"},"Arguments":{"PatientID":"P1"}}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/dicom+json", resp.Header.Get("Content-Type"))
	assert.Equal(t, "0", resp.Header.Get("X-Total"))
	assert.Equal(t, "[]", string(body))

	resp, _ = do(t, "POST", ts.URL+"/dicom-web/servers/remote/get", "application/json", []byte(`{"Uri":"elsewhere"}`))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "application/octet-stream", resp.Header.Get("Content-Type"))
}

func TestServer_StowClientWebSocket(t *testing.T) {
	var received int
	remote := stowRemote(t, &received)

	ts := MustOpenServer(t)
	ts.Servers["remote"] = &dicomweb.Server{Name: "remote", URL: remote.URL + "/dicom-web"}

	var ids []string
	for i, sop := range []string{"1.2.3.1.1", "1.2.3.1.2", "1.2.3.1.3", "1.2.3.1.4", "1.2.3.1.5",
		"1.2.3.1.6", "1.2.3.1.7", "1.2.3.1.8", "1.2.3.1.9", "1.2.3.1.10", "1.2.3.1.11"} {
		id, err := ts.Store.PutInstance(context.Background(), instance(t, "1.2.3", "1.2.3.1", sop))
		require.NoError(t, err, i)
		ids = append(ids, id)
	}

	conn, _, err := websocket.DefaultDialer.Dial("ws"+ts.URL[len("http"):]+"/dicom-web/servers/remote/stow/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(&dicomweb.StowClientRequest{Resources: ids}))

	var progress []dicomweb.FlushProgress
	for {
		_, p, err := conn.ReadMessage()
		require.NoError(t, err)

		var status dicomhttp.StatusMessage
		require.NoError(t, json.Unmarshal(p, &status))
		if status.Status != "" || status.Error != "" {
			assert.Equal(t, "success", status.Status)
			assert.Empty(t, status.Error)
			break
		}

		var msg dicomweb.FlushProgress
		require.NoError(t, json.Unmarshal(p, &msg))
		progress = append(progress, msg)
	}

	assert.Equal(t, []dicomweb.FlushProgress{{Flushed: 10, Sent: 10, Total: 11}, {Flushed: 1, Sent: 11, Total: 11}}, progress)
	assert.Equal(t, 11, received)
}

func TestServer_StowClientWebSocket_Error(t *testing.T) {
	ts := MustOpenServer(t)
	ts.Servers["remote"] = &dicomweb.Server{Name: "remote", URL: "http://127.0.0.1:1/"}

	conn, _, err := websocket.DefaultDialer.Dial("ws"+ts.URL[len("http"):]+"/dicom-web/servers/remote/stow/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"Resources":["nope"]}`)))

	var status dicomhttp.StatusMessage
	require.NoError(t, conn.ReadJSON(&status))
	assert.Empty(t, status.Status)
	assert.Contains(t, status.Error, "unknown resource")
}

func TestServer_StowClientWebSocket_ConcurrentOrigins(t *testing.T) {
	ts := MustOpenServer(t)
	ts.Servers["remote"] = &dicomweb.Server{Name: "remote", URL: "http://127.0.0.1:1/"}
	url := "ws" + ts.URL[len("http"):] + "/dicom-web/servers/remote/stow/ws"

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			header := http.Header{"Origin": []string{fmt.Sprintf("https://ui%d.example.org", i)}}
			conn, _, err := websocket.DefaultDialer.Dial(url, header)
			if err != nil {
				errs <- err
				return
			}
			defer conn.Close()

			if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"Resources":["nope"]}`)); err != nil {
				errs <- err
				return
			}
			var status dicomhttp.StatusMessage
			if err := conn.ReadJSON(&status); err != nil {
				errs <- err
				return
			}
			if status.Error == "" {
				errs <- fmt.Errorf("expected an error status, got %+v", status)
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}
