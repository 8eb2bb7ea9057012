package crosstap

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/crosstap/crosstap/internal/capture"
	"github.com/crosstap/crosstap/internal/store"
)

// maxRecordedBody bounds how much body text is captured per exchange.
const maxRecordedBody = 10 << 20

// Recorder records matching client HTTP exchanges into a capture database.
// Thread-safe for concurrent requests.
type Recorder struct {
	store *store.Store
	addon *capture.Addon
}

// NewRecorder opens (or creates) the capture database at path and records
// exchanges with the given target domains.
func NewRecorder(path string, targets []string) (*Recorder, error) {
	s, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("crosstap: open capture database: %w", err)
	}
	return &Recorder{
		store: s,
		addon: capture.NewAddon(s, targets, capture.WithSource("sdk")),
	}, nil
}

// Close releases the underlying database.
func (r *Recorder) Close() error { return r.store.Close() }

// Transport wraps next (http.DefaultTransport when nil) so every exchange
// through it is offered to the recorder. Recording is best-effort and never
// fails the request.
func (r *Recorder) Transport(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return &recordingTransport{recorder: r, next: next}
}

type recordingTransport struct {
	recorder *Recorder
	next     http.RoundTripper
}

func (t *recordingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// RoundTrippers must not modify the caller's request beyond consuming
	// the body; all mutation happens on a clone.
	out := req.Clone(req.Context())
	reqBody, restoreReq := siphonBody(out.Body)
	out.Body = restoreReq

	flow := &capture.Flow{
		Method:         out.Method,
		URL:            out.URL.String(),
		Host:           out.URL.Hostname(),
		RequestHeaders: flatten(out.Header),
		RequestBody:    reqBody,
	}
	t.recorder.addon.OnRequest(out.Context(), flow)

	// Marker header set by the addon goes out with the real request.
	if v, ok := flow.RequestHeaders[capture.MarkerHeader]; ok {
		out.Header.Set(capture.MarkerHeader, v)
	}

	resp, err := t.next.RoundTrip(out)
	if err != nil {
		return resp, err
	}

	respBody, restoreResp := siphonBody(resp.Body)
	resp.Body = restoreResp

	flow.StatusCode = resp.StatusCode
	flow.ResponseHeaders = flatten(resp.Header)
	flow.ResponseBody = respBody
	flow.ContentType = resp.Header.Get("Content-Type")
	t.recorder.addon.OnResponse(req.Context(), flow)

	return resp, nil
}

// siphonBody reads a body up to the capture limit and hands back a
// replacement reader carrying the same bytes.
func siphonBody(body io.ReadCloser) (string, io.ReadCloser) {
	if body == nil {
		return "", nil
	}
	data, _ := io.ReadAll(io.LimitReader(body, maxRecordedBody))
	rest, _ := io.ReadAll(body)
	_ = body.Close()
	return string(data), io.NopCloser(bytes.NewReader(append(data, rest...)))
}

func flatten(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vv := range h {
		out[k] = strings.Join(vv, ", ")
	}
	return out
}
