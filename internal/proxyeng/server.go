// Package proxyeng is the traffic interception glue: a forward HTTP proxy
// that decodes plain-HTTP exchanges into capture flows and hands them to the
// adapter callbacks. CONNECT requests are tunneled opaquely; TLS
// interception is not this engine's job.
package proxyeng

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/crosstap/crosstap/internal/capture"
)

// maxBodyBytes bounds how much of a request or response body is buffered
// and recorded.
const maxBodyBytes = 10 << 20

// FlowHandler receives each decoded exchange: OnRequest once before the
// request is forwarded (header mutations propagate upstream), OnResponse
// once after the response arrives.
type FlowHandler interface {
	OnRequest(ctx context.Context, f *capture.Flow)
	OnResponse(ctx context.Context, f *capture.Flow)
}

// Server is the intercepting forward proxy.
type Server struct {
	handler   FlowHandler
	transport http.RoundTripper
	srv       *http.Server
	maxBody   int64
}

// NewServer creates a proxy listening on the given port.
func NewServer(port int, handler FlowHandler) *Server {
	s := &Server{
		handler:   handler,
		transport: http.DefaultTransport,
		maxBody:   maxBodyBytes,
	}
	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s,
	}
	return s
}

// Addr returns the listen address.
func (s *Server) Addr() string { return s.srv.Addr }

// Start begins listening. Blocks until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
	}()

	err = s.srv.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// ServeHTTP dispatches CONNECT tunnels and plain-HTTP proxy requests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		s.tunnel(w, r)
		return
	}
	if !r.URL.IsAbs() {
		http.Error(w, "proxy requires absolute-URI requests", http.StatusBadRequest)
		return
	}
	s.proxyHTTP(w, r)
}

// proxyHTTP decodes the exchange, invokes the adapter callbacks, and relays
// the response. A panicking callback is contained so the serve loop keeps
// processing subsequent flows.
func (s *Server) proxyHTTP(w http.ResponseWriter, r *http.Request) {
	reqBody, truncated, err := readBounded(r.Body, s.maxBody)
	if err != nil {
		http.Error(w, fmt.Sprintf("read request body: %v", err), http.StatusBadRequest)
		return
	}
	if truncated {
		fmt.Fprintf(os.Stderr, "proxyeng: request body for %s truncated at %d bytes\n", r.URL, s.maxBody)
	}

	flow := &capture.Flow{
		Method:         r.Method,
		URL:            r.URL.String(),
		Host:           r.URL.Hostname(),
		RequestHeaders: flattenHeaders(r.Header),
		RequestBody:    string(reqBody),
	}
	s.invoke(func() { s.handler.OnRequest(r.Context(), flow) })

	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, r.URL.String(), bytes.NewReader(reqBody))
	if err != nil {
		http.Error(w, fmt.Sprintf("build upstream request: %v", err), http.StatusInternalServerError)
		return
	}
	// The adapter may have added a marker header; the flow's header map is
	// authoritative for what goes upstream.
	for k, v := range flow.RequestHeaders {
		outReq.Header.Set(k, v)
	}
	outReq.ContentLength = int64(len(reqBody))

	resp, err := s.transport.RoundTrip(outReq)
	if err != nil {
		http.Error(w, fmt.Sprintf("upstream error: %v", err), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	respBody, truncated, err := readBounded(resp.Body, s.maxBody)
	if err != nil {
		http.Error(w, fmt.Sprintf("read upstream response: %v", err), http.StatusBadGateway)
		return
	}
	if truncated {
		fmt.Fprintf(os.Stderr, "proxyeng: response body for %s truncated at %d bytes\n", r.URL, s.maxBody)
	}

	flow.StatusCode = resp.StatusCode
	flow.ResponseHeaders = flattenHeaders(resp.Header)
	flow.ResponseBody = string(respBody)
	flow.ContentType = resp.Header.Get("Content-Type")
	s.invoke(func() { s.handler.OnResponse(r.Context(), flow) })

	for k, vv := range resp.Header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(respBody)
}

// tunnel relays a CONNECT stream without decoding it.
func (s *Server) tunnel(w http.ResponseWriter, r *http.Request) {
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "hijacking unsupported", http.StatusInternalServerError)
		return
	}

	upstream, err := net.DialTimeout("tcp", r.Host, 10*time.Second)
	if err != nil {
		http.Error(w, fmt.Sprintf("dial %s: %v", r.Host, err), http.StatusBadGateway)
		return
	}

	client, _, err := hijacker.Hijack()
	if err != nil {
		upstream.Close()
		http.Error(w, fmt.Sprintf("hijack: %v", err), http.StatusInternalServerError)
		return
	}
	_, _ = client.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n"))

	go func() {
		defer upstream.Close()
		defer client.Close()
		_, _ = io.Copy(upstream, client)
	}()
	go func() {
		defer upstream.Close()
		defer client.Close()
		_, _ = io.Copy(client, upstream)
	}()
}

func (s *Server) invoke(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			fmt.Fprintf(os.Stderr, "proxyeng: flow callback panic: %v\n", rec)
		}
	}()
	fn()
}

// readBounded reads at most limit bytes and reports whether the source had
// more. A truncated exchange is relayed with the shortened body.
func readBounded(r io.Reader, limit int64) ([]byte, bool, error) {
	if r == nil {
		return nil, false, nil
	}
	data, err := io.ReadAll(io.LimitReader(r, limit))
	if err != nil {
		return nil, false, err
	}
	if int64(len(data)) < limit {
		return data, false, nil
	}
	var probe [1]byte
	n, _ := r.Read(probe[:])
	return data, n > 0, nil
}

func flattenHeaders(h http.Header) map[string]string {
	if len(h) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(h))
	for k, vv := range h {
		out[k] = strings.Join(vv, ", ")
	}
	return out
}
