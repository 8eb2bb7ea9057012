// Package capture normalizes proxy-observed flows for a configured set of
// target hostnames and writes them to the event store. One row is written at
// request time and a second, complete row at response time; the two are
// never merged.
package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/crosstap/crosstap/internal/extract"
	"github.com/crosstap/crosstap/internal/store"
)

// MarkerHeader tags outgoing requests generated through this tooling. The
// downstream server sees it.
const (
	MarkerHeader = "X-Crosstap-Agent"
	MarkerValue  = "crosstap/1"
)

// Notifier receives a copy of every record the addon writes. Best-effort;
// implementations must not block for long.
type Notifier func(kind store.Kind, payload map[string]any)

// Addon filters and records flows for the target domains.
type Addon struct {
	targets   []string
	store     *store.Store
	extractor extract.Extractor
	source    string
	notify    Notifier
}

// Option configures an Addon.
type Option func(*Addon)

// WithSource overrides the source tag written on traffic rows.
func WithSource(source string) Option {
	return func(a *Addon) { a.source = source }
}

// WithNotifier attaches a record notifier.
func WithNotifier(n Notifier) Option {
	return func(a *Addon) { a.notify = n }
}

// WithExtractor replaces the default title extraction strategy.
func WithExtractor(e extract.Extractor) Option {
	return func(a *Addon) { a.extractor = e }
}

// NewAddon creates an addon recording flows for the given target domains.
func NewAddon(s *store.Store, targets []string, opts ...Option) *Addon {
	a := &Addon{
		targets:   targets,
		store:     s,
		extractor: extract.NewRegexExtractor(),
		source:    "proxy",
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// OnRequest records the request side of a matching flow and sets the marker
// header on the outgoing request. Non-matching hosts pass through untouched.
// Never returns an error to the engine loop; failures are logged.
func (a *Addon) OnRequest(ctx context.Context, f *Flow) {
	if !MatchesDomain(f.Host, a.targets) {
		return
	}

	rec := store.TrafficRecord{
		Method:         f.Method,
		URL:            f.URL,
		RequestHeaders: marshalHeaders(f.RequestHeaders),
		RequestBody:    f.RequestBody,
		Source:         a.source,
	}
	if _, err := a.store.AppendTraffic(ctx, rec); err != nil {
		fmt.Fprintf(os.Stderr, "capture: record request %s %s: %v\n", f.Method, f.URL, err)
		return
	}
	a.emit(store.KindTraffic, map[string]any{
		"method": f.Method,
		"url":    f.URL,
		"phase":  "request",
	})

	if f.RequestHeaders == nil {
		f.RequestHeaders = make(map[string]string)
	}
	f.RequestHeaders[MarkerHeader] = MarkerValue
}

// OnResponse records the full exchange for a matching flow and, for HTML
// responses, runs title extraction on the body.
func (a *Addon) OnResponse(ctx context.Context, f *Flow) {
	if !MatchesDomain(f.Host, a.targets) {
		return
	}

	status := f.StatusCode
	rec := store.TrafficRecord{
		Method:          f.Method,
		URL:             f.URL,
		StatusCode:      &status,
		RequestHeaders:  marshalHeaders(f.RequestHeaders),
		ResponseHeaders: marshalHeaders(f.ResponseHeaders),
		RequestBody:     f.RequestBody,
		ResponseBody:    f.ResponseBody,
		Source:          a.source,
	}
	if _, err := a.store.AppendTraffic(ctx, rec); err != nil {
		fmt.Fprintf(os.Stderr, "capture: record response %d %s: %v\n", f.StatusCode, f.URL, err)
		return
	}
	a.emit(store.KindTraffic, map[string]any{
		"method": f.Method,
		"url":    f.URL,
		"status": f.StatusCode,
		"phase":  "response",
	})

	if strings.Contains(strings.ToLower(f.ContentType), "text/html") {
		a.extractArtifact(ctx, f)
	}
}

// extractArtifact persists at most one artifact per response body.
// Extraction misses and store failures both just yield zero artifacts.
func (a *Addon) extractArtifact(ctx context.Context, f *Flow) {
	title, ok := a.extractor.Extract(f.ResponseBody)
	if !ok {
		return
	}
	rec := store.ArtifactRecord{
		Title:            title.Text,
		URL:              f.URL,
		ExtractionMethod: title.Method,
	}
	if _, err := a.store.AppendArtifact(ctx, rec); err != nil {
		fmt.Fprintf(os.Stderr, "capture: record artifact for %s: %v\n", f.URL, err)
		return
	}
	a.emit(store.KindArtifact, map[string]any{
		"title":  title.Text,
		"url":    f.URL,
		"method": title.Method,
	})
}

func (a *Addon) emit(kind store.Kind, payload map[string]any) {
	if a.notify != nil {
		a.notify(kind, payload)
	}
}

// marshalHeaders serializes a header map; malformed data is recorded as-is,
// never raised.
func marshalHeaders(h map[string]string) string {
	if len(h) == 0 {
		return ""
	}
	b, err := json.Marshal(h)
	if err != nil {
		return ""
	}
	return string(b)
}
