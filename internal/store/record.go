package store

import "time"

// Kind selects one of the three record tables.
type Kind string

const (
	KindTraffic  Kind = "network_traffic"
	KindHook     Kind = "frida_hooks"
	KindArtifact Kind = "scraped_articles"
)

// TimestampFormat is the ISO-8601 layout used for every timestamp column.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// NowISO returns the current UTC time in the stored timestamp layout.
func NowISO() string {
	return time.Now().UTC().Format(TimestampFormat)
}

// TrafficRecord is one proxy-observed request or request/response exchange.
// A request-time row carries only request fields; a response-time row carries
// both. Rows are never merged; consumers pair by (method, url, timestamp
// proximity) if they need pairing.
type TrafficRecord struct {
	ID              int64
	Timestamp       string
	Method          string
	URL             string
	StatusCode      *int
	RequestHeaders  string // JSON-serialized map[string]string
	ResponseHeaders string
	RequestBody     string
	ResponseBody    string
	Source          string
}

// HookRecord is one message delivered by the instrumentation engine's hooks.
// AdditionalData holds the full payload verbatim so unrecognized shapes are
// never lost.
type HookRecord struct {
	ID             int64
	Timestamp      string
	HookType       string
	FunctionName   string
	Parameters     string // JSON, may be empty
	ReturnValue    string
	AdditionalData string // full payload JSON
}

// ArtifactRecord is one title extracted from a captured HTML response.
type ArtifactRecord struct {
	ID               int64
	Timestamp        string
	Title            string
	URL              string
	Content          string
	Metadata         string
	ExtractionMethod string
}
