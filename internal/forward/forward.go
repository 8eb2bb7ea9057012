// Package forward ships copies of captured records to a Splunk HTTP Event
// Collector endpoint. Strictly best-effort: delivery failures are logged and
// never reach the adapters.
package forward

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mosajjal/Go-Splunk-HTTP/splunk/v2"

	"github.com/crosstap/crosstap/internal/store"
)

// Config holds HEC connection settings.
type Config struct {
	Endpoint   string        `yaml:"endpoint"`
	Token      string        `yaml:"token"`
	Index      string        `yaml:"index"`
	Source     string        `yaml:"source"`
	SourceType string        `yaml:"sourcetype"`
	Timeout    time.Duration `yaml:"-"`
}

// Enabled reports whether forwarding is configured at all.
func (c Config) Enabled() bool { return c.Endpoint != "" }

// Client wraps one HEC connection.
type Client struct {
	splunk  *splunk.Client
	session string
}

// NewClient creates a forwarder for the given endpoint.
func NewClient(cfg Config) (*Client, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("forward: no endpoint configured")
	}
	endpoint := cfg.Endpoint
	if !strings.HasSuffix(endpoint, "/services/collector") {
		endpoint = strings.TrimRight(endpoint, "/") + "/services/collector"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	source := cfg.Source
	if source == "" {
		source = "crosstap"
	}
	sourceType := cfg.SourceType
	if sourceType == "" {
		sourceType = "_json"
	}

	httpClient := &http.Client{Timeout: timeout}
	return &Client{
		splunk:  splunk.NewClient(httpClient, endpoint, cfg.Token, uuid.New().String(), source, sourceType, cfg.Index),
		session: uuid.New().String(),
	}, nil
}

// Notify satisfies the adapters' notifier contract; it ships one event and
// swallows any delivery error.
func (c *Client) Notify(kind store.Kind, payload map[string]any) {
	event := map[string]any{
		"kind":    string(kind),
		"session": c.session,
		"data":    payload,
	}
	if err := c.splunk.Log(event); err != nil {
		fmt.Fprintf(os.Stderr, "forward: ship %s event: %v\n", kind, err)
	}
}
