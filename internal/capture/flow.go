package capture

import "strings"

// Flow is one observed request/response exchange as surfaced by the traffic
// engine. Header maps and bodies are already fully decoded text; absent
// response fields mean the flow has only been observed at request time.
type Flow struct {
	Method          string
	URL             string
	Host            string
	RequestHeaders  map[string]string
	ResponseHeaders map[string]string
	RequestBody     string
	ResponseBody    string
	StatusCode      int // 0 until a response is observed
	ContentType     string
}

// MatchesDomain reports whether host is one of the targets or a subdomain
// of one. Ports are ignored.
func MatchesDomain(host string, targets []string) bool {
	host = strings.ToLower(host)
	if i := strings.LastIndex(host, ":"); i >= 0 && !strings.Contains(host[i:], "]") {
		host = host[:i]
	}
	for _, target := range targets {
		target = strings.ToLower(strings.TrimSpace(target))
		if target == "" {
			continue
		}
		if host == target || strings.HasSuffix(host, "."+target) {
			return true
		}
	}
	return false
}
