// Package crosstap provides in-process traffic recording for Go programs
// that want capture without routing through the proxy. It wraps an
// http.RoundTripper so matching client exchanges land in the same capture
// database the proxy writes to, tagged with a distinct source.
//
// Usage:
//
//	rec, err := crosstap.NewRecorder("capture.db", []string{"example.com"})
//	client := &http.Client{Transport: rec.Transport(nil)}
//
// The SDK links directly against internal packages for zero-subprocess
// overhead. External users import github.com/crosstap/crosstap/sdk/go/crosstap.
package crosstap
