package util

import (
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"time"
)

// --- List of Realistic User Agents ---
var commonUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/114.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.5.1 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:109.0) Gecko/20100101 Firefox/115.0",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/113.0.0.0 Safari/537.36",
}

// RandomUserAgent picks one of the common browser user agents.
func RandomUserAgent() string {
	if len(commonUserAgents) == 0 {
		return "setfetch/0.1 (Go-client)"
	}
	return commonUserAgents[rand.IntN(len(commonUserAgents))]
}

// DefaultHTTPClient creates an http.Client without an overall timeout, since
// archives can be very large. Per-attempt deadlines come from the caller's context.
func DefaultHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 30 * time.Second,
		},
	}
}

// CheckResponse returns an error for non-2xx responses, including the start of the body for context.
// The body is not closed.
func CheckResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	limitReader := io.LimitReader(resp.Body, 512)
	bodyBytes, _ := io.ReadAll(limitReader)
	return fmt.Errorf("bad status '%s' fetching %s: %s", resp.Status, resp.Request.URL.String(), string(bodyBytes))
}
