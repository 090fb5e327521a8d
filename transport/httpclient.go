package transport

import (
	"net"
	"net/http"
	"time"
)

// awsHTTPClient builds an http.Client whose dial and response-header
// timeouts match the broker's connect_timeout/read_timeout, so every AWS
// SDK v2 client constructed here honors the same precedence the
// connection broker applies (spec §4.2).
func awsHTTPClient(connectTimeout, readTimeout time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: connectTimeout}
	return &http.Client{
		Transport: &http.Transport{
			DialContext:           dialer.DialContext,
			ResponseHeaderTimeout: readTimeout,
		},
	}
}
