// internal/session/tls.go
package session

import (
	"crypto/tls"
	"net/http"

	"github.com/valpere/ScholarNav/internal/utils"
)

const minTLSVersion = tls.VersionTLS12

// BuildTLSConfig creates the client TLS configuration for a session.
func BuildTLSConfig(insecureSkipVerify bool, logger utils.Logger) *tls.Config {
	if insecureSkipVerify && logger != nil {
		logger.Warn("TLS certificate verification is disabled for this session")
	}

	return &tls.Config{
		MinVersion:         minTLSVersion,
		InsecureSkipVerify: insecureSkipVerify, //nolint:gosec // required by proxies that re-sign traffic
	}
}

// applyTLSPolicy restores the verify flag and the minimum version on tr
// after the cloudflare wrapper has replaced its TLS configuration.
func applyTLSPolicy(tr *http.Transport, insecureSkipVerify bool) {
	if tr.TLSClientConfig == nil {
		tr.TLSClientConfig = BuildTLSConfig(insecureSkipVerify, nil)
		return
	}
	tr.TLSClientConfig.InsecureSkipVerify = insecureSkipVerify //nolint:gosec
	if tr.TLSClientConfig.MinVersion < minTLSVersion {
		tr.TLSClientConfig.MinVersion = minTLSVersion
	}
}
