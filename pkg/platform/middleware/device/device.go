// Package device derives a coarse device fingerprint from the User-Agent of
// the caller. Content events submitted over HTTP carry it so repeated
// activity from one device can be correlated.
package device

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/mssola/useragent"

	"mediaguard/pkg/requestcontext"
)

// Service computes fingerprints. A disabled service yields empty ones.
type Service struct {
	enabled bool
}

func NewService(enabled bool) *Service {
	return &Service{enabled: enabled}
}

// ComputeFingerprint hashes the browser family, its major version, the OS and
// the mobile flag. Minor browser updates keep the fingerprint stable.
func (s *Service) ComputeFingerprint(userAgent string) string {
	if !s.enabled {
		return ""
	}
	ua := useragent.New(userAgent)
	name, version := ua.Browser()
	mobile := "desktop"
	if ua.Mobile() {
		mobile = "mobile"
	}
	sum := sha256.Sum256([]byte(strings.Join([]string{
		name,
		majorVersion(version),
		ua.OS(),
		ua.Platform(),
		mobile,
	}, "|")))
	return hex.EncodeToString(sum[:])
}

// CompareFingerprints reports whether two fingerprints match and whether the
// difference counts as drift.
func (s *Service) CompareFingerprints(stored, current string) (matched bool, drift bool) {
	matched = stored == current
	return matched, !matched && stored != "" && current != ""
}

// Middleware stores the fingerprint of the request in its context.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fp := s.ComputeFingerprint(r.Header.Get("User-Agent"))
		if fp == "" {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(requestcontext.WithDeviceFingerprint(r.Context(), fp)))
	})
}

// ParseUserAgent returns a display name such as "Chrome on macOS".
func ParseUserAgent(userAgent string) string {
	if strings.TrimSpace(userAgent) == "" {
		return "Unknown Device"
	}
	ua := useragent.New(userAgent)
	browser, _ := ua.Browser()
	if browser == "" {
		browser = "Unknown Browser"
	}
	os := ua.OS()
	if os == "" {
		os = ua.Platform()
	}
	if os == "" {
		os = "Unknown OS"
	}
	return strings.TrimSpace(browser + " on " + os)
}

func majorVersion(v string) string {
	if i := strings.IndexByte(v, '.'); i >= 0 {
		return v[:i]
	}
	return v
}
