package util

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/alanbriolat/dash-archiver/generic"
)

var (
	ErrEmptyURL = errors.New("empty URL")
)

var protocols = generic.NewSet("http", "https")

// RefererFromURL returns the part of s preceding its first '&', or all of s if it has none.
func RefererFromURL(s string) string {
	if i := strings.IndexByte(s, '&'); i >= 0 {
		return s[:i]
	}
	return s
}

// ValidatePageURL checks that s looks like an http(s) URL with a host.
func ValidatePageURL(s string) error {
	if strings.TrimSpace(s) == "" {
		return ErrEmptyURL
	}
	parsedURL, err := url.Parse(s)
	if err != nil {
		return err
	}
	if !protocols.Contains(parsedURL.Scheme) {
		return fmt.Errorf("unknown URL scheme %q", parsedURL.Scheme)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("missing host in %q", s)
	}
	return nil
}
