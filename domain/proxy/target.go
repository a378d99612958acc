package proxy

import (
	"net/url"
	"strings"

	pkgerrors "github.com/tianshipapa/doubandai/pkg/errors"
)

// Target is an upstream URL that passed every check.
type Target struct {
	raw string
	url *url.URL
}

// ParseTarget validates raw against the allow-list. Checks run in a fixed
// order: missing, then forbidden, then malformed.
func ParseTarget(raw string, allow AllowList) (Target, error) {
	if raw == "" {
		return Target{}, pkgerrors.NewValidationError(MsgMissingTarget).WithCode("MISSING_URL")
	}

	if !allow.Allows(raw) {
		return Target{}, pkgerrors.NewForbiddenError(MsgForbiddenTarget).WithCode("HOST_NOT_ALLOWED")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Target{}, pkgerrors.NewValidationError(MsgInvalidTarget).WithCode("INVALID_URL").WithCause(err)
	}
	scheme := strings.ToLower(u.Scheme)
	if (scheme != "http" && scheme != "https") || u.Host == "" {
		return Target{}, pkgerrors.NewValidationError(MsgInvalidTarget).WithCode("INVALID_URL")
	}

	return Target{raw: raw, url: u}, nil
}

// String returns the target as the client supplied it.
func (t Target) String() string {
	return t.raw
}

// URL returns a copy of the parsed target.
func (t Target) URL() *url.URL {
	if t.url == nil {
		return nil
	}
	u := *t.url
	return &u
}

// Host returns the upstream host.
func (t Target) Host() string {
	if t.url == nil {
		return ""
	}
	return t.url.Host
}
