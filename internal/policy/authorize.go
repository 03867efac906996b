package policy

import (
	"net/http"
	"regexp"
	"strings"
)

// RequestDecision says how an outbound request should be credentialed.
type RequestDecision struct {
	AnonymousEligible bool
	// Blocked requests fail locally: the endpoint needs a credential and none is held.
	Blocked bool
	Reason  string
}

type endpointRule struct {
	method    string
	pattern   *regexp.Regexp
	anonymous bool
}

var endpointRules = []endpointRule{
	{http.MethodPost, regexp.MustCompile(`^/issue/create/?$`), true},
	{http.MethodPost, regexp.MustCompile(`^/issue/[^/]+/chat/?$`), true},
	{http.MethodGet, regexp.MustCompile(`^/issue/[^/]+/chat/?$`), true},
	{http.MethodGet, regexp.MustCompile(`^/issue/[^/]+/download/?$`), true},
	{http.MethodPost, regexp.MustCompile(`^/auth/token/verify/?$`), true},
	{http.MethodGet, regexp.MustCompile(`^/auth/`), true},
	{http.MethodGet, regexp.MustCompile(`^/profile/me/?$`), false},
	{http.MethodPut, regexp.MustCompile(`^/profile/me/?$`), false},
	{http.MethodGet, regexp.MustCompile(`^/profile/documents/?$`), false},
}

// DecideRequest classifies an outbound call. Unknown endpoints require a
// credential.
func DecideRequest(method, path string, hasToken bool) RequestDecision {
	p := path
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	anonymous := false
	for _, r := range endpointRules {
		if r.method == method && r.pattern.MatchString(p) {
			anonymous = r.anonymous
			break
		}
	}
	if anonymous || hasToken {
		return RequestDecision{AnonymousEligible: anonymous}
	}
	return RequestDecision{
		AnonymousEligible: false,
		Blocked:           true,
		Reason:            "sign-in required for " + method + " " + p,
	}
}
