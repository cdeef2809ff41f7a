package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/cbout22/skills-sync/internal/logging"
)

// DefaultTimeout bounds a single GitHub request.
const DefaultTimeout = 60 * time.Second

const userAgent = "skills-sync"

// githubTokenEnvVars lists the environment variables checked for a GitHub token,
// in priority order.
var githubTokenEnvVars = []string{
	"GITHUB_TOKEN",
	"GH_TOKEN",
}

// proxyEnvVars lists proxy variables in priority order.
var proxyEnvVars = []string{
	"HTTPS_PROXY",
	"https_proxy",
	"ALL_PROXY",
	"all_proxy",
	"HTTP_PROXY",
	"http_proxy",
}

// Token returns the GitHub personal access token from the environment.
// It checks GITHUB_TOKEN first, then GH_TOKEN.
func Token() (string, error) {
	for _, env := range githubTokenEnvVars {
		if v := os.Getenv(env); v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf(
		"no GitHub token found: set %s or %s in your environment",
		githubTokenEnvVars[0], githubTokenEnvVars[1],
	)
}

// ProxyURL returns the first proxy configured in the environment, or nil.
func ProxyURL() (*url.URL, error) {
	for _, env := range proxyEnvVars {
		v := os.Getenv(env)
		if v == "" {
			continue
		}
		u, err := url.Parse(v)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("invalid proxy URL in %s: %q", env, v)
		}
		return u, nil
	}
	return nil, nil
}

// NewHTTPClient returns an *http.Client for GitHub API calls with the
// default timeout.
func NewHTTPClient(ctx context.Context) (*http.Client, error) {
	return NewHTTPClientWithTimeout(ctx, DefaultTimeout)
}

// NewHTTPClientWithTimeout returns an *http.Client suitable for GitHub API
// calls. If a GitHub token is available it adds Bearer auth on every
// request. Otherwise requests go out unauthenticated, which works for
// public repos but is subject to stricter rate limits.
func NewHTTPClientWithTimeout(ctx context.Context, timeout time.Duration) (*http.Client, error) {
	log := logging.Ctx(ctx)

	base := http.DefaultTransport.(*http.Transport).Clone()
	proxy, err := ProxyURL()
	if err != nil {
		return nil, err
	}
	if proxy != nil {
		log.Debug("using HTTP proxy", "proxy", proxy.Redacted())
		base.Proxy = http.ProxyURL(proxy)
	}

	token, err := Token()
	if err != nil {
		log.Warn("no GitHub token found, using unauthenticated requests (rate-limited)",
			"hint", "set GITHUB_TOKEN or GH_TOKEN for private repos and higher rate limits")
		token = ""
	}

	return &http.Client{
		Timeout: timeout,
		Transport: &tokenTransport{
			token: token,
			base:  base,
		},
	}, nil
}

// tokenTransport adds the Authorization header and GitHub defaults.
type tokenTransport struct {
	token string
	base  http.RoundTripper
}

func (t *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone the request to avoid mutating the original
	r := req.Clone(req.Context())
	if t.token != "" {
		r.Header.Set("Authorization", "Bearer "+t.token)
	}
	if r.Header.Get("Accept") == "" {
		r.Header.Set("Accept", "application/vnd.github+json")
	}
	r.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	r.Header.Set("User-Agent", userAgent)
	return t.base.RoundTrip(r)
}
