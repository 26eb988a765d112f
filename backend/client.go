package backend

import (
	"net/http"
	"strings"
	"time"

	"github.com/adriangmrraa/clinicforge/backoff"
)

// DefaultRetry retries server errors and timeouts three times.
var DefaultRetry = RetryPolicy{
	MaxRetries: 3,
	Policy: backoff.Policy{
		Base:   time.Second,
		Max:    10 * time.Second,
		Jitter: 0.3,
	},
}

type RetryPolicy struct {
	MaxRetries int
	backoff.Policy
}

// Hooks react to authorization failures.
type Hooks struct {
	// OnUnauthorized runs after a 401 once credentials are cleared.
	OnUnauthorized func()
	// OnForbidden runs after a 403 that is not a closed reply window.
	OnForbidden func(path string)
	// CurrentRoute reports the route the operator is viewing. A 401 seen on
	// a public route or on /login leaves the session alone.
	CurrentRoute func() string
}

var publicRoutes = []string{"/privacy", "/terms", "/demo", "/login"}

func isPublicRoute(route string) bool {
	for _, p := range publicRoutes {
		if route == p || strings.HasPrefix(route, p+"/") {
			return true
		}
	}
	return false
}

type Client struct {
	baseURL     string
	credentials *Credentials
	httpClient  *http.Client
	retry       RetryPolicy
	hooks       Hooks
	now         func() time.Time
}

func NewClient(baseURL string, credentials *Credentials, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		credentials: credentials,
		httpClient:  httpClient,
		retry:       DefaultRetry,
		now:         time.Now,
	}
}

func (c *Client) SetHooks(hooks Hooks) {
	c.hooks = hooks
}

func (c *Client) SetRetryPolicy(policy RetryPolicy) {
	c.retry = policy
}

func (c *Client) Credentials() *Credentials {
	return c.credentials
}
