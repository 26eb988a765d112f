package backend

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credentials holds the headers identifying the operator and tenant.
type Credentials struct {
	mu          sync.RWMutex
	adminToken  string
	accessToken string
	tenantID    int64
}

func NewCredentials(adminToken, accessToken string, tenantID int64) *Credentials {
	return &Credentials{
		adminToken:  adminToken,
		accessToken: accessToken,
		tenantID:    tenantID,
	}
}

func (c *Credentials) snapshot() (admin, access string, tenant int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.adminToken, c.accessToken, c.tenantID
}

func (c *Credentials) TenantID() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tenantID
}

func (c *Credentials) SetTenant(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tenantID = id
}

func (c *Credentials) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

// Clear drops the access token after the backend rejected it.
func (c *Credentials) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = ""
}

func (c *Credentials) HasAccessToken() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken != ""
}

// AccessExpired reports whether the access token carries an exp claim in
// the past. The signature is not verified; the backend does that.
func (c *Credentials) AccessExpired(now time.Time) bool {
	_, token, _ := c.snapshot()
	if token == "" {
		return false
	}

	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return !now.Before(claims.ExpiresAt.Time)
}
