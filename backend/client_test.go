package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/adriangmrraa/clinicforge/backoff"
	"github.com/adriangmrraa/clinicforge/chat"
	"github.com/golang-jwt/jwt/v5"
)

var fastRetry = RetryPolicy{MaxRetries: 3, Policy: backoff.Policy{Base: time.Millisecond, Max: 5 * time.Millisecond}}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *Credentials) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	creds := NewCredentials("admin-secret", "access-token", 7)
	client := NewClient(srv.URL, creds, srv.Client())
	client.SetRetryPolicy(fastRetry)
	return client, creds
}

func TestClient_ListSessionsSendsHeadersAndNormalizes(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sessions" || r.URL.Query().Get("tenant_id") != "7" {
			t.Errorf("Unexpected request %s", r.URL)
		}
		if r.Header.Get("X-Admin-Token") != "admin-secret" {
			t.Errorf("Missing admin token header")
		}
		if r.Header.Get("Authorization") != "Bearer access-token" {
			t.Errorf("Missing bearer header")
		}
		if r.Header.Get("X-Tenant-ID") != "7" {
			t.Errorf("Missing tenant header")
		}
		w.Write([]byte(`[{"phone_number": "5491100", "tenant_id": 7, "patient_name": "Ana", "status": "active", "unread_count": 2}, {"phone_number": ""}]`))
	})

	sessions, err := client.ListSessions(context.Background(), 7)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("Expected 1 session, got %d", len(sessions))
	}
	if sessions[0].Key.String() != "whatsapp:+5491100" || sessions[0].DisplayName != "Ana" {
		t.Errorf("Unexpected session %+v", sessions[0])
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`[]`))
	})

	if _, err := client.InboxSummary(context.Background(), InboxSummaryParams{Limit: 50}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
}

func TestClient_SendsAreNotRetried(t *testing.T) {
	testCases := []struct {
		name string
		call func(c *Client) error
	}{
		{
			name: "direct send",
			call: func(c *Client) error {
				return c.SendDirect(context.Background(), "+5491100", 7, "hola", nil)
			},
		},
		{
			name: "inbox send",
			call: func(c *Client) error {
				return c.SendInbox(context.Background(), "c1", "hola")
			},
		},
		{
			name: "upload",
			call: func(c *Client) error {
				_, err := c.Upload(context.Background(), 7, "rx.png", strings.NewReader("png"))
				return err
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var calls int32
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(http.StatusBadGateway)
			})

			if err := tc.call(client); !errors.Is(err, ErrServer) {
				t.Fatalf("Expected ErrServer, got %v", err)
			}
			if calls != 1 {
				t.Errorf("Expected a single attempt, got %d", calls)
			}
		})
	}
}

func TestClient_GivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"detail": "db down"}`))
	})

	_, err := client.ListSessions(context.Background(), 7)
	if !errors.Is(err, ErrServer) {
		t.Fatalf("Expected ErrServer, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "db down" {
		t.Errorf("Expected detail message, got %v", err)
	}
	if calls != 4 {
		t.Errorf("Expected 1 call plus 3 retries, got %d", calls)
	}
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.SessionMessages(context.Background(), "+1", 7, 50, 0)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected a single call, got %d", calls)
	}
}

func TestClient_UnauthorizedClearsCredentials(t *testing.T) {
	client, creds := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	fired := 0
	client.SetHooks(Hooks{OnUnauthorized: func() { fired++ }})

	_, err := client.ListSessions(context.Background(), 7)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Expected ErrUnauthorized, got %v", err)
	}
	if creds.HasAccessToken() {
		t.Error("Expected access token cleared")
	}
	if fired != 1 {
		t.Errorf("Expected hook fired once, got %d", fired)
	}
}

func TestClient_UnauthorizedOnPublicRoute(t *testing.T) {
	testCases := []struct {
		route      string
		shouldFire bool
	}{
		{route: "/demo", shouldFire: false},
		{route: "/login", shouldFire: false},
		{route: "/privacy/es", shouldFire: false},
		{route: "/chats", shouldFire: true},
		{route: "/demographics", shouldFire: true},
	}

	for _, tc := range testCases {
		t.Run(tc.route, func(t *testing.T) {
			client, creds := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
			})

			fired := false
			client.SetHooks(Hooks{
				OnUnauthorized: func() { fired = true },
				CurrentRoute:   func() string { return tc.route },
			})

			client.ListSessions(context.Background(), 7)

			if fired != tc.shouldFire {
				t.Errorf("Expected hook fired=%v, got %v", tc.shouldFire, fired)
			}
			if creds.HasAccessToken() == tc.shouldFire {
				t.Errorf("Expected token kept=%v", !tc.shouldFire)
			}
		})
	}
}

func TestClient_ForbiddenVsWindowClosed(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	var forbiddenPaths []string
	client.SetHooks(Hooks{OnForbidden: func(path string) { forbiddenPaths = append(forbiddenPaths, path) }})

	err := client.SendInbox(context.Background(), "c1", "hola")
	if !errors.Is(err, ErrWindowClosed) {
		t.Errorf("Expected ErrWindowClosed, got %v", err)
	}
	if len(forbiddenPaths) != 0 {
		t.Error("Expected window closure not to fire the forbidden hook")
	}

	err = client.MarkInboxRead(context.Background(), "c1")
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("Expected ErrForbidden, got %v", err)
	}
	if len(forbiddenPaths) != 1 || forbiddenPaths[0] != "/inbox/c1/read" {
		t.Errorf("Expected forbidden hook for read, got %v", forbiddenPaths)
	}
}

func TestClient_ExpiredAccessTokenShortCircuits(t *testing.T) {
	var calls int32
	client, creds := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	})

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}).SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	creds.SetAccessToken(token)

	_, err = client.Tenants(context.Background())
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Expected ErrUnauthorized, got %v", err)
	}
	if calls != 0 {
		t.Errorf("Expected no network call, got %d", calls)
	}
}

func TestClient_SendDirectBody(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("Unexpected error: %v", err)
			return
		}
		if body["address"] != "+1" || body["message"] != "hola" || body["tenant_id"] != float64(7) {
			t.Errorf("Unexpected body %v", body)
		}
		w.Write([]byte(`{"status": "sent"}`))
	})

	err := client.SendDirect(context.Background(), "+1", 7, "hola", []chat.Attachment{{Kind: chat.AttachmentImage, URL: "https://f/p.jpg"}})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
}

func TestClient_Upload(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			t.Errorf("Unexpected content type %s", r.Header.Get("Content-Type"))
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("Unexpected error: %v", err)
			return
		}
		data, _ := io.ReadAll(file)
		if string(data) != "pdf-bytes" || header.Filename != "plan.pdf" {
			t.Errorf("Unexpected upload %s %q", header.Filename, data)
		}
		if r.FormValue("tenant_id") != "7" {
			t.Errorf("Expected tenant field")
		}
		w.Write([]byte(`{"type": "document", "url": "https://f/plan.pdf", "file_name": "plan.pdf"}`))
	})

	att, err := client.Upload(context.Background(), 7, "plan.pdf", strings.NewReader("pdf-bytes"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if att.Kind != chat.AttachmentFile || att.URL != "https://f/plan.pdf" || att.SizeBytes != 9 {
		t.Errorf("Unexpected attachment %+v", att)
	}
}

func TestClient_PatientContext(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("tenant_id_override") != "7" {
			t.Errorf("Expected tenant override, got %s", r.URL.RawQuery)
		}
		w.Write([]byte(`{"patient_name": "Ana", "urgency_level": "high", "patient": {"acquisition_source": "META_ADS", "meta_ad_headline": "Implantes"}}`))
	})

	pc, err := client.PatientContext(context.Background(), "+5491100", 7)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if pc.PatientName != "Ana" || pc.Ad() == nil || pc.Ad().Headline != "Implantes" {
		t.Errorf("Unexpected context %+v", pc)
	}
}
