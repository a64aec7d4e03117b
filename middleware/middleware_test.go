package middleware

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Mount-Huaguo-Holy-Tech/Snapifit-AI-Community-Edition-sub002/audit"
	"github.com/Mount-Huaguo-Holy-Tech/Snapifit-AI-Community-Edition-sub002/bans"
	"github.com/Mount-Huaguo-Holy-Tech/Snapifit-AI-Community-Edition-sub002/models"
	"github.com/Mount-Huaguo-Holy-Tech/Snapifit-AI-Community-Edition-sub002/ratelimiter"
	"github.com/Mount-Huaguo-Holy-Tech/Snapifit-AI-Community-Edition-sub002/repository"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memBanStore struct {
	mu   sync.Mutex
	bans []*models.Ban
}

func (s *memBanStore) Insert(ctx context.Context, ban *models.Ban) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.bans {
		if b.Subject == ban.Subject && b.IsActive {
			return repository.ErrActiveBanExists
		}
	}
	s.bans = append(s.bans, ban)
	return nil
}

func (s *memBanStore) GetActive(ctx context.Context, subject string) (*models.Ban, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.bans {
		if b.Subject == subject && b.Active(time.Now()) {
			return b, nil
		}
	}
	return nil, nil
}

func (s *memBanStore) Deactivate(ctx context.Context, subject, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, b := range s.bans {
		if b.Subject == subject && b.Active(now) {
			b.IsActive = false
			return true, nil
		}
	}
	return false, nil
}

func (s *memBanStore) SweepExpired(ctx context.Context) (int64, error) { return 0, nil }

// memEventStore doubles as the audit sink and the violation counter, the
// same wiring main uses with the database behind both.
type memEventStore struct {
	mu     sync.Mutex
	events []*models.SecurityEvent
}

func (s *memEventStore) Create(ctx context.Context, event *models.SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *memEventStore) Count(ctx context.Context, eventType models.EventType, subject string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.EventType == eventType && (e.IPAddress == subject || e.UserID == subject) {
			n++
		}
	}
	return n, nil
}

func (s *memEventStore) byType(eventType models.EventType) []*models.SecurityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.SecurityEvent
	for _, e := range s.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

func quiet() *log.Logger { return log.New(io.Discard, "", 0) }

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitMiddleware(t *testing.T) {
	t.Run("allows within limits", func(t *testing.T) {
		limiter := ratelimiter.New(ratelimiter.NewMemoryStore())
		m := NewRateLimitMiddleware(limiter, nil, nil, nil)
		handler := m.RateLimit(okHandler())

		req := httptest.NewRequest(http.MethodPost, "/api/relay", nil)
		req.RemoteAddr = "10.1.1.1:5000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("denies with retry-after and records the event", func(t *testing.T) {
		limiter := ratelimiter.New(ratelimiter.NewMemoryStore())
		events := &memEventStore{}
		auditor := audit.NewLogger(events, nil, quiet())
		m := NewRateLimitMiddleware(limiter, auditor, nil, nil)
		handler := m.RateLimit(okHandler())

		ctx := context.WithValue(context.Background(), UserIDKey, "user-1")
		send := func() *httptest.ResponseRecorder {
			req := httptest.NewRequest(http.MethodPost, "/api/relay", nil).WithContext(ctx)
			req.RemoteAddr = "10.1.1.2:5000"
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			return rec
		}

		require.Equal(t, http.StatusOK, send().Code)

		// Second request in the same second trips the per-second user window.
		rec := send()
		require.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("Retry-After"))
		assert.Contains(t, rec.Body.String(), "user_second")

		logged := events.byType(models.EventRateLimitExceeded)
		require.Len(t, logged, 1)
		assert.Equal(t, "user-1", logged[0].UserID)
		assert.Equal(t, "user_second", logged[0].Metadata["limit_type"])
	})

	t.Run("inline auto-ban fires at the violation threshold", func(t *testing.T) {
		limiter := ratelimiter.New(ratelimiter.NewMemoryStore())
		events := &memEventStore{}
		auditor := audit.NewLogger(events, nil, quiet())
		banStore := &memBanStore{}
		ipManager := bans.NewIPManager(banStore, events, quiet())
		m := NewRateLimitMiddleware(limiter, auditor, ipManager, nil)
		handler := m.RateLimit(okHandler())

		send := func() *httptest.ResponseRecorder {
			req := httptest.NewRequest(http.MethodPost, "/api/relay", nil)
			req.Header.Set("X-Forwarded-For", "10.1.1.3")
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			return rec
		}

		// Anonymous traffic is limited per IP at 100/min; the 101st request
		// and onward are denials that accumulate as events.
		denied := 0
		for i := 0; i < 110; i++ {
			if send().Code == http.StatusTooManyRequests {
				denied++
			}
		}
		require.GreaterOrEqual(t, denied, 5)
		assert.True(t, ipManager.IsBanned(context.Background(), "10.1.1.3"))

		ban, err := ipManager.BanDetails(context.Background(), "10.1.1.3")
		require.NoError(t, err)
		require.NotNil(t, ban)
		assert.Equal(t, models.BanTypeAutomatic, ban.BanType)
	})
}

func TestBanCheckMiddleware(t *testing.T) {
	newManagers := func() (*bans.Manager, *bans.Manager) {
		return bans.NewIPManager(&memBanStore{}, &memEventStore{}, quiet()),
			bans.NewUserManager(&memBanStore{}, &memEventStore{}, quiet())
	}

	t.Run("clean request passes", func(t *testing.T) {
		ipM, userM := newManagers()
		m := NewBanCheckMiddleware(ipM, userM, nil)
		req := httptest.NewRequest(http.MethodPost, "/api/relay", nil)
		req.RemoteAddr = "10.2.2.1:5000"
		rec := httptest.NewRecorder()
		m.CheckBans(okHandler()).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("banned ip is rejected and logged", func(t *testing.T) {
		ipM, userM := newManagers()
		events := &memEventStore{}
		m := NewBanCheckMiddleware(ipM, userM, audit.NewLogger(events, nil, quiet()))
		require.True(t, ipM.Ban(context.Background(), "10.2.2.2", "test", 10, "", "admin").Success)

		req := httptest.NewRequest(http.MethodPost, "/api/relay", nil)
		req.RemoteAddr = "10.2.2.2:5000"
		rec := httptest.NewRecorder()
		m.CheckBans(okHandler()).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Contains(t, rec.Body.String(), "ip banned")
		assert.Len(t, events.byType(models.EventUnauthorizedAccess), 1)
	})

	t.Run("banned user is rejected", func(t *testing.T) {
		ipM, userM := newManagers()
		m := NewBanCheckMiddleware(ipM, userM, nil)
		require.True(t, userM.Ban(context.Background(), "user-9", "test", 10, "", "admin").Success)

		ctx := context.WithValue(context.Background(), UserIDKey, "user-9")
		req := httptest.NewRequest(http.MethodPost, "/api/relay", nil).WithContext(ctx)
		req.RemoteAddr = "10.2.2.3:5000"
		rec := httptest.NewRecorder()
		m.CheckBans(okHandler()).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Contains(t, rec.Body.String(), "user banned")
	})
}

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestAuthenticate(t *testing.T) {
	const secret = "test-secret"
	auth := NewAuthMiddleware(secret)

	capture := func() (*string, *int, *string, http.Handler) {
		var userID, role string
		var level int
		h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID = GetUserID(r.Context())
			level = GetTrustLevel(r.Context())
			role = GetRole(r.Context())
			w.WriteHeader(http.StatusOK)
		})
		return &userID, &level, &role, h
	}

	t.Run("valid token populates identity", func(t *testing.T) {
		userID, level, role, h := capture()
		token := signToken(t, secret, jwt.MapClaims{"user_id": "user-1", "trust_level": 3, "role": "admin"})

		req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		auth.Authenticate(h).ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "user-1", *userID)
		assert.Equal(t, 3, *level)
		assert.Equal(t, "admin", *role)
	})

	t.Run("missing header is unauthorized", func(t *testing.T) {
		_, _, _, h := capture()
		req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
		rec := httptest.NewRecorder()
		auth.Authenticate(h).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong secret is unauthorized", func(t *testing.T) {
		_, _, _, h := capture()
		token := signToken(t, "other-secret", jwt.MapClaims{"user_id": "user-1"})
		req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		auth.Authenticate(h).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("token without user id is unauthorized", func(t *testing.T) {
		_, _, _, h := capture()
		token := signToken(t, secret, jwt.MapClaims{"role": "admin"})
		req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		auth.Authenticate(h).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("optional auth lets anonymous through", func(t *testing.T) {
		userID, _, _, h := capture()
		req := httptest.NewRequest(http.MethodPost, "/api/relay", nil)
		rec := httptest.NewRecorder()
		auth.OptionalAuth(h).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, *userID)
	})
}

func TestRequireAdmin(t *testing.T) {
	t.Run("admin role passes", func(t *testing.T) {
		ctx := context.WithValue(context.Background(), RoleKey, "admin")
		req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil).WithContext(ctx)
		rec := httptest.NewRecorder()
		RequireAdmin(okHandler()).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("non-admin is forbidden", func(t *testing.T) {
		ctx := context.WithValue(context.Background(), RoleKey, "user")
		req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil).WithContext(ctx)
		rec := httptest.NewRecorder()
		RequireAdmin(okHandler()).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestGetClientIP(t *testing.T) {
	cases := []struct {
		name   string
		setup  func(*http.Request)
		expect string
	}{
		{"x-forwarded-for first hop", func(r *http.Request) {
			r.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
		}, "203.0.113.5"},
		{"x-real-ip fallback", func(r *http.Request) {
			r.Header.Set("X-Real-IP", "203.0.113.6")
		}, "203.0.113.6"},
		{"remote addr strips port", func(r *http.Request) {
			r.RemoteAddr = "203.0.113.7:44321"
		}, "203.0.113.7"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			tc.setup(req)
			assert.Equal(t, tc.expect, getClientIP(req))
		})
	}
}
