package sessionclient

import (
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sandeepkv93/session-auth-core/internal/domain"
	"github.com/sandeepkv93/session-auth-core/internal/http/handler"
	"github.com/sandeepkv93/session-auth-core/internal/http/middleware"
	"github.com/sandeepkv93/session-auth-core/internal/realtime"
	"github.com/sandeepkv93/session-auth-core/internal/repository"
	"github.com/sandeepkv93/session-auth-core/internal/security"
	"github.com/sandeepkv93/session-auth-core/internal/service"
)

const (
	e2eSecret   = "abcdefghijklmnopqrstuvwxyz123456"
	e2ePepper   = "pepper-pepper-pepper"
	e2ePassword = "correct-horse-battery"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock { return &testClock{now: time.Now()} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testServer struct {
	URL    string
	WSURL  string
	JWT    *security.JWTManager
	Tokens *service.TokenService
}

// newTestServer wires the real auth stack on top of an in-memory sqlite
// database. now drives token issuance and validation.
func newTestServer(t *testing.T, now func() time.Time, accessTTL time.Duration) *testServer {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.User{}, &domain.RefreshToken{}))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	jwtMgr := security.NewJWTManager("session-auth-core", "session-auth-core-clients", e2eSecret).WithClock(now)
	tokens := service.NewTokenService(jwtMgr, repository.NewGormRefreshStore(db), e2ePepper, accessTTL, time.Hour).WithClock(now)
	creds := service.NewCredentialService(repository.NewUserRepository(db), bcrypt.MinCost)
	auth := service.NewAuthService(creds, tokens, nil)
	gateway := service.NewAuthGateway(jwtMgr)

	authHandler := handler.NewAuthHandler(auth)
	r := chi.NewRouter()
	r.Post("/auth/register", authHandler.Register)
	r.Post("/auth/login", authHandler.Login)
	r.Post("/auth/refresh", authHandler.Refresh)
	r.Post("/auth/logout", authHandler.Logout)
	r.With(middleware.AuthMiddleware(gateway)).Get("/api/v1/me", handler.NewUserHandler().Me)
	r.Handle("/ws", realtime.NewGateway(nil, gateway, realtime.Options{HeartbeatInterval: time.Minute}))

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testServer{
		URL:    srv.URL,
		WSURL:  "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		JWT:    jwtMgr,
		Tokens: tokens,
	}
}
