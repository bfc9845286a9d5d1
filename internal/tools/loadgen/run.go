package loadgen

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sandeepkv93/session-auth-core/internal/sessionclient"
)

type Config struct {
	BaseURL     string
	Identifier  string
	Password    string
	Profile     string
	Duration    time.Duration
	RPS         int
	Concurrency int
	Seed        uint64
	HTTPClient  *http.Client
}

type Result struct {
	TotalRequests int
	Failures      int
	StatusClasses map[string]int
	Refreshes     int
}

// Run logs in once and drives authenticated traffic through one shared
// session, so expiring tokens are refreshed under concurrent load.
func Run(ctx context.Context, cfg Config) (Result, error) {
	profile := normalizeProfile(cfg.Profile)
	switch profile {
	case "calls", "refresh", "mixed":
	default:
		return Result{}, fmt.Errorf("unknown profile %q", cfg.Profile)
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Duration <= 0 {
		cfg.Duration = 10 * time.Second
	}

	api := sessionclient.NewAPI(cfg.BaseURL, cfg.HTTPClient)
	session := sessionclient.NewSession(api, sessionclient.Options{})
	defer session.Close()

	var mu sync.Mutex
	res := Result{StatusClasses: map[string]int{}}
	unsubscribe := session.Subscribe(func(ev sessionclient.Event) {
		if ev.Type == sessionclient.EventCredentialsUpdated {
			mu.Lock()
			res.Refreshes++
			mu.Unlock()
		}
	})
	defer unsubscribe()

	if err := session.Login(ctx, cfg.Identifier, cfg.Password); err != nil {
		return Result{}, fmt.Errorf("loadgen login: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	jobs := make(chan string)
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer close(jobs)
		ticker := time.NewTicker(time.Second / time.Duration(cfg.RPS))
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
			}
			op := profile
			if op == "mixed" {
				op = "calls"
				if rng.IntN(10) == 0 {
					op = "refresh"
				}
			}
			select {
			case jobs <- op:
			case <-gctx.Done():
				return nil
			}
		}
	})
	for i := 0; i < cfg.Concurrency; i++ {
		g.Go(func() error {
			for op := range jobs {
				status := execute(gctx, session, api, op)
				mu.Lock()
				res.TotalRequests++
				class := classifyStatusClass(status)
				res.StatusClasses[class]++
				if class != "2xx" {
					res.Failures++
				}
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	mu.Lock()
	defer mu.Unlock()
	// The login itself published one update.
	if res.Refreshes > 0 {
		res.Refreshes--
	}
	return res, nil
}

func execute(ctx context.Context, session *sessionclient.Session, api *sessionclient.API, op string) int {
	if op == "refresh" {
		access, err := session.AccessToken()
		if err != nil {
			return statusFromError(err)
		}
		if _, err := session.AwaitRefresh(ctx, access); err != nil {
			return statusFromError(err)
		}
		return http.StatusOK
	}
	err := session.Do(ctx, func(ctx context.Context, access string) error {
		return api.Call(ctx, access, http.MethodGet, "/api/v1/me", nil, nil)
	})
	if err != nil {
		return statusFromError(err)
	}
	return http.StatusOK
}

func statusFromError(err error) int {
	var apiErr *sessionclient.APIError
	switch {
	case errors.As(err, &apiErr):
		return apiErr.Status
	case errors.Is(err, sessionclient.ErrAccessExpired),
		errors.Is(err, sessionclient.ErrAccessInvalid),
		errors.Is(err, sessionclient.ErrRefreshNotFound),
		errors.Is(err, sessionclient.ErrRefreshRevoked),
		errors.Is(err, sessionclient.ErrRefreshExpired),
		errors.Is(err, sessionclient.ErrUnauthenticated):
		return http.StatusUnauthorized
	default:
		return 0
	}
}

func classifyStatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500 && status < 600:
		return "5xx"
	default:
		return "other"
	}
}

func normalizeProfile(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	if p == "" {
		return "mixed"
	}
	return p
}
