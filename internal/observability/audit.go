package observability

import (
	"context"
	"log/slog"
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

func Audit(r *http.Request, event string, attrs ...any) {
	requestID := chimiddleware.GetReqID(r.Context())
	if requestID == "" {
		requestID = r.Header.Get("X-Request-Id")
	}
	base := []any{
		"event", event,
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", requestID,
	}
	base = append(base, attrs...)
	slog.InfoContext(r.Context(), "audit", base...)
}

// AuditContext logs an audit line for events that happen outside a request, such as a websocket watchdog.
func AuditContext(ctx context.Context, event string, attrs ...any) {
	base := append([]any{"event", event}, attrs...)
	slog.InfoContext(ctx, "audit", base...)
}
