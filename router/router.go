package router

import (
	"net/http"

	memoHandler "github.com/iamyasumichi/only-one/internal/memo"
	"github.com/iamyasumichi/only-one/internal/memo/service"
	"github.com/iamyasumichi/only-one/internal/metrics"
	"github.com/iamyasumichi/only-one/middleware"
	"github.com/iamyasumichi/only-one/socket"
)

func Setup(memoService *service.MemoService, hub *socket.Hub, auth *middleware.Auth, m *metrics.Metrics, corsOrigin string) http.Handler {
	mux := http.NewServeMux()

	// WebSocket
	wsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, _ := middleware.UserID(r.Context())
		socket.ServeWs(hub, w, r, userID)
	})
	mux.Handle("/ws", auth.Middleware(wsHandler))

	// REST API
	h := memoHandler.NewMemoHandler(memoService, auth)
	mux.Handle("/api/memos", auth.Middleware(http.HandlerFunc(h.Memos)))
	mux.HandleFunc("/api/auth/anonymous", h.AnonymousSignIn)
	mux.HandleFunc("/healthz", h.Health)
	if m != nil {
		mux.Handle("/metrics", m.Handler())
	}

	return middleware.CORSMiddleware(corsOrigin, mux)
}
