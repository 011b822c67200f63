package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/liar-game/internal/ws"
)

func SetupRoutes(s *Server) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.logger()))
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(s.Hub, s.Logger))

	r.Route("/game", func(r chi.Router) {
		r.Post("/", s.StartGame)
		r.Get("/", s.GetGame)
		r.Delete("/", s.EndGame)

		r.Post("/talk", s.Talk)
		r.Post("/continue", s.Continue)
		r.Post("/vote-phase", s.OpenVote)
		r.Post("/vote", s.Vote)
		r.Post("/guess", s.Guess)
		r.Post("/retry", s.Retry)
		r.Post("/reversal", s.Reversal)
	})

	if s.Games != nil {
		r.Get("/games/recent", s.RecentGames)
	}
	return r
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("elapsed", time.Since(start)))
		})
	}
}
