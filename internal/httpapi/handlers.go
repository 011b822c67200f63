package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/liar-game/internal/archive"
	"github.com/DoyleJ11/liar-game/internal/engine"
	"github.com/DoyleJ11/liar-game/internal/game"
	"github.com/DoyleJ11/liar-game/internal/hub"
	"github.com/DoyleJ11/liar-game/internal/outcome"
	"github.com/DoyleJ11/liar-game/internal/session"
	"github.com/DoyleJ11/liar-game/internal/types"
)

var errNoGame = errors.New("no game in progress")

// GameLog lists finished games.
type GameLog interface {
	Recent(ctx context.Context, limit int) ([]archive.GameRecord, error)
}

type Server struct {
	Hub            *hub.Hub
	Starter        game.Starter
	Games          GameLog // optional
	FixedKeyword   string
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

type startRequest struct {
	Keyword string `json:"keyword"`
}

type talkRequest struct {
	Message string `json:"message"`
}

type voteRequest struct {
	Accused string `json:"accused"`
}

type guessRequest struct {
	Guess string `json:"guess"`
}

func (s *Server) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

// StartGame creates a backend session and installs it as the live game,
// replacing whatever was running.
func (s *Server) StartGame(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	keyword := req.Keyword
	if keyword == "" {
		keyword = s.FixedKeyword
	}

	ctx := r.Context()
	if s.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.RequestTimeout)
		defer cancel()
	}

	sessionID := game.NewSessionID()
	st, err := game.Bootstrap(ctx, s.Starter, sessionID, keyword)
	if err != nil {
		s.logger().Warn("start game", zap.String("session_id", sessionID), zap.Error(err))
		msg := "failed to start the game"
		if detail, ok := session.Detail(err); ok {
			msg = detail
		}
		writeError(w, http.StatusBadGateway, msg)
		return
	}

	g, err := s.Hub.Install(r.Context(), st)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.writeSnapshot(w, r, g, http.StatusCreated)
}

func (s *Server) GetGame(w http.ResponseWriter, r *http.Request) {
	g, ok := s.current(w, r)
	if !ok {
		return
	}
	s.writeSnapshot(w, r, g, http.StatusOK)
}

// EndGame abandons the live game. It is idempotent.
func (s *Server) EndGame(w http.ResponseWriter, r *http.Request) {
	if _, err := s.Hub.End(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) Talk(w http.ResponseWriter, r *http.Request) {
	var req talkRequest
	s.action(w, r, &req, func(ctx context.Context, g *game.Game) error { return g.Talk(ctx, req.Message) })
}

func (s *Server) Continue(w http.ResponseWriter, r *http.Request) {
	s.action(w, r, nil, func(ctx context.Context, g *game.Game) error { return g.Continue(ctx) })
}

func (s *Server) OpenVote(w http.ResponseWriter, r *http.Request) {
	s.action(w, r, nil, func(ctx context.Context, g *game.Game) error { return g.OpenVote(ctx) })
}

func (s *Server) Vote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	s.action(w, r, &req, func(ctx context.Context, g *game.Game) error { return g.Vote(ctx, req.Accused) })
}

func (s *Server) Guess(w http.ResponseWriter, r *http.Request) {
	var req guessRequest
	s.action(w, r, &req, func(ctx context.Context, g *game.Game) error { return g.Guess(ctx, req.Guess) })
}

func (s *Server) Retry(w http.ResponseWriter, r *http.Request) {
	s.action(w, r, nil, func(ctx context.Context, g *game.Game) error { return g.Retry(ctx) })
}

// Reversal is called by the backend with an AI liar's reversal outcome.
func (s *Server) Reversal(w http.ResponseWriter, r *http.Request) {
	var req outcome.GuessResult
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	g, ok := s.current(w, r)
	if !ok {
		return
	}
	if err := g.DeliverReversal(r.Context(), req); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeSnapshot(w, r, g, http.StatusOK)
}

func (s *Server) RecentGames(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := s.Games.Recent(r.Context(), limit)
	if err != nil {
		s.logger().Error("recent games", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load games")
		return
	}
	if records == nil {
		records = []archive.GameRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// action decodes the optional body into req, runs do against the live game
// and answers 202 with the snapshot taken right after acceptance.
func (s *Server) action(w http.ResponseWriter, r *http.Request, req any, do func(context.Context, *game.Game) error) {
	if req != nil {
		if err := json.NewDecoder(r.Body).Decode(req); err != nil {
			writeError(w, http.StatusBadRequest, "bad json")
			return
		}
	}
	g, ok := s.current(w, r)
	if !ok {
		return
	}
	if err := do(r.Context(), g); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeSnapshot(w, r, g, http.StatusAccepted)
}

func (s *Server) current(w http.ResponseWriter, r *http.Request) (*game.Game, bool) {
	g, err := s.Hub.Current(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return nil, false
	}
	if g == nil {
		writeError(w, http.StatusNotFound, errNoGame.Error())
		return nil, false
	}
	return g, true
}

func (s *Server) writeSnapshot(w http.ResponseWriter, r *http.Request, g *game.Game, status int) {
	v, err := g.View(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, status, types.Snapshot(v.Version, v.State))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrEmptyInput), errors.Is(err, engine.ErrUnknownParticipant):
		return http.StatusBadRequest
	case errors.Is(err, game.ErrClosed):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrBusy),
		errors.Is(err, engine.ErrWrongPhase),
		errors.Is(err, engine.ErrRoundComplete),
		errors.Is(err, engine.ErrRoundInProgress),
		errors.Is(err, engine.ErrNotYourTurn),
		errors.Is(err, engine.ErrAlreadyVoted),
		errors.Is(err, engine.ErrGuessNotAllowed),
		errors.Is(err, engine.ErrNoPendingRequest):
		return http.StatusConflict
	case errors.Is(err, engine.ErrUnexpectedResponse):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, struct {
		Error string `json:"error"`
	}{Error: msg})
}
