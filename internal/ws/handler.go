package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/DoyleJ11/liar-game/internal/game"
	"github.com/DoyleJ11/liar-game/internal/hub"
	"github.com/DoyleJ11/liar-game/internal/types"
)

var ErrUnknownType = errors.New("unknown message type")

const writeTimeout = 3 * time.Second

// Handler streams snapshots of the live game and accepts player actions.
func Handler(h *hub.Hub, logger *zap.Logger) http.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "ws"))

	return func(w http.ResponseWriter, r *http.Request) {
		g, err := h.Current(r.Context())
		if err != nil || g == nil {
			http.Error(w, "no game in progress", http.StatusNotFound)
			return
		}

		// Same-origin only.
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			logger.Debug("websocket accept", zap.String("remote", r.RemoteAddr), zap.Error(err))
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		out := make(chan game.Snapshot, 8)
		clientID := uuid.NewString()
		log := logger.With(zap.String("client_id", clientID))

		if err := g.Send(r.Context(), game.Join{ClientID: clientID, Outbox: out}); err != nil {
			conn.Close(websocket.StatusGoingAway, "game ended")
			return
		}
		defer func() { _ = g.Send(context.Background(), game.Leave{ClientID: clientID}) }()
		log.Debug("subscriber joined")

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for {
				select {
				case <-writeCtx.Done():
					return
				case snap, ok := <-out:
					if !ok {
						// The game ended or dropped us as too slow.
						conn.Close(websocket.StatusGoingAway, "game ended")
						return
					}
					if err := write(writeCtx, conn, types.Snapshot(snap.Version, snap.State)); err != nil {
						log.Debug("write snapshot", zap.Error(err))
					}
				}
			}
		}()

		// Reader loop
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					log.Debug("read", zap.Error(err))
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				_ = write(r.Context(), conn, types.ServerMessage{Type: types.MsgError, Error: "bad json"})
				continue
			}

			if err := Perform(r.Context(), g, cm); err != nil {
				_ = write(r.Context(), conn, types.Error(err))
			}
		}
	}
}

// Perform hands a client action to the game and returns the game's verdict.
func Perform(ctx context.Context, g *game.Game, cm types.ClientMessage) error {
	switch cm.Type {
	case types.MsgTalk:
		return g.Talk(ctx, cm.Message)
	case types.MsgContinue:
		return g.Continue(ctx)
	case types.MsgOpenVote:
		return g.OpenVote(ctx)
	case types.MsgVote:
		return g.Vote(ctx, cm.Accused)
	case types.MsgGuess:
		return g.Guess(ctx, cm.Guess)
	case types.MsgRetry:
		return g.Retry(ctx)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, cm.Type)
	}
}

func write(ctx context.Context, conn *websocket.Conn, msg types.ServerMessage) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, msg)
}
