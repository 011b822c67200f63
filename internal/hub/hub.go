// Package hub owns the one live game of the process. Installing a new game
// shuts the previous one down; nothing carries over between games.
package hub

import (
	"context"

	"go.uber.org/zap"

	"github.com/DoyleJ11/liar-game/internal/engine"
	"github.com/DoyleJ11/liar-game/internal/game"
)

type HubMsg interface{ isHubMsg() }

// InstallGame replaces the live game with a fresh one built from State.
type InstallGame struct {
	State engine.State
	Reply chan *game.Game
}

type GetGame struct {
	Reply chan *game.Game // receives nil when no game is live
}

// EndGame shuts the live game down. Reply, if set, reports whether one existed.
type EndGame struct {
	Reply chan bool
}

type ShutdownHub struct{}

func (InstallGame) isHubMsg() {}
func (GetGame) isHubMsg()     {}
func (EndGame) isHubMsg()     {}
func (ShutdownHub) isHubMsg() {}

type Hub struct {
	inbox  chan HubMsg
	live   *game.Game
	opts   game.Options
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub starts the hub. opts is passed to every game it installs.
func NewHub(parent context.Context, opts game.Options) *Hub {
	ctx, cancel := context.WithCancel(parent)
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		inbox:  make(chan HubMsg, 64),
		opts:   opts,
		logger: logger.With(zap.String("component", "hub")),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			h.endLive()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case InstallGame:
				h.endLive()
				h.live = game.New(h.ctx, msg.State, h.opts)
				h.logger.Info("game started",
					zap.String("session_id", msg.State.SessionID),
					zap.Strings("turn_order", msg.State.TurnOrder))
				msg.Reply <- h.live

			case GetGame:
				msg.Reply <- h.live // May be nil

			case EndGame:
				existed := h.live != nil
				h.endLive()
				if msg.Reply != nil {
					msg.Reply <- existed
				}

			case ShutdownHub:
				h.endLive()
				h.cancel()
				return
			}
		}
	}
}

func (h *Hub) endLive() {
	if h.live == nil {
		return
	}
	h.live.Close()
	h.logger.Info("game ended")
	h.live = nil
}

func (h *Hub) send(ctx context.Context, m HubMsg) error {
	select {
	case h.inbox <- m:
		return nil
	case <-h.done:
		return game.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Install starts a game from s, tearing down the previous one.
func (h *Hub) Install(ctx context.Context, s engine.State) (*game.Game, error) {
	reply := make(chan *game.Game, 1)
	if err := h.send(ctx, InstallGame{State: s, Reply: reply}); err != nil {
		return nil, err
	}
	select {
	case g := <-reply:
		return g, nil
	case <-h.done:
		return nil, game.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Current returns the live game or nil.
func (h *Hub) Current(ctx context.Context) (*game.Game, error) {
	reply := make(chan *game.Game, 1)
	if err := h.send(ctx, GetGame{Reply: reply}); err != nil {
		return nil, err
	}
	select {
	case g := <-reply:
		return g, nil
	case <-h.done:
		return nil, game.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// End discards the live game and reports whether there was one.
func (h *Hub) End(ctx context.Context) (bool, error) {
	reply := make(chan bool, 1)
	if err := h.send(ctx, EndGame{Reply: reply}); err != nil {
		return false, err
	}
	select {
	case existed := <-reply:
		return existed, nil
	case <-h.done:
		return false, game.ErrClosed
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Shutdown ends the live game and stops the hub.
func (h *Hub) Shutdown() {
	select {
	case h.inbox <- ShutdownHub{}:
	case <-h.done:
	}
	<-h.done
}
