// Package game runs one liar-game session as an actor: a single goroutine
// owns the engine state, applies commands from its inbox, fans snapshots out
// to subscribers and drives autonomous AI turns through the scheduler.
package game

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/liar-game/internal/engine"
	"github.com/DoyleJ11/liar-game/internal/outcome"
	"github.com/DoyleJ11/liar-game/internal/scheduler"
	"github.com/DoyleJ11/liar-game/internal/session"
)

var ErrClosed = errors.New("game closed")

const (
	DefaultRequestTimeout = 60 * time.Second
	archiveTimeout        = 10 * time.Second
)

// Backend is the subset of the session client a running game needs.
type Backend interface {
	Talk(ctx context.Context, sessionID, message string) (session.TalkResponse, error)
	Vote(ctx context.Context, sessionID, accused string) (session.VoteResponse, error)
	LiarGuess(ctx context.Context, sessionID, guess string) (session.GuessResponse, error)
}

// Recorder stores a finished game. It is called at most once per game.
type Recorder interface {
	RecordGame(ctx context.Context, s engine.State) error
}

type Msg interface{ isGameMsg() }

// Talk is the human's utterance on their turn.
type Talk struct {
	Message string
	Reply   chan error
}

type Continue struct{ Reply chan error }

type OpenVote struct{ Reply chan error }

type Vote struct {
	Accused string
	Reply   chan error
}

// Guess is the human liar's reversal guess.
type Guess struct {
	Guess string
	Reply chan error
}

// Retry re-issues the AI turn whose request last failed.
type Retry struct{ Reply chan error }

// ReversalOutcome delivers the result of an AI liar's reversal guess.
type ReversalOutcome struct {
	Result outcome.GuessResult
	Reply  chan error
}

type Join struct {
	ClientID string
	Outbox   chan Snapshot
}

type Leave struct{ ClientID string }

type GetState struct {
	Reply chan View
}

type Shutdown struct{}

type turnDue struct{ due scheduler.Due }

type completed struct {
	op  engine.Operation
	cmd engine.Command
	err error
}

func (Talk) isGameMsg()            {}
func (Continue) isGameMsg()        {}
func (OpenVote) isGameMsg()        {}
func (Vote) isGameMsg()            {}
func (Guess) isGameMsg()           {}
func (Retry) isGameMsg()           {}
func (ReversalOutcome) isGameMsg() {}
func (Join) isGameMsg()            {}
func (Leave) isGameMsg()           {}
func (GetState) isGameMsg()        {}
func (Shutdown) isGameMsg()        {}
func (turnDue) isGameMsg()         {}
func (completed) isGameMsg()       {}

type Snapshot struct {
	Version int
	State   engine.State
}

type View struct {
	Version    int
	NumClients int
	State      engine.State
	TimerArmed bool
}

type Options struct {
	Backend        Backend
	Recorder       Recorder // optional
	Logger         *zap.Logger
	TurnDelay      time.Duration
	RequestTimeout time.Duration
}

type Game struct {
	inbox    chan Msg
	state    engine.State
	version  int
	clients  map[string]chan Snapshot
	sched    *scheduler.Scheduler
	backend  Backend
	recorder Recorder
	logger   *zap.Logger
	timeout  time.Duration
	archived bool
	records  sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func New(parent context.Context, initial engine.State, opts Options) *Game {
	ctx, cancel := context.WithCancel(parent)

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	g := &Game{
		inbox:    make(chan Msg, 64),
		state:    initial,
		clients:  make(map[string]chan Snapshot),
		backend:  opts.Backend,
		recorder: opts.Recorder,
		logger:   logger.With(zap.String("session_id", initial.SessionID)),
		timeout:  timeout,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	g.sched = scheduler.New(opts.TurnDelay, func(d scheduler.Due) {
		g.post(turnDue{due: d})
	})
	g.sched.Reconcile(g.state)

	go g.loop()
	return g
}

func (g *Game) loop() {
	defer close(g.done)
	for {
		select {
		case <-g.ctx.Done():
			g.shutdown()
			return

		case m := <-g.inbox:
			switch msg := m.(type) {
			case Join:
				g.clients[msg.ClientID] = msg.Outbox
				g.send(msg.ClientID, msg.Outbox, Snapshot{Version: g.version, State: g.state})

			case Leave:
				delete(g.clients, msg.ClientID)

			case Talk:
				reply(msg.Reply, g.begin(engine.OpTalk, engine.UserID, NormalizeInput(msg.Message)))

			case Continue:
				_, err := g.apply(engine.Command{Type: engine.CmdContinueTalk})
				reply(msg.Reply, err)

			case OpenVote:
				_, err := g.apply(engine.Command{Type: engine.CmdOpenVote})
				reply(msg.Reply, err)

			case Vote:
				reply(msg.Reply, g.begin(engine.OpVote, engine.UserID, NormalizeInput(msg.Accused)))

			case Guess:
				reply(msg.Reply, g.begin(engine.OpLiarGuess, engine.UserID, NormalizeInput(msg.Guess)))

			case Retry:
				reply(msg.Reply, g.retry())

			case ReversalOutcome:
				result := msg.Result
				_, err := g.apply(engine.Command{Type: engine.CmdGuessApplied, Guess: &result})
				reply(msg.Reply, err)

			case turnDue:
				if !g.sched.Accept(msg.due, g.state) {
					g.logger.Debug("dropped stale turn timer", zap.Uint64("generation", msg.due.Generation))
					break
				}
				if err := g.begin(engine.OpTalk, g.state.NextTurn, ""); err != nil {
					g.logger.Warn("autonomous turn rejected", zap.String("speaker", g.state.NextTurn), zap.Error(err))
				}

			case completed:
				g.complete(msg)

			case GetState:
				msg.Reply <- View{
					Version:    g.version,
					NumClients: len(g.clients),
					State:      g.state,
					TimerArmed: g.sched.Armed(),
				}

			case Shutdown:
				g.shutdown()
				return
			}
		}
	}
}

// begin validates an outgoing request against the state machine and, once
// accepted, runs the backend call off the loop.
func (g *Game) begin(op engine.Operation, actor, text string) error {
	if _, err := g.apply(engine.Command{Type: engine.CmdBeginRequest, Op: op, Actor: actor, Text: text}); err != nil {
		return err
	}
	g.dispatch(op, text)
	return nil
}

func (g *Game) retry() error {
	s := g.state
	if s.Error == nil || s.Error.Op != engine.OpTalk {
		return engine.ErrNoPendingRequest
	}
	if s.NextTurn == engine.UserID {
		return engine.ErrNotYourTurn
	}
	return g.begin(engine.OpTalk, s.NextTurn, "")
}

func (g *Game) dispatch(op engine.Operation, text string) {
	sessionID := g.state.SessionID
	backend := g.backend

	go func() {
		// In-flight calls outlive teardown; their completions are dropped by post.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(g.ctx), g.timeout)
		defer cancel()

		var (
			cmd engine.Command
			err error
		)
		switch op {
		case engine.OpTalk:
			var resp session.TalkResponse
			if resp, err = backend.Talk(ctx, sessionID, text); err == nil {
				cmd = engine.Command{Type: engine.CmdTalkApplied, Talk: talkReplyFrom(resp)}
			}
		case engine.OpVote:
			var resp session.VoteResponse
			if resp, err = backend.Vote(ctx, sessionID, text); err == nil {
				cmd = engine.Command{Type: engine.CmdVoteApplied, Vote: voteResultFrom(resp)}
			}
		case engine.OpLiarGuess:
			var resp session.GuessResponse
			if resp, err = backend.LiarGuess(ctx, sessionID, text); err == nil {
				cmd = engine.Command{Type: engine.CmdGuessApplied, Guess: guessResultFrom(resp)}
			}
		}
		g.post(completed{op: op, cmd: cmd, err: err})
	}()
}

func (g *Game) complete(msg completed) {
	answered := msg.err == nil
	if answered {
		_, err := g.apply(msg.cmd)
		if err == nil {
			return
		}
		if errors.Is(err, engine.ErrNoPendingRequest) || errors.Is(err, engine.ErrWrongPhase) {
			g.logger.Debug("dropped stale completion", zap.String("op", string(msg.op)), zap.Error(err))
			return
		}
		msg.err = err
	}

	message := FailureMessage(msg.op, msg.err)
	g.logger.Warn("backend request failed",
		zap.String("op", string(msg.op)),
		zap.String("phase", string(g.state.Phase)),
		zap.Error(msg.err))
	if _, err := g.apply(engine.Command{Type: engine.CmdRequestFailed, Op: msg.op, Message: message, Answered: answered}); err != nil {
		g.logger.Debug("dropped stale failure", zap.String("op", string(msg.op)), zap.Error(err))
	}
}

// apply runs one engine step. Accepted steps bump the version, broadcast the
// new state and re-evaluate the turn timer.
func (g *Game) apply(cmd engine.Command) ([]engine.Event, error) {
	events, next, err := engine.Apply(g.state, cmd)
	if err != nil {
		return nil, err
	}
	g.state = next
	g.version++

	for _, e := range events {
		g.logger.Debug("event",
			zap.String("type", string(e.Type)),
			zap.String("phase", string(e.Phase)),
			zap.String("op", string(e.Op)),
			zap.String("participant", e.Participant),
			zap.String("detail", e.Detail))
	}
	if engine.ContainsEvent(events, engine.EvtHistoryReplaced) && !engine.SpeakersFollowOrder(g.state.History, g.state.TurnOrder) {
		g.logger.Warn("history does not follow turn order", zap.Strings("turn_order", g.state.TurnOrder))
	}

	g.broadcast(Snapshot{Version: g.version, State: g.state})
	g.sched.Reconcile(g.state)

	if g.state.Phase == engine.PhaseResult && !g.archived {
		g.archived = true
		g.archive(g.state)
	}
	return events, nil
}

func (g *Game) archive(s engine.State) {
	if g.recorder == nil {
		return
	}
	recorder, logger := g.recorder, g.logger
	g.records.Add(1)
	go func() {
		defer g.records.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(g.ctx), archiveTimeout)
		defer cancel()
		if err := recorder.RecordGame(ctx, s); err != nil {
			logger.Warn("archive game", zap.Error(err))
		}
	}()
}

func (g *Game) shutdown() {
	g.sched.Stop()
	for id, ch := range g.clients {
		close(ch)
		delete(g.clients, id)
	}
	g.cancel()
}

func (g *Game) broadcast(snap Snapshot) {
	for id, ch := range g.clients {
		g.send(id, ch, snap)
	}
}

// send drops a subscriber whose outbox is full.
func (g *Game) send(id string, ch chan Snapshot, snap Snapshot) {
	select {
	case ch <- snap:
	default:
		close(ch)
		delete(g.clients, id)
		g.logger.Debug("dropped slow subscriber", zap.String("client_id", id))
	}
}

// post delivers a message from a helper goroutine, giving up once the game
// has stopped.
func (g *Game) post(m Msg) {
	select {
	case g.inbox <- m:
	case <-g.ctx.Done():
	}
}

func reply(ch chan error, err error) {
	if ch != nil {
		ch <- err
	}
}

func (g *Game) Inbox() chan<- Msg { return g.inbox }

func (g *Game) Done() <-chan struct{} { return g.done }

func (g *Game) Send(ctx context.Context, m Msg) error {
	select {
	case g.inbox <- m:
		return nil
	case <-g.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Game) request(ctx context.Context, build func(chan error) Msg) error {
	ch := make(chan error, 1)
	if err := g.Send(ctx, build(ch)); err != nil {
		return err
	}
	select {
	case err := <-ch:
		return err
	case <-g.done:
		select {
		case err := <-ch:
			return err
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Game) Talk(ctx context.Context, message string) error {
	return g.request(ctx, func(r chan error) Msg { return Talk{Message: message, Reply: r} })
}

func (g *Game) Continue(ctx context.Context) error {
	return g.request(ctx, func(r chan error) Msg { return Continue{Reply: r} })
}

func (g *Game) OpenVote(ctx context.Context) error {
	return g.request(ctx, func(r chan error) Msg { return OpenVote{Reply: r} })
}

func (g *Game) Vote(ctx context.Context, accused string) error {
	return g.request(ctx, func(r chan error) Msg { return Vote{Accused: accused, Reply: r} })
}

func (g *Game) Guess(ctx context.Context, guess string) error {
	return g.request(ctx, func(r chan error) Msg { return Guess{Guess: guess, Reply: r} })
}

func (g *Game) Retry(ctx context.Context) error {
	return g.request(ctx, func(r chan error) Msg { return Retry{Reply: r} })
}

func (g *Game) DeliverReversal(ctx context.Context, result outcome.GuessResult) error {
	return g.request(ctx, func(r chan error) Msg { return ReversalOutcome{Result: result, Reply: r} })
}

func (g *Game) View(ctx context.Context) (View, error) {
	ch := make(chan View, 1)
	if err := g.Send(ctx, GetState{Reply: ch}); err != nil {
		return View{}, err
	}
	select {
	case v := <-ch:
		return v, nil
	case <-g.done:
		return View{}, ErrClosed
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

// Close stops the game and waits for its loop and any pending archive write
// to finish.
func (g *Game) Close() {
	g.cancel()
	<-g.done
	g.records.Wait()
}
