package game

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/DoyleJ11/liar-game/internal/engine"
	"github.com/DoyleJ11/liar-game/internal/outcome"
	"github.com/DoyleJ11/liar-game/internal/session"
)

// Starter creates a backend session and reports its seating.
type Starter interface {
	Start(ctx context.Context, sessionID string, keyword *string) (session.StartResponse, error)
	Status(ctx context.Context, sessionID string) (session.StatusResponse, error)
}

func NewSessionID() string {
	return "game_" + uuid.NewString()
}

// Bootstrap starts a backend session and builds the initial state from the
// start and status answers. An empty keyword lets the backend choose.
func Bootstrap(ctx context.Context, starter Starter, sessionID, keyword string) (engine.State, error) {
	var kw *string
	if keyword = NormalizeInput(keyword); keyword != "" {
		kw = &keyword
	}

	started, err := starter.Start(ctx, sessionID, kw)
	if err != nil {
		return engine.State{}, fmt.Errorf("start session: %w", err)
	}
	status, err := starter.Status(ctx, sessionID)
	if err != nil {
		return engine.State{}, fmt.Errorf("session status: %w", err)
	}

	category := started.Category
	if category == "" {
		category = status.Category
	}
	word := started.Keyword
	if word == "" {
		word = status.Keyword
	}

	st, err := engine.NewState(engine.Setup{
		SessionID: sessionID,
		Category:  category,
		Keyword:   word,
		TurnOrder: status.TurnOrder,
		Liar:      status.Liar,
	})
	if err != nil {
		return engine.State{}, fmt.Errorf("session setup: %w", err)
	}
	st.HostComment = started.HostComment
	return st, nil
}

// NormalizeInput trims the text and puts it in NFC so Hangul typed as
// decomposed jamo compares equal to the precomposed keyword.
func NormalizeInput(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// FailureMessage is the text shown to the player when op fails.
func FailureMessage(op engine.Operation, err error) string {
	if detail, ok := session.Detail(err); ok {
		return detail
	}
	if errors.Is(err, engine.ErrUnexpectedResponse) {
		return "unexpected response from the game server"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "the game server took too long to answer"
	}
	switch op {
	case engine.OpTalk:
		return "failed to send the message"
	case engine.OpVote:
		return "failed to submit the vote"
	case engine.OpLiarGuess:
		return "failed to submit the guess"
	}
	return "request failed"
}

func talkReplyFrom(resp session.TalkResponse) *engine.TalkReply {
	history := make([]engine.Utterance, 0, len(resp.History))
	for _, m := range resp.History {
		history = append(history, engine.Utterance{Speaker: m.Speaker, Content: m.Content})
	}
	reply := &engine.TalkReply{History: history, NextTurn: resp.NextTurn}
	if resp.HostComment != nil {
		reply.HostComment = *resp.HostComment
	}
	return reply
}

func voteResultFrom(resp session.VoteResponse) *outcome.VoteResult {
	return &outcome.VoteResult{
		LiarCaught: resp.LiarCaught,
		ActualLiar: resp.ActualLiar,
		VoteCounts: resp.VoteCounts,
		AIVotes:    resp.AIVotes,
		UserVote:   resp.UserVote,
		Result:     resp.Result,
	}
}

func guessResultFrom(resp session.GuessResponse) *outcome.GuessResult {
	return &outcome.GuessResult{
		Correct: resp.Correct,
		Guess:   resp.Guess,
		Keyword: resp.Keyword,
		Result:  resp.Result,
	}
}
