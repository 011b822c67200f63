// Package types is the JSON protocol spoken with browser clients, over both
// the REST endpoints and the websocket.
//
// Client -> Server (websocket)
//
//	Talk:     {"type":"Talk","message":"..."}
//	Continue: {"type":"Continue"}
//	OpenVote: {"type":"OpenVote"}
//	Vote:     {"type":"Vote","accused":"ai_2"}
//	Guess:    {"type":"Guess","guess":"..."}
//	Retry:    {"type":"Retry"}
//
// Server -> Client
//
//	StateSnapshot: {"type":"StateSnapshot","version":n,"state":{...StateView}}
//	Error:         {"type":"Error","error":"..."}
package types

import (
	"github.com/DoyleJ11/liar-game/internal/engine"
	"github.com/DoyleJ11/liar-game/internal/outcome"
)

const (
	MsgStateSnapshot = "StateSnapshot"
	MsgError         = "Error"

	MsgTalk     = "Talk"
	MsgContinue = "Continue"
	MsgOpenVote = "OpenVote"
	MsgVote     = "Vote"
	MsgGuess    = "Guess"
	MsgRetry    = "Retry"
)

type ClientMessage struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Accused string `json:"accused,omitempty"`
	Guess   string `json:"guess,omitempty"`
}

type ServerMessage struct {
	Type    string     `json:"type"` // "StateSnapshot" | "Error"
	Version int        `json:"version,omitempty"`
	State   *StateView `json:"state,omitempty"`
	Error   string     `json:"error,omitempty"`
}

// StateView is the player's view of a game. Secrets are withheld: the keyword
// is hidden from a human liar until the game ends, and the liar's identity
// until the vote reveals it.
type StateView struct {
	SessionID     string               `json:"session_id"`
	Category      string               `json:"category"`
	Keyword       string               `json:"keyword,omitempty"`
	UserRole      engine.Role          `json:"user_role"`
	Liar          string               `json:"liar,omitempty"`
	TurnOrder     []string             `json:"turn_order"`
	Phase         engine.Phase         `json:"phase"`
	History       []engine.Utterance   `json:"history"`
	NextTurn      string               `json:"next_turn"`
	HostComment   string               `json:"host_comment,omitempty"`
	Round         int                  `json:"round"`
	RoundComplete bool                 `json:"round_complete"`
	Busy          bool                 `json:"busy"`
	Pending       engine.Operation     `json:"pending,omitempty"`
	AwaitingInput bool                 `json:"awaiting_input"`
	CanGuess      bool                 `json:"can_guess"`
	Error         *engine.PhaseError   `json:"error,omitempty"`
	Vote          *outcome.VoteResult  `json:"vote,omitempty"`
	Standings     []outcome.Standing   `json:"standings,omitempty"`
	TotalVotes    int                  `json:"total_votes,omitempty"`
	Final         *outcome.FinalResult `json:"final,omitempty"`
}

func NewStateView(s engine.State) *StateView {
	v := &StateView{
		SessionID:     s.SessionID,
		Category:      s.Category,
		UserRole:      s.UserRole,
		TurnOrder:     s.TurnOrder,
		Phase:         s.Phase,
		History:       s.History,
		NextTurn:      s.NextTurn,
		HostComment:   s.HostComment,
		Round:         engine.RoundNumber(len(s.History), len(s.TurnOrder)),
		RoundComplete: s.RoundComplete,
		Busy:          s.Busy,
		Pending:       s.Pending,
		AwaitingInput: engine.AwaitingUser(s),
		CanGuess:      engine.CanGuess(s),
		Error:         s.Error,
		Vote:          s.Vote,
		Final:         s.Final,
	}
	if v.History == nil {
		v.History = []engine.Utterance{}
	}
	if s.UserRole != engine.RoleLiar || s.Phase == engine.PhaseResult {
		v.Keyword = s.Keyword
	}
	if s.Vote != nil {
		v.Liar = s.Vote.ActualLiar
		v.Standings = outcome.Standings(s.Vote.VoteCounts)
		v.TotalVotes = outcome.TotalVotes(s.Vote.VoteCounts)
	}
	return v
}

func Snapshot(version int, s engine.State) ServerMessage {
	return ServerMessage{Type: MsgStateSnapshot, Version: version, State: NewStateView(s)}
}

func Error(err error) ServerMessage {
	return ServerMessage{Type: MsgError, Error: err.Error()}
}
