package engine

import (
	"fmt"
	"slices"
)

// Setup is what the start and status calls tell us about a new session.
type Setup struct {
	SessionID string
	Category  string
	Keyword   string
	TurnOrder []string
	Liar      string
}

func NewState(setup Setup) (State, error) {
	if setup.SessionID == "" {
		return State{}, fmt.Errorf("%w: empty session id", ErrUnexpectedResponse)
	}
	if err := ValidateTurnOrder(setup.TurnOrder); err != nil {
		return State{}, err
	}
	if !IsParticipant(setup.Liar) {
		return State{}, fmt.Errorf("%w: unknown liar %q", ErrUnexpectedResponse, setup.Liar)
	}

	return State{
		SessionID: setup.SessionID,
		Category:  setup.Category,
		Keyword:   setup.Keyword,
		Liar:      setup.Liar,
		UserRole:  RoleFor(setup.Liar),
		TurnOrder: slices.Clone(setup.TurnOrder),
		Phase:     PhaseTalk,
		History:   []Utterance{},
		NextTurn:  setup.TurnOrder[0],
	}, nil
}

func RoleFor(liar string) Role {
	if liar == UserID {
		return RoleLiar
	}
	return RoleCivilian
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}

// AwaitingUser reports whether the human's message input should be open.
func AwaitingUser(s State) bool {
	return s.Phase == PhaseTalk && !s.RoundComplete && !s.Busy && s.NextTurn == UserID
}

// CanGuess reports whether the human may submit the reversal guess.
func CanGuess(s State) bool {
	return s.Phase == PhaseLiarCaught && s.Vote != nil && s.Vote.ActualLiar == UserID && s.Final == nil && !s.Busy
}
