package engine

import (
	"errors"
	"fmt"
	"slices"

	"github.com/DoyleJ11/liar-game/internal/outcome"
)

var ErrBusy = errors.New("request already in flight")
var ErrWrongPhase = errors.New("not allowed in current phase")
var ErrRoundComplete = errors.New("round complete, continue or vote first")
var ErrRoundInProgress = errors.New("round still in progress")
var ErrNotYourTurn = errors.New("not your turn")
var ErrAlreadyVoted = errors.New("vote already cast")
var ErrGuessNotAllowed = errors.New("reversal guess not allowed")
var ErrEmptyInput = errors.New("empty input")
var ErrUnknownParticipant = errors.New("unknown participant")
var ErrUnexpectedResponse = errors.New("unexpected backend response")
var ErrNoPendingRequest = errors.New("no matching request in flight")
var ErrUnsupportedCommand = errors.New("unsupported command")

type Phase string

const (
	PhaseTalk       Phase = "talk"
	PhaseVote       Phase = "vote"
	PhaseLiarCaught Phase = "liar_caught"
	PhaseResult     Phase = "result"
)

// CanTransitionTo reports whether moving from p to target is a legal phase
// change. talk -> talk is handled as a self-loop and never goes through here.
func (p Phase) CanTransitionTo(target Phase) bool {
	allowed := map[Phase][]Phase{
		PhaseTalk:       {PhaseVote},
		PhaseVote:       {PhaseLiarCaught, PhaseResult},
		PhaseLiarCaught: {PhaseResult},
	}
	return slices.Contains(allowed[p], target)
}

type Role string

const (
	RoleCivilian Role = "civilian"
	RoleLiar     Role = "liar"
)

type Operation string

const (
	OpTalk      Operation = "talk"
	OpVote      Operation = "vote"
	OpLiarGuess Operation = "liar_guess"
)

type Utterance struct {
	Speaker string `json:"speaker"`
	Content string `json:"content"`
}

// PhaseError is the last backend failure, scoped to the phase it happened in.
type PhaseError struct {
	Phase   Phase     `json:"phase"`
	Op      Operation `json:"op"`
	Message string    `json:"message"`
}

type State struct {
	SessionID     string
	Category      string
	Keyword       string
	Liar          string
	UserRole      Role
	TurnOrder     []string
	Phase         Phase
	History       []Utterance
	NextTurn      string
	HostComment   string
	RoundComplete bool
	Busy          bool
	Pending       Operation
	Error         *PhaseError
	Vote          *outcome.VoteResult
	Final         *outcome.FinalResult
	// VoteSent is set once the backend has answered a vote request, even
	// when the answer could not be used.
	VoteSent bool
}

type CommandType string

const (
	CmdBeginRequest  CommandType = "BeginRequest"
	CmdTalkApplied   CommandType = "TalkApplied"
	CmdContinueTalk  CommandType = "ContinueTalk"
	CmdOpenVote      CommandType = "OpenVote"
	CmdVoteApplied   CommandType = "VoteApplied"
	CmdGuessApplied  CommandType = "GuessApplied"
	CmdRequestFailed CommandType = "RequestFailed"
)

/*
	BeginRequest(talk)   -> RequestStarted
	TalkApplied          -> HistoryReplaced -> TurnAdvanced (-> RoundCompleted)
	ContinueTalk         -> RoundContinued
	OpenVote             -> VotingOpened
	BeginRequest(vote)   -> RequestStarted
	VoteApplied          -> LiarCaught | GameResolved
	GuessApplied         -> GameResolved
	RequestFailed        -> RequestFailed
*/

// Command drives one step of the machine. Actor and Text are only read by
// BeginRequest: Actor is UserID for human input or the AI whose turn it is,
// Text is the message, the accused id or the guessed keyword. Answered marks
// a RequestFailed whose request reached the backend and got a reply.
type Command struct {
	Type     CommandType
	Op       Operation
	Actor    string
	Text     string
	Talk     *TalkReply
	Vote     *outcome.VoteResult
	Guess    *outcome.GuessResult
	Message  string
	Answered bool
}

type TalkReply struct {
	History     []Utterance
	NextTurn    string
	HostComment string
}

type EventType string

const (
	EvtRequestStarted  EventType = "RequestStarted"
	EvtRequestFailed   EventType = "RequestFailed"
	EvtHistoryReplaced EventType = "HistoryReplaced"
	EvtTurnAdvanced    EventType = "TurnAdvanced"
	EvtRoundCompleted  EventType = "RoundCompleted"
	EvtRoundContinued  EventType = "RoundContinued"
	EvtVotingOpened    EventType = "VotingOpened"
	EvtLiarCaught      EventType = "LiarCaught"
	EvtGameResolved    EventType = "GameResolved"
)

type Event struct {
	Type        EventType
	Phase       Phase
	Op          Operation
	Participant string
	Detail      string
}

// Apply validates cmd against s and returns the resulting state. On error the
// returned state is s unchanged.
func Apply(s State, cmd Command) ([]Event, State, error) {
	switch cmd.Type {
	case CmdBeginRequest:
		return beginRequest(s, cmd)

	case CmdTalkApplied:
		if s.Phase != PhaseTalk {
			return nil, s, ErrWrongPhase
		}
		if !s.Busy || s.Pending != OpTalk {
			return nil, s, ErrNoPendingRequest
		}
		if cmd.Talk == nil || cmd.Talk.NextTurn == "" {
			return nil, s, fmt.Errorf("%w: talk reply without next turn", ErrUnexpectedResponse)
		}
		if !IsParticipant(cmd.Talk.NextTurn) {
			return nil, s, fmt.Errorf("%w: next turn %q is not seated", ErrUnexpectedResponse, cmd.Talk.NextTurn)
		}

		newState := applyTalk(s, *cmd.Talk)
		newState.Busy = false
		newState.Pending = ""

		events := []Event{
			{Type: EvtHistoryReplaced, Phase: PhaseTalk, Detail: fmt.Sprintf("%d utterances", len(newState.History))},
			{Type: EvtTurnAdvanced, Phase: PhaseTalk, Participant: newState.NextTurn},
		}
		if newState.RoundComplete {
			events = append(events, Event{Type: EvtRoundCompleted, Phase: PhaseTalk,
				Detail: fmt.Sprintf("round %d", RoundNumber(len(newState.History), len(newState.TurnOrder)))})
		}
		return events, newState, nil

	case CmdContinueTalk:
		if err := roundDecision(s); err != nil {
			return nil, s, err
		}
		newState := s
		newState.RoundComplete = false
		return []Event{{Type: EvtRoundContinued, Phase: PhaseTalk}}, newState, nil

	case CmdOpenVote:
		if err := roundDecision(s); err != nil {
			return nil, s, err
		}
		newState, err := transition(s, PhaseVote)
		if err != nil {
			return nil, s, err
		}
		newState.RoundComplete = false
		newState.Error = nil
		return []Event{{Type: EvtVotingOpened, Phase: PhaseVote}}, newState, nil

	case CmdVoteApplied:
		if s.Phase != PhaseVote {
			return nil, s, ErrWrongPhase
		}
		if s.Vote != nil {
			return nil, s, ErrAlreadyVoted
		}
		if !s.Busy || s.Pending != OpVote {
			return nil, s, ErrNoPendingRequest
		}
		if cmd.Vote == nil {
			return nil, s, fmt.Errorf("%w: empty vote result", ErrUnexpectedResponse)
		}
		vote, err := outcome.Normalize(*cmd.Vote)
		if err != nil {
			return nil, s, fmt.Errorf("%w: %w", ErrUnexpectedResponse, err)
		}

		if vote.LiarCaught {
			newState, err := transition(s, PhaseLiarCaught)
			if err != nil {
				return nil, s, err
			}
			newState.Vote = &vote
			newState.Busy = false
			newState.Pending = ""
			return []Event{{Type: EvtLiarCaught, Phase: PhaseLiarCaught, Participant: vote.ActualLiar}}, newState, nil
		}

		final, err := outcome.Resolve(vote, nil)
		if err != nil {
			return nil, s, fmt.Errorf("%w: %w", ErrUnexpectedResponse, err)
		}
		newState, err := transition(s, PhaseResult)
		if err != nil {
			return nil, s, err
		}
		newState.Vote = &vote
		newState.Final = &final
		newState.Busy = false
		newState.Pending = ""
		return []Event{{Type: EvtGameResolved, Phase: PhaseResult, Participant: vote.ActualLiar, Detail: final.Result}}, newState, nil

	case CmdGuessApplied:
		if s.Phase != PhaseLiarCaught || s.Vote == nil {
			return nil, s, ErrWrongPhase
		}
		if s.Final != nil {
			return nil, s, ErrGuessNotAllowed
		}
		// A human liar's guess must be the request we sent; an AI liar's
		// outcome is delivered by the backend without a request of ours.
		if s.Vote.ActualLiar == UserID && (!s.Busy || s.Pending != OpLiarGuess) {
			return nil, s, ErrNoPendingRequest
		}
		if cmd.Guess == nil {
			return nil, s, fmt.Errorf("%w: empty guess result", ErrUnexpectedResponse)
		}

		final, err := outcome.Resolve(*s.Vote, cmd.Guess)
		if err != nil {
			return nil, s, fmt.Errorf("%w: %w", ErrUnexpectedResponse, err)
		}
		newState, err := transition(s, PhaseResult)
		if err != nil {
			return nil, s, err
		}
		newState.Final = &final
		newState.Busy = false
		newState.Pending = ""
		return []Event{{Type: EvtGameResolved, Phase: PhaseResult, Participant: s.Vote.ActualLiar, Detail: final.Result}}, newState, nil

	case CmdRequestFailed:
		if !s.Busy || s.Pending != cmd.Op {
			return nil, s, ErrNoPendingRequest
		}
		newState := s
		newState.Busy = false
		newState.Pending = ""
		newState.Error = &PhaseError{Phase: s.Phase, Op: cmd.Op, Message: cmd.Message}
		// The backend counts a vote it answered, so voting stays closed.
		if cmd.Op == OpVote && cmd.Answered {
			newState.VoteSent = true
		}
		return []Event{{Type: EvtRequestFailed, Phase: s.Phase, Op: cmd.Op, Detail: cmd.Message}}, newState, nil

	default:
		return nil, s, ErrUnsupportedCommand
	}
}

func beginRequest(s State, cmd Command) ([]Event, State, error) {
	if s.Busy {
		return nil, s, ErrBusy
	}

	switch cmd.Op {
	case OpTalk:
		if s.Phase != PhaseTalk {
			return nil, s, ErrWrongPhase
		}
		if s.RoundComplete {
			return nil, s, ErrRoundComplete
		}
		if cmd.Actor != s.NextTurn {
			return nil, s, ErrNotYourTurn
		}
		// Human turns carry text; an empty message asks the backend to speak
		// for the AI whose turn it is.
		if cmd.Actor == UserID && cmd.Text == "" {
			return nil, s, ErrEmptyInput
		}
		if cmd.Actor != UserID && cmd.Text != "" {
			return nil, s, ErrNotYourTurn
		}

	case OpVote:
		if s.Phase != PhaseVote {
			return nil, s, ErrWrongPhase
		}
		if s.Vote != nil || s.VoteSent {
			return nil, s, ErrAlreadyVoted
		}
		if !slices.Contains(s.TurnOrder, cmd.Text) {
			return nil, s, ErrUnknownParticipant
		}

	case OpLiarGuess:
		if s.Phase != PhaseLiarCaught {
			return nil, s, ErrWrongPhase
		}
		if s.Vote == nil || s.Vote.ActualLiar != UserID || s.Final != nil {
			return nil, s, ErrGuessNotAllowed
		}
		if cmd.Text == "" {
			return nil, s, ErrEmptyInput
		}

	default:
		return nil, s, ErrUnsupportedCommand
	}

	newState := s
	newState.Busy = true
	newState.Pending = cmd.Op
	newState.Error = nil
	return []Event{{Type: EvtRequestStarted, Phase: s.Phase, Op: cmd.Op, Participant: cmd.Actor}}, newState, nil
}

// applyTalk replaces the local history with the backend's full history and
// re-derives the round flag from it.
func applyTalk(s State, reply TalkReply) State {
	newState := s
	newState.History = slices.Clone(reply.History)
	if newState.History == nil {
		newState.History = []Utterance{}
	}
	newState.NextTurn = reply.NextTurn
	newState.HostComment = reply.HostComment
	newState.RoundComplete = RoundBoundary(len(newState.History), len(newState.TurnOrder))
	return newState
}

func roundDecision(s State) error {
	if s.Phase != PhaseTalk {
		return ErrWrongPhase
	}
	if s.Busy {
		return ErrBusy
	}
	if !s.RoundComplete {
		return ErrRoundInProgress
	}
	return nil
}

func transition(s State, to Phase) (State, error) {
	if !s.Phase.CanTransitionTo(to) {
		return s, fmt.Errorf("%w: %s -> %s", ErrWrongPhase, s.Phase, to)
	}
	newState := s
	newState.Phase = to
	return newState, nil
}
