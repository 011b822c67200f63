package engine

import (
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/DoyleJ11/liar-game/internal/outcome"
)

var testOrder = []string{"user", "ai_1", "ai_2", "ai_3"}

func newTalkState() State {
	s, err := NewState(Setup{
		SessionID: "game_test",
		Category:  "fruit",
		Keyword:   "apple",
		TurnOrder: testOrder,
		Liar:      "ai_2",
	})
	if err != nil {
		panic(err)
	}
	return s
}

// history builds n utterances spoken in turn order.
func history(n int) []Utterance {
	h := make([]Utterance, n)
	for i := range h {
		h[i] = Utterance{Speaker: testOrder[i%len(testOrder)], Content: fmt.Sprintf("line %d", i)}
	}
	return h
}

func mustApply(t *testing.T, s State, cmd Command) ([]Event, State) {
	t.Helper()
	events, next, err := Apply(s, cmd)
	if err != nil {
		t.Fatalf("%s: unexpected err %v", cmd.Type, err)
	}
	return events, next
}

// talkRound sends one talk request for whoever is next and applies a reply
// carrying history of length n.
func talkRound(t *testing.T, s State, n int) State {
	t.Helper()
	text := ""
	if s.NextTurn == UserID {
		text = "it is round"
	}
	_, s = mustApply(t, s, Command{Type: CmdBeginRequest, Op: OpTalk, Actor: s.NextTurn, Text: text})
	_, s = mustApply(t, s, Command{Type: CmdTalkApplied, Talk: &TalkReply{
		History:  history(n),
		NextTurn: testOrder[n%len(testOrder)],
	}})
	return s
}

func TestNewState(t *testing.T) {
	s := newTalkState()
	if s.Phase != PhaseTalk {
		t.Fatalf("want phase talk, got %v", s.Phase)
	}
	if s.NextTurn != "user" {
		t.Fatalf("want first turn from turn order, got %q", s.NextTurn)
	}
	if s.UserRole != RoleCivilian {
		t.Fatalf("want civilian, got %v", s.UserRole)
	}

	if _, err := NewState(Setup{SessionID: "x", TurnOrder: []string{"user", "ai_1"}, Liar: "ai_1"}); !errors.Is(err, ErrUnexpectedResponse) {
		t.Fatalf("short turn order: want ErrUnexpectedResponse, got %v", err)
	}

	liar, err := NewState(Setup{SessionID: "x", TurnOrder: testOrder, Liar: "user"})
	if err != nil {
		t.Fatalf("unexpected err %v", err)
	}
	if liar.UserRole != RoleLiar {
		t.Fatalf("want liar role, got %v", liar.UserRole)
	}
}

func TestRoundBoundary(t *testing.T) {
	cases := []struct {
		historyLen int
		want       bool
	}{
		{0, false},
		{3, false},
		{4, true},
		{7, false},
		{8, true},
	}

	for _, tc := range cases {
		t.Run(fmt.Sprintf("len=%d", tc.historyLen), func(t *testing.T) {
			if got := RoundBoundary(tc.historyLen, 4); got != tc.want {
				t.Fatalf("RoundBoundary(%d, 4): got %v, want %v", tc.historyLen, got, tc.want)
			}

			s := newTalkState()
			s.Busy, s.Pending = true, OpTalk
			_, next := mustApply(t, s, Command{Type: CmdTalkApplied, Talk: &TalkReply{
				History:  history(tc.historyLen),
				NextTurn: testOrder[tc.historyLen%4],
			}})
			if next.RoundComplete != tc.want {
				t.Fatalf("RoundComplete after %d utterances: got %v, want %v", tc.historyLen, next.RoundComplete, tc.want)
			}
		})
	}
}

func TestTalkApplied_ReplacesHistoryIdempotently(t *testing.T) {
	s := newTalkState()
	reply := TalkReply{History: history(2), NextTurn: "ai_2", HostComment: "ai_2, you're up"}

	s.Busy, s.Pending = true, OpTalk
	_, first := mustApply(t, s, Command{Type: CmdTalkApplied, Talk: &reply})

	first.Busy, first.Pending = true, OpTalk
	_, second := mustApply(t, first, Command{Type: CmdTalkApplied, Talk: &reply})

	if !reflect.DeepEqual(first.History, reply.History) {
		t.Fatalf("history not replaced: got %+v", first.History)
	}
	if !reflect.DeepEqual(first.History, second.History) || first.NextTurn != second.NextTurn || first.RoundComplete != second.RoundComplete {
		t.Fatalf("re-applying the same reply changed state: %+v vs %+v", first, second)
	}
	if second.HostComment != "ai_2, you're up" {
		t.Fatalf("host comment: got %q", second.HostComment)
	}

	// Shorter history still replaces: the backend is authoritative.
	second.Busy, second.Pending = true, OpTalk
	_, third := mustApply(t, second, Command{Type: CmdTalkApplied, Talk: &TalkReply{History: history(1), NextTurn: "ai_1"}})
	if len(third.History) != 1 {
		t.Fatalf("want history of 1 after replacement, got %d", len(third.History))
	}
}

func TestTalkApplied_RejectsUnseatedNextTurn(t *testing.T) {
	s := newTalkState()
	s.Busy, s.Pending = true, OpTalk

	_, got, err := Apply(s, Command{Type: CmdTalkApplied, Talk: &TalkReply{History: history(1), NextTurn: "moderator"}})
	if !errors.Is(err, ErrUnexpectedResponse) {
		t.Fatalf("want ErrUnexpectedResponse, got %v", err)
	}
	if !reflect.DeepEqual(got, s) {
		t.Fatalf("rejected reply changed state: %+v", got)
	}
}

func TestBeginRequest_Gates(t *testing.T) {
	talk := newTalkState()

	aiTurn := newTalkState()
	aiTurn.NextTurn = "ai_1"

	roundDone := newTalkState()
	roundDone.RoundComplete = true

	busy := newTalkState()
	busy.Busy, busy.Pending = true, OpTalk

	vote := newTalkState()
	vote.Phase = PhaseVote

	voted := vote
	voted.Vote = &outcome.VoteResult{ActualLiar: "ai_2"}

	caughtAI := newTalkState()
	caughtAI.Phase = PhaseLiarCaught
	caughtAI.Vote = &outcome.VoteResult{LiarCaught: true, ActualLiar: "ai_2"}

	caughtUser := caughtAI
	caughtUser.Vote = &outcome.VoteResult{LiarCaught: true, ActualLiar: "user"}

	cases := []struct {
		name    string
		setup   State
		cmd     Command
		wantErr error
	}{
		{name: "human talks on their turn", setup: talk, cmd: Command{Op: OpTalk, Actor: UserID, Text: "red and round"}},
		{name: "human empty message", setup: talk, cmd: Command{Op: OpTalk, Actor: UserID}, wantErr: ErrEmptyInput},
		{name: "human out of turn", setup: aiTurn, cmd: Command{Op: OpTalk, Actor: UserID, Text: "hi"}, wantErr: ErrNotYourTurn},
		{name: "autonomous turn for next ai", setup: aiTurn, cmd: Command{Op: OpTalk, Actor: "ai_1"}},
		{name: "autonomous turn for wrong ai", setup: aiTurn, cmd: Command{Op: OpTalk, Actor: "ai_3"}, wantErr: ErrNotYourTurn},
		{name: "talk after round complete", setup: roundDone, cmd: Command{Op: OpTalk, Actor: UserID, Text: "hi"}, wantErr: ErrRoundComplete},
		{name: "talk while busy", setup: busy, cmd: Command{Op: OpTalk, Actor: UserID, Text: "hi"}, wantErr: ErrBusy},
		{name: "vote during talk", setup: talk, cmd: Command{Op: OpVote, Text: "ai_1"}, wantErr: ErrWrongPhase},
		{name: "vote for participant", setup: vote, cmd: Command{Op: OpVote, Text: "ai_2"}},
		{name: "vote for self is allowed", setup: vote, cmd: Command{Op: OpVote, Text: "user"}},
		{name: "vote for stranger", setup: vote, cmd: Command{Op: OpVote, Text: "host"}, wantErr: ErrUnknownParticipant},
		{name: "second vote", setup: voted, cmd: Command{Op: OpVote, Text: "ai_1"}, wantErr: ErrAlreadyVoted},
		{name: "guess by caught human", setup: caughtUser, cmd: Command{Op: OpLiarGuess, Actor: UserID, Text: "apple"}},
		{name: "empty guess", setup: caughtUser, cmd: Command{Op: OpLiarGuess, Actor: UserID}, wantErr: ErrEmptyInput},
		{name: "guess when ai was caught", setup: caughtAI, cmd: Command{Op: OpLiarGuess, Actor: UserID, Text: "apple"}, wantErr: ErrGuessNotAllowed},
		{name: "guess during vote", setup: vote, cmd: Command{Op: OpLiarGuess, Actor: UserID, Text: "apple"}, wantErr: ErrWrongPhase},
		{name: "unknown op", setup: talk, cmd: Command{Op: "dance"}, wantErr: ErrUnsupportedCommand},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.cmd.Type = CmdBeginRequest
			events, next, err := Apply(tc.setup, tc.cmd)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("want %v, got %v", tc.wantErr, err)
				}
				if !reflect.DeepEqual(next, tc.setup) {
					t.Fatalf("rejected command mutated state")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected err %v", err)
			}
			if !next.Busy || next.Pending != tc.cmd.Op {
				t.Fatalf("want busy with %v pending, got busy=%v pending=%v", tc.cmd.Op, next.Busy, next.Pending)
			}
			if !ContainsEvent(events, EvtRequestStarted) {
				t.Fatalf("expected EvtRequestStarted")
			}
		})
	}
}

func TestRoundDecision(t *testing.T) {
	s := talkRound(t, newTalkState(), 4)
	if !s.RoundComplete {
		t.Fatalf("expected round complete after 4 utterances")
	}

	_, continued := mustApply(t, s, Command{Type: CmdContinueTalk})
	if continued.RoundComplete || continued.Phase != PhaseTalk {
		t.Fatalf("continue: want talk with flag cleared, got %v / %v", continued.Phase, continued.RoundComplete)
	}

	if _, _, err := Apply(continued, Command{Type: CmdOpenVote}); !errors.Is(err, ErrRoundInProgress) {
		t.Fatalf("open vote mid-round: want ErrRoundInProgress, got %v", err)
	}

	events, voting := mustApply(t, s, Command{Type: CmdOpenVote})
	if voting.Phase != PhaseVote || !ContainsEvent(events, EvtVotingOpened) {
		t.Fatalf("open vote: got phase %v events %+v", voting.Phase, events)
	}
	if _, _, err := Apply(voting, Command{Type: CmdContinueTalk}); !errors.Is(err, ErrWrongPhase) {
		t.Fatalf("phase must not regress to talk, got %v", err)
	}
}

func TestVoteApplied(t *testing.T) {
	voting := newTalkState()
	voting.Phase = PhaseVote
	_, voting = mustApply(t, voting, Command{Type: CmdBeginRequest, Op: OpVote, Text: "ai_1"})

	t.Run("not caught resolves directly", func(t *testing.T) {
		vote := outcome.VoteResult{
			LiarCaught: false,
			ActualLiar: "ai_2",
			VoteCounts: map[string]int{"ai_1": 3, "ai_2": 1},
			AIVotes:    map[string]string{"ai_1": "ai_2", "ai_2": "ai_1", "ai_3": "ai_1"},
			UserVote:   "ai_1",
			Result:     "Liar wins",
		}
		events, s := mustApply(t, voting, Command{Type: CmdVoteApplied, Vote: &vote})
		if s.Phase != PhaseResult || s.Final == nil {
			t.Fatalf("want result phase with final result, got %v / %+v", s.Phase, s.Final)
		}
		if !reflect.DeepEqual(s.Final.VoteResult, vote) || s.Final.LiarGuessResult != nil {
			t.Fatalf("final result should mirror the vote: %+v", s.Final)
		}
		if s.Busy {
			t.Fatalf("busy flag not cleared")
		}
		if !ContainsEvent(events, EvtGameResolved) {
			t.Fatalf("expected EvtGameResolved")
		}
	})

	t.Run("caught waits for reversal", func(t *testing.T) {
		vote := outcome.VoteResult{LiarCaught: true, ActualLiar: "ai_2", VoteCounts: map[string]int{"ai_2": 3, "user": 1}}
		events, s := mustApply(t, voting, Command{Type: CmdVoteApplied, Vote: &vote})
		if s.Phase != PhaseLiarCaught || s.Final != nil {
			t.Fatalf("want liar_caught without final result, got %v / %+v", s.Phase, s.Final)
		}
		if s.Vote.AIVotes == nil {
			t.Fatalf("missing ai_votes should normalize to an empty map")
		}
		if !ContainsEvent(events, EvtLiarCaught) {
			t.Fatalf("expected EvtLiarCaught")
		}
	})

	t.Run("vote without request", func(t *testing.T) {
		idle := voting
		idle.Busy, idle.Pending = false, ""
		if _, _, err := Apply(idle, Command{Type: CmdVoteApplied, Vote: &outcome.VoteResult{}}); !errors.Is(err, ErrNoPendingRequest) {
			t.Fatalf("want ErrNoPendingRequest, got %v", err)
		}
	})
}

func TestGuessApplied(t *testing.T) {
	caught := newTalkState()
	caught.Phase = PhaseLiarCaught
	caught.Vote = &outcome.VoteResult{
		LiarCaught: true,
		ActualLiar: "user",
		VoteCounts: map[string]int{"user": 3, "ai_1": 1},
		AIVotes:    map[string]string{"ai_1": "user", "ai_2": "user", "ai_3": "user"},
		UserVote:   "ai_1",
	}

	guess := outcome.GuessResult{Correct: true, Guess: "apple", Keyword: "apple", Result: "Liar wins"}

	if _, _, err := Apply(caught, Command{Type: CmdGuessApplied, Guess: &guess}); !errors.Is(err, ErrNoPendingRequest) {
		t.Fatalf("human guess result without request: want ErrNoPendingRequest, got %v", err)
	}

	_, pending := mustApply(t, caught, Command{Type: CmdBeginRequest, Op: OpLiarGuess, Actor: UserID, Text: "apple"})
	_, s := mustApply(t, pending, Command{Type: CmdGuessApplied, Guess: &guess})

	if s.Phase != PhaseResult || s.Final == nil {
		t.Fatalf("want result phase, got %v", s.Phase)
	}
	if !s.Final.LiarGuessResult.Correct || s.Final.Result != "Liar wins" {
		t.Fatalf("guess not merged: %+v", s.Final)
	}
	if s.Final.VoteCounts["user"] != 3 || s.Final.AIVotes["ai_2"] != "user" {
		t.Fatalf("prior vote data lost: %+v", s.Final.VoteResult)
	}

	if _, _, err := Apply(s, Command{Type: CmdBeginRequest, Op: OpLiarGuess, Actor: UserID, Text: "pear"}); !errors.Is(err, ErrWrongPhase) {
		t.Fatalf("second guess: want ErrWrongPhase, got %v", err)
	}
}

func TestGuessApplied_AILiarOutcomeFromBackend(t *testing.T) {
	caught := newTalkState()
	caught.Phase = PhaseLiarCaught
	caught.Vote = &outcome.VoteResult{LiarCaught: true, ActualLiar: "ai_2"}

	_, s := mustApply(t, caught, Command{Type: CmdGuessApplied, Guess: &outcome.GuessResult{Guess: "pear", Keyword: "apple", Result: "Citizens win"}})
	if s.Phase != PhaseResult || s.Final.Result != "Citizens win" {
		t.Fatalf("want resolved result, got %v / %+v", s.Phase, s.Final)
	}
}

func TestRequestFailed_LeavesStateRetryable(t *testing.T) {
	s := talkRound(t, newTalkState(), 1) // ai_1 next
	_, pending := mustApply(t, s, Command{Type: CmdBeginRequest, Op: OpTalk, Actor: "ai_1"})

	events, failed := mustApply(t, pending, Command{Type: CmdRequestFailed, Op: OpTalk, Message: "backend down"})
	if failed.Busy || failed.Error == nil || failed.Error.Phase != PhaseTalk || failed.Error.Message != "backend down" {
		t.Fatalf("failure not recorded: %+v", failed)
	}
	if !reflect.DeepEqual(failed.History, s.History) || failed.NextTurn != s.NextTurn {
		t.Fatalf("failure mutated history or turn")
	}
	if !ContainsEvent(events, EvtRequestFailed) {
		t.Fatalf("expected EvtRequestFailed")
	}

	_, retry := mustApply(t, failed, Command{Type: CmdBeginRequest, Op: OpTalk, Actor: "ai_1"})
	if retry.Error != nil {
		t.Fatalf("retry should clear the phase error")
	}

	if _, _, err := Apply(s, Command{Type: CmdRequestFailed, Op: OpVote}); !errors.Is(err, ErrNoPendingRequest) {
		t.Fatalf("failure for a request never sent: want ErrNoPendingRequest, got %v", err)
	}
}

func TestRequestFailed_AnsweredVoteStaysClosed(t *testing.T) {
	voting := newTalkState()
	voting.Phase = PhaseVote
	_, pending := mustApply(t, voting, Command{Type: CmdBeginRequest, Op: OpVote, Text: "ai_1"})

	bad := outcome.VoteResult{ActualLiar: "ai_2", VoteCounts: map[string]int{"ai_1": -1}}
	if _, _, err := Apply(pending, Command{Type: CmdVoteApplied, Vote: &bad}); !errors.Is(err, ErrUnexpectedResponse) {
		t.Fatalf("negative tally: want ErrUnexpectedResponse, got %v", err)
	}

	_, answered := mustApply(t, pending, Command{Type: CmdRequestFailed, Op: OpVote, Message: "bad reply", Answered: true})
	if !answered.VoteSent || answered.Phase != PhaseVote || answered.Error == nil {
		t.Fatalf("answered vote failure not recorded: %+v", answered)
	}
	if _, _, err := Apply(answered, Command{Type: CmdBeginRequest, Op: OpVote, Text: "ai_2"}); !errors.Is(err, ErrAlreadyVoted) {
		t.Fatalf("vote after answered failure: want ErrAlreadyVoted, got %v", err)
	}

	// A transport failure never reached the count, so voting reopens.
	_, lost := mustApply(t, pending, Command{Type: CmdRequestFailed, Op: OpVote, Message: "timeout"})
	if lost.VoteSent {
		t.Fatalf("unanswered vote must not close voting")
	}
	mustApply(t, lost, Command{Type: CmdBeginRequest, Op: OpVote, Text: "ai_2"})
}

func TestScenario_RoundThenCaught(t *testing.T) {
	s := newTalkState()
	for n := 1; n <= 4; n++ {
		s = talkRound(t, s, n)
		if n < 4 && s.RoundComplete {
			t.Fatalf("round flagged complete after %d utterances", n)
		}
	}
	if !s.RoundComplete {
		t.Fatalf("round should be complete after 4 utterances")
	}

	_, s = mustApply(t, s, Command{Type: CmdOpenVote})
	if s.Phase != PhaseVote {
		t.Fatalf("want vote, got %v", s.Phase)
	}

	_, s = mustApply(t, s, Command{Type: CmdBeginRequest, Op: OpVote, Text: "ai_2"})
	_, s = mustApply(t, s, Command{Type: CmdVoteApplied, Vote: &outcome.VoteResult{
		LiarCaught: true,
		ActualLiar: "ai_2",
		VoteCounts: map[string]int{"ai_2": 3, "user": 1},
	}})
	if s.Phase != PhaseLiarCaught || s.Final != nil {
		t.Fatalf("want liar_caught and no final result, got %v / %+v", s.Phase, s.Final)
	}
}

func TestUnsupportedCommand(t *testing.T) {
	if _, _, err := Apply(newTalkState(), Command{Type: "Dance"}); !errors.Is(err, ErrUnsupportedCommand) {
		t.Fatalf("want ErrUnsupportedCommand, got %v", err)
	}
}

func TestSpeakersFollowOrder(t *testing.T) {
	if !SpeakersFollowOrder(history(6), testOrder) {
		t.Fatalf("ordered history reported inconsistent")
	}
	bad := history(3)
	bad[1].Speaker = "ai_3"
	if SpeakersFollowOrder(bad, testOrder) {
		t.Fatalf("out of order history reported consistent")
	}
}
