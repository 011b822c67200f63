package outcome

import (
	"cmp"
	"errors"
	"maps"
	"slices"
)

var ErrNegativeTally = errors.New("negative vote tally")
var ErrGuessWithoutCatch = errors.New("reversal guess without a caught liar")

// VoteResult is the one-shot accusation outcome reported by the backend.
type VoteResult struct {
	LiarCaught bool              `json:"liar_caught"`
	ActualLiar string            `json:"actual_liar"`
	VoteCounts map[string]int    `json:"vote_counts"`
	AIVotes    map[string]string `json:"ai_votes"`
	UserVote   string            `json:"user_vote"`
	Result     string            `json:"result,omitempty"`
}

// GuessResult is a caught liar's reversal guess as judged by the backend.
type GuessResult struct {
	Correct bool   `json:"correct"`
	Guess   string `json:"guess"`
	Keyword string `json:"keyword"`
	Result  string `json:"result"`
}

// FinalResult is what the result screen renders. The embedded vote fields are
// flattened in JSON; Result is overridden by the guess outcome when one exists.
type FinalResult struct {
	VoteResult
	LiarGuessResult *GuessResult `json:"liar_guess_result,omitempty"`
}

type Standing struct {
	Participant string `json:"participant"`
	Votes       int    `json:"votes"`
}

// Normalize returns a copy of v with nil maps replaced by empty ones. Tallies
// must be non-negative.
func Normalize(v VoteResult) (VoteResult, error) {
	for _, n := range v.VoteCounts {
		if n < 0 {
			return VoteResult{}, ErrNegativeTally
		}
	}

	out := v
	out.VoteCounts = make(map[string]int, len(v.VoteCounts))
	maps.Copy(out.VoteCounts, v.VoteCounts)
	out.AIVotes = make(map[string]string, len(v.AIVotes))
	maps.Copy(out.AIVotes, v.AIVotes)
	return out, nil
}

// Resolve merges the vote outcome with the optional reversal guess into the
// terminal result. It has no side effects.
func Resolve(vote VoteResult, guess *GuessResult) (FinalResult, error) {
	v, err := Normalize(vote)
	if err != nil {
		return FinalResult{}, err
	}

	if guess == nil {
		return FinalResult{VoteResult: v}, nil
	}

	if !v.LiarCaught {
		return FinalResult{}, ErrGuessWithoutCatch
	}

	g := *guess
	final := FinalResult{VoteResult: v, LiarGuessResult: &g}
	final.Result = g.Result
	return final, nil
}

// Standings orders tallies by votes, most first, ties broken by participant id.
func Standings(counts map[string]int) []Standing {
	out := make([]Standing, 0, len(counts))
	for id, n := range counts {
		out = append(out, Standing{Participant: id, Votes: n})
	}
	slices.SortFunc(out, func(a, b Standing) int {
		if c := cmp.Compare(b.Votes, a.Votes); c != 0 {
			return c
		}
		return cmp.Compare(a.Participant, b.Participant)
	})
	return out
}

func TotalVotes(counts map[string]int) int {
	total := 0
	for _, n := range counts {
		total += n
	}
	return total
}
