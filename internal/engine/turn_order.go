package engine

import "fmt"

const UserID = "user"

// Participants is the closed seat set: the human plus exactly three AIs.
var Participants = []string{UserID, "ai_1", "ai_2", "ai_3"}

func IsParticipant(id string) bool {
	for _, p := range Participants {
		if p == id {
			return true
		}
	}
	return false
}

// ValidateTurnOrder checks the backend's order is a permutation of Participants.
func ValidateTurnOrder(order []string) error {
	if len(order) != len(Participants) {
		return fmt.Errorf("%w: turn order has %d entries, want %d", ErrUnexpectedResponse, len(order), len(Participants))
	}
	seen := make(map[string]bool, len(order))
	for _, id := range order {
		if !IsParticipant(id) {
			return fmt.Errorf("%w: unknown participant %q in turn order", ErrUnexpectedResponse, id)
		}
		if seen[id] {
			return fmt.Errorf("%w: participant %q appears twice in turn order", ErrUnexpectedResponse, id)
		}
		seen[id] = true
	}
	return nil
}

// RoundBoundary reports whether historyLen utterances end a full cycle of the
// turn order.
func RoundBoundary(historyLen, orderLen int) bool {
	return historyLen > 0 && orderLen > 0 && historyLen%orderLen == 0
}

// RoundNumber is the number of completed rounds.
func RoundNumber(historyLen, orderLen int) int {
	if orderLen <= 0 {
		return 0
	}
	return historyLen / orderLen
}

// SpeakersFollowOrder reports whether the i-th utterance was spoken by
// order[i % len(order)] for every entry of history.
func SpeakersFollowOrder(history []Utterance, order []string) bool {
	if len(order) == 0 {
		return len(history) == 0
	}
	for i, u := range history {
		if u.Speaker != order[i%len(order)] {
			return false
		}
	}
	return true
}
