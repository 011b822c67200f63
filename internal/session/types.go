package session

type Message struct {
	Speaker string `json:"speaker"`
	Content string `json:"content"`
}

type StartRequest struct {
	SessionID string  `json:"session_id"`
	Keyword   *string `json:"keyword"`
}

type StartResponse struct {
	SessionID   string `json:"session_id"`
	Keyword     string `json:"keyword"`
	Category    string `json:"category"`
	Message     string `json:"message,omitempty"`
	HostComment string `json:"host_comment,omitempty"`
}

type StatusResponse struct {
	SessionID   string    `json:"session_id"`
	Keyword     string    `json:"keyword"`
	Category    string    `json:"category"`
	Liar        string    `json:"liar"`
	TurnOrder   []string  `json:"turn_order"`
	History     []Message `json:"history"`
	CurrentTurn int       `json:"current_turn"`
}

type TalkRequest struct {
	SessionID   string `json:"session_id"`
	UserMessage string `json:"user_message"`
}

type TalkResponse struct {
	SessionID   string    `json:"session_id"`
	History     []Message `json:"history"`
	NextTurn    string    `json:"next_turn"`
	HostComment *string   `json:"host_comment"`
}

type VoteRequest struct {
	SessionID string `json:"session_id"`
	UserVote  string `json:"user_vote"`
}

type VoteResponse struct {
	SessionID  string            `json:"session_id"`
	UserVote   string            `json:"user_vote"`
	AIVotes    map[string]string `json:"ai_votes"`
	ActualLiar string            `json:"actual_liar"`
	Result     string            `json:"result"`
	VoteCounts map[string]int    `json:"vote_counts"`
	LiarCaught bool              `json:"liar_caught"`
}

type GuessRequest struct {
	SessionID string `json:"session_id"`
	Guess     string `json:"guess"`
}

type GuessResponse struct {
	SessionID string `json:"session_id"`
	Guess     string `json:"guess"`
	Correct   bool   `json:"correct"`
	Keyword   string `json:"keyword"`
	Result    string `json:"result"`
}
