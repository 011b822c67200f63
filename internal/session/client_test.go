package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	mu     sync.Mutex
	method string
	path   string
	body   map[string]any
}

func newBackend(t *testing.T, status int, reply any) (*Client, *recorded) {
	t.Helper()
	rec := &recorded{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		rec.method = r.Method
		rec.path = r.URL.EscapedPath()
		if r.Body != nil && r.ContentLength != 0 {
			_ = json.NewDecoder(r.Body).Decode(&rec.body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(reply)
	}))
	t.Cleanup(srv.Close)
	return NewClient(srv.URL + "/"), rec
}

func TestStart_SendsNullKeywordForRandom(t *testing.T) {
	c, rec := newBackend(t, http.StatusOK, map[string]any{"session_id": "game_1", "keyword": "apple", "category": "fruit"})

	resp, err := c.Start(context.Background(), "game_1", nil)
	require.NoError(t, err)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, "fruit", resp.Category)
	assert.Equal(t, "apple", resp.Keyword)

	assert.Equal(t, http.MethodPost, rec.method)
	assert.Equal(t, "/start", rec.path)
	assert.Equal(t, "game_1", rec.body["session_id"])
	v, ok := rec.body["keyword"]
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestStatus_EscapesSessionID(t *testing.T) {
	c, rec := newBackend(t, http.StatusOK, map[string]any{
		"turn_order": []string{"ai_2", "user", "ai_1", "ai_3"},
		"liar":       "user",
	})

	resp, err := c.Status(context.Background(), "game 1")
	require.NoError(t, err)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []string{"ai_2", "user", "ai_1", "ai_3"}, resp.TurnOrder)
	assert.Equal(t, "user", resp.Liar)
	assert.Equal(t, http.MethodGet, rec.method)
	assert.Equal(t, "/status/game%201", rec.path)
}

func TestTalk_EmptyMessageForAITurn(t *testing.T) {
	c, rec := newBackend(t, http.StatusOK, map[string]any{
		"history":      []map[string]string{{"speaker": "ai_1", "content": "it is sweet"}},
		"next_turn":    "ai_2",
		"host_comment": "ai_2, your turn!",
	})

	resp, err := c.Talk(context.Background(), "game_1", "")
	require.NoError(t, err)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, "", rec.body["user_message"])
	assert.Equal(t, []Message{{Speaker: "ai_1", Content: "it is sweet"}}, resp.History)
	assert.Equal(t, "ai_2", resp.NextTurn)
	require.NotNil(t, resp.HostComment)
	assert.Equal(t, "ai_2, your turn!", *resp.HostComment)
}

func TestVote(t *testing.T) {
	c, rec := newBackend(t, http.StatusOK, map[string]any{
		"liar_caught": true,
		"actual_liar": "ai_2",
		"vote_counts": map[string]int{"ai_2": 3, "user": 1},
		"ai_votes":    map[string]string{"ai_1": "ai_2", "ai_2": "user", "ai_3": "ai_2"},
		"user_vote":   "ai_2",
		"result":      "The liar was caught!",
	})

	resp, err := c.Vote(context.Background(), "game_1", "ai_2")
	require.NoError(t, err)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, "ai_2", rec.body["user_vote"])
	assert.True(t, resp.LiarCaught)
	assert.Equal(t, 3, resp.VoteCounts["ai_2"])
	assert.Equal(t, "user", resp.AIVotes["ai_2"])
}

func TestLiarGuess(t *testing.T) {
	c, rec := newBackend(t, http.StatusOK, map[string]any{
		"correct": true, "guess": "apple", "keyword": "apple", "result": "Liar wins",
	})

	resp, err := c.LiarGuess(context.Background(), "game_1", "apple")
	require.NoError(t, err)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, "/liar-guess", rec.path)
	assert.Equal(t, "apple", rec.body["guess"])
	assert.Equal(t, GuessResponse{Correct: true, Guess: "apple", Keyword: "apple", Result: "Liar wins"}, resp)
}

func TestAPIError_Detail(t *testing.T) {
	cases := []struct {
		name   string
		status int
		reply  any
		want   string
	}{
		{name: "string detail", status: http.StatusNotFound, reply: map[string]any{"detail": "Session game_1 not found"}, want: "Session game_1 not found"},
		{name: "list detail", status: http.StatusUnprocessableEntity, reply: map[string]any{"detail": []map[string]string{{"msg": "field required"}}}, want: `[{"msg":"field required"}]`},
		{name: "no detail", status: http.StatusBadGateway, reply: map[string]any{}, want: "Bad Gateway"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := newBackend(t, tc.status, tc.reply)
			_, err := c.Talk(context.Background(), "game_1", "hello")
			require.Error(t, err)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, OpTalk, apiErr.Op)
			assert.Equal(t, tc.status, apiErr.StatusCode)

			detail, ok := Detail(err)
			assert.True(t, ok)
			assert.Equal(t, tc.want, detail)
		})
	}
}

func TestTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	_, err := NewClient(srv.URL).Vote(context.Background(), "game_1", "ai_1")
	require.Error(t, err)
	_, ok := Detail(err)
	assert.False(t, ok)
}
