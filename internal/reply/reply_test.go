package reply

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/student-support/internal/config"
	"github.com/spec-kit/student-support/internal/domain"
	apperrors "github.com/spec-kit/student-support/pkg/util"
)

func sampleThread() domain.Thread {
	return domain.Thread{
		ID:         "t-1",
		Title:      "Scholarship payment",
		StudentRef: domain.StringPtr("s-1"),
		Topic:      domain.StringPtr("finance"),
		Status:     domain.ThreadStatusPending,
	}
}

func sampleHistory() []domain.Message {
	return []domain.Message{
		{Sender: domain.RoleStudent, Text: "My scholarship is late"},
		{Sender: domain.RoleSystem, Text: "Request routed to department Finance"},
		{Sender: domain.RoleAssistant, Text: "We received your request"},
		{Sender: domain.RoleDepartment, Text: "Please send your student id"},
		{Sender: domain.RoleStudent, Text: "It is 12345"},
	}
}

func TestBuildConversationMapsRolesAndSkipsSystem(t *testing.T) {
	system, turns := BuildConversation(sampleThread(), sampleHistory(), "It is 12345", 10)

	assert.NotEmpty(t, system)
	require.Len(t, turns, 3)
	assert.Equal(t, Turn{Role: "user", Text: "My scholarship is late"}, turns[0])
	assert.Equal(t, "model", turns[1].Role)
	assert.Contains(t, turns[1].Text, "We received your request")
	assert.Contains(t, turns[1].Text, "Please send your student id")
	assert.Equal(t, "user", turns[2].Role)
	assert.Contains(t, turns[2].Text, "Topic: finance")
	assert.Contains(t, turns[2].Text, "It is 12345")
	for _, turn := range turns {
		assert.NotContains(t, turn.Text, "Request routed")
	}
}

func TestBuildConversationKeepsLastTurns(t *testing.T) {
	_, turns := BuildConversation(sampleThread(), sampleHistory(), "It is 12345", 1)
	require.Len(t, turns, 2)
	assert.Equal(t, "model", turns[0].Role)
	assert.Equal(t, "Please send your student id", turns[0].Text)
}

func newGeminiServer(t *testing.T, handler http.HandlerFunc) config.ReplyConfig {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return config.ReplyConfig{
		GeminiAPIKey:   "test-key",
		Model:          "gemini-test",
		BaseURL:        server.URL,
		TimeoutSeconds: 2,
		HistoryTurns:   10,
	}
}

func TestGeminiClientReturnsCandidateText(t *testing.T) {
	var got geminiRequest
	cfg := newGeminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-test:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"Hello, "},{"text":"we are on it."}]}}]}`))
	})

	reply, err := NewGeminiClient(cfg).GenerateReply(context.Background(), sampleThread(), sampleHistory(), "It is 12345")
	require.NoError(t, err)
	assert.Equal(t, "Hello, we are on it.", reply)
	require.NotNil(t, got.SystemInstruction)
	assert.Equal(t, "user", got.Contents[len(got.Contents)-1].Role)
}

func TestGeminiClientReportsHTTPErrors(t *testing.T) {
	cfg := newGeminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"message":"quota exceeded"}}`))
	})

	reply, err := NewGeminiClient(cfg).GenerateReply(context.Background(), sampleThread(), nil, "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
	assert.Empty(t, reply)
}

func TestNewGeneratorWithoutKeyIsSilent(t *testing.T) {
	gen := NewGenerator(config.ReplyConfig{}, nil)
	reply, err := gen.GenerateReply(context.Background(), sampleThread(), nil, "hi")
	assert.NoError(t, err)
	assert.Empty(t, reply)
}

type generatorFunc func(ctx context.Context) (string, error)

func (f generatorFunc) GenerateReply(ctx context.Context, _ domain.Thread, _ []domain.Message, _ string) (string, error) {
	return f(ctx)
}

func TestGuardRecoversPanics(t *testing.T) {
	guarded := Guard(generatorFunc(func(context.Context) (string, error) {
		panic("provider sdk bug")
	}), time.Second, nil)

	reply, err := guarded.GenerateReply(context.Background(), sampleThread(), nil, "hi")
	assert.Empty(t, reply)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeCollaboratorUnavailable))
}

func TestGuardTimesOutHangingGenerator(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	guarded := Guard(generatorFunc(func(context.Context) (string, error) {
		<-release
		return "too late", nil
	}), 20*time.Millisecond, nil)

	start := time.Now()
	reply, err := guarded.GenerateReply(context.Background(), sampleThread(), nil, "hi")
	assert.Empty(t, reply)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeCollaboratorUnavailable))
	assert.Less(t, time.Since(start), time.Second)
}

func TestGuardPassesThroughReplies(t *testing.T) {
	guarded := Guard(generatorFunc(func(context.Context) (string, error) {
		return "hello", nil
	}), time.Second, nil)

	reply, err := guarded.GenerateReply(context.Background(), sampleThread(), nil, "hi")
	require.NoError(t, err)
	assert.Equal(t, "hello", reply)
}
