// internal/services/game_service_test.go
package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "github.com/Windrune/NovelForge/internal/errors"
	"github.com/Windrune/NovelForge/internal/llm"
	"github.com/Windrune/NovelForge/internal/models"
	"github.com/Windrune/NovelForge/internal/narrative"
)

// scriptedProvider 返回预先写好的剧本文本
type scriptedProvider struct {
	text            string
	chunks          []string
	holdUntilCancel bool
}

var scripted = &scriptedProvider{}

func init() {
	llm.Register("scripted", func() llm.Provider { return scripted })
}

func (p *scriptedProvider) Initialize(config map[string]string) error { return nil }

func (p *scriptedProvider) GetName() string { return "scripted" }

func (p *scriptedProvider) CompleteChat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	return &llm.ChatResponse{Text: p.text, FinishReason: "stop"}, nil
}

func (p *scriptedProvider) StreamChat(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamDelta, error) {
	ch := make(chan llm.StreamDelta)
	go func() {
		defer close(ch)
		var full string
		for i, chunk := range p.chunks {
			select {
			case ch <- llm.StreamDelta{Text: chunk}:
				full += chunk
			case <-ctx.Done():
				return
			}
			if p.holdUntilCancel && i == 0 {
				<-ctx.Done()
				return
			}
		}
		ch <- llm.StreamDelta{Text: full, FinishReason: "stop", Done: true}
	}()
	return ch, nil
}

func newTestGameService(t *testing.T) (*GameService, *SessionService) {
	t.Helper()
	t.Setenv("DATA_DIR", t.TempDir())
	t.Setenv("LOG_DIR", t.TempDir())

	sessions := newTestSessionService(t)
	llmSvc := NewLLMService(zap.NewNop())
	require.NoError(t, llmSvc.UpdateProvider("scripted", map[string]string{}))
	return NewGameService(sessions, llmSvc, zap.NewNop()), sessions
}

func TestProcessAction(t *testing.T) {
	svc, sessions := newTestGameService(t)
	session := createTestSession(t, sessions, models.ModeVisual)

	scripted.text = "[NARRATION: 你推开门。]\n[SCENE_CHANGE: forest]\n[DIALOGUE: aria, \"跟我来。\"]"

	result, err := svc.ProcessAction(context.Background(), session.ID, "出发")
	require.NoError(t, err)
	require.Equal(t, 3, result.TotalSteps)

	loaded, err := sessions.GetSession(session.ID)
	require.NoError(t, err)
	require.Len(t, loaded.ConversationHistory, 2)
	assert.Equal(t, models.RoleUser, loaded.ConversationHistory[0].Role)
	assert.Equal(t, "出发", loaded.ConversationHistory[0].Content)
	assert.Equal(t, models.RoleAssistant, loaded.ConversationHistory[1].Role)
	assert.Equal(t, scripted.text, loaded.ConversationHistory[1].Content)
	assert.True(t, loaded.GameStarted)

	// 场景切换步骤更新了场景指针
	assert.Equal(t, "forest", loaded.CurrentScene)
	assert.Contains(t, loaded.VisitedScenes, "forest")
}

func TestProcessAction_EmptyAction(t *testing.T) {
	svc, sessions := newTestGameService(t)
	session := createTestSession(t, sessions, models.ModeVisual)

	_, err := svc.ProcessAction(context.Background(), session.ID, "  ")
	require.Error(t, err)
	assert.True(t, apperrors.IsValidationError(err))
}

func TestProcessAction_SessionNotFound(t *testing.T) {
	svc, _ := newTestGameService(t)
	_, err := svc.ProcessAction(context.Background(), "ghost", "出发")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFoundError(err))
}

func TestProcessActionStream(t *testing.T) {
	svc, sessions := newTestGameService(t)
	session := createTestSession(t, sessions, models.ModeVisual)

	scripted.chunks = []string{
		"[NARRATION: 夜幕",
		"降临。]\n[NARR",
		"ATION: 风停了。]",
	}
	scripted.holdUntilCancel = false

	sink := make([]interface{}, 0)
	result, err := svc.ProcessActionStream(context.Background(), session.ID, "环顾四周", func(v interface{}) error {
		sink = append(sink, v)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, result.TotalSteps)

	var stepCount, rawCount, completeCount int
	for _, env := range sink {
		switch env.(type) {
		case narrative.StepEnvelope:
			stepCount++
		case narrative.RawEnvelope:
			rawCount++
		case narrative.CompleteEnvelope:
			completeCount++
		}
	}
	assert.Equal(t, 2, stepCount)
	assert.Equal(t, 3, rawCount)
	assert.Equal(t, 1, completeCount)

	loaded, err := sessions.GetSession(session.ID)
	require.NoError(t, err)
	require.Len(t, loaded.ConversationHistory, 2)
	assert.Equal(t, "[NARRATION: 夜幕降临。]\n[NARRATION: 风停了。]",
		loaded.ConversationHistory[1].Content)
}

func TestProcessActionStream_CancelPersistsNothing(t *testing.T) {
	svc, sessions := newTestGameService(t)
	session := createTestSession(t, sessions, models.ModeVisual)

	scripted.chunks = []string{"[NARRATION: 开头", "不会到来的结尾]"}
	scripted.holdUntilCancel = true
	defer func() { scripted.holdUntilCancel = false }()

	ctx, cancel := context.WithCancel(context.Background())
	_, err := svc.ProcessActionStream(ctx, session.ID, "出发", func(v interface{}) error {
		// 收到第一个封包后客户端断开
		cancel()
		return nil
	})
	require.Error(t, err)

	loaded, err := sessions.GetSession(session.ID)
	require.NoError(t, err)
	assert.Empty(t, loaded.ConversationHistory)
}

func TestRegenerate_ReplaysLastUserMessage(t *testing.T) {
	svc, sessions := newTestGameService(t)
	session := createTestSession(t, sessions, models.ModeVisual)

	scripted.text = "[NARRATION: 第一版结局。]"
	_, err := svc.ProcessAction(context.Background(), session.ID, "走向祭坛")
	require.NoError(t, err)

	prep, action, err := svc.Regenerate(context.Background(), session.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, prep.RegeneratedFrom)
	assert.Equal(t, 2, prep.TruncatedCount)
	require.NotNil(t, action)

	loaded, err := sessions.GetSession(session.ID)
	require.NoError(t, err)
	require.Len(t, loaded.ConversationHistory, 2)
	assert.Equal(t, "走向祭坛", loaded.ConversationHistory[0].Content)
	assert.Equal(t, models.RoleAssistant, loaded.ConversationHistory[1].Role)
}
