// internal/services/session_service_test.go
package services

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "github.com/Windrune/NovelForge/internal/errors"
	"github.com/Windrune/NovelForge/internal/models"
	"github.com/Windrune/NovelForge/internal/storage"
)

func newTestSessionService(t *testing.T) *SessionService {
	t.Helper()
	fs, err := storage.NewFileStorage(t.TempDir())
	require.NoError(t, err)
	return NewSessionService(fs, NewLockManager(), zap.NewNop())
}

func testPreset() (*models.WorldSetting, *models.NPCSetting, *models.SceneSetting) {
	world := &models.WorldSetting{
		Name:           "测试世界",
		PromptTemplate: "你是旁白。",
		KeyEvents: []*models.KeyEvent{
			{ID: "ke1", Title: "事件一", Description: "第一幕"},
			{ID: "ke2", Title: "事件二", Description: "第二幕"},
			{ID: "ke3", Title: "事件三", Description: "第三幕"},
			{ID: "ke4", Title: "事件四", Description: "第四幕"},
			{ID: "ke5", Title: "事件五", Description: "第五幕"},
		},
	}
	npcs := &models.NPCSetting{
		NPCs: []*models.NPC{
			{ID: "aria", Name: "艾莉亚", Images: map[string]string{"base": "aria/base.png"}},
			{ID: "kael", Name: "凯尔"},
		},
	}
	scenes := &models.SceneSetting{
		Scenes: []*models.SceneInfo{
			{
				ID:   "tavern",
				Name: "酒馆",
				Subscenes: []*models.Subscene{
					{ID: "bar", Name: "吧台"},
					{ID: "stairs", Name: "楼梯口"},
				},
			},
			{ID: "forest", Name: "森林"},
		},
	}
	return world, npcs, scenes
}

func createTestSession(t *testing.T, svc *SessionService, mode models.GameMode) *models.GameSession {
	t.Helper()
	world, npcs, scenes := testPreset()
	session, err := svc.CreateSession(CreateSessionRequest{
		Mode:         mode,
		PlayerName:   "旅人",
		WorldSetting: world,
		NPCSetting:   npcs,
		SceneSetting: scenes,
	})
	require.NoError(t, err)
	return session
}

func TestCreateSession_InitialState(t *testing.T) {
	svc := newTestSessionService(t)
	session := createTestSession(t, svc, models.ModeVisual)

	assert.NotEmpty(t, session.ID)
	assert.Equal(t, "tavern", session.CurrentScene)
	assert.Equal(t, []string{"tavern"}, session.VisitedScenes)
	assert.Empty(t, session.ConversationHistory)
	assert.False(t, session.GameStarted)
	assert.Zero(t, session.CurrentRound)
}

func TestCreateSession_WorldMode(t *testing.T) {
	svc := newTestSessionService(t)
	session := createTestSession(t, svc, models.ModeWorldInteraction)

	assert.Equal(t, 1, session.CurrentRound)
	assert.Zero(t, session.CurrentKeyEventIndex)
	assert.Empty(t, session.ActiveEvents)
}

func TestCreateSession_IncompletePreset(t *testing.T) {
	svc := newTestSessionService(t)
	world, npcs, _ := testPreset()

	_, err := svc.CreateSession(CreateSessionRequest{
		Mode:         models.ModeVisual,
		WorldSetting: world,
		NPCSetting:   npcs,
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidationError(err))

	_, err = svc.CreateSession(CreateSessionRequest{
		Mode:         models.ModeVisual,
		WorldSetting: world,
		NPCSetting:   npcs,
		SceneSetting: &models.SceneSetting{},
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidationError(err))
}

func TestGetSession_NotFound(t *testing.T) {
	svc := newTestSessionService(t)
	_, err := svc.GetSession("no-such-session")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFoundError(err))
}

func TestGetSession_SurvivesServiceRestart(t *testing.T) {
	dir := t.TempDir()
	fs, err := storage.NewFileStorage(dir)
	require.NoError(t, err)
	svc := NewSessionService(fs, NewLockManager(), zap.NewNop())
	session := createTestSession(t, svc, models.ModeVisual)

	// 新服务实例只有磁盘可依赖
	fs2, err := storage.NewFileStorage(dir)
	require.NoError(t, err)
	svc2 := NewSessionService(fs2, NewLockManager(), zap.NewNop())

	loaded, err := svc2.GetSession(session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, loaded.ID)
	assert.Equal(t, "tavern", loaded.CurrentScene)
}

func TestAppendExchange_SetsGameStartedOnce(t *testing.T) {
	svc := newTestSessionService(t)
	session := createTestSession(t, svc, models.ModeVisual)

	updated, err := svc.AppendExchange(session.ID, models.RoleUser, "进门")
	require.NoError(t, err)
	assert.True(t, updated.GameStarted)
	require.Len(t, updated.ConversationHistory, 1)
	assert.False(t, updated.ConversationHistory[0].Timestamp.IsZero())

	updated, err = svc.AppendExchange(session.ID, models.RoleAssistant, "[NARRATION: 门开了。]")
	require.NoError(t, err)
	assert.True(t, updated.GameStarted)
	assert.Len(t, updated.ConversationHistory, 2)
}

func TestApplySceneChange(t *testing.T) {
	svc := newTestSessionService(t)
	session := createTestSession(t, svc, models.ModeVisual)

	svc.ApplySceneChange(session, models.SceneChange{SceneID: "forest"})
	assert.Equal(t, "forest", session.CurrentScene)
	assert.Equal(t, []string{"tavern", "forest"}, session.VisitedScenes)

	// 未知场景静默忽略，状态不变
	svc.ApplySceneChange(session, models.SceneChange{SceneID: "void"})
	assert.Equal(t, "forest", session.CurrentScene)
	assert.Len(t, session.VisitedScenes, 2)

	// 重复访问不会重复记录
	svc.ApplySceneChange(session, models.SceneChange{SceneID: "tavern"})
	assert.Len(t, session.VisitedScenes, 2)
}

func TestEditMessage_Truncates(t *testing.T) {
	svc := newTestSessionService(t)
	session := createTestSession(t, svc, models.ModeVisual)

	for i := 0; i < 5; i++ {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		_, err := svc.AppendExchange(session.ID, role, fmt.Sprintf("消息%d", i))
		require.NoError(t, err)
	}

	result, err := svc.EditMessage(session.ID, 2, "改写后的消息")
	require.NoError(t, err)
	assert.Equal(t, 2, result.EditedIndex)
	assert.Equal(t, 2, result.DeletedCount)

	loaded, err := svc.GetSession(session.ID)
	require.NoError(t, err)
	require.Len(t, loaded.ConversationHistory, 3)
	assert.Equal(t, "改写后的消息", loaded.ConversationHistory[2].Content)
	assert.Equal(t, "消息0", loaded.ConversationHistory[0].Content)
}

func TestEditMessage_Invalid(t *testing.T) {
	svc := newTestSessionService(t)
	session := createTestSession(t, svc, models.ModeVisual)
	_, err := svc.AppendExchange(session.ID, models.RoleUser, "消息")
	require.NoError(t, err)

	_, err = svc.EditMessage(session.ID, 5, "内容")
	require.Error(t, err)
	assert.True(t, apperrors.IsValidationError(err))
	assert.Equal(t, "OUT_OF_RANGE", apperrors.CodeOf(err))

	_, err = svc.EditMessage(session.ID, -1, "内容")
	require.Error(t, err)
	assert.True(t, apperrors.IsValidationError(err))

	_, err = svc.EditMessage(session.ID, 0, "")
	require.Error(t, err)
	assert.Equal(t, "INVALID_CONTENT", apperrors.CodeOf(err))
}

func TestPrepareRegenerate_ResolvesLastUserEntry(t *testing.T) {
	svc := newTestSessionService(t)
	session := createTestSession(t, svc, models.ModeVisual)

	entries := []struct{ role, content string }{
		{models.RoleUser, "第一问"},
		{models.RoleAssistant, "第一答"},
		{models.RoleUser, "第二问"},
		{models.RoleAssistant, "第二答"},
	}
	for _, e := range entries {
		_, err := svc.AppendExchange(session.ID, e.role, e.content)
		require.NoError(t, err)
	}

	result, err := svc.PrepareRegenerate(session.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result.RegeneratedFrom)
	assert.Equal(t, 2, result.TruncatedCount)
	assert.Equal(t, "第二问", result.UserContent)

	loaded, err := svc.GetSession(session.ID)
	require.NoError(t, err)
	assert.Len(t, loaded.ConversationHistory, 2)
}

func TestPrepareRegenerate_ExplicitTarget(t *testing.T) {
	svc := newTestSessionService(t)
	session := createTestSession(t, svc, models.ModeVisual)
	_, err := svc.AppendExchange(session.ID, models.RoleUser, "第一问")
	require.NoError(t, err)
	_, err = svc.AppendExchange(session.ID, models.RoleAssistant, "第一答")
	require.NoError(t, err)

	target := 0
	result, err := svc.PrepareRegenerate(session.ID, &target)
	require.NoError(t, err)
	assert.Equal(t, 0, result.RegeneratedFrom)
	assert.Equal(t, 2, result.TruncatedCount)

	loaded, err := svc.GetSession(session.ID)
	require.NoError(t, err)
	assert.Empty(t, loaded.ConversationHistory)
}

func TestPrepareRegenerate_Invalid(t *testing.T) {
	svc := newTestSessionService(t)
	session := createTestSession(t, svc, models.ModeVisual)

	_, err := svc.PrepareRegenerate(session.ID, nil)
	require.Error(t, err)
	assert.Equal(t, "NO_HISTORY", apperrors.CodeOf(err))

	_, err = svc.AppendExchange(session.ID, models.RoleUser, "问")
	require.NoError(t, err)
	_, err = svc.AppendExchange(session.ID, models.RoleAssistant, "答")
	require.NoError(t, err)

	// 指向assistant条目不是合法的重新生成目标
	target := 1
	_, err = svc.PrepareRegenerate(session.ID, &target)
	require.Error(t, err)
	assert.Equal(t, "INVALID_INDEX", apperrors.CodeOf(err))

	target = 9
	_, err = svc.PrepareRegenerate(session.ID, &target)
	require.Error(t, err)
	assert.Equal(t, "INVALID_INDEX", apperrors.CodeOf(err))
}

func TestGetSummary(t *testing.T) {
	svc := newTestSessionService(t)
	session := createTestSession(t, svc, models.ModeWorldInteraction)

	summary, err := svc.GetSummary(session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, summary.ID)
	assert.Equal(t, "酒馆", summary.CurrentSceneName)
	assert.Equal(t, 1, summary.CurrentRound)
	assert.Equal(t, 5, summary.KeyEventTotal)
	assert.False(t, summary.AllEventsCompleted)
}
