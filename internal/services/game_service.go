// internal/services/game_service.go
package services

import (
	"context"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/Windrune/NovelForge/internal/errors"
	"github.com/Windrune/NovelForge/internal/llm"
	"github.com/Windrune/NovelForge/internal/models"
	"github.com/Windrune/NovelForge/internal/narrative"
)

// ActionResult 一次玩家动作处理的完整结果
type ActionResult struct {
	SessionID  string        `json:"session_id"`
	Steps      []models.Step `json:"steps"`
	TotalSteps int           `json:"total_steps"`
	RawText    string        `json:"raw_text,omitempty"`
}

// GameService 游戏主流程编排
// 装配消息历史 → 调用LLM → 解析演出步骤 → 原子落盘（追加历史+应用场景切换）
// 叙事生成调用失败不重试，直接上抛
type GameService struct {
	sessions *SessionService
	llm      *LLMService
	logger   *zap.Logger
}

// NewGameService 创建游戏服务
func NewGameService(sessions *SessionService, llmService *LLMService, logger *zap.Logger) *GameService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GameService{
		sessions: sessions,
		llm:      llmService,
		logger:   logger,
	}
}

// ProcessAction 非流式处理一次玩家动作
func (s *GameService) ProcessAction(ctx context.Context, sessionID, action string) (*ActionResult, error) {
	if strings.TrimSpace(action) == "" {
		return nil, apperrors.NewValidationError("动作内容不能为空", nil).WithCode("INVALID_CONTENT")
	}

	session, err := s.sessions.GetSession(sessionID)
	if err != nil {
		return nil, err
	}

	resp, err := s.llm.CompleteChat(ctx, buildChatRequest(session, action))
	if err != nil {
		return nil, apperrors.NewUpstreamError("叙事生成失败", err)
	}

	result := narrative.Parse(resp.Text, parseContext(session))

	if err := s.commitExchange(sessionID, action, resp.Text, result.Steps); err != nil {
		return nil, err
	}

	return &ActionResult{
		SessionID:  sessionID,
		Steps:      result.Steps,
		TotalSteps: result.TotalSteps,
		RawText:    resp.Text,
	}, nil
}

// ProcessActionStream 流式处理一次玩家动作
// LLM增量经下发器转换为步骤封包；客户端断开或ctx取消时中途放弃，
// 不向历史写入任何不完整的记录
func (s *GameService) ProcessActionStream(ctx context.Context, sessionID, action string, emit narrative.EmitFunc) (*ActionResult, error) {
	if strings.TrimSpace(action) == "" {
		return nil, apperrors.NewValidationError("动作内容不能为空", nil).WithCode("INVALID_CONTENT")
	}

	session, err := s.sessions.GetSession(sessionID)
	if err != nil {
		return nil, err
	}

	deltas, err := s.llm.StreamChat(ctx, buildChatRequest(session, action))
	if err != nil {
		return nil, apperrors.NewUpstreamError("叙事生成失败", err)
	}

	emitter := narrative.NewStreamEmitter(parseContext(session), emit)
	for delta := range deltas {
		if delta.Done {
			break
		}
		if err := emitter.Feed(delta.Text); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		s.logger.Info("流式动作被取消，缓冲已放弃",
			zap.String("session_id", sessionID))
		return nil, err
	}

	result, err := emitter.Finish()
	if err != nil {
		return nil, err
	}
	rawText := emitter.Buffer()

	if err := s.commitExchange(sessionID, action, rawText, result.Steps); err != nil {
		return nil, err
	}

	return &ActionResult{
		SessionID:  sessionID,
		Steps:      result.Steps,
		TotalSteps: result.TotalSteps,
		RawText:    rawText,
	}, nil
}

// Regenerate 裁剪历史后重放目标用户消息
// 新响应取代旧响应，净效果等价于用户重新提交那条消息
func (s *GameService) Regenerate(ctx context.Context, sessionID string, targetIndex *int) (*RegenerateResult, *ActionResult, error) {
	prep, err := s.sessions.PrepareRegenerate(sessionID, targetIndex)
	if err != nil {
		return nil, nil, err
	}

	action, err := s.ProcessAction(ctx, sessionID, prep.UserContent)
	if err != nil {
		return prep, nil, err
	}
	return prep, action, nil
}

// commitExchange 把一次完整交互作为原子单元写入会话
func (s *GameService) commitExchange(sessionID, action, rawText string, steps []models.Step) error {
	_, err := s.sessions.UpdateSession(sessionID, func(session *models.GameSession) error {
		appendEntry(session, models.RoleUser, action)
		appendEntry(session, models.RoleAssistant, rawText)
		for _, step := range steps {
			if sceneChange, ok := step.(models.SceneChange); ok {
				s.sessions.ApplySceneChange(session, sceneChange)
			}
		}
		return nil
	})
	return err
}

func buildChatRequest(session *models.GameSession, action string) llm.ChatRequest {
	messages := make([]llm.ChatMessage, 0, len(session.ConversationHistory)+1)
	for _, entry := range session.ConversationHistory {
		messages = append(messages, llm.ChatMessage{
			Role:    entry.Role,
			Content: entry.Content,
		})
	}
	messages = append(messages, llm.ChatMessage{
		Role:    llm.RoleUser,
		Content: action,
	})

	systemPrompt := ""
	if session.WorldSetting != nil {
		systemPrompt = session.WorldSetting.PromptTemplate
	}

	return llm.ChatRequest{
		SystemPrompt: systemPrompt,
		Messages:     messages,
	}
}

func parseContext(session *models.GameSession) narrative.Context {
	return narrative.Context{
		NPCs:       session.NPCSetting,
		Scenes:     session.SceneSetting,
		PlayerName: session.PlayerName,
	}
}
