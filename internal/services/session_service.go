// internal/services/session_service.go
package services

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	apperrors "github.com/Windrune/NovelForge/internal/errors"
	"github.com/Windrune/NovelForge/internal/models"
	"github.com/Windrune/NovelForge/internal/storage"
)

const sessionsDir = "sessions"

// CreateSessionRequest 创建会话的入参：模式、玩家名和设定数据
type CreateSessionRequest struct {
	Mode         models.GameMode      `json:"mode"`
	PlayerName   string               `json:"player_name,omitempty"`
	WorldSetting *models.WorldSetting `json:"world_setting"`
	NPCSetting   *models.NPCSetting   `json:"npc_setting"`
	SceneSetting *models.SceneSetting `json:"scene_setting"`
}

// EditResult 历史编辑的结果，被丢弃的条目数必须上报给调用方
type EditResult struct {
	EditedIndex  int `json:"edited_index"`
	DeletedCount int `json:"deleted_count"`
}

// RegenerateResult 重新生成的裁剪结果
// UserContent 是被裁掉的那条用户消息内容，由游戏服务重新走一遍动作处理
type RegenerateResult struct {
	RegeneratedFrom int    `json:"regenerated_from"`
	TruncatedCount  int    `json:"truncated_count"`
	UserContent     string `json:"-"`
}

// SessionService 会话存取服务
// 内存热缓存+磁盘两层结构；同一会话的变更通过锁管理器串行化，
// 变更路径在锁内绕过缓存直接读盘，避免覆盖并发写入
type SessionService struct {
	storage *storage.FileStorage
	locks   *LockManager
	cache   *gocache.Cache
	logger  *zap.Logger
}

// NewSessionService 创建会话服务
func NewSessionService(fs *storage.FileStorage, locks *LockManager, logger *zap.Logger) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{
		storage: fs,
		locks:   locks,
		cache:   gocache.New(30*time.Minute, 10*time.Minute),
		logger:  logger,
	}
}

// CreateSession 创建新会话
// 场景指针落在场景列表的第一个场景上，已访问集合只含该场景
func (s *SessionService) CreateSession(req CreateSessionRequest) (*models.GameSession, error) {
	if req.Mode != models.ModeVisual && req.Mode != models.ModeWorldInteraction {
		return nil, apperrors.NewValidationError(
			fmt.Sprintf("无效的游戏模式: %s", req.Mode), nil).WithCode("INVALID_MODE")
	}
	if req.WorldSetting == nil || req.NPCSetting == nil || req.SceneSetting == nil {
		return nil, apperrors.NewValidationError("设定数据不完整：需要世界观、NPC和场景设定", nil).
			WithCode("INCOMPLETE_PRESET")
	}
	firstScene, ok := req.SceneSetting.First()
	if !ok {
		return nil, apperrors.NewValidationError("场景设定为空：至少需要一个场景", nil).
			WithCode("INCOMPLETE_PRESET")
	}

	now := time.Now()
	session := &models.GameSession{
		ID:           uuid.New().String(),
		Mode:         req.Mode,
		PlayerName:   req.PlayerName,
		WorldSetting: req.WorldSetting,
		NPCSetting:   req.NPCSetting,
		SceneSetting: req.SceneSetting,

		CurrentScene:  firstScene.ID,
		VisitedScenes: []string{firstScene.ID},

		CreatedAt: now,
		UpdatedAt: now,
	}

	if req.Mode == models.ModeWorldInteraction {
		session.CurrentRound = 1
		session.CurrentKeyEventIndex = 0
	}

	if err := s.save(session); err != nil {
		return nil, err
	}

	s.logger.Info("会话已创建",
		zap.String("session_id", session.ID),
		zap.String("mode", string(session.Mode)))
	return session, nil
}

// GetSession 加载会话：先查热缓存，未命中再读盘并回填
func (s *SessionService) GetSession(sessionID string) (*models.GameSession, error) {
	if cached, found := s.cache.Get(sessionID); found {
		if session, ok := cached.(*models.GameSession); ok {
			return session, nil
		}
	}

	session, err := s.loadFromDisk(sessionID)
	if err != nil {
		return nil, err
	}
	s.cache.Set(sessionID, session, gocache.DefaultExpiration)
	return session, nil
}

// UpdateSession 在会话锁保护下执行一次读-改-写
// fn 中对会话的全部修改作为一个原子单元落盘
func (s *SessionService) UpdateSession(sessionID string, fn func(*models.GameSession) error) (*models.GameSession, error) {
	var result *models.GameSession
	err := s.locks.ExecuteWithSessionLock(sessionID, func() error {
		session, err := s.loadFromDisk(sessionID)
		if err != nil {
			return err
		}
		if err := fn(session); err != nil {
			return err
		}
		session.Touch()
		if err := s.save(session); err != nil {
			return err
		}
		result = session
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AppendExchange 追加一条历史记录
func (s *SessionService) AppendExchange(sessionID, role, content string) (*models.GameSession, error) {
	return s.UpdateSession(sessionID, func(session *models.GameSession) error {
		appendEntry(session, role, content)
		return nil
	})
}

func appendEntry(session *models.GameSession, role, content string) {
	session.ConversationHistory = append(session.ConversationHistory, models.ConversationEntry{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})
	if role == models.RoleUser && !session.GameStarted {
		session.GameStarted = true
	}
}

// ApplySceneChange 应用一个场景切换步骤
// 场景ID在注册表中不存在时静默忽略，不能让无效ID污染会话状态
func (s *SessionService) ApplySceneChange(session *models.GameSession, step models.SceneChange) {
	if _, ok := session.SceneSetting.ByID(step.SceneID); !ok {
		s.logger.Warn("场景切换指向未知场景，已忽略",
			zap.String("session_id", session.ID),
			zap.String("scene_id", step.SceneID))
		return
	}
	session.CurrentScene = step.SceneID
	session.MarkVisited(step.SceneID)
}

// EditMessage 改写指定下标的历史条目，并丢弃其后的全部条目
// 不可逆操作，被丢弃的条目数上报给调用方
func (s *SessionService) EditMessage(sessionID string, index int, newContent string) (*EditResult, error) {
	if newContent == "" {
		return nil, apperrors.NewValidationError("编辑内容不能为空", nil).WithCode("INVALID_CONTENT")
	}

	var result *EditResult
	_, err := s.UpdateSession(sessionID, func(session *models.GameSession) error {
		history := session.ConversationHistory
		if index < 0 || index >= len(history) {
			return apperrors.NewValidationError(
				fmt.Sprintf("编辑下标越界: %d (历史长度 %d)", index, len(history)), nil).
				WithCode("OUT_OF_RANGE")
		}

		deleted := len(history) - (index + 1)
		history[index].Content = newContent
		history[index].Timestamp = time.Now()
		session.ConversationHistory = history[:index+1]

		result = &EditResult{EditedIndex: index, DeletedCount: deleted}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// PrepareRegenerate 解析重新生成的目标并裁剪历史
// targetIndex 为 nil 时从末尾反向找最后一条用户消息；
// 裁剪后历史长度等于目标下标，被裁掉的用户消息内容由游戏服务重放
func (s *SessionService) PrepareRegenerate(sessionID string, targetIndex *int) (*RegenerateResult, error) {
	var result *RegenerateResult
	_, err := s.UpdateSession(sessionID, func(session *models.GameSession) error {
		history := session.ConversationHistory
		if len(history) == 0 {
			return apperrors.NewValidationError("会话历史为空，没有可重新生成的消息", nil).
				WithCode("NO_HISTORY")
		}

		target := -1
		if targetIndex != nil {
			target = *targetIndex
		} else {
			for i := len(history) - 1; i >= 0; i-- {
				if history[i].Role == models.RoleUser {
					target = i
					break
				}
			}
		}

		if target < 0 || target >= len(history) || history[target].Role != models.RoleUser {
			return apperrors.NewValidationError(
				fmt.Sprintf("无效的重新生成目标: %d", target), nil).WithCode("INVALID_INDEX")
		}

		truncated := len(history) - target
		userContent := history[target].Content
		session.ConversationHistory = history[:target]

		result = &RegenerateResult{
			RegeneratedFrom: target,
			TruncatedCount:  truncated,
			UserContent:     userContent,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetSummary 生成会话概要
func (s *SessionService) GetSummary(sessionID string) (*models.SessionSummary, error) {
	session, err := s.GetSession(sessionID)
	if err != nil {
		return nil, err
	}

	summary := &models.SessionSummary{
		ID:                session.ID,
		Mode:              session.Mode,
		CurrentScene:      session.CurrentScene,
		VisitedSceneCount: len(session.VisitedScenes),
		HistoryLength:     len(session.ConversationHistory),
		GameStarted:       session.GameStarted,
	}
	if scene, ok := session.SceneSetting.ByID(session.CurrentScene); ok {
		summary.CurrentSceneName = scene.Name
	}
	if session.Mode == models.ModeWorldInteraction {
		summary.CurrentRound = session.CurrentRound
		summary.KeyEventIndex = session.CurrentKeyEventIndex
		if session.WorldSetting != nil {
			summary.KeyEventTotal = len(session.WorldSetting.KeyEvents)
		}
		summary.ActiveEventCount = len(session.ActiveEvents)
		summary.AllEventsCompleted = session.AllKeyEventsCompleted()
	}
	return summary, nil
}

// loadFromDisk 绕过热缓存从磁盘读取会话
func (s *SessionService) loadFromDisk(sessionID string) (*models.GameSession, error) {
	var session models.GameSession
	if err := s.storage.LoadJSONFileNoCache(sessionsDir, sessionID+".json", &session); err != nil {
		return nil, apperrors.NewNotFoundError(
			fmt.Sprintf("会话不存在: %s", sessionID), err).WithCode("SESSION_NOT_FOUND")
	}
	return &session, nil
}

func (s *SessionService) save(session *models.GameSession) error {
	if err := s.storage.SaveJSONFile(sessionsDir, session.ID+".json", session); err != nil {
		return apperrors.NewProcessingError("保存会话失败", err)
	}
	s.cache.Set(session.ID, session, gocache.DefaultExpiration)
	return nil
}
