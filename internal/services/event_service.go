// internal/services/event_service.go
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/Windrune/NovelForge/internal/errors"
	"github.com/Windrune/NovelForge/internal/models"
)

// ChainDecision 事件终结后的链式决策结果
type ChainDecision struct {
	ShouldGenerateNew bool   `json:"should_generate_new"`
	KeyEventCompleted bool   `json:"key_event_completed"`
	Rationale         string `json:"rationale,omitempty"`
}

// EventDecider 外部决策协作者，可由LLM或确定性规则实现
type EventDecider interface {
	// 为当前关键事件选择目标NPC和子场景
	SelectEventTarget(ctx context.Context, session *models.GameSession, keyEvent *models.KeyEvent) (npcID, subsceneID string, err error)

	// 事件终结后判定关键事件是否完成、是否生成新事件
	DecideEventChain(ctx context.Context, session *models.GameSession, completed *models.WorldEvent) (*ChainDecision, error)
}

// TerminateResult 事件终结操作的完整结果
type TerminateResult struct {
	Event    *models.WorldEvent `json:"event"`
	Decision *ChainDecision     `json:"decision,omitempty"`
	NewEvent *models.WorldEvent `json:"new_event,omitempty"`
}

// EventService 世界互动模式的回合/事件状态机
// 关键事件指针单调不减，已完成集合只增，活跃事件集合只经
// 生成/终结/新回合清空三条路径变化
type EventService struct {
	sessions *SessionService
	decider  EventDecider
	logger   *zap.Logger
}

// NewEventService 创建事件服务
func NewEventService(sessions *SessionService, decider EventDecider, logger *zap.Logger) *EventService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventService{
		sessions: sessions,
		decider:  decider,
		logger:   logger,
	}
}

// GenerateEvent 为当前关键事件生成一个活跃事件
func (s *EventService) GenerateEvent(ctx context.Context, sessionID string) (*models.WorldEvent, error) {
	var event *models.WorldEvent
	_, err := s.sessions.UpdateSession(sessionID, func(session *models.GameSession) error {
		created, err := s.generateEventLocked(ctx, session)
		if err != nil {
			return err
		}
		event = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return event, nil
}

// generateEventLocked 在已持有会话锁的前提下生成事件
func (s *EventService) generateEventLocked(ctx context.Context, session *models.GameSession) (*models.WorldEvent, error) {
	if err := requireWorldMode(session); err != nil {
		return nil, err
	}

	keyEvents := session.WorldSetting.KeyEvents
	index := session.CurrentKeyEventIndex
	if index >= len(keyEvents) {
		return nil, apperrors.NewNotFoundError(
			fmt.Sprintf("关键事件已全部用尽: 下标 %d, 总数 %d", index, len(keyEvents)), nil).
			WithCode("NO_MORE_KEY_EVENTS")
	}

	npcID, subsceneID, err := s.decider.SelectEventTarget(ctx, session, keyEvents[index])
	if err != nil {
		return nil, apperrors.NewUpstreamError("事件目标选择失败", err)
	}

	event := &models.WorldEvent{
		ID:               uuid.New().String(),
		TargetNPCID:      npcID,
		TargetSubsceneID: subsceneID,
		Status:           models.EventStatusActive,
		Round:            session.CurrentRound,
		KeyEventIndex:    index,
		CreatedAt:        time.Now(),
	}

	session.ActiveEvents = append(session.ActiveEvents, event)
	session.EventHistory = append(session.EventHistory, event)

	s.logger.Info("事件已生成",
		zap.String("session_id", session.ID),
		zap.String("event_id", event.ID),
		zap.String("target_npc", npcID),
		zap.Int("key_event_index", index))
	return event, nil
}

// TerminateEvent 玩家选择选项后终结事件，并消费链式决策
// active→completed 转换不可逆；事件从活跃集合移除但保留在事件历史中
func (s *EventService) TerminateEvent(ctx context.Context, sessionID, eventID, selectedOption string) (*TerminateResult, error) {
	var result *TerminateResult
	_, err := s.sessions.UpdateSession(sessionID, func(session *models.GameSession) error {
		if err := requireWorldMode(session); err != nil {
			return err
		}

		event, pos := session.FindActiveEvent(eventID)
		if event == nil {
			return apperrors.NewNotFoundError(
				fmt.Sprintf("活跃事件不存在: %s", eventID), nil).WithCode("EVENT_NOT_FOUND")
		}

		now := time.Now()
		event.Status = models.EventStatusCompleted
		event.CompletedAt = &now
		event.LastInteraction = &now
		event.SelectedOption = selectedOption
		session.ActiveEvents = append(session.ActiveEvents[:pos], session.ActiveEvents[pos+1:]...)

		// 反序列化之后活跃集合与历史里是同一事件的两份结构体，
		// 历史中的那份要单独同步，否则落盘后历史里永远是 active
		for i, recorded := range session.EventHistory {
			if recorded.ID == event.ID {
				session.EventHistory[i] = event
				break
			}
		}

		result = &TerminateResult{Event: event}

		decision, err := s.decider.DecideEventChain(ctx, session, event)
		if err != nil {
			// 链式决策失败不回滚已终结的事件，只上报决策缺失
			s.logger.Warn("事件链决策失败",
				zap.String("session_id", session.ID),
				zap.String("event_id", eventID),
				zap.Error(err))
			return nil
		}
		result.Decision = decision

		if decision.KeyEventCompleted {
			s.completeKeyEventLocked(session)
		}

		if decision.ShouldGenerateNew {
			newEvent, err := s.generateEventLocked(ctx, session)
			if err != nil {
				s.logger.Warn("链式事件生成失败",
					zap.String("session_id", session.ID),
					zap.Error(err))
			} else {
				result.NewEvent = newEvent
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// completeKeyEventLocked 标记当前关键事件完成并推进指针
// 重复完成同一下标是幂等的
func (s *EventService) completeKeyEventLocked(session *models.GameSession) {
	index := session.CurrentKeyEventIndex
	if !session.IsKeyEventCompleted(index) {
		session.CompletedKeyEvents = append(session.CompletedKeyEvents, index)
	}
	session.CurrentKeyEventIndex++

	if session.AllKeyEventsCompleted() {
		s.logger.Info("全部关键事件已完成", zap.String("session_id", session.ID))
	}
}

// StartNewRound 开启新回合：清空活跃事件、回合数+1、关键事件指针+1，
// 然后尝试为新关键事件自动生成一个事件
// 自动生成失败不阻塞回合推进，该回合以零活跃事件开始
func (s *EventService) StartNewRound(ctx context.Context, sessionID string) (*models.GameSession, error) {
	return s.sessions.UpdateSession(sessionID, func(session *models.GameSession) error {
		if err := requireWorldMode(session); err != nil {
			return err
		}

		session.ActiveEvents = nil
		session.CurrentRound++
		session.CurrentKeyEventIndex++

		if _, err := s.generateEventLocked(ctx, session); err != nil {
			s.logger.Warn("新回合自动生成事件失败",
				zap.String("session_id", session.ID),
				zap.Int("round", session.CurrentRound),
				zap.Error(err))
		}
		return nil
	})
}

// GetEvents 查询活跃事件与事件历史
func (s *EventService) GetEvents(sessionID string) (active, history []*models.WorldEvent, err error) {
	session, err := s.sessions.GetSession(sessionID)
	if err != nil {
		return nil, nil, err
	}
	if err := requireWorldMode(session); err != nil {
		return nil, nil, err
	}
	return session.ActiveEvents, session.EventHistory, nil
}

func requireWorldMode(session *models.GameSession) error {
	if session.Mode != models.ModeWorldInteraction {
		return apperrors.NewValidationError(
			fmt.Sprintf("会话 %s 不是世界互动模式", session.ID), nil).WithCode("WRONG_MODE")
	}
	return nil
}
