// internal/models/session.go
package models

import (
	"time"
)

// GameMode 游戏模式
type GameMode string

const (
	ModeVisual           GameMode = "visual"
	ModeWorldInteraction GameMode = "world_interaction"
)

// 对话历史条目角色
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ConversationEntry 会话历史中的一条记录
type ConversationEntry struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// GameSession 一局游戏的完整会话状态
// 设定数据在创建时加载后只读共享；CurrentScene 只由被接受的场景切换步骤改变
type GameSession struct {
	ID         string   `json:"id"`
	Mode       GameMode `json:"mode"`
	PlayerName string   `json:"player_name,omitempty"`

	WorldSetting *WorldSetting `json:"world_setting"`
	NPCSetting   *NPCSetting   `json:"npc_setting"`
	SceneSetting *SceneSetting `json:"scene_setting"`

	CurrentScene        string              `json:"current_scene"`
	VisitedScenes       []string            `json:"visited_scenes"`
	ConversationHistory []ConversationEntry `json:"conversation_history"`
	GameStarted         bool                `json:"game_started"`

	// 世界互动模式状态
	CurrentRound         int           `json:"current_round,omitempty"`
	CurrentKeyEventIndex int           `json:"current_key_event_index,omitempty"`
	CompletedKeyEvents   []int         `json:"completed_key_events,omitempty"`
	ActiveEvents         []*WorldEvent `json:"active_events,omitempty"`
	EventHistory         []*WorldEvent `json:"event_history,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasVisited 判断场景是否已访问过
func (s *GameSession) HasVisited(sceneID string) bool {
	for _, id := range s.VisitedScenes {
		if id == sceneID {
			return true
		}
	}
	return false
}

// MarkVisited 将场景加入已访问集合（幂等）
func (s *GameSession) MarkVisited(sceneID string) {
	if !s.HasVisited(sceneID) {
		s.VisitedScenes = append(s.VisitedScenes, sceneID)
	}
}

// IsKeyEventCompleted 判断关键事件是否已完成
func (s *GameSession) IsKeyEventCompleted(index int) bool {
	for _, i := range s.CompletedKeyEvents {
		if i == index {
			return true
		}
	}
	return false
}

// AllKeyEventsCompleted 判断全部关键事件是否已完成
func (s *GameSession) AllKeyEventsCompleted() bool {
	if s.WorldSetting == nil || len(s.WorldSetting.KeyEvents) == 0 {
		return false
	}
	for i := range s.WorldSetting.KeyEvents {
		if !s.IsKeyEventCompleted(i) {
			return false
		}
	}
	return true
}

// FindActiveEvent 在活跃事件中按ID查找
func (s *GameSession) FindActiveEvent(eventID string) (*WorldEvent, int) {
	for i, ev := range s.ActiveEvents {
		if ev.ID == eventID {
			return ev, i
		}
	}
	return nil, -1
}

// Touch 刷新更新时间戳
func (s *GameSession) Touch() {
	s.UpdatedAt = time.Now()
}

// SessionSummary 会话概要，供前端列表/状态栏使用
type SessionSummary struct {
	ID                string   `json:"id"`
	Mode              GameMode `json:"mode"`
	CurrentScene      string   `json:"current_scene"`
	CurrentSceneName  string   `json:"current_scene_name,omitempty"`
	VisitedSceneCount int      `json:"visited_scene_count"`
	HistoryLength     int      `json:"history_length"`
	GameStarted       bool     `json:"game_started"`

	CurrentRound       int  `json:"current_round,omitempty"`
	KeyEventIndex      int  `json:"key_event_index,omitempty"`
	KeyEventTotal      int  `json:"key_event_total,omitempty"`
	ActiveEventCount   int  `json:"active_event_count,omitempty"`
	AllEventsCompleted bool `json:"all_events_completed,omitempty"`
}
