// internal/models/event.go
package models

import "time"

// EventStatus 事件状态
type EventStatus string

const (
	EventStatusActive    EventStatus = "active"
	EventStatusCompleted EventStatus = "completed"
)

// WorldEvent 世界互动模式中派发给玩家的一次互动机会
// 由事件生成创建，玩家选择选项后经终结操作一次性转为 completed，不会复活
type WorldEvent struct {
	ID               string      `json:"id"`
	TargetNPCID      string      `json:"target_npc_id"`
	TargetSubsceneID string      `json:"target_subscene_id"`
	Status           EventStatus `json:"status"`
	Round            int         `json:"round"`
	KeyEventIndex    int         `json:"key_event_index"`
	CreatedAt        time.Time   `json:"created_at"`
	CompletedAt      *time.Time  `json:"completed_at,omitempty"`
	LastInteraction  *time.Time  `json:"last_interaction,omitempty"`
	SelectedOption   string      `json:"selected_option,omitempty"`
}

// IsActive 判断事件是否仍处于活跃状态
func (e *WorldEvent) IsActive() bool {
	return e.Status == EventStatusActive
}
