// internal/models/step.go
package models

import "encoding/json"

// StepType 表示演出步骤的类型
type StepType string

const (
	StepNarration   StepType = "narration"
	StepDialogue    StepType = "dialogue"
	StepSceneChange StepType = "scene_change"
	StepTransition  StepType = "transition"
	StepChoice      StepType = "choice"
)

// Step 表示叙事解析器产出的一个演出步骤
// 每种步骤是一个独立的变体类型，Type 标签随 JSON 一起序列化
type Step interface {
	StepType() StepType
}

// Narration 旁白步骤
type Narration struct {
	Content string `json:"content"`
}

func (Narration) StepType() StepType { return StepNarration }

func (n Narration) MarshalJSON() ([]byte, error) {
	type alias Narration
	return json.Marshal(struct {
		Type StepType `json:"type"`
		alias
	}{StepNarration, alias(n)})
}

// Dialogue 对话步骤
// SpeakerID 为 "player" 时 IsPlayer 为 true，名称取会话中的玩家名
type Dialogue struct {
	SpeakerID   string            `json:"speaker_id"`
	SpeakerName string            `json:"speaker_name,omitempty"`
	Content     string            `json:"content"`
	IsPlayer    bool              `json:"is_player,omitempty"`
	ActiveImage string            `json:"active_image,omitempty"`
	Images      map[string]string `json:"images,omitempty"`
}

func (Dialogue) StepType() StepType { return StepDialogue }

func (d Dialogue) MarshalJSON() ([]byte, error) {
	type alias Dialogue
	return json.Marshal(struct {
		Type StepType `json:"type"`
		alias
	}{StepDialogue, alias(d)})
}

// SceneMeta 场景切换步骤附带的场景展示信息
type SceneMeta struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
	Atmosphere  string `json:"atmosphere,omitempty"`
	DangerLevel string `json:"danger_level,omitempty"`
	Soundtrack  string `json:"soundtrack,omitempty"`
}

// SceneChange 场景切换步骤
type SceneChange struct {
	SceneID   string     `json:"scene_id"`
	SceneMeta *SceneMeta `json:"scene_meta,omitempty"`
}

func (SceneChange) StepType() StepType { return StepSceneChange }

func (s SceneChange) MarshalJSON() ([]byte, error) {
	type alias SceneChange
	return json.Marshal(struct {
		Type StepType `json:"type"`
		alias
	}{StepSceneChange, alias(s)})
}

// Transition 转场步骤
type Transition struct {
	Content string `json:"content"`
}

func (Transition) StepType() StepType { return StepTransition }

func (t Transition) MarshalJSON() ([]byte, error) {
	type alias Transition
	return json.Marshal(struct {
		Type StepType `json:"type"`
		alias
	}{StepTransition, alias(t)})
}

// Option 选项，ID 由解析器按出现顺序从 1 开始分配
type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Choice 选择步骤，只有在观察到 [END_CHOICE] 之后才会产出
type Choice struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Options     []Option `json:"options"`
}

func (Choice) StepType() StepType { return StepChoice }

func (c Choice) MarshalJSON() ([]byte, error) {
	type alias Choice
	return json.Marshal(struct {
		Type StepType `json:"type"`
		alias
	}{StepChoice, alias(c)})
}
