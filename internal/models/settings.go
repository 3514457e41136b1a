// internal/models/settings.go
package models

// WorldSetting 世界观设定，会话创建时加载，游戏过程中只读
type WorldSetting struct {
	Name           string      `json:"name"`
	Description    string      `json:"description"`
	Era            string      `json:"era,omitempty"`
	Atmosphere     string      `json:"atmosphere,omitempty"`
	Rules          []string    `json:"rules,omitempty"`
	PromptTemplate string      `json:"prompt_template,omitempty"` // 外部提供的系统提示词文本，引擎不解析其内容
	KeyEvents      []*KeyEvent `json:"key_events,omitempty"`      // 世界互动模式的关键事件序列
}

// KeyEvent 世界互动模式中按顺序推进的关键剧情事件
type KeyEvent struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// 差分图键的类型前缀与兜底键
const (
	VariantExpression = "expression"
	VariantClothing   = "clothing"
	VariantPose       = "pose"
	VariantBase       = "base"
)

// NPC 一个可互动角色
// Images 为差分图映射，键格式 "{type}_{value}"，type 取 expression/clothing/pose，
// 另有 "base" 作为兜底立绘
type NPC struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Personality string            `json:"personality,omitempty"`
	Description string            `json:"description,omitempty"`
	SpeechStyle string            `json:"speech_style,omitempty"`
	Images      map[string]string `json:"images,omitempty"`
}

// NPCSetting NPC 设定集合
type NPCSetting struct {
	NPCs []*NPC `json:"npcs"`
}

// ByID 按ID查找NPC
func (s *NPCSetting) ByID(id string) (*NPC, bool) {
	if s == nil {
		return nil, false
	}
	for _, npc := range s.NPCs {
		if npc.ID == id {
			return npc, true
		}
	}
	return nil, false
}

// Subscene 世界互动模式中场景内的子地点
type Subscene struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// SceneInfo 一个可切换到的场景
type SceneInfo struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Image       string      `json:"image,omitempty"`
	Atmosphere  string      `json:"atmosphere,omitempty"`
	DangerLevel string      `json:"danger_level,omitempty"`
	Soundtrack  string      `json:"soundtrack,omitempty"`
	Subscenes   []*Subscene `json:"subscenes,omitempty"`
}

// Meta 生成场景切换步骤用的展示信息
func (s *SceneInfo) Meta() *SceneMeta {
	return &SceneMeta{
		Name:        s.Name,
		Description: s.Description,
		Image:       s.Image,
		Atmosphere:  s.Atmosphere,
		DangerLevel: s.DangerLevel,
		Soundtrack:  s.Soundtrack,
	}
}

// SubsceneByID 按ID查找子场景
func (s *SceneInfo) SubsceneByID(id string) (*Subscene, bool) {
	for _, sub := range s.Subscenes {
		if sub.ID == id {
			return sub, true
		}
	}
	return nil, false
}

// SceneSetting 场景设定集合，列表顺序决定初始场景
type SceneSetting struct {
	Scenes []*SceneInfo `json:"scenes"`
}

// ByID 按ID查找场景
func (s *SceneSetting) ByID(id string) (*SceneInfo, bool) {
	if s == nil {
		return nil, false
	}
	for _, scene := range s.Scenes {
		if scene.ID == id {
			return scene, true
		}
	}
	return nil, false
}

// First 返回列表中的第一个场景
func (s *SceneSetting) First() (*SceneInfo, bool) {
	if s == nil || len(s.Scenes) == 0 {
		return nil, false
	}
	return s.Scenes[0], true
}

// FindSubscene 在所有场景中查找子场景
func (s *SceneSetting) FindSubscene(id string) (*SceneInfo, *Subscene, bool) {
	if s == nil {
		return nil, nil, false
	}
	for _, scene := range s.Scenes {
		if sub, ok := scene.SubsceneByID(id); ok {
			return scene, sub, true
		}
	}
	return nil, nil, false
}

// GamePreset 预设文件结构：上传文档经LLM抽取后保存的设定包
type GamePreset struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	WorldSetting *WorldSetting `json:"world_setting"`
	NPCSetting   *NPCSetting   `json:"npc_setting"`
	SceneSetting *SceneSetting `json:"scene_setting"`
}
