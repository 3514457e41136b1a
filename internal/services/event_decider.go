// internal/services/event_decider.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Windrune/NovelForge/internal/models"
)

// LLMEventDecider 用LLM实现的事件决策协作者
// 输出经结构化解析后还要做一次合法性校验，LLM选出的目标
// 不在注册表里时回退到确定性选择
type LLMEventDecider struct {
	llm    *LLMService
	logger *zap.Logger
}

// NewLLMEventDecider 创建LLM事件决策器
func NewLLMEventDecider(llmService *LLMService, logger *zap.Logger) *LLMEventDecider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMEventDecider{llm: llmService, logger: logger}
}

// SelectEventTarget 为关键事件选择目标NPC和子场景
func (d *LLMEventDecider) SelectEventTarget(ctx context.Context, session *models.GameSession, keyEvent *models.KeyEvent) (string, string, error) {
	npcs := session.NPCSetting.NPCs
	if len(npcs) == 0 {
		return "", "", errors.New("NPC设定为空，无法选择事件目标")
	}

	var output struct {
		NPCID      string `json:"npc_id"`
		SubsceneID string `json:"subscene_id"`
		Reason     string `json:"reason,omitempty"`
	}

	prompt := d.buildTargetPrompt(session, keyEvent)
	systemPrompt := `你是互动小说的导演。根据关键事件和候选名单，选择最适合承接这个事件的NPC和发生地点。
输出JSON: {"npc_id": "候选NPC的id", "subscene_id": "候选子场景的id", "reason": "一句话理由"}`

	if err := d.llm.CreateStructuredCompletion(ctx, prompt, systemPrompt, &output); err != nil {
		return "", "", err
	}

	npcID := output.NPCID
	if _, ok := session.NPCSetting.ByID(npcID); !ok {
		d.logger.Warn("LLM选择的NPC不在注册表中，回退到首个NPC",
			zap.String("session_id", session.ID),
			zap.String("npc_id", npcID))
		npcID = npcs[0].ID
	}

	subsceneID := d.validateSubscene(session, output.SubsceneID)
	return npcID, subsceneID, nil
}

// DecideEventChain 事件终结后的链式判定
func (d *LLMEventDecider) DecideEventChain(ctx context.Context, session *models.GameSession, completed *models.WorldEvent) (*ChainDecision, error) {
	decision := &ChainDecision{}

	prompt := d.buildChainPrompt(session, completed)
	systemPrompt := `你是互动小说的导演。玩家刚刚完成了一次事件互动，判断当前关键剧情事件是否已经达成，以及是否需要立刻派发新事件。
输出JSON: {"should_generate_new": true或false, "key_event_completed": true或false, "rationale": "一句话理由"}`

	if err := d.llm.CreateStructuredCompletion(ctx, prompt, systemPrompt, decision); err != nil {
		return nil, err
	}
	return decision, nil
}

// validateSubscene 校验子场景属于当前场景，否则回退到当前场景的首个子场景
func (d *LLMEventDecider) validateSubscene(session *models.GameSession, subsceneID string) string {
	scene, ok := session.SceneSetting.ByID(session.CurrentScene)
	if !ok {
		return ""
	}
	if subsceneID != "" {
		if _, found := scene.SubsceneByID(subsceneID); found {
			return subsceneID
		}
		d.logger.Warn("LLM选择的子场景不在当前场景中",
			zap.String("session_id", session.ID),
			zap.String("subscene_id", subsceneID))
	}
	if len(scene.Subscenes) > 0 {
		return scene.Subscenes[0].ID
	}
	return ""
}

func (d *LLMEventDecider) buildTargetPrompt(session *models.GameSession, keyEvent *models.KeyEvent) string {
	var b strings.Builder

	fmt.Fprintf(&b, "关键事件: %s\n%s\n\n", keyEvent.Title, keyEvent.Description)

	b.WriteString("候选NPC:\n")
	for _, npc := range session.NPCSetting.NPCs {
		fmt.Fprintf(&b, "- id=%s 名字=%s 性格=%s\n", npc.ID, npc.Name, npc.Personality)
	}

	if scene, ok := session.SceneSetting.ByID(session.CurrentScene); ok {
		fmt.Fprintf(&b, "\n当前场景: %s\n候选子场景:\n", scene.Name)
		for _, sub := range scene.Subscenes {
			fmt.Fprintf(&b, "- id=%s 名字=%s\n", sub.ID, sub.Name)
		}
	}

	fmt.Fprintf(&b, "\n当前回合: %d\n", session.CurrentRound)
	return b.String()
}

func (d *LLMEventDecider) buildChainPrompt(session *models.GameSession, completed *models.WorldEvent) string {
	var b strings.Builder

	keyEvents := session.WorldSetting.KeyEvents
	if completed.KeyEventIndex < len(keyEvents) {
		ke := keyEvents[completed.KeyEventIndex]
		fmt.Fprintf(&b, "当前关键事件: %s\n%s\n\n", ke.Title, ke.Description)
	}

	fmt.Fprintf(&b, "刚完成的互动: 目标NPC=%s 玩家选择=%q\n", completed.TargetNPCID, completed.SelectedOption)
	fmt.Fprintf(&b, "当前回合: %d，本回合剩余活跃事件: %d\n\n", session.CurrentRound, len(session.ActiveEvents))

	// 附上最近几条对话作为判定依据
	history := session.ConversationHistory
	start := len(history) - 6
	if start < 0 {
		start = 0
	}
	if start < len(history) {
		b.WriteString("最近对话:\n")
		for _, entry := range history[start:] {
			fmt.Fprintf(&b, "[%s] %s\n", entry.Role, truncateText(entry.Content, 120))
		}
	}
	return b.String()
}
