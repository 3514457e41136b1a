// internal/narrative/parser.go

// Package narrative 将LLM输出的标签化文本解析为演出步骤。
//
// 宽松点：正文类标签（NARRATION/SCENE_CHANGE/TRANSITION/CHOICE/OPTION）
// 的右括号是可选的，因此在标签中途被截断的文本最终也会产出一个
// 带部分内容的步骤，而不是被丢弃；这是为流式累积解析特意保留的行为。
// 只有未闭合的选择块（缺END_CHOICE）会被整体丢弃。
package narrative

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Windrune/NovelForge/internal/models"
)

// Context 解析上下文：NPC/场景注册表与玩家名
// 解析器本身是输入文本的纯函数，注册表只读
type Context struct {
	NPCs       *models.NPCSetting
	Scenes     *models.SceneSetting
	PlayerName string
}

// ParseResult 解析结果
type ParseResult struct {
	Steps      []models.Step `json:"steps"`
	TotalSteps int           `json:"total_steps"`
}

// 标签行正则
// 正文标签允许缺失右括号，以便对流式传输中未写完的行做累积式解析；
// 对话标签要求完整形式：恰好一个不含逗号的说话者ID加一个双引号字符串，
// 不匹配的对话行被静默跳过
var (
	narrationRe   = regexp.MustCompile(`^\[NARRATION:\s*(.*?)\]?\s*$`)
	sceneChangeRe = regexp.MustCompile(`^\[SCENE_CHANGE:\s*(.*?)\]?\s*$`)
	transitionRe  = regexp.MustCompile(`^\[TRANSITION:\s*(.*?)\]?\s*$`)
	choiceRe      = regexp.MustCompile(`^\[CHOICE:\s*(.*?)\]?\s*$`)
	optionRe      = regexp.MustCompile(`^\[OPTION:\s*(.*?)\]?\s*$`)
	endChoiceRe   = regexp.MustCompile(`^\[END_CHOICE\]\s*$`)
	dialogueRe    = regexp.MustCompile(`^\[DIALOGUE:\s*([^,\]]+?)\s*,\s*"(.*)"\s*\]\s*$`)
)

// 扫描器状态
type stepKind int

const (
	kindNone stepKind = iota
	kindNarration
	kindDialogue
	kindSceneChange
	kindTransition
	kindChoice
)

// scanner 逐行状态机：每行要么开启新步骤（隐式关闭上一个），
// 要么向当前步骤追加内容，要么被丢弃
type scanner struct {
	ctx   Context
	steps []models.Step

	kind      stepKind
	content   []string
	speakerID string
	sceneID   string

	choiceTitle string
	choiceDesc  []string
	options     []models.Option
}

// Parse 将LLM原始输出解析为有序的演出步骤列表
// 对同一份完整文本重复解析产出相同的结果
func Parse(text string, ctx Context) *ParseResult {
	s := &scanner{ctx: ctx}

	for _, rawLine := range strings.Split(text, "\n") {
		line := strings.TrimSpace(rawLine)
		if line == "" {
			continue
		}
		s.scanLine(line)
	}

	// 输入结束：未关闭的选择块整体丢弃（截断安全），其余开放步骤照常产出
	if s.kind != kindChoice {
		s.closeCurrent()
	}

	return &ParseResult{
		Steps:      s.steps,
		TotalSteps: len(s.steps),
	}
}

func (s *scanner) scanLine(line string) {
	if !strings.HasPrefix(line, "[") {
		// 续行：开放的选择块累积描述，其他步骤累积正文；
		// 尚无任何步骤时丢弃
		switch s.kind {
		case kindNone:
		case kindChoice:
			s.choiceDesc = append(s.choiceDesc, line)
		default:
			s.content = append(s.content, line)
		}
		return
	}

	switch {
	case endChoiceRe.MatchString(line):
		// 只有观察到闭合标记，选择块才会产出
		if s.kind == kindChoice {
			s.emitChoice()
			s.reset()
		}

	case optionRe.MatchString(line):
		// 选择块外的 OPTION 是残缺输出，静默丢弃
		if s.kind == kindChoice {
			m := optionRe.FindStringSubmatch(line)
			s.options = append(s.options, models.Option{
				ID:   fmt.Sprintf("opt_%d", len(s.options)+1),
				Text: m[1],
			})
		}

	case choiceRe.MatchString(line):
		m := choiceRe.FindStringSubmatch(line)
		s.closeCurrent()
		s.kind = kindChoice
		s.choiceTitle = m[1]

	case narrationRe.MatchString(line):
		m := narrationRe.FindStringSubmatch(line)
		s.closeCurrent()
		s.kind = kindNarration
		s.appendContent(m[1])

	case sceneChangeRe.MatchString(line):
		m := sceneChangeRe.FindStringSubmatch(line)
		s.closeCurrent()
		s.kind = kindSceneChange
		s.sceneID = strings.TrimSpace(m[1])

	case transitionRe.MatchString(line):
		m := transitionRe.FindStringSubmatch(line)
		s.closeCurrent()
		s.kind = kindTransition
		s.appendContent(m[1])

	case dialogueRe.MatchString(line):
		m := dialogueRe.FindStringSubmatch(line)
		s.closeCurrent()
		s.kind = kindDialogue
		s.speakerID = m[1]
		s.appendContent(m[2])

	default:
		// 无法识别的标签行（含格式错误的DIALOGUE）静默跳过
	}
}

func (s *scanner) appendContent(part string) {
	if part != "" {
		s.content = append(s.content, part)
	}
}

// closeCurrent 将当前开放步骤推入结果
// 未闭合的选择块在这里被丢弃：不完整的选项列表不能泄漏给玩家
func (s *scanner) closeCurrent() {
	switch s.kind {
	case kindNarration:
		s.steps = append(s.steps, models.Narration{Content: s.joinedContent()})
	case kindTransition:
		s.steps = append(s.steps, models.Transition{Content: s.joinedContent()})
	case kindDialogue:
		s.steps = append(s.steps, s.buildDialogue())
	case kindSceneChange:
		s.steps = append(s.steps, s.buildSceneChange())
	}
	s.reset()
}

func (s *scanner) emitChoice() {
	s.steps = append(s.steps, models.Choice{
		Title:       s.choiceTitle,
		Description: strings.Join(s.choiceDesc, " "),
		Options:     s.options,
	})
}

func (s *scanner) reset() {
	s.kind = kindNone
	s.content = nil
	s.speakerID = ""
	s.sceneID = ""
	s.choiceTitle = ""
	s.choiceDesc = nil
	s.options = nil
}

func (s *scanner) joinedContent() string {
	return strings.Join(s.content, " ")
}

// buildDialogue 解析说话者：player → 玩家台词；
// 注册表命中 → 带显示名、差分图和当前立绘；未命中 → 以ID作为显示名
func (s *scanner) buildDialogue() models.Dialogue {
	content := s.joinedContent()
	d := models.Dialogue{
		SpeakerID: s.speakerID,
		Content:   content,
	}

	if s.speakerID == "player" {
		d.IsPlayer = true
		if s.ctx.PlayerName != "" {
			d.SpeakerName = s.ctx.PlayerName
		} else {
			d.SpeakerName = "player"
		}
		return d
	}

	if npc, ok := s.ctx.NPCs.ByID(s.speakerID); ok {
		d.SpeakerName = npc.Name
		d.Images = npc.Images
		d.ActiveImage = ResolveImage(content, npc.Images)
	} else {
		d.SpeakerName = s.speakerID
	}
	return d
}

func (s *scanner) buildSceneChange() models.SceneChange {
	step := models.SceneChange{SceneID: s.sceneID}
	if scene, ok := s.ctx.Scenes.ByID(s.sceneID); ok {
		step.SceneMeta = scene.Meta()
	}
	return step
}
