// internal/narrative/parser_test.go
package narrative

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Windrune/NovelForge/internal/models"
)

func testContext() Context {
	return Context{
		NPCs: &models.NPCSetting{
			NPCs: []*models.NPC{
				{
					ID:   "aria",
					Name: "艾莉亚",
					Images: map[string]string{
						"base":             "aria/base.png",
						"expression_smile": "aria/smile.png",
					},
				},
			},
		},
		Scenes: &models.SceneSetting{
			Scenes: []*models.SceneInfo{
				{
					ID:          "tavern",
					Name:        "酒馆",
					Description: "喧闹的酒馆",
					Image:       "scenes/tavern.png",
					Atmosphere:  "热闹",
				},
			},
		},
		PlayerName: "旅人",
	}
}

func TestParse_FullScript(t *testing.T) {
	text := `[NARRATION: 夜幕降临。]
[DIALOGUE: aria, "欢迎回来，smile一下嘛。"]
[SCENE_CHANGE: tavern]
[TRANSITION: 片刻之后]
[CHOICE: 接下来做什么？]
权衡一下再决定。
[OPTION: 坐下喝一杯]
[OPTION: 直接上楼]
[END_CHOICE]`

	result := Parse(text, testContext())
	require.Equal(t, 5, result.TotalSteps)

	narration, ok := result.Steps[0].(models.Narration)
	require.True(t, ok)
	assert.Equal(t, "夜幕降临。", narration.Content)

	dialogue, ok := result.Steps[1].(models.Dialogue)
	require.True(t, ok)
	assert.Equal(t, "aria", dialogue.SpeakerID)
	assert.Equal(t, "艾莉亚", dialogue.SpeakerName)
	assert.False(t, dialogue.IsPlayer)
	assert.Equal(t, "aria/smile.png", dialogue.ActiveImage)

	scene, ok := result.Steps[2].(models.SceneChange)
	require.True(t, ok)
	assert.Equal(t, "tavern", scene.SceneID)
	require.NotNil(t, scene.SceneMeta)
	assert.Equal(t, "酒馆", scene.SceneMeta.Name)
	assert.Equal(t, "scenes/tavern.png", scene.SceneMeta.Image)

	transition, ok := result.Steps[3].(models.Transition)
	require.True(t, ok)
	assert.Equal(t, "片刻之后", transition.Content)

	choice, ok := result.Steps[4].(models.Choice)
	require.True(t, ok)
	assert.Equal(t, "接下来做什么？", choice.Title)
	assert.Equal(t, "权衡一下再决定。", choice.Description)
	require.Len(t, choice.Options, 2)
	assert.Equal(t, "opt_1", choice.Options[0].ID)
	assert.Equal(t, "坐下喝一杯", choice.Options[0].Text)
	assert.Equal(t, "opt_2", choice.Options[1].ID)
	assert.Equal(t, "直接上楼", choice.Options[1].Text)
}

func TestParse_ContinuationLinesJoined(t *testing.T) {
	text := "[NARRATION: 第一句。]\n第二句。\n第三句。"
	result := Parse(text, testContext())

	require.Equal(t, 1, result.TotalSteps)
	narration := result.Steps[0].(models.Narration)
	assert.Equal(t, "第一句。 第二句。 第三句。", narration.Content)
}

func TestParse_PlayerSpeaker(t *testing.T) {
	result := Parse(`[DIALOGUE: player, "我想想。"]`, testContext())

	require.Equal(t, 1, result.TotalSteps)
	dialogue := result.Steps[0].(models.Dialogue)
	assert.True(t, dialogue.IsPlayer)
	assert.Equal(t, "旅人", dialogue.SpeakerName)
	assert.Empty(t, dialogue.ActiveImage)
}

func TestParse_UnknownSpeakerFallsBackToID(t *testing.T) {
	result := Parse(`[DIALOGUE: stranger, "你是谁？"]`, testContext())

	require.Equal(t, 1, result.TotalSteps)
	dialogue := result.Steps[0].(models.Dialogue)
	assert.Equal(t, "stranger", dialogue.SpeakerID)
	assert.Equal(t, "stranger", dialogue.SpeakerName)
	assert.Nil(t, dialogue.Images)
}

func TestParse_MalformedDialogueSkipped(t *testing.T) {
	// 缺引号、多逗号段、缺右括号的对话行都不产出步骤，
	// 也不打断前一个步骤的续行累积
	text := `[NARRATION: 前文。]
[DIALOGUE: aria, 没有引号]
[DIALOGUE: aria, "没闭合]
后文。`
	result := Parse(text, testContext())

	require.Equal(t, 1, result.TotalSteps)
	narration := result.Steps[0].(models.Narration)
	assert.Equal(t, "前文。 后文。", narration.Content)
}

func TestParse_UnknownTagSkipped(t *testing.T) {
	text := "[NARRATION: 正文。]\n[WHISPER: 未知标签]"
	result := Parse(text, testContext())

	require.Equal(t, 1, result.TotalSteps)
}

func TestParse_UnclosedChoiceDropped(t *testing.T) {
	text := `[NARRATION: 正文。]
[CHOICE: 怎么办？]
[OPTION: 选项一]`
	result := Parse(text, testContext())

	require.Equal(t, 1, result.TotalSteps)
	_, ok := result.Steps[0].(models.Narration)
	assert.True(t, ok)
}

func TestParse_StrayOptionAndEndChoiceDropped(t *testing.T) {
	text := `[OPTION: 游离的选项]
[END_CHOICE]
[NARRATION: 正文。]`
	result := Parse(text, testContext())

	require.Equal(t, 1, result.TotalSteps)
	_, ok := result.Steps[0].(models.Narration)
	assert.True(t, ok)
}

func TestParse_NewTagClosesPreviousStep(t *testing.T) {
	text := "[NARRATION: 一。]\n[NARRATION: 二。]\n[TRANSITION: 三]"
	result := Parse(text, testContext())

	require.Equal(t, 3, result.TotalSteps)
	assert.Equal(t, "一。", result.Steps[0].(models.Narration).Content)
	assert.Equal(t, "二。", result.Steps[1].(models.Narration).Content)
	assert.Equal(t, "三", result.Steps[2].(models.Transition).Content)
}

func TestParse_UnknownSceneKeepsIDWithoutMeta(t *testing.T) {
	result := Parse("[SCENE_CHANGE: nowhere]", testContext())

	require.Equal(t, 1, result.TotalSteps)
	scene := result.Steps[0].(models.SceneChange)
	assert.Equal(t, "nowhere", scene.SceneID)
	assert.Nil(t, scene.SceneMeta)
}

func TestParse_TrailingBracketOptionalForOpenTags(t *testing.T) {
	// 流式传输中写到一半的正文标签也要计入步骤，内容取已有部分
	result := Parse("[NARRATION: 写到一半", testContext())

	require.Equal(t, 1, result.TotalSteps)
	assert.Equal(t, "写到一半", result.Steps[0].(models.Narration).Content)
}

func TestParse_Deterministic(t *testing.T) {
	text := `[NARRATION: 夜。]
[DIALOGUE: aria, "嗯。"]`
	first := Parse(text, testContext())
	second := Parse(text, testContext())

	assert.Equal(t, first, second)
}

func TestParse_EmptyInput(t *testing.T) {
	result := Parse("", testContext())
	assert.Zero(t, result.TotalSteps)
	assert.Empty(t, result.Steps)
}
