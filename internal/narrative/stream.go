// internal/narrative/stream.go
package narrative

import (
	"strings"

	"github.com/Windrune/NovelForge/internal/models"
)

// EmitFunc 把一条流式封包推给客户端（WebSocket写入等）
// 返回错误时本轮流式传输中止
type EmitFunc func(v interface{}) error

// RawEnvelope 原始文本增量，供前端打字机效果使用
type RawEnvelope struct {
	Type    string `json:"type"` // "raw"
	Content string `json:"content"`
}

// StepEnvelope 一个新完成的演出步骤
type StepEnvelope struct {
	Type          string      `json:"type"` // "step"
	StepIndex     int         `json:"stepIndex"`
	Step          models.Step `json:"step"`
	IsIncremental bool        `json:"isIncremental"`
}

// CompleteEnvelope 流结束时的全量步骤列表
type CompleteEnvelope struct {
	Type       string        `json:"type"` // "complete"
	TotalSteps int           `json:"totalSteps"`
	AllSteps   []models.Step `json:"allSteps"`
}

// StreamEmitter 把LLM文本增量流转换为步骤封包流
// 每收到一段增量就对累积缓冲整体重解析，只下发尚未下发过的步骤；
// 缓冲结尾不是完整标签时扣留最后一个步骤，避免把写到一半的内容发给玩家。
// 同一个步骤下标最多下发一次
type StreamEmitter struct {
	ctx     Context
	emit    EmitFunc
	buf     strings.Builder
	emitted int
}

// NewStreamEmitter 创建流式下发器
func NewStreamEmitter(ctx Context, emit EmitFunc) *StreamEmitter {
	return &StreamEmitter{ctx: ctx, emit: emit}
}

// Feed 追加一段LLM文本增量：先透传raw封包，再下发新完成的步骤
func (e *StreamEmitter) Feed(delta string) error {
	if delta == "" {
		return nil
	}
	e.buf.WriteString(delta)

	if err := e.emit(RawEnvelope{Type: "raw", Content: delta}); err != nil {
		return err
	}

	result := Parse(e.buf.String(), e.ctx)
	return e.flushSteps(result.Steps, false)
}

// Finish 流结束：下发所有剩余步骤（含此前被扣留的）和complete封包，
// 返回完整文本的最终解析结果
func (e *StreamEmitter) Finish() (*ParseResult, error) {
	result := Parse(e.buf.String(), e.ctx)
	if err := e.flushSteps(result.Steps, true); err != nil {
		return nil, err
	}
	err := e.emit(CompleteEnvelope{
		Type:       "complete",
		TotalSteps: result.TotalSteps,
		AllSteps:   result.Steps,
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Buffer 当前累积的完整LLM文本
func (e *StreamEmitter) Buffer() string {
	return e.buf.String()
}

func (e *StreamEmitter) flushSteps(steps []models.Step, final bool) error {
	limit := len(steps)
	if !final && !e.endsWithClosedTag() {
		// 最后一个步骤可能还在生成中，扣留到下一次增量或流结束
		limit--
	}
	for e.emitted < limit {
		env := StepEnvelope{
			Type:          "step",
			StepIndex:     e.emitted,
			Step:          steps[e.emitted],
			IsIncremental: !final,
		}
		if err := e.emit(env); err != nil {
			return err
		}
		e.emitted++
	}
	return nil
}

func (e *StreamEmitter) endsWithClosedTag() bool {
	return strings.HasSuffix(strings.TrimSpace(e.buf.String()), "]")
}
