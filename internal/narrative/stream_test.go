// internal/narrative/stream_test.go
package narrative

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Windrune/NovelForge/internal/models"
)

type envelopeSink struct {
	envelopes []interface{}
}

func (s *envelopeSink) emit(v interface{}) error {
	s.envelopes = append(s.envelopes, v)
	return nil
}

func (s *envelopeSink) stepEnvelopes() []StepEnvelope {
	var steps []StepEnvelope
	for _, env := range s.envelopes {
		if step, ok := env.(StepEnvelope); ok {
			steps = append(steps, step)
		}
	}
	return steps
}

func TestStreamEmitter_WithholdsTrailingOpenStep(t *testing.T) {
	sink := &envelopeSink{}
	emitter := NewStreamEmitter(testContext(), sink.emit)

	// 第一段增量：第一个步骤闭合，第二个正在生成
	require.NoError(t, emitter.Feed("[NARRATION: 第一步。]\n[NARRATION: 第二"))
	steps := sink.stepEnvelopes()
	require.Len(t, steps, 1)
	assert.Equal(t, 0, steps[0].StepIndex)
	assert.True(t, steps[0].IsIncremental)
	assert.Equal(t, "第一步。", steps[0].Step.(models.Narration).Content)

	// 第二段增量补全第二个步骤
	require.NoError(t, emitter.Feed("步。]"))
	steps = sink.stepEnvelopes()
	require.Len(t, steps, 2)
	assert.Equal(t, 1, steps[1].StepIndex)
	assert.Equal(t, "第二步。", steps[1].Step.(models.Narration).Content)
}

func TestStreamEmitter_EmitsEachStepOnce(t *testing.T) {
	sink := &envelopeSink{}
	emitter := NewStreamEmitter(testContext(), sink.emit)

	require.NoError(t, emitter.Feed("[NARRATION: 一。]\n"))
	require.NoError(t, emitter.Feed("[NARRATION: 二。]\n"))
	require.NoError(t, emitter.Feed("[NARRATION: 三。]"))
	_, err := emitter.Finish()
	require.NoError(t, err)

	steps := sink.stepEnvelopes()
	require.Len(t, steps, 3)
	for i, env := range steps {
		assert.Equal(t, i, env.StepIndex)
	}
}

func TestStreamEmitter_RawEnvelopePerDelta(t *testing.T) {
	sink := &envelopeSink{}
	emitter := NewStreamEmitter(testContext(), sink.emit)

	require.NoError(t, emitter.Feed("[NARRA"))
	require.NoError(t, emitter.Feed("TION: 正文。]"))

	var raws []RawEnvelope
	for _, env := range sink.envelopes {
		if raw, ok := env.(RawEnvelope); ok {
			raws = append(raws, raw)
		}
	}
	require.Len(t, raws, 2)
	assert.Equal(t, "[NARRA", raws[0].Content)
	assert.Equal(t, "TION: 正文。]", raws[1].Content)
}

func TestStreamEmitter_FinishFlushesAndCompletes(t *testing.T) {
	sink := &envelopeSink{}
	emitter := NewStreamEmitter(testContext(), sink.emit)

	// 流结束时缓冲结尾没有闭合标签，被扣留的步骤也要放出
	require.NoError(t, emitter.Feed("[NARRATION: 一。]\n[NARRATION: 尾部未闭合"))
	result, err := emitter.Finish()
	require.NoError(t, err)
	require.Equal(t, 2, result.TotalSteps)

	steps := sink.stepEnvelopes()
	require.Len(t, steps, 2)
	assert.True(t, steps[0].IsIncremental)
	assert.False(t, steps[1].IsIncremental)

	last := sink.envelopes[len(sink.envelopes)-1]
	complete, ok := last.(CompleteEnvelope)
	require.True(t, ok)
	assert.Equal(t, 2, complete.TotalSteps)
	assert.Len(t, complete.AllSteps, 2)
}

func TestStreamEmitter_ChoiceHeldUntilEndMarker(t *testing.T) {
	sink := &envelopeSink{}
	emitter := NewStreamEmitter(testContext(), sink.emit)

	require.NoError(t, emitter.Feed("[CHOICE: 怎么办？]\n[OPTION: 一]\n[OPTION: 二]\n"))
	assert.Empty(t, sink.stepEnvelopes())

	require.NoError(t, emitter.Feed("[END_CHOICE]"))
	steps := sink.stepEnvelopes()
	require.Len(t, steps, 1)
	choice := steps[0].Step.(models.Choice)
	assert.Len(t, choice.Options, 2)
}

func TestStreamEmitter_EmitErrorAborts(t *testing.T) {
	wantErr := errors.New("连接已关闭")
	emitter := NewStreamEmitter(testContext(), func(v interface{}) error {
		return wantErr
	})

	err := emitter.Feed("[NARRATION: 正文。]")
	assert.ErrorIs(t, err, wantErr)
}

func TestStreamEmitter_BufferAccumulates(t *testing.T) {
	sink := &envelopeSink{}
	emitter := NewStreamEmitter(testContext(), sink.emit)

	require.NoError(t, emitter.Feed("[NARRATION: 一。]"))
	require.NoError(t, emitter.Feed("\n[NARRATION: 二。]"))
	assert.Equal(t, "[NARRATION: 一。]\n[NARRATION: 二。]", emitter.Buffer())
}
