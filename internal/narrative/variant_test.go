// internal/narrative/variant_test.go
package narrative

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveImage_ExactSubstring(t *testing.T) {
	images := map[string]string{
		"base":             "base.png",
		"expression_angry": "angry.png",
		"expression_smile": "smile.png",
	}
	assert.Equal(t, "angry.png", ResolveImage("She looks angry at you.", images))
}

func TestResolveImage_TypePriority(t *testing.T) {
	// 台词同时命中表情和服装时，表情优先
	images := map[string]string{
		"expression_angry": "angry.png",
		"clothing_casual":  "casual.png",
	}
	assert.Equal(t, "angry.png", ResolveImage("casual clothes, but angry eyes", images))
}

func TestResolveImage_TokenMatch(t *testing.T) {
	// 差分值"wry smile"整体未出现，但分词"wry"命中
	images := map[string]string{
		"expression_wry_smile": "wry.png",
	}
	assert.Equal(t, "wry.png", ResolveImage("a wry look crosses her face", images))
}

func TestResolveImage_SingleCharTokenIgnored(t *testing.T) {
	images := map[string]string{
		"pose_a_frame": "aframe.png",
	}
	// 分词"a"长度为1不算命中，"frame"未出现，字符覆盖率对含空格的值不启用
	assert.Empty(t, ResolveImage("standing still", images))
}

func TestResolveImage_FuzzyCoverage(t *testing.T) {
	// "smile"五个字符中s,m,i,l,e全部散落在台词里，覆盖率达标
	images := map[string]string{
		"expression_smile": "smile.png",
	}
	assert.Equal(t, "smile.png", ResolveImage("she lets a slim grin show", images))
}

func TestResolveImage_FuzzyBelowThreshold(t *testing.T) {
	images := map[string]string{
		"expression_smile": "smile.png",
	}
	// 仅覆盖到 s 一个字符，远低于阈值
	assert.Empty(t, ResolveImage("so?", images))
}

func TestResolveImage_MarkupStripped(t *testing.T) {
	images := map[string]string{
		"expression_em": "em.png",
	}
	// <em>标签先被剥除，不会让标签名误当作台词内容
	assert.Empty(t, ResolveImage("<em>quiet</em>", images))
}

func TestResolveImage_BaseFallback(t *testing.T) {
	images := map[string]string{
		"base":             "base.png",
		"expression_angry": "angry.png",
	}
	assert.Equal(t, "base.png", ResolveImage("nothing matches here", images))
}

func TestResolveImage_NoBaseNoMatch(t *testing.T) {
	images := map[string]string{
		"expression_angry": "angry.png",
	}
	assert.Empty(t, ResolveImage("zzz", images))
}

func TestResolveImage_EmptyMap(t *testing.T) {
	assert.Empty(t, ResolveImage("anything", nil))
}

func TestResolveImage_DeterministicKeyOrder(t *testing.T) {
	// 同类型多键都命中时按键名排序取第一个
	images := map[string]string{
		"expression_sad_b": "b.png",
		"expression_sad_a": "a.png",
	}
	got := ResolveImage("she looks sad a sad b", images)
	assert.Equal(t, "a.png", got)
}
