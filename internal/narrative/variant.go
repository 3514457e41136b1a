// internal/narrative/variant.go
package narrative

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/Windrune/NovelForge/internal/models"
)

// variantMatchThreshold 模糊匹配的字符覆盖率下限
const variantMatchThreshold = 0.7

// 差分类型按优先级排列：表情优先于服装，服装优先于姿势
var variantTypePriority = []string{
	models.VariantExpression,
	models.VariantClothing,
	models.VariantPose,
}

var markupTagRe = regexp.MustCompile(`</?[a-zA-Z][a-zA-Z0-9_]*>`)

// ResolveImage 根据台词内容从NPC差分图映射中选出当前立绘
// 逐差分类型按优先级尝试三级匹配：原样子串 → 分词 → 字符覆盖率；
// 全部未命中时退回 base 立绘。启发式误选是可接受的，展示层无害
func ResolveImage(dialogueText string, images map[string]string) string {
	if len(images) == 0 {
		return ""
	}

	text := strings.ToLower(markupTagRe.ReplaceAllString(dialogueText, ""))

	for _, typ := range variantTypePriority {
		keys := keysWithPrefix(images, typ+"_")

		// 一级：差分值整体作为子串出现
		for _, k := range keys {
			value := variantValue(k, typ)
			if value != "" && strings.Contains(text, value) {
				return images[k]
			}
		}

		// 二级：差分值的任一分词出现（单字符分词不算数）
		for _, k := range keys {
			for _, token := range splitVariantTokens(variantValue(k, typ)) {
				if len([]rune(token)) > 1 && strings.Contains(text, token) {
					return images[k]
				}
			}
		}

		// 三级：单词差分值的字符覆盖率达到阈值
		for _, k := range keys {
			value := variantValue(k, typ)
			if fuzzyCoverage(text, value) {
				return images[k]
			}
		}
	}

	if base, ok := images[models.VariantBase]; ok {
		return base
	}
	return ""
}

// keysWithPrefix 取出某一差分类型的全部键并排序，保证匹配顺序确定
func keysWithPrefix(images map[string]string, prefix string) []string {
	var keys []string
	for k := range images {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// variantValue 去掉类型前缀，下划线换成空格，转小写
func variantValue(key, typ string) string {
	value := strings.TrimPrefix(key, typ+"_")
	value = strings.ReplaceAll(value, "_", " ")
	return strings.ToLower(strings.TrimSpace(value))
}

func splitVariantTokens(value string) []string {
	return strings.FieldsFunc(value, func(r rune) bool {
		return r == '-' || r == '_' || unicode.IsSpace(r)
	})
}

// fuzzyCoverage 差分值中出现在台词里的字符比例是否达标
// 仅对不含空格、长度至少2的差分值启用，避免短值误报
func fuzzyCoverage(text, value string) bool {
	runes := []rune(value)
	if len(runes) < 2 || strings.ContainsRune(value, ' ') {
		return false
	}
	matched := 0
	for _, r := range runes {
		if strings.ContainsRune(text, r) {
			matched++
		}
	}
	need := int(math.Ceil(variantMatchThreshold * float64(len(runes))))
	return matched >= need
}
