// internal/services/llm_service_test.go
package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanJSONString_StripsNoise(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "Markdown代码块",
			input: "```json\n{\"ok\": true}\n```",
			want:  "{\"ok\": true}",
		},
		{
			name:  "BOM与零宽字符",
			input: "\ufeff{\"name\": \"艾​莉亚\"}",
			want:  "{\"name\": \"艾莉亚\"}",
		},
		{
			name:  "JSON前的解释文本",
			input: "好的，以下是结果：\n[{\"id\": 1}]",
			want:  "[{\"id\": 1}]",
		},
		{
			name:  "JSON后的多余文本",
			input: "{\"done\": true} 希望对你有帮助",
			want:  "{\"done\": true}",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, cleanJSONString(tc.input))
		})
	}
}
