// internal/llm/interface.go
package llm

import (
	"context"
	"errors"
)

// 错误定义
var ErrUnknownProvider = errors.New("未知的AI提供者")

// 消息角色
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage 对话消息
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest 请求参数标准化
// 引擎只负责装配消息历史，SystemPrompt 的内容由外部模板提供
type ChatRequest struct {
	SystemPrompt string        `json:"system_prompt,omitempty"`
	Messages     []ChatMessage `json:"messages"`
	Model        string        `json:"model,omitempty"`
	MaxTokens    int           `json:"max_tokens,omitempty"`
	Temperature  float32       `json:"temperature,omitempty"`
	Stream       bool          `json:"stream,omitempty"`
}

// ChatResponse 响应结构标准化
type ChatResponse struct {
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason,omitempty"`
	PromptTokens int    `json:"prompt_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
	ModelName    string `json:"model_name,omitempty"`
	ProviderName string `json:"provider_name,omitempty"`
}

// StreamDelta 流式响应增量
// Text 为本次新增的文本片段；Done 为 true 时 Text 为完整文本
type StreamDelta struct {
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason,omitempty"`
	Done         bool   `json:"done"`
}

// Provider 定义所有LLM提供者必须实现的接口
type Provider interface {
	// 初始化提供者，传入配置
	Initialize(config map[string]string) error

	// 获取提供者名称
	GetName() string

	// 对话式文本生成
	CompleteChat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// 流式响应生成
	StreamChat(ctx context.Context, req ChatRequest) (<-chan StreamDelta, error)
}

// 注册表和工厂函数类型
type ProviderFactory func() Provider

var providers = make(map[string]ProviderFactory)

// Register 注册提供者工厂
func Register(name string, factory ProviderFactory) {
	providers[name] = factory
}

// GetProvider 创建指定名称的提供者实例
func GetProvider(name string, config map[string]string) (Provider, error) {
	factory, exists := providers[name]
	if !exists {
		return nil, ErrUnknownProvider
	}

	provider := factory()
	if err := provider.Initialize(config); err != nil {
		return nil, err
	}
	return provider, nil
}

// ListProviders 返回所有已注册的提供者名称
func ListProviders() []string {
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	return names
}
