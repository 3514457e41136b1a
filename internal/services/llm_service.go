// internal/services/llm_service.go
package services

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/Windrune/NovelForge/internal/config"
	"github.com/Windrune/NovelForge/internal/llm"

	// 注册内置提供商
	_ "github.com/Windrune/NovelForge/internal/llm/providers/anthropic"
	_ "github.com/Windrune/NovelForge/internal/llm/providers/openai"
)

var ErrLLMNotReady = errors.New("LLM服务未就绪")

var providerDefaultModels = map[string]string{
	"openai":    "gpt-4.1",
	"anthropic": "claude-haiku-4.5",
}

// LLMService 提供统一的大语言模型调用接口
// 提供商可在运行时热切换，未配置API密钥时服务以待机状态运行
type LLMService struct {
	providerMutex      sync.RWMutex
	provider           llm.Provider
	providerName       string
	activeDefaultModel string
	isReady            bool
	readyState         string

	cache  *gocache.Cache
	logger *zap.Logger
}

// NewLLMService 从当前配置创建LLM服务
// 初始化失败返回未就绪的服务而不是错误，待机服务可通过设置接口随时激活
func NewLLMService(logger *zap.Logger) *LLMService {
	service := createBaseLLMService(logger)

	cfg := config.GetCurrentConfig()
	if cfg == nil {
		service.readyState = "无法读取配置"
		return service
	}

	if cfg.LLMProvider == "" || cfg.LLMConfig == nil || cfg.LLMConfig["api_key"] == "" {
		service.readyState = "API密钥未配置"
		return service
	}

	provider, err := llm.GetProvider(cfg.LLMProvider, cfg.LLMConfig)
	if err != nil {
		service.readyState = fmt.Sprintf("初始化失败: %v", err)
		return service
	}

	service.provider = provider
	service.providerName = cfg.LLMProvider
	service.activeDefaultModel = extractDefaultModel(cfg.LLMConfig)
	service.isReady = true
	service.readyState = "已就绪"
	return service
}

func createBaseLLMService(logger *zap.Logger) *LLMService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMService{
		readyState: "未初始化",
		cache:      gocache.New(30*time.Minute, 10*time.Minute),
		logger:     logger,
	}
}

// IsReady 返回服务是否已就绪
func (s *LLMService) IsReady() bool {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.provider != nil && s.isReady
}

// GetProviderStatus 返回服务是否就绪以及状态描述
func (s *LLMService) GetProviderStatus() (bool, string) {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	if s.provider != nil && s.isReady {
		return true, "已就绪"
	}
	return false, s.readyState
}

// GetProviderName 返回当前提供商名称
func (s *LLMService) GetProviderName() string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.providerName
}

// UpdateProvider 热切换LLM提供商，切换成功后清空响应缓存
func (s *LLMService) UpdateProvider(providerName string, cfg map[string]string) error {
	provider, err := llm.GetProvider(providerName, cfg)
	if err != nil {
		s.providerMutex.Lock()
		s.isReady = false
		s.readyState = fmt.Sprintf("配置失败: %v", err)
		s.providerMutex.Unlock()
		return err
	}

	s.providerMutex.Lock()
	defer s.providerMutex.Unlock()

	s.provider = provider
	s.providerName = providerName
	s.activeDefaultModel = extractDefaultModel(cfg)
	s.isReady = true
	s.readyState = "已就绪"
	s.cache.Flush()

	s.logger.Info("LLM提供商已更新", zap.String("provider", providerName))
	return nil
}

// CompleteChat 非流式对话生成，相同请求命中缓存时直接返回
func (s *LLMService) CompleteChat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	s.providerMutex.RLock()
	provider := s.provider
	ready := s.isReady
	s.providerMutex.RUnlock()

	if !ready || provider == nil {
		return nil, ErrLLMNotReady
	}

	req.Model = s.resolveModel(req.Model)

	cacheKey := s.cacheKey(req)
	if cached, found := s.cache.Get(cacheKey); found {
		if resp, ok := cached.(*llm.ChatResponse); ok {
			s.logger.Debug("LLM响应缓存命中", zap.String("cache_key_prefix", cacheKey[:8]))
			return resp, nil
		}
	}

	resp, err := provider.CompleteChat(ctx, req)
	if err != nil {
		return nil, err
	}

	s.cache.Set(cacheKey, resp, gocache.DefaultExpiration)
	return resp, nil
}

// StreamChat 流式对话生成，增量通过返回的通道下发
// 流式响应不走缓存
func (s *LLMService) StreamChat(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamDelta, error) {
	s.providerMutex.RLock()
	provider := s.provider
	ready := s.isReady
	s.providerMutex.RUnlock()

	if !ready || provider == nil {
		return nil, ErrLLMNotReady
	}

	req.Model = s.resolveModel(req.Model)
	req.Stream = true
	return provider.StreamChat(ctx, req)
}

// CreateStructuredCompletion 请求JSON格式输出并解析到outputSchema
// 用于事件目标选择和事件链判定这类结构化决策
func (s *LLMService) CreateStructuredCompletion(ctx context.Context, prompt, systemPrompt string, outputSchema interface{}) error {
	structuredSystemPrompt := systemPrompt
	if structuredSystemPrompt != "" {
		structuredSystemPrompt += "\n\n"
	}
	structuredSystemPrompt += "只输出有效的JSON，严格符合要求的结构，不要添加解释或前言。"

	resp, err := s.CompleteChat(ctx, llm.ChatRequest{
		SystemPrompt: structuredSystemPrompt,
		Messages: []llm.ChatMessage{
			{Role: llm.RoleUser, Content: prompt},
		},
		Temperature: 0.3,
	})
	if err != nil {
		return err
	}

	text := cleanJSONString(resp.Text)
	if err := json.Unmarshal([]byte(text), outputSchema); err != nil {
		return fmt.Errorf("解析AI结构化响应失败: %w\nAI返回: %s", err, truncateText(resp.Text, 200))
	}
	return nil
}

// GetDefaultModel 获取当前配置的默认模型
func (s *LLMService) GetDefaultModel() string {
	return s.resolveModel("")
}

// resolveModel 根据请求和配置确定应使用的模型
func (s *LLMService) resolveModel(requestedModel string) string {
	if trimmed := strings.TrimSpace(requestedModel); trimmed != "" {
		return trimmed
	}

	s.providerMutex.RLock()
	providerName := s.providerName
	activeDefault := s.activeDefaultModel
	s.providerMutex.RUnlock()

	if activeDefault != "" {
		return activeDefault
	}

	if cfg := config.GetCurrentConfig(); cfg != nil && cfg.LLMProvider == providerName && cfg.LLMConfig != nil {
		if model := strings.TrimSpace(cfg.LLMConfig["default_model"]); model != "" {
			return model
		}
		if model := strings.TrimSpace(cfg.LLMConfig["model"]); model != "" {
			return model
		}
	}

	if model, exists := providerDefaultModels[providerName]; exists {
		return model
	}
	return "gpt-4.1"
}

func extractDefaultModel(cfg map[string]string) string {
	if cfg == nil {
		return ""
	}
	if model := strings.TrimSpace(cfg["default_model"]); model != "" {
		return model
	}
	return strings.TrimSpace(cfg["model"])
}

func (s *LLMService) cacheKey(req llm.ChatRequest) string {
	var b strings.Builder
	b.WriteString(req.SystemPrompt)
	b.WriteString(":::")
	for _, msg := range req.Messages {
		b.WriteString(msg.Role)
		b.WriteString("|")
		b.WriteString(msg.Content)
		b.WriteString(":::")
	}
	b.WriteString(req.Model)
	b.WriteString(":::")
	b.WriteString(s.GetProviderName())

	h := md5.Sum([]byte(b.String()))
	return fmt.Sprintf("%x", h)
}

// 统一替换常见的噪声与Markdown标记
var jsonNoiseReplacer = strings.NewReplacer(
	"```json", "",
	"```", "",
	"\uFEFF", "",
	" ", " ",
)

// cleanJSONString 从LLM响应中抽出第一段括号平衡的JSON文本
func cleanJSONString(s string) string {
	if s == "" {
		return s
	}

	s = jsonNoiseReplacer.Replace(s)

	// 移除零宽字符及除换行/制表符外的控制字符
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\u200B', '\u200C', '\u200D', '\u2060':
			return -1
		}
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)

	// 找到第一个 { 或 [，丢弃之前的内容
	start := strings.IndexAny(s, "[{")
	if start == -1 {
		return strings.TrimSpace(s)
	}
	s = strings.TrimSpace(s[start:])
	if s == "" {
		return s
	}

	isArray := s[0] == '['

	// 括号计数找到匹配的结束符
	balance := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		char := s[i]

		if escaped {
			escaped = false
			continue
		}
		if char == '\\' {
			escaped = true
			continue
		}
		if char == '"' {
			inString = !inString
			continue
		}

		if !inString {
			if isArray {
				if char == '[' {
					balance++
				} else if char == ']' {
					balance--
				}
			} else {
				if char == '{' {
					balance++
				} else if char == '}' {
					balance--
				}
			}
			if balance == 0 {
				return strings.TrimSpace(s[:i+1])
			}
		}
	}

	// 没找到匹配的结束符，回退到最后一个闭括号
	end := strings.LastIndex(s, "}")
	if isArray {
		end = strings.LastIndex(s, "]")
	}
	if end != -1 {
		return strings.TrimSpace(s[:end+1])
	}
	return strings.TrimSpace(s)
}

func truncateText(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
