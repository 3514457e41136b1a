// internal/llm/providers/openai/openai.go
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Windrune/NovelForge/internal/llm"
)

func init() {
	llm.Register("openai", func() llm.Provider {
		return &Provider{
			baseURL: "https://api.openai.com/v1",
		}
	})
}

// Provider OpenAI兼容接口提供者（OpenAI本身以及各类兼容网关）
type Provider struct {
	apiKey       string
	baseURL      string
	client       *http.Client
	defaultModel string
}

func (p *Provider) Initialize(config map[string]string) error {
	apiKey, exists := config["api_key"]
	if !exists || apiKey == "" {
		return errors.New("openai api密钥未提供")
	}

	p.apiKey = apiKey
	p.client = &http.Client{}

	if model, exists := config["default_model"]; exists && model != "" {
		p.defaultModel = model
	} else {
		p.defaultModel = "gpt-4o"
	}

	if baseURL, exists := config["base_url"]; exists && baseURL != "" {
		p.baseURL = strings.TrimRight(baseURL, "/")
	}

	return nil
}

func (p *Provider) GetName() string {
	return "OpenAI"
}

// buildMessages 将标准请求转换为OpenAI消息数组
func (p *Provider) buildMessages(req llm.ChatRequest) []map[string]string {
	messages := make([]map[string]string, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, map[string]string{
			"role": "system", "content": req.SystemPrompt,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, map[string]string{
			"role": m.Role, "content": m.Content,
		})
	}
	return messages
}

func (p *Provider) buildRequestBody(req llm.ChatRequest, stream bool) map[string]interface{} {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	body := map[string]interface{}{
		"model":    model,
		"messages": p.buildMessages(req),
		"stream":   stream,
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	if req.Temperature > 0 {
		body["temperature"] = req.Temperature
	}
	return body
}

func (p *Provider) newRequest(ctx context.Context, body map[string]interface{}) (*http.Request, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		"POST",
		p.baseURL+"/chat/completions",
		bytes.NewBuffer(jsonData),
	)
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	return httpReq, nil
}

func (p *Provider) CompleteChat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	httpReq, err := p.newRequest(ctx, p.buildRequestBody(req, false))
	if err != nil {
		return nil, err
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("openai api错误(%d): %s", httpResp.StatusCode, string(body))
	}

	var response struct {
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}

	if err := json.NewDecoder(httpResp.Body).Decode(&response); err != nil {
		return nil, err
	}

	if len(response.Choices) == 0 {
		return nil, errors.New("openai未返回任何结果")
	}

	return &llm.ChatResponse{
		Text:         response.Choices[0].Message.Content,
		FinishReason: response.Choices[0].FinishReason,
		PromptTokens: response.Usage.PromptTokens,
		OutputTokens: response.Usage.CompletionTokens,
		ModelName:    response.Model,
		ProviderName: p.GetName(),
	}, nil
}

// StreamChat 实现流式响应
func (p *Provider) StreamChat(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamDelta, error) {
	httpReq, err := p.newRequest(ctx, p.buildRequestBody(req, true))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		return nil, fmt.Errorf("openai api错误(%d): %s", httpResp.StatusCode, string(body))
	}

	respChan := make(chan llm.StreamDelta)

	go func() {
		defer httpResp.Body.Close()
		defer close(respChan)

		reader := bufio.NewReader(httpResp.Body)
		var contentBuffer strings.Builder

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			line, err := reader.ReadString('\n')
			if err != nil {
				if err != io.EOF {
					return
				}
				// EOF视作流正常结束
				select {
				case respChan <- llm.StreamDelta{
					Text:         contentBuffer.String(),
					FinishReason: "stop",
					Done:         true,
				}:
				case <-ctx.Done():
				}
				return
			}

			line = strings.TrimSpace(line)

			// 空行或注释
			if line == "" || !strings.HasPrefix(line, "data: ") {
				continue
			}

			// 移除 "data: " 前缀
			line = line[6:]

			// 检查流结束
			if line == "[DONE]" {
				select {
				case respChan <- llm.StreamDelta{
					Text:         contentBuffer.String(),
					FinishReason: "stop",
					Done:         true,
				}:
				case <-ctx.Done():
				}
				return
			}

			var streamResp struct {
				Choices []struct {
					Delta struct {
						Content string `json:"content"`
					} `json:"delta"`
					FinishReason string `json:"finish_reason"`
				} `json:"choices"`
			}

			if err := json.Unmarshal([]byte(line), &streamResp); err != nil {
				continue
			}

			if len(streamResp.Choices) == 0 {
				continue
			}

			if content := streamResp.Choices[0].Delta.Content; content != "" {
				contentBuffer.WriteString(content)
				select {
				case respChan <- llm.StreamDelta{Text: content}:
				case <-ctx.Done():
					return
				}
			}

			if reason := streamResp.Choices[0].FinishReason; reason != "" {
				select {
				case respChan <- llm.StreamDelta{
					Text:         contentBuffer.String(),
					FinishReason: reason,
					Done:         true,
				}:
				case <-ctx.Done():
				}
				return
			}
		}
	}()

	return respChan, nil
}
