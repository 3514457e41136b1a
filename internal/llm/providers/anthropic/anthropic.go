// internal/llm/providers/anthropic/anthropic.go
package anthropic

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
	llm.Register("anthropic", func() llm.Provider {
		return &Provider{
			baseURL:    "https://api.anthropic.com",
			apiVersion: "2023-06-01",
		}
	})
}

type Provider struct {
	apiKey       string
	baseURL      string
	apiVersion   string
	client       *http.Client
	defaultModel string
}

func (p *Provider) Initialize(config map[string]string) error {
	apiKey, exists := config["api_key"]
	if !exists || apiKey == "" {
		return errors.New("anthropic api密钥未提供")
	}

	p.apiKey = apiKey
	p.client = &http.Client{}

	if model, exists := config["default_model"]; exists && model != "" {
		p.defaultModel = model
	} else {
		p.defaultModel = "claude-3-5-sonnet-latest"
	}

	if baseURL, exists := config["base_url"]; exists && baseURL != "" {
		p.baseURL = strings.TrimRight(baseURL, "/")
	}

	if apiVersion, exists := config["api_version"]; exists && apiVersion != "" {
		p.apiVersion = apiVersion
	}

	return nil
}

func (p *Provider) GetName() string {
	return "Anthropic Claude"
}

func (p *Provider) buildRequestBody(req llm.ChatRequest, stream bool) map[string]interface{} {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	messages := make([]map[string]string, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, map[string]string{
			"role": m.Role, "content": m.Content,
		})
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}

	body := map[string]interface{}{
		"model":      model,
		"messages":   messages,
		"max_tokens": maxTokens,
		"stream":     stream,
	}
	if req.SystemPrompt != "" {
		body["system"] = req.SystemPrompt
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
		p.baseURL+"/v1/messages",
		bytes.NewBuffer(jsonData),
	)
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Api-Key", p.apiKey)
	httpReq.Header.Set("Anthropic-Version", p.apiVersion)
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
		return nil, fmt.Errorf("anthropic api错误(%d): %s", httpResp.StatusCode, string(body))
	}

	var response struct {
		Model      string `json:"model"`
		StopReason string `json:"stop_reason"`
		Content    []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}

	if err := json.NewDecoder(httpResp.Body).Decode(&response); err != nil {
		return nil, err
	}

	var textContent string
	for _, content := range response.Content {
		if content.Type == "text" {
			textContent = content.Text
			break
		}
	}

	if textContent == "" {
		return nil, errors.New("anthropic未返回文本内容")
	}

	return &llm.ChatResponse{
		Text:         textContent,
		FinishReason: response.StopReason,
		PromptTokens: response.Usage.InputTokens,
		OutputTokens: response.Usage.OutputTokens,
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
		return nil, fmt.Errorf("anthropic api错误(%d): %s", httpResp.StatusCode, string(body))
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
				if err == io.EOF {
					select {
					case respChan <- llm.StreamDelta{
						Text:         contentBuffer.String(),
						FinishReason: "stop",
						Done:         true,
					}:
					case <-ctx.Done():
					}
				}
				return
			}

			line = strings.TrimSpace(line)

			if line == "" || !strings.HasPrefix(line, "data: ") {
				continue
			}

			line = line[6:]

			var streamResp struct {
				Type  string `json:"type"`
				Delta struct {
					Type       string `json:"type"`
					Text       string `json:"text"`
					StopReason string `json:"stop_reason"`
				} `json:"delta"`
			}

			if err := json.Unmarshal([]byte(line), &streamResp); err != nil {
				continue
			}

			switch streamResp.Type {
			case "content_block_delta":
				if streamResp.Delta.Type == "text_delta" && streamResp.Delta.Text != "" {
					contentBuffer.WriteString(streamResp.Delta.Text)
					select {
					case respChan <- llm.StreamDelta{Text: streamResp.Delta.Text}:
					case <-ctx.Done():
						return
					}
				}
			case "message_stop":
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
		}
	}()

	return respChan, nil
}
