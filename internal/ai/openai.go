package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAIProvider talks to the Responses API. It is the only provider that can
// thread a previous_response_id, so it backs the continuation-chained chat.
type OpenAIProvider struct {
	BaseURL string
	APIKey  string
	Model   string
	Client  *http.Client
}

type openAIResponsesReq struct {
	Model              string `json:"model"`
	Instructions       string `json:"instructions,omitempty"`
	Input              string `json:"input"`
	PreviousResponseID string `json:"previous_response_id,omitempty"`
}

type openAIResponsesResp struct {
	ID     string `json:"id"`
	Output []struct {
		Type    string `json:"type"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func NewOpenAIProvider(baseURL, apiKey, model string) *OpenAIProvider {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAIProvider{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   model,
		Client:  &http.Client{Timeout: 90 * time.Second},
	}
}

func (p *OpenAIProvider) Generate(ctx context.Context, prompt string) (string, error) {
	reply, _, err := p.ChatWithState(ctx, "", prompt, "")
	return reply, err
}

func (p *OpenAIProvider) ChatWithState(ctx context.Context, instructions, prompt, previousResponseID string) (string, string, error) {
	if p.Client == nil {
		return "", "", errors.New("openai: http client is nil")
	}
	if strings.TrimSpace(p.APIKey) == "" {
		return "", "", errors.New("openai: api key is required")
	}
	model := strings.TrimSpace(p.Model)
	if model == "" {
		return "", "", errors.New("openai: model is required")
	}

	reqBody := openAIResponsesReq{
		Model:              model,
		Instructions:       instructions,
		Input:              prompt,
		PreviousResponseID: strings.TrimSpace(previousResponseID),
	}

	b, err := json.Marshal(reqBody)
	if err != nil {
		return "", "", err
	}

	url := fmt.Sprintf("%s/responses", strings.TrimRight(p.BaseURL, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.APIKey)

	resp, err := p.Client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return "", "", fmt.Errorf("openai: %s", msg)
	}

	var decoded openAIResponsesResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", "", err
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return "", "", errors.New(decoded.Error.Message)
	}

	for _, out := range decoded.Output {
		if out.Type != "message" {
			continue
		}
		for _, c := range out.Content {
			if c.Text != "" {
				return c.Text, decoded.ID, nil
			}
		}
	}
	return "", "", errors.New("openai: empty response")
}
