package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/yourorg/declarant/pkg/types"
)

// Client calls the OpenAI Responses API with file_search retrieval over the
// tariff code vector store and web_search as a fallback tool.
type Client struct {
	BaseURL       string
	APIKey        string
	Model         string
	VectorStoreID string
	MaxTokens     int
	Temperature   float64
	HTTPClient    *http.Client
	Logger        *slog.Logger
}

var sleepFn = time.Sleep

func (c *Client) Classify(ctx context.Context, item types.Item) (types.Result, error) {
	content, err := c.respond(ctx, BuildSystemPrompt(), BuildUserPrompt(item))
	if err != nil {
		return types.Result{}, err
	}
	return parseResult(content)
}

func (c *Client) respond(ctx context.Context, instructions, input string) (string, error) {
	client := c.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	endpoint := strings.TrimRight(c.BaseURL, "/") + "/responses"

	tools := []map[string]interface{}{}
	if c.VectorStoreID != "" {
		tools = append(tools, map[string]interface{}{
			"type":             "file_search",
			"vector_store_ids": []string{c.VectorStoreID},
			"max_num_results":  5,
		})
	}
	tools = append(tools, map[string]interface{}{"type": "web_search"})

	payload := map[string]interface{}{
		"model":             c.Model,
		"instructions":      instructions,
		"input":             input,
		"temperature":       c.Temperature,
		"max_output_tokens": c.MaxTokens,
		"tools":             tools,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	if c.Logger != nil {
		c.Logger.Debug("llm request", "url", endpoint, "input", input)
	}

	var lastErr error
	maxRetries := 3
	for attempt := 0; attempt <= maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.APIKey)
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			lastErr = err
			if attempt < maxRetries {
				sleepFn(backoff(attempt))
				continue
			}
			return "", err
		}
		data, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			lastErr = err
			if attempt < maxRetries {
				sleepFn(backoff(attempt))
				continue
			}
			return "", err
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("llm error status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
			if attempt < maxRetries {
				wait := backoff(attempt)
				if resp.StatusCode == http.StatusTooManyRequests {
					if ra := strings.TrimSpace(resp.Header.Get("Retry-After")); ra != "" {
						if secs, err := strconv.Atoi(ra); err == nil {
							wait = time.Duration(secs) * time.Second
						}
					}
				}
				sleepFn(wait)
				continue
			}
			return "", lastErr
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return "", fmt.Errorf("llm error status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		}

		var out struct {
			Output []struct {
				Type    string `json:"type"`
				Content []struct {
					Type string `json:"type"`
					Text string `json:"text"`
				} `json:"content"`
			} `json:"output"`
			Error *struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal(data, &out); err != nil {
			return "", err
		}
		if out.Error != nil {
			return "", fmt.Errorf("llm error: %s", out.Error.Message)
		}
		for _, o := range out.Output {
			if o.Type != "message" {
				continue
			}
			for _, c2 := range o.Content {
				if c2.Type == "output_text" && c2.Text != "" {
					if c.Logger != nil {
						c.Logger.Debug("llm response", "content", c2.Text)
					}
					return c2.Text, nil
				}
			}
		}
		return "", errors.New("llm response has no output text")
	}
	if lastErr == nil {
		lastErr = errors.New("llm request failed")
	}
	return "", lastErr
}

// parseResult decodes a model reply into a Result, tolerating markdown fences.
func parseResult(content string) (types.Result, error) {
	content = stripMarkdownCodeBlock(content)
	var res types.Result
	if err := json.Unmarshal([]byte(content), &res); err != nil {
		return types.Result{}, fmt.Errorf("malformed classification output: %w", err)
	}
	if strings.TrimSpace(res.HSCode) == "" {
		return types.Result{}, errors.New("classification output has empty hs_code")
	}
	if res.Confidence < 0 || res.Confidence > 100 {
		return types.Result{}, fmt.Errorf("classification confidence %d out of range", res.Confidence)
	}
	return res, nil
}

func stripMarkdownCodeBlock(content string) string {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```")
		if idx := strings.Index(trimmed, "\n"); idx != -1 {
			trimmed = trimmed[idx+1:]
		}
		if end := strings.LastIndex(trimmed, "```"); end != -1 {
			trimmed = trimmed[:end]
		}
		return strings.TrimSpace(trimmed)
	}
	return trimmed
}

func backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return time.Second << attempt
}
