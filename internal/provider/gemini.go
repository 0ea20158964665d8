package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultGeminiModel   = "gemini-2.5-flash"
	DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
)

type geminiRequest struct {
	Contents []*geminiContent `json:"contents"`
}

type geminiContent struct {
	Parts []*geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []*struct {
		Content *geminiContent `json:"content"`
	} `json:"candidates"`
}

type geminiError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Gemini calls the generateContent REST endpoint.
type Gemini struct {
	APIKey string
	// BaseURL defaults to DefaultGeminiBaseURL.
	BaseURL string
	// HTTPClient defaults to a client with a 60s timeout.
	HTTPClient *http.Client
}

// Generate returns the concatenated text parts of the first candidate. A reply
// with no candidates yields "" and no error.
func (g *Gemini) Generate(ctx context.Context, model, prompt string) (string, error) {
	if model == "" {
		model = DefaultGeminiModel
	}
	base := g.BaseURL
	if base == "" {
		base = DefaultGeminiBaseURL
	}
	client := g.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	body, err := json.Marshal(geminiRequest{Contents: []*geminiContent{{Parts: []*geminiPart{{Text: prompt}}}}})
	if err != nil {
		return "", err
	}
	url := strings.TrimRight(base, "/") + "/models/" + model + ":generateContent"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.APIKey)

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var ge geminiError
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(data, &ge) == nil && ge.Error.Message != "" {
			return "", fmt.Errorf("gemini request failed with status %s: %s", resp.Status, ge.Error.Message)
		}
		return "", fmt.Errorf("gemini request failed with status %s", resp.Status)
	}

	var out geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode gemini response: %w", err)
	}
	if len(out.Candidates) == 0 || out.Candidates[0] == nil || out.Candidates[0].Content == nil {
		return "", nil
	}
	var b strings.Builder
	for _, p := range out.Candidates[0].Content.Parts {
		if p != nil {
			b.WriteString(p.Text)
		}
	}
	return b.String(), nil
}
