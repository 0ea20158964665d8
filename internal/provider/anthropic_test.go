package provider_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/petasbytes/codeplayground/internal/provider"
)

type capture struct {
	method string
	url    string
	body   []byte
}

type fakeTransport struct {
	respStatus int
	respBody   []byte
	captured   *capture
	calls      atomic.Int32
}

func (f *fakeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	f.calls.Add(1)
	b, _ := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if f.captured != nil {
		f.captured.method = req.Method
		f.captured.url = req.URL.String()
		f.captured.body = b
	}
	resp := &http.Response{
		StatusCode: f.respStatus,
		Body:       io.NopCloser(bytes.NewReader(f.respBody)),
		Header:     make(http.Header),
		Request:    req,
	}
	resp.Header.Set("Content-Type", "application/json")
	return resp, nil
}

func newAnthropicWithTransport(rt http.RoundTripper) *provider.Anthropic {
	cli := provider.NewAnthropicClient(
		option.WithHTTPClient(&http.Client{Transport: rt}),
		option.WithAPIKey("test-key"),
	)
	return provider.NewAnthropic(cli, 0)
}

type reqBody struct {
	Model     string `json:"model"`
	MaxTokens int64  `json:"max_tokens"`
	Messages  []struct {
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text,omitempty"`
		} `json:"content"`
	} `json:"messages"`
}

func TestAnthropic_SendsSingleUserPromptAndJoinsText(t *testing.T) {
	capReq := &capture{}
	resp := `{"id":"msg_1","type":"message","role":"assistant","content":[` +
		`{"type":"text","text":"print("},{"type":"text","text":"1)"}]}`
	fake := &fakeTransport{respStatus: 200, respBody: []byte(resp), captured: capReq}
	a := newAnthropicWithTransport(fake)

	got, err := a.Generate(context.Background(), "", "write code")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got != "print(1)" {
		t.Fatalf("want joined text, got %q", got)
	}

	var rb reqBody
	if err := json.Unmarshal(capReq.body, &rb); err != nil {
		t.Fatalf("unmarshal body: %v\nbody=%s", err, string(capReq.body))
	}
	if rb.Model != provider.DefaultAnthropicModel {
		t.Errorf("model: want default %q, got %q", provider.DefaultAnthropicModel, rb.Model)
	}
	if rb.MaxTokens != provider.DefaultMaxTokens {
		t.Errorf("max_tokens: got %d", rb.MaxTokens)
	}
	if len(rb.Messages) != 1 || rb.Messages[0].Role != "user" ||
		len(rb.Messages[0].Content) != 1 || rb.Messages[0].Content[0].Text != "write code" {
		t.Fatalf("unexpected messages: %+v", rb.Messages)
	}
	if capReq.method != http.MethodPost {
		t.Errorf("method: %s", capReq.method)
	}
}

func TestAnthropic_ServerErrorIsNotRetried(t *testing.T) {
	fake := &fakeTransport{
		respStatus: 500,
		respBody:   []byte(`{"type":"error","error":{"type":"api_error","message":"overloaded"}}`),
	}
	a := newAnthropicWithTransport(fake)
	if _, err := a.Generate(context.Background(), "claude-test", "hi"); err == nil {
		t.Fatal("expected error on 500")
	}
	if got := fake.calls.Load(); got != 1 {
		t.Fatalf("want exactly one attempt, got %d", got)
	}
}

func TestAnthropic_NoTextBlocks(t *testing.T) {
	fake := &fakeTransport{respStatus: 200, respBody: []byte(`{"content":[],"role":"assistant"}`)}
	got, err := newAnthropicWithTransport(fake).Generate(context.Background(), "m", "hi")
	if err != nil || got != "" {
		t.Fatalf("want empty text, got %q, %v", got, err)
	}
}
