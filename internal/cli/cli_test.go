package cli

import (
	"bytes"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nulpointcorp/anthropic-go/internal/config"
	"github.com/nulpointcorp/anthropic-go/internal/mockapi"
	"github.com/nulpointcorp/anthropic-go/pkg/messages"
)

func mockConfig(baseURL string) func() (*config.Config, error) {
	return func() (*config.Config, error) {
		return &config.Config{
			APIKey:     "sk-test",
			BaseURL:    baseURL,
			APIVersion: "2023-06-01",
			Timeout:    5 * time.Second,
			Model:      "claude-sonnet-4-5",
			LogLevel:   "error",
			Cache:      config.CacheConfig{Mode: "none"},
			CircuitBreaker: config.CircuitBreakerConfig{
				ErrorThreshold:  5,
				TimeWindow:      time.Minute,
				HalfOpenTimeout: 30 * time.Second,
			},
		}, nil
	}
}

func fixedReply(req messages.Request) messages.Response {
	return messages.Response{
		ID:    "msg_cli",
		Type:  "message",
		Role:  messages.RoleAssistant,
		Model: req.Model(),
		Content: []messages.ContentBlock{
			messages.Text("Hello from the mock."),
			messages.ToolUse("toolu_1", "get_weather", []byte(`{"city":"Oslo"}`)),
		},
		StopReason: messages.StopToolUse,
		Usage:      messages.Usage{InputTokens: 7, OutputTokens: 11},
	}
}

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	mock := mockapi.New(mockapi.Config{APIKey: "sk-test", Fragment: 4, Respond: fixedReply})
	srv := httptest.NewServer(mock)
	t.Cleanup(srv.Close)

	root := newRootCmd(&runtime{version: "1.2.3", loadConfig: mockConfig(srv.URL)})
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)

	err := root.Execute()
	return out.String(), err
}

func TestMessages_PrintsResponse(t *testing.T) {
	out, err := runCLI(t, "", "messages", "--prompt", "weather in Oslo?", "--temperature", "0")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	want := "Hello from the mock.\n" +
		"[tool_use toolu_1 get_weather] {\"city\":\"Oslo\"}\n" +
		"-- stop_reason=tool_use input_tokens=7 output_tokens=11\n"
	if out != want {
		t.Fatalf("output:\n%s\nwant:\n%s", out, want)
	}
}

func TestStream_PrintsDeltasAndSummary(t *testing.T) {
	out, err := runCLI(t, "weather in Oslo?\n", "stream")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.HasPrefix(out, "Hello from the mock.\n[tool_use toolu_1 get_weather]") {
		t.Fatalf("output = %q", out)
	}
	if !strings.HasSuffix(out, "-- stop_reason=tool_use input_tokens=7 output_tokens=11\n") {
		t.Fatalf("output = %q", out)
	}
}

func TestMessages_RequiresPrompt(t *testing.T) {
	_, err := runCLI(t, "  \n", "messages")
	if err == nil || !strings.Contains(err.Error(), "prompt is required") {
		t.Fatalf("err = %v", err)
	}
}

func TestMessages_InvalidRequestNeverSent(t *testing.T) {
	_, err := runCLI(t, "", "messages", "--prompt", "hi", "--max-tokens", "0")
	if err == nil {
		t.Fatal("expected builder error")
	}
}

func TestVersion(t *testing.T) {
	out, err := runCLI(t, "", "version")
	if err != nil || out != "1.2.3\n" {
		t.Fatalf("version = %q, %v", out, err)
	}
}

func TestLoadTools(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tools.jsonc")
	body := `[
		// looked up by city name
		{
			"name": "get_weather",
			"description": "Current weather",
			"input_schema": {"type": "object", "properties": {"city": {"type": "string"}}},
		},
	]`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	tools, err := loadTools(path)
	if err != nil {
		t.Fatalf("loadTools: %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "get_weather" || !strings.Contains(string(tools[0].InputSchema), `"city"`) {
		t.Fatalf("tools = %+v", tools)
	}
}

func TestLoadTools_Rejects(t *testing.T) {
	cases := map[string]string{
		"not an array":   `{"name": "x"}`,
		"missing name":   `[{"input_schema": {}}]`,
		"missing schema": `[{"name": "x"}]`,
	}
	for name, body := range cases {
		path := filepath.Join(t.TempDir(), "tools.json")
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
		if _, err := loadTools(path); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}
