package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"github.com/tidwall/jsonc"

	"github.com/nulpointcorp/anthropic-go/pkg/messages"
)

// requestOptions are the flags shared by messages and stream.
type requestOptions struct {
	Model       string
	Prompt      string
	System      string
	MaxTokens   int
	Temperature float64
	ToolsFile   string
	Beta        []string
}

func (o *requestOptions) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&o.Model, "model", "", "model name (default: ANTHROPIC_MODEL)")
	f.StringVarP(&o.Prompt, "prompt", "p", "", "user prompt (read stdin if empty)")
	f.StringVar(&o.System, "system", "", "system prompt")
	f.IntVar(&o.MaxTokens, "max-tokens", 1024, "maximum tokens to generate")
	f.Float64Var(&o.Temperature, "temperature", 0, "sampling temperature in [0,1]")
	f.StringVar(&o.ToolsFile, "tools", "", "JSON (comments allowed) file holding an array of tool definitions")
	f.StringSliceVar(&o.Beta, "beta", nil, "anthropic-beta flags, added to ANTHROPIC_BETA")
}

// buildRequest turns flags into a validated Request. Temperature is only
// sent when the flag was given explicitly.
func buildRequest(cmd *cobra.Command, o *requestOptions, defaultModel string) (messages.Request, error) {
	prompt, err := readPrompt(o.Prompt, cmd.InOrStdin())
	if err != nil {
		return messages.Request{}, err
	}

	model := o.Model
	if model == "" {
		model = defaultModel
	}

	b := messages.NewBuilder(model, []messages.Message{messages.UserText(prompt)}, o.MaxTokens)
	if o.System != "" {
		b.System(o.System)
	}
	if cmd.Flags().Changed("temperature") {
		b.Temperature(o.Temperature)
	}
	if o.ToolsFile != "" {
		tools, err := loadTools(o.ToolsFile)
		if err != nil {
			return messages.Request{}, err
		}
		b.Tools(tools...)
	}
	return b.Build()
}

func readPrompt(flag string, stdin io.Reader) (string, error) {
	prompt := strings.TrimSpace(flag)
	if prompt == "" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read prompt: %w", err)
		}
		prompt = strings.TrimSpace(string(data))
	}
	if prompt == "" {
		return "", errors.New("prompt is required")
	}
	return prompt, nil
}

// loadTools reads a tools file. The file may contain comments and trailing
// commas; every entry must name the tool and carry an input_schema object.
func loadTools(path string) ([]messages.Tool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tools: %w", err)
	}
	stripped := jsonc.ToJSON(data)

	parsed := gjson.ParseBytes(stripped)
	if !parsed.IsArray() {
		return nil, fmt.Errorf("tools %s: top-level value must be an array", path)
	}
	for i, t := range parsed.Array() {
		if t.Get("name").String() == "" {
			return nil, fmt.Errorf("tools %s: entry %d has no name", path, i)
		}
		if !t.Get("input_schema").IsObject() {
			return nil, fmt.Errorf("tools %s: entry %d (%s) needs an input_schema object", path, i, t.Get("name").String())
		}
	}

	var tools []messages.Tool
	if err := json.Unmarshal(stripped, &tools); err != nil {
		return nil, fmt.Errorf("tools %s: %w", path, err)
	}
	return tools, nil
}
