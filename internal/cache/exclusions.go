package cache

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nulpointcorp/anthropic-go/pkg/messages"
)

// Rule prefixes accepted in the exact list. An entry without a prefix names
// a model.
const (
	rulePrefixModel = "model:"
	rulePrefixTool  = "tool:"
	ruleThinking    = "thinking"
)

// ExclusionList decides which requests bypass the response cache even when
// they are otherwise deterministic. A request is excluded when
//
//   - its model is listed (`claude-opus-4-1` or `model:claude-opus-4-1`),
//   - its model matches one of the patterns,
//   - it declares a listed tool (`tool:get_time`), since the answer depends
//     on what the tool returns at call time, or
//   - it enables extended thinking and `thinking` is listed.
//
// A nil *ExclusionList excludes nothing.
type ExclusionList struct {
	models   map[string]struct{}
	tools    map[string]struct{}
	thinking bool
	patterns []*regexp.Regexp
}

// NewExclusionList parses exact rules and compiles model patterns. An invalid
// pattern or an empty tool rule is an error so misconfiguration is caught at
// startup; blank entries are skipped.
func NewExclusionList(exact, patterns []string) (*ExclusionList, error) {
	el := &ExclusionList{
		models: make(map[string]struct{}),
		tools:  make(map[string]struct{}),
	}

	for _, e := range exact {
		e = strings.TrimSpace(e)
		switch {
		case e == "":
		case e == ruleThinking:
			el.thinking = true
		case strings.HasPrefix(e, rulePrefixTool):
			name := strings.TrimSpace(strings.TrimPrefix(e, rulePrefixTool))
			if name == "" {
				return nil, fmt.Errorf("cache: exclusion %q names no tool", e)
			}
			el.tools[name] = struct{}{}
		default:
			el.models[strings.TrimSpace(strings.TrimPrefix(e, rulePrefixModel))] = struct{}{}
		}
	}

	for _, p := range patterns {
		if p = strings.TrimSpace(p); p == "" {
			continue
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("cache: invalid exclusion pattern %q: %w", p, err)
		}
		el.patterns = append(el.patterns, re)
	}

	return el, nil
}

// Excludes reports whether req must bypass the cache and, if so, the rule
// that matched.
func (el *ExclusionList) Excludes(req messages.Request) (string, bool) {
	if el == nil {
		return "", false
	}

	model := req.Model()
	if _, ok := el.models[model]; ok {
		return rulePrefixModel + model, true
	}
	for _, re := range el.patterns {
		if re.MatchString(model) {
			return "pattern:" + re.String(), true
		}
	}

	if el.thinking {
		if tc, ok := req.Thinking(); ok && tc.Type == "enabled" {
			return ruleThinking, true
		}
	}

	if len(el.tools) > 0 {
		for _, t := range req.Tools() {
			if _, ok := el.tools[t.Name]; ok {
				return rulePrefixTool + t.Name, true
			}
		}
	}
	return "", false
}

// Len returns the number of rules.
func (el *ExclusionList) Len() int {
	if el == nil {
		return 0
	}
	n := len(el.models) + len(el.tools) + len(el.patterns)
	if el.thinking {
		n++
	}
	return n
}
