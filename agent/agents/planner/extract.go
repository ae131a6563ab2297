package planner

import (
	"errors"
	"strings"

	"github.com/tidwall/gjson"
)

// extractPlanJSON finds the plan object in model text. Models wrap JSON in code
// fences or prose, return a bare step array, or nest steps under "plan".
func extractPlanJSON(text string) (string, error) {
	body := strings.TrimSpace(stripFences(text))
	if body == "" {
		return "", errors.New("model returned no content")
	}

	if !gjson.Valid(body) {
		body = outermostJSON(body)
		if body == "" || !gjson.Valid(body) {
			return "", errors.New("model output contains no valid json")
		}
	}

	doc := gjson.Parse(body)
	if doc.IsArray() {
		return `{"steps":` + doc.Raw + `}`, nil
	}
	for _, path := range []string{"steps", "plan.steps", "plan"} {
		if r := doc.Get(path); r.Exists() && r.IsArray() {
			return `{"steps":` + r.Raw + `}`, nil
		}
	}
	return "", errors.New(`json has no "steps" array`)
}

func stripFences(s string) string {
	start := strings.Index(s, "```")
	if start < 0 {
		return s
	}
	rest := s[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:]
	}
	if end := strings.LastIndex(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return rest
}

func outermostJSON(s string) string {
	obj := strings.IndexByte(s, '{')
	arr := strings.IndexByte(s, '[')
	open, closer := obj, byte('}')
	if obj < 0 || (arr >= 0 && arr < obj) {
		open, closer = arr, ']'
	}
	if open < 0 {
		return ""
	}
	end := strings.LastIndexByte(s, closer)
	if end <= open {
		return ""
	}
	return s[open : end+1]
}
