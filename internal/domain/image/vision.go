package image

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/kailas-cloud/phototag/internal/domain"
)

// Prompt is the instruction sent with every image to a vision model.
func Prompt(tagCount int) string {
	if tagCount <= 0 {
		tagCount = DefaultTagCount
	}
	return "Describe this image in one or two sentences and list exactly " +
		strconv.Itoa(tagCount) + " short, lowercase, single-word tags for it. " +
		`Respond with a JSON object only, shaped as {"description": "...", "tags": ["...", "..."]}.`
}

type rawAnalysis struct {
	Description string          `json:"description"`
	Tags        json.RawMessage `json:"tags"`
}

// ParseAnalysis decodes a model reply into an Analysis.
// Markdown code fences around the object are tolerated, and tags may be a
// JSON array or a comma-separated string. Undecodable replies wrap
// domain.ErrAnalysisFailed; empty fields wrap domain.ErrInvalidAnalysis.
func ParseAnalysis(reply string, maxTags int) (Analysis, error) {
	body := stripFences(reply)
	if body == "" {
		return Analysis{}, fmt.Errorf("empty model reply: %w", domain.ErrAnalysisFailed)
	}

	var raw rawAnalysis
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return Analysis{}, fmt.Errorf("decode model reply: %v: %w", err, domain.ErrAnalysisFailed)
	}

	tags, err := decodeTags(raw.Tags)
	if err != nil {
		return Analysis{}, fmt.Errorf("decode tags: %v: %w", err, domain.ErrAnalysisFailed)
	}
	return NewAnalysis(raw.Description, tags, maxTags)
}

func decodeTags(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}

	var joined string
	if err := json.Unmarshal(raw, &joined); err != nil {
		return nil, err
	}
	return strings.Split(joined, ","), nil
}

// stripFences removes a surrounding ```json ... ``` block, if any, and any text around the object.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}

	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start >= 0 && end > start {
		s = s[start : end+1]
	}
	return strings.TrimSpace(s)
}
