// Package extract turns raw backend output into validated structured
// results.
//
// Backends emit free text around their JSON payload, wrap it in markdown
// fences, or concatenate several objects after retried generation. The
// extractor locates candidate objects with a balanced-brace scan that is
// aware of string literals and escapes, validates the first parseable
// candidate against the mode's required top-level keys, and degrades to a
// recovered fallback object rather than dropping the task. Only output with
// no balanced brace span at all is unrecoverable.
package extract

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"facet/internal/rubric"
)

// Status classifies an extraction outcome.
type Status string

const (
	StatusValid         Status = "valid"
	StatusRecovered     Status = "recovered_fallback"
	StatusUnrecoverable Status = "unrecoverable"
)

// Extraction is the validated result for one task.
type Extraction struct {
	Payload    map[string]any `json:"payload"`
	Status     Status         `json:"status"`
	Confidence float64        `json:"confidence"`
	Note       string         `json:"note,omitempty"`
}

var fencedJSON = regexp.MustCompile("(?s)```json\\s*\n?(.*?)\n?```")

// Extract parses a backend's raw output for the given mode. It never
// fails: malformed output degrades to a recovered fallback, and only
// structurally hopeless output is marked unrecoverable.
func Extract(mode rubric.Mode, raw string) Extraction {
	required := rubric.RequiredKeys(mode)

	var firstParsed map[string]any
	sawSpan := false

	consider := func(candidate string) *Extraction {
		payload, ok := parseObject(candidate)
		if !ok {
			return nil
		}
		if firstParsed == nil {
			firstParsed = payload
		}
		if hasKeys(payload, required) {
			return &Extraction{
				Payload:    payload,
				Status:     StatusValid,
				Confidence: confidenceOf(payload),
			}
		}
		return nil
	}

	// The whole output may already be the object.
	if e := consider(strings.TrimSpace(raw)); e != nil {
		return *e
	}

	// Models often wrap the object in a markdown fence.
	for _, m := range fencedJSON.FindAllStringSubmatch(raw, -1) {
		if e := consider(m[1]); e != nil {
			return *e
		}
	}

	// Raw brace scan: the first balanced span wins, anything after a
	// retried-generation splice ({...}{...}) is discarded.
	if span, ok := FirstObject(raw); ok {
		sawSpan = true
		if e := consider(span); e != nil {
			return *e
		}
	}

	if firstParsed != nil {
		return fallback(mode, raw, fmt.Sprintf("missing required keys %v", required))
	}
	if sawSpan {
		return fallback(mode, raw, "candidate span is not valid JSON")
	}
	return Extraction{
		Status: StatusUnrecoverable,
		Note:   "no balanced JSON object in output",
	}
}

// FirstObject returns the first balanced top-level JSON object span in
// text. Braces inside string literals are ignored; escape sequences do not
// terminate strings early.
func FirstObject(text string) (string, bool) {
	depth := 0
	start := -1
	inString := false
	escaped := false

	for i := 0; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		if inString {
			switch c {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start != -1 {
					return text[start : i+1], true
				}
			}
		}
	}
	return "", false
}

func parseObject(s string) (map[string]any, bool) {
	var payload map[string]any
	if err := json.Unmarshal([]byte(s), &payload); err != nil {
		return nil, false
	}
	return payload, true
}

func hasKeys(payload map[string]any, keys []string) bool {
	for _, k := range keys {
		if _, ok := payload[k]; !ok {
			return false
		}
	}
	return true
}

// confidenceOf reads the payload's own confidence score when it reports
// one.
func confidenceOf(payload map[string]any) float64 {
	if v, ok := payload["overall_confidence_score"].(float64); ok {
		return v
	}
	return 1.0
}

// fallback synthesizes a minimal valid payload so the task survives the
// parse failure. Review mode keeps the shape downstream consumers expect;
// other modes carry the raw text for manual inspection.
func fallback(mode rubric.Mode, raw, note string) Extraction {
	var payload map[string]any
	if mode == rubric.ModeReview {
		payload = map[string]any{
			"findings":                 []any{},
			"overall_correctness":      "patch is correct",
			"overall_explanation":      fmt.Sprintf("Review parsing failed: %s. See the raw output file.", note),
			"overall_confidence_score": 0.0,
		}
	} else {
		payload = map[string]any{
			"raw_output":       raw,
			"extraction_error": note,
		}
	}
	return Extraction{
		Payload:    payload,
		Status:     StatusRecovered,
		Confidence: 0,
		Note:       note,
	}
}
