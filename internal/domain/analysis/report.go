// Package analysis holds the structured critique returned by the model and
// the rules for telling it apart from free-form text.
package analysis

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Score accepts both JSON numbers and numeric strings; anything else decodes as 0.
type Score float64

func (s *Score) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		b = []byte(strings.TrimSpace(str))
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		*s = 0
		return nil
	}
	*s = Score(f)
	return nil
}

type Summary struct {
	Strengths  string `json:"strengths"`
	Weaknesses string `json:"weaknesses"`
}

type DetailScore struct {
	Name    string `json:"name"`
	Score   Score  `json:"score"`
	Comment string `json:"comment"`
}

// Report is the structured result schema the prompts ask for.
type Report struct {
	Rejected       bool          `json:"rejected"`
	RejectMessage  string        `json:"rejectMessage,omitempty"`
	Summary        Summary       `json:"summary"`
	DetailScores   []DetailScore `json:"detailScores"`
	OverallScore   Score         `json:"overallScore"`
	Grade          string        `json:"grade"`
	OnePointLesson string        `json:"onePointLesson"`
}

// UnmarshalJSON decodes leniently: a field of the wrong type renders as empty
// (or as its literal text for numbers and booleans) instead of discarding the
// whole report.
func (r *Report) UnmarshalJSON(b []byte) error {
	var raw struct {
		Rejected       json.RawMessage `json:"rejected"`
		RejectMessage  json.RawMessage `json:"rejectMessage"`
		Summary        json.RawMessage `json:"summary"`
		DetailScores   json.RawMessage `json:"detailScores"`
		OverallScore   json.RawMessage `json:"overallScore"`
		Grade          json.RawMessage `json:"grade"`
		OnePointLesson json.RawMessage `json:"onePointLesson"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	*r = Report{
		Rejected:       truthy(raw.Rejected),
		RejectMessage:  text(raw.RejectMessage),
		OverallScore:   score(raw.OverallScore),
		Grade:          text(raw.Grade),
		OnePointLesson: text(raw.OnePointLesson),
	}

	var summary map[string]json.RawMessage
	if json.Unmarshal(raw.Summary, &summary) == nil {
		r.Summary = Summary{Strengths: text(summary["strengths"]), Weaknesses: text(summary["weaknesses"])}
	}

	var items []json.RawMessage
	if json.Unmarshal(raw.DetailScores, &items) == nil {
		for _, item := range items {
			var fields map[string]json.RawMessage
			if json.Unmarshal(item, &fields) != nil || fields == nil {
				continue
			}
			r.DetailScores = append(r.DetailScores, DetailScore{
				Name:    text(fields["name"]),
				Score:   score(fields["score"]),
				Comment: text(fields["comment"]),
			})
		}
	}
	return nil
}

// text renders strings as-is and numbers or booleans as their literal;
// null, objects and arrays become "".
func text(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	switch raw[0] {
	case '"':
		var s string
		if json.Unmarshal(raw, &s) != nil {
			return ""
		}
		return s
	case '{', '[', 'n':
		return ""
	default:
		return string(raw)
	}
}

func score(raw json.RawMessage) Score {
	var s Score
	if len(bytes.TrimSpace(raw)) == 0 || s.UnmarshalJSON(raw) != nil {
		return 0
	}
	return s
}

// truthy follows JSON-as-JavaScript truthiness.
func truthy(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return false
	}
	switch raw[0] {
	case 't', '{', '[':
		return true
	case 'f', 'n':
		return false
	case '"':
		return text(raw) != ""
	default:
		f, err := strconv.ParseFloat(string(raw), 64)
		return err == nil && f != 0
	}
}

// Result is an immutable analysis outcome. Report is nil when the model
// answered with free-form text.
type Result struct {
	Raw    string
	Report *Report
}

// Structured reports whether the content parsed as a Report.
func (r Result) Structured() bool { return r.Report != nil }

// Parse interprets content as a structured report, falling back to free text.
func Parse(content string) Result {
	res := Result{Raw: content}
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "{") {
		return res
	}
	var rep Report
	if err := json.Unmarshal([]byte(trimmed), &rep); err != nil {
		return res
	}
	res.Report = &rep
	return res
}
