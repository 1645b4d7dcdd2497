package analysis

import "testing"

func TestParse_Structured(t *testing.T) {
	content := `{
		"rejected": false,
		"summary": {"strengths": "timing", "weaknesses": "frame"},
		"detailScores": [
			{"name": "Timing", "score": 8.5, "comment": "on the 1"},
			{"name": "Styling", "score": "7.25", "comment": "[00:12] arms"}
		],
		"overallScore": 8.5,
		"grade": "A",
		"onePointLesson": "relax the shoulders"
	}`

	res := Parse(content)
	if !res.Structured() {
		t.Fatal("expected structured result")
	}
	rep := res.Report
	if rep.Grade != "A" || rep.OverallScore != 8.5 {
		t.Errorf("grade=%q overall=%v", rep.Grade, rep.OverallScore)
	}
	if len(rep.DetailScores) != 2 || rep.DetailScores[1].Score != 7.25 {
		t.Errorf("detail scores = %+v", rep.DetailScores)
	}
	if res.Raw != content {
		t.Error("raw content must be kept verbatim")
	}
}

func TestParse_Rejected(t *testing.T) {
	res := Parse(`{"rejected": true, "rejectMessage": "no dancer visible"}`)
	if !res.Structured() || !res.Report.Rejected {
		t.Fatalf("expected rejected report, got %+v", res)
	}
	if res.Report.RejectMessage != "no dancer visible" {
		t.Errorf("message = %q", res.Report.RejectMessage)
	}
}

func TestParse_FreeTextFallback(t *testing.T) {
	cases := []string{
		"## Summary\nGood timing overall.",
		`{"summary": "truncated`,
		`["not", "an", "object"]`,
		`null`,
		``,
	}
	for _, c := range cases {
		if res := Parse(c); res.Structured() {
			t.Errorf("Parse(%q) should fall back to free text", c)
		}
	}
}

func TestScore_NonNumericDecodesAsZero(t *testing.T) {
	res := Parse(`{"overallScore": "n/a", "grade": "B"}`)
	if !res.Structured() {
		t.Fatal("expected structured result")
	}
	if res.Report.OverallScore != 0 {
		t.Errorf("overall = %v, want 0", res.Report.OverallScore)
	}
}

func TestParse_OffTypeFieldsStayStructured(t *testing.T) {
	res := Parse(`{
		"summary": "great energy",
		"detailScores": [{"name": 3, "score": "9", "comment": null}, "oops"],
		"overallScore": 8.1,
		"grade": 8,
		"onePointLesson": ["not", "text"]
	}`)
	if !res.Structured() {
		t.Fatal("off-type fields must not demote the report to free text")
	}
	rep := res.Report
	if rep.Grade != "8" {
		t.Errorf("grade = %q, want %q", rep.Grade, "8")
	}
	if rep.Summary != (Summary{}) {
		t.Errorf("summary = %+v, want empty", rep.Summary)
	}
	if len(rep.DetailScores) != 1 || rep.DetailScores[0].Name != "3" || rep.DetailScores[0].Score != 9 || rep.DetailScores[0].Comment != "" {
		t.Errorf("detail scores = %+v", rep.DetailScores)
	}
	if rep.OnePointLesson != "" || rep.OverallScore != 8.1 {
		t.Errorf("lesson=%q overall=%v", rep.OnePointLesson, rep.OverallScore)
	}
}

func TestParse_RejectedTruthiness(t *testing.T) {
	cases := map[string]bool{
		`{"rejected": true}`:  true,
		`{"rejected": 1}`:     true,
		`{"rejected": "yes"}`: true,
		`{"rejected": 0}`:     false,
		`{"rejected": ""}`:    false,
		`{"rejected": null}`:  false,
		`{}`:                  false,
	}
	for in, want := range cases {
		res := Parse(in)
		if !res.Structured() {
			t.Fatalf("Parse(%s) not structured", in)
		}
		if res.Report.Rejected != want {
			t.Errorf("Parse(%s).Rejected = %v, want %v", in, res.Report.Rejected, want)
		}
	}
}
