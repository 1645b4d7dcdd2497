package prompt

import (
	"fmt"
	"sort"
	"strings"
)

// Genre is a supported dance category.
type Genre string

const (
	GenreSalsa   Genre = "salsa"
	GenreBachata Genre = "bachata"
	GenreKizomba Genre = "kizomba"
	GenreZouk    Genre = "zouk"
)

type genreProfile struct {
	name     string
	criteria []string
}

var profiles = map[Genre]genreProfile{
	GenreSalsa: {
		name: "Salsa (On1/On2)",
		criteria: []string{
			"Timing & musicality (breaks on 1/5 or 2/6, phrasing)",
			"Basic step & footwork (weight transfer, cross-body lead geometry)",
			"Turn technique (spotting, balance, preparation)",
			"Frame & connection (tone, lead/follow clarity)",
			"Styling & body movement (shines, arm styling, shoulders)",
		},
	},
	GenreBachata: {
		name: "Bachata (sensual/dominican/moderna)",
		criteria: []string{
			"Timing & musicality (tap on 4/8, accents, guitar/bongo cues)",
			"Basic step & hip action (weight transfer, knee flex)",
			"Body waves & isolations (control, fluidity)",
			"Connection & frame (lead clarity, closed/open positions)",
			"Styling & expression",
		},
	},
	GenreKizomba: {
		name: "Kizomba / Urban Kiz",
		criteria: []string{
			"Timing & musicality (pauses, tarraxinha accents)",
			"Walking & ground connection (knees, weight, posture)",
			"Embrace & connection (chest lead, frame softness)",
			"Saidas and transitions (clarity, smoothness)",
			"Expression & styling",
		},
	},
	GenreZouk: {
		name: "Brazilian Zouk",
		criteria: []string{
			"Timing & musicality (boom-chick-chick, elasticity)",
			"Basic steps & footwork",
			"Head movements & safety (neck alignment, lead preparation)",
			"Connection & counterbalance",
			"Flow & styling",
		},
	},
}

// Genres lists the supported genres in a stable order.
func Genres() []Genre {
	out := make([]Genre, 0, len(profiles))
	for g := range profiles {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseGenre normalises user input to a supported genre.
func ParseGenre(s string) (Genre, error) {
	g := Genre(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := profiles[g]; !ok {
		names := make([]string, 0, len(profiles))
		for _, g := range Genres() {
			names = append(names, string(g))
		}
		return "", fmt.Errorf("invalid genre: %s (allowed: %s)", s, strings.Join(names, ", "))
	}
	return g, nil
}

const schema = `{
  "rejected": false,
  "rejectMessage": "",
  "summary": {"strengths": "<string>", "weaknesses": "<string>"},
  "detailScores": [
    {"name": "<criterion>", "score": 0.0, "comment": "<string, cite [mm:ss] timestamps>"}
  ],
  "overallScore": 0.00,
  "grade": "<string>",
  "onePointLesson": "<string>"
}`

// ForGenre builds the critique prompt sent with the uploaded video.
func ForGenre(genre string) (string, error) {
	g, err := ParseGenre(genre)
	if err != nil {
		return "", err
	}
	p := profiles[g]

	var b strings.Builder
	fmt.Fprintf(&b, "You are a senior %s instructor and competition judge. Watch the attached video and critique the dancer(s).\n\n", p.name)
	b.WriteString("You must produce one valid JSON object only (no markdown, no commentary, no code fences) following the schema below.\n\n")
	b.WriteString("Requirements:\n")
	b.WriteString("- If the video does not show people dancing this genre, set \"rejected\": true, explain briefly in \"rejectMessage\" and leave the other fields empty.\n")
	b.WriteString("- Score every criterion below from 0.0 to 10.0 with one decimal, in this order:\n")
	for i, c := range p.criteria {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, c)
	}
	b.WriteString("- Cite moments with [mm:ss] or [mm:ss~mm:ss] timestamps.\n")
	b.WriteString("- overallScore is the mean of the criterion scores with two decimals; grade is a short word or letter grade.\n")
	b.WriteString("- onePointLesson is the single most valuable thing to practise next.\n\n")
	b.WriteString("Schema (example with empty values):\n")
	b.WriteString(schema)
	return b.String(), nil
}
