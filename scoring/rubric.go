package scoring

import (
	"fmt"
	"strings"

	"github.com/conecoach/backend/models"
)

// SectionMax is the most a single rubric dimension can score
const SectionMax = 20

// SystemInstruction frames the judge for every scoring call
const SystemInstruction = "You are an expert sales coach for orthopedic devices. Evaluate strictly against the provided Truth Set. Return ONLY valid JSON, no other text."

type Dimension struct {
	Name  string
	Focus string
}

type Rubric []Dimension

// DefaultRubric has five dimensions worth SectionMax each
var DefaultRubric = Rubric{
	{Name: "Core Message Accuracy", Focus: "Universal geometry, ream-only, taper angles, tray count"},
	{Name: "Clinical & Surgical Workflow Accuracy", Focus: "Indications, ream-only benefit, orientation rules: Tibia M/L, Femur A/P"},
	{Name: "Data & Proof Points", Focus: "Tray count 1 vs 10-12, $1,350 savings, 44% femoral utilization"},
	{Name: "Competitive Positioning", Focus: "Contrasting TJO vs Stryker/DePuy/Zimmer accurately"},
	{Name: "Compliance", Focus: "NO hinge claims, NO arbitrary rotation claims, NO identical depth claims"},
}

// Request is everything a judge needs to grade one conversation
type Request struct {
	Transcript string
	TruthSet   string
	Rubric     Rubric
}

// FormatTranscript renders turns as "ROLE: content" lines
func FormatTranscript(turns []models.Transcript) string {
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		lines = append(lines, strings.ToUpper(t.Role)+": "+t.Content)
	}
	return strings.Join(lines, "\n")
}

// BuildPrompt renders the grading instructions for a judge
func BuildPrompt(req Request) string {
	var b strings.Builder

	b.WriteString("Analyze the following sales conversation between a Rep and Dr. Hayes (Surgeon).\n\n")
	b.WriteString("Surgeon Profile: Uses Stryker cones, likes reaming, dislikes broaching.\n")
	b.WriteString("Goal: Rep needs to position TJO Universal Cones effectively against Stryker using the Truth Set provided.\n\n")

	b.WriteString("TRUTH SET DATA:\n")
	b.WriteString(req.TruthSet)
	b.WriteString("\n\nTranscript:\n")
	b.WriteString(req.Transcript)
	b.WriteString("\n\nEvaluate based on these specific dimensions from the truth set:\n")
	for i, d := range req.Rubric {
		fmt.Fprintf(&b, "%d. %s (%s)\n", i+1, d.Name, d.Focus)
	}

	fmt.Fprintf(&b, `
Return a JSON object with:
- totalScore (0-100)
- sections: [{ name: string, score: number (0-%d), feedback: string }]
- strengths: string[]
- improvements: string[]
- incorrect_or_risky_claims: string[] (List any false claims or compliance violations)
`, SectionMax)

	return b.String()
}
