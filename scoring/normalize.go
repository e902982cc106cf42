package scoring

import (
	"encoding/json"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/conecoach/backend/models"
)

// Normalize turns whatever the judge returned into well-formed feedback.
// It never fails: unreadable fields fall back to zero values.
func Normalize(raw string) models.Feedback {
	return normalize(raw, len(DefaultRubric), slog.Default())
}

func normalize(raw string, expectedSections int, logger *slog.Logger) models.Feedback {
	fb := models.Feedback{
		Sections:        []models.FeedbackSection{},
		Strengths:       []string{},
		Improvements:    []string{},
		IncorrectClaims: []string{},
	}

	body := extractObject(raw)
	if body == "" {
		logger.Warn("Scoring response contained no JSON object", "response_length", len(raw))
		return fb
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		logger.Warn("Failed to parse scoring response", "error", err)
		return fb
	}

	fb.TotalScore = clamp(number(fields["totalScore"]), 100)
	fb.Sections = sections(fields["sections"])
	fb.Strengths = stringList(fields["strengths"])
	fb.Improvements = stringList(fields["improvements"])

	claims, ok := fields["incorrect_or_risky_claims"]
	if !ok {
		claims = fields["incorrectClaims"]
	}
	fb.IncorrectClaims = stringList(claims)

	if len(fb.Sections) != expectedSections {
		logger.Warn("Scoring response has unexpected section count",
			"expected", expectedSections, "actual", len(fb.Sections))
	}
	return fb
}

// extractObject strips code fences and surrounding prose, keeping the outermost object
func extractObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return ""
	}
	return raw[start : end+1]
}

func sections(raw json.RawMessage) []models.FeedbackSection {
	out := []models.FeedbackSection{}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return out
	}
	for _, item := range items {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(item, &fields); err != nil {
			continue
		}
		out = append(out, models.FeedbackSection{
			Name:     text(fields["name"]),
			Score:    clamp(number(fields["score"]), SectionMax),
			Feedback: text(fields["feedback"]),
		})
	}
	return out
}

// stringList keeps the string members of a JSON array
func stringList(raw json.RawMessage) []string {
	out := []string{}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return out
	}
	for _, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err == nil && strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

func text(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// number accepts JSON numbers and numeric strings
func number(raw json.RawMessage) float64 {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f
		}
	}
	return 0
}

func clamp(f float64, limit int) int {
	if math.IsNaN(f) {
		return 0
	}
	n := math.Round(f)
	if n < 0 {
		return 0
	}
	if n > float64(limit) {
		return limit
	}
	return int(n)
}
