package pipeline

import (
	"regexp"
	"strings"

	"github.com/coachloop/coachloop/internal/event"
)

// Card pairs an envelope type with its payload, ready for emission.
type Card struct {
	Type    event.Type
	Payload any
}

const maxCardItems = 5

var numberedLine = regexp.MustCompile(`^\d+[.)]\s+(.+)$`)

// detectCards classifies the final assistant text into structured cards.
// The classifier is deliberately mechanical: a weekly-review heading wins,
// then a numbered list becomes a plan, then two or more bullets become next
// actions. No card is a perfectly fine outcome.
func detectCards(text string) []Card {
	lower := strings.ToLower(text)
	bullets := bulletLines(text)
	numbered := numberedLines(text)

	switch {
	case strings.Contains(lower, "weekly review"):
		if len(bullets) == 0 {
			return nil
		}
		return []Card{{
			Type: event.TypeCardWeeklyReview,
			Payload: event.CardWeeklyReview{
				Highlights: clip(bullets),
				Focus:      firstLine(text),
			},
		}}

	case len(numbered) >= 2:
		steps := make([]event.PlanStep, 0, len(numbered))
		for _, n := range clip(numbered) {
			steps = append(steps, event.PlanStep{Label: n})
		}
		return []Card{{
			Type: event.TypeCardPlan,
			Payload: event.CardPlan{
				Title: firstLine(text),
				Steps: steps,
			},
		}}

	case len(bullets) >= 2:
		return []Card{{
			Type:    event.TypeCardNextActions,
			Payload: event.CardNextActions{Actions: clip(bullets)},
		}}
	}
	return nil
}

func bulletLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "- "); ok {
			out = append(out, strings.TrimSpace(rest))
		} else if rest, ok := strings.CutPrefix(line, "* "); ok {
			out = append(out, strings.TrimSpace(rest))
		}
	}
	return out
}

func numberedLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if m := numberedLine.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			out = append(out, strings.TrimSpace(m[1]))
		}
	}
	return out
}

func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			return line
		}
	}
	return ""
}

func clip(items []string) []string {
	if len(items) > maxCardItems {
		return items[:maxCardItems]
	}
	return items
}
