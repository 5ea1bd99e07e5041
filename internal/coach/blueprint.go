package coach

import (
	"fmt"
	"strings"
)

// Blueprint describes how a coach behaves: the persona prompt the model is
// primed with and the guardrails appended to it.
type Blueprint struct {
	ID         string   `yaml:"id"`
	Name       string   `yaml:"name"`
	Persona    string   `yaml:"persona"`
	Guardrails []string `yaml:"guardrails"`
}

// Default is the hard-coded fallback used when a session has no coach.
var Default = Blueprint{
	ID:   "default",
	Name: "Coach",
	Persona: "You are a supportive, practical coach. Help the user make " +
		"concrete progress on what they bring to the conversation. Be brief, " +
		"ask one question at a time, and end with a next step.",
	Guardrails: []string{
		"Never give medical, legal, or financial advice.",
		"If the user is in crisis, direct them to professional help.",
	},
}

// Resolver maps coach ids to blueprints.
type Resolver struct {
	byID map[string]Blueprint
}

// NewResolver builds a Resolver over the configured blueprints.
func NewResolver(blueprints []Blueprint) *Resolver {
	byID := make(map[string]Blueprint, len(blueprints))
	for _, b := range blueprints {
		byID[b.ID] = b
	}
	return &Resolver{byID: byID}
}

// Resolve returns the blueprint for coachID, or Default when coachID is nil
// or unknown.
func (r *Resolver) Resolve(coachID *string) Blueprint {
	if coachID == nil {
		return Default
	}
	if b, ok := r.byID[*coachID]; ok {
		return b
	}
	return Default
}

// SystemPrompt renders the blueprint into the model's system message.
func (b Blueprint) SystemPrompt() string {
	var sb strings.Builder
	sb.WriteString(b.Persona)
	if len(b.Guardrails) > 0 {
		sb.WriteString("\n\nRules you must follow:\n")
		for _, g := range b.Guardrails {
			fmt.Fprintf(&sb, "- %s\n", g)
		}
	}
	return sb.String()
}
