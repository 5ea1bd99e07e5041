package coach

import (
	"strings"
	"testing"
)

func TestResolveFallsBackToDefault(t *testing.T) {
	r := NewResolver([]Blueprint{{ID: "habit", Name: "Habit Coach", Persona: "Build habits."}})

	if got := r.Resolve(nil); got.ID != Default.ID {
		t.Errorf("nil coach id resolved to %q", got.ID)
	}

	unknown := "nope"
	if got := r.Resolve(&unknown); got.ID != Default.ID {
		t.Errorf("unknown coach id resolved to %q", got.ID)
	}

	habit := "habit"
	if got := r.Resolve(&habit); got.Name != "Habit Coach" {
		t.Errorf("habit resolved to %+v", got)
	}
}

func TestSystemPromptIncludesGuardrails(t *testing.T) {
	b := Blueprint{
		Persona:    "You are a running coach.",
		Guardrails: []string{"Never prescribe medication."},
	}

	prompt := b.SystemPrompt()
	if !strings.HasPrefix(prompt, "You are a running coach.") {
		t.Errorf("prompt = %q", prompt)
	}
	if !strings.Contains(prompt, "- Never prescribe medication.") {
		t.Errorf("prompt missing guardrail: %q", prompt)
	}

	bare := Blueprint{Persona: "Just a persona."}
	if strings.Contains(bare.SystemPrompt(), "Rules") {
		t.Errorf("bare prompt grew rules: %q", bare.SystemPrompt())
	}
}
