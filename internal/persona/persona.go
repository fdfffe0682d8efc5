// Package persona defines the companion personalities a user can talk to.
//
// A persona is pure configuration: a display name, a descriptor shown during
// onboarding, a greeting template used to seed a fresh transcript, and a
// system instruction handed to the completion backend. Nothing else in the
// application branches on which persona is active — pricing, trial policy,
// and chat behaviour are identical across companions.
package persona

import (
	"fmt"
	"sort"
	"strings"
)

// Persona is one companion personality. Both template fields interpolate the
// placeholder {userName} with the user's onboarding display name.
type Persona struct {
	// ID is the stable identifier used in storage keys and API routes.
	ID string

	// Name is the display name shown in the UI.
	Name string

	// Descriptor is the short tagline shown on the companion picker.
	Descriptor string

	// GreetingTemplate seeds a brand-new transcript as the companion's
	// opening assistant turn.
	GreetingTemplate string

	// InstructionTemplate is the system instruction for the completion
	// backend.
	InstructionTemplate string
}

// namePlaceholder is the token replaced with the user's display name in both
// templates.
const namePlaceholder = "{userName}"

// Greeting renders the opening assistant turn for userName.
func (p Persona) Greeting(userName string) string {
	return strings.ReplaceAll(p.GreetingTemplate, namePlaceholder, userName)
}

// Instruction renders the system instruction for userName.
func (p Persona) Instruction(userName string) string {
	return strings.ReplaceAll(p.InstructionTemplate, namePlaceholder, userName)
}

// Registry resolves persona IDs to definitions. The registry is immutable
// after construction.
type Registry struct {
	byID map[string]Persona
}

// NewRegistry builds a registry from the given personas. Each persona must
// have a unique, non-empty ID.
func NewRegistry(personas []Persona) (*Registry, error) {
	byID := make(map[string]Persona, len(personas))
	for _, p := range personas {
		if p.ID == "" {
			return nil, fmt.Errorf("persona: %q has an empty id", p.Name)
		}
		if _, dup := byID[p.ID]; dup {
			return nil, fmt.Errorf("persona: duplicate id %q", p.ID)
		}
		byID[p.ID] = p
	}
	return &Registry{byID: byID}, nil
}

// Lookup returns the persona with the given ID.
func (r *Registry) Lookup(id string) (Persona, bool) {
	p, ok := r.byID[id]
	return p, ok
}

// IDs returns all registered persona IDs, sorted for stable output.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Defaults returns the two built-in companions, Luna and Orion.
func Defaults() []Persona {
	return []Persona{
		{
			ID:               "luna",
			Name:             "Luna",
			Descriptor:       "Compassionate & Wise",
			GreetingTemplate: "Hello {userName}, how are you feeling today? Anything on your mind you'd like to share?",
			InstructionTemplate: "You are Luna, a caring and supportive AI companion with a compassionate and wise personality. " +
				"Your purpose is to provide a safe, non-judgmental space for users to express their thoughts and feelings. " +
				"Respond with empathy, kindness, and encouragement. Keep your responses concise and conversational. " +
				"Your tone should be warm and calming. Address the user by their name, which is {userName}.",
		},
		{
			ID:               "orion",
			Name:             "Orion",
			Descriptor:       "Calm & Analytical",
			GreetingTemplate: "Greetings {userName}. I am Orion. What is the primary issue you wish to discuss?",
			InstructionTemplate: "You are Orion, a calm and analytical AI companion. You help users understand their thoughts " +
				"and feelings through logical exploration and gentle questioning. Your approach is structured and mindful. " +
				"You are patient and thoughtful in your responses. Keep your responses concise and conversational. " +
				"Address the user by their name, which is {userName}.",
		},
	}
}
