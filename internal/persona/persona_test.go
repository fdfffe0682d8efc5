package persona_test

import (
	"strings"
	"testing"

	"github.com/aurahq/aura/internal/persona"
)

func TestDefaults_TemplatesInterpolate(t *testing.T) {
	reg, err := persona.NewRegistry(persona.Defaults())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	luna, ok := reg.Lookup("luna")
	if !ok {
		t.Fatal("luna not registered")
	}
	greeting := luna.Greeting("Sam")
	if !strings.Contains(greeting, "Sam") {
		t.Errorf("greeting %q does not mention the user", greeting)
	}
	if strings.Contains(greeting, "{userName}") {
		t.Errorf("greeting %q left the placeholder unexpanded", greeting)
	}

	orion, ok := reg.Lookup("orion")
	if !ok {
		t.Fatal("orion not registered")
	}
	if instr := orion.Instruction("Sam"); !strings.Contains(instr, "Sam") {
		t.Errorf("instruction %q does not mention the user", instr)
	}
}

func TestNewRegistry_RejectsDuplicatesAndEmptyIDs(t *testing.T) {
	if _, err := persona.NewRegistry([]persona.Persona{{ID: "", Name: "Nameless"}}); err == nil {
		t.Error("empty id: got nil error")
	}
	dup := []persona.Persona{{ID: "x", Name: "A"}, {ID: "x", Name: "B"}}
	if _, err := persona.NewRegistry(dup); err == nil {
		t.Error("duplicate id: got nil error")
	}
}

func TestRegistry_IDsSorted(t *testing.T) {
	reg, err := persona.NewRegistry(persona.Defaults())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	ids := reg.IDs()
	if len(ids) != 2 || ids[0] != "luna" || ids[1] != "orion" {
		t.Errorf("IDs: got %v, want [luna orion]", ids)
	}
}
