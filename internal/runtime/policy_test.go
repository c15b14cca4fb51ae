package runtime

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestPolicyResolve(t *testing.T) {
	p := NewPolicy([]Rule{
		{Pattern: "webfetch", Action: ActionAllow},
		{Pattern: "bash*", Action: ActionAsk},
		{Pattern: "bash_admin", Action: ActionDeny},
		{Pattern: "*", Action: ActionAllow},
	})

	tests := []struct {
		tool string
		want Action
	}{
		{"webfetch", ActionAllow},
		{"bash", ActionAsk},
		{"bash_build", ActionAsk},
		{"bash_admin", ActionDeny}, // exact beats prefix
		{"edit", ActionAllow},      // wildcard fallback
	}
	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			if got := p.Resolve(tt.tool); got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.tool, got, tt.want)
			}
		})
	}
}

func TestPolicyResolveNoMatchAsks(t *testing.T) {
	p := NewPolicy([]Rule{{Pattern: "read", Action: ActionAllow}})
	if got := p.Resolve("bash"); got != ActionAsk {
		t.Errorf("Resolve(bash) = %q, want ask", got)
	}
}

func TestPolicyDecisionsOverrideBaseRules(t *testing.T) {
	p := NewPolicy([]Rule{
		{Pattern: "bash", Action: ActionAsk},
		{Pattern: "edit*", Action: ActionDeny},
	})

	merged := p.WithDecisions(map[string]Action{
		"bash":      ActionAllow,
		"edit_file": ActionAllow,
	})

	// Cached decision outranks the exact base rule for the same tool
	if got := merged.Resolve("bash"); got != ActionAllow {
		t.Errorf("Resolve(bash) = %q, want allow", got)
	}
	// And outranks a more specific base pattern
	if got := merged.Resolve("edit_file"); got != ActionAllow {
		t.Errorf("Resolve(edit_file) = %q, want allow", got)
	}
	// Other tools still follow base rules
	if got := merged.Resolve("edit_dir"); got != ActionDeny {
		t.Errorf("Resolve(edit_dir) = %q, want deny", got)
	}
	// Original policy unchanged
	if got := p.Resolve("bash"); got != ActionAsk {
		t.Errorf("base policy mutated: Resolve(bash) = %q", got)
	}
}

func TestPolicyWrite(t *testing.T) {
	p := NewPolicy([]Rule{{Pattern: "*", Action: ActionAsk}})
	path := filepath.Join(t.TempDir(), PolicyFileName)

	if err := p.Write(path); err != nil {
		t.Fatalf("Write: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var got Policy
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("written policy is not valid JSON: %v", err)
	}
	if len(got.Rules) != 1 || got.Rules[0].Pattern != "*" {
		t.Errorf("round-tripped policy = %+v", got)
	}
}
