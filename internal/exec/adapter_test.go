package exec

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/dohr-michael/skillhub/internal/bundle"
	"github.com/dohr-michael/skillhub/internal/catalog"
)

const approvalSkillMD = `---
name: invoice-approval
domain: finance
entrypoint:
  file: logic.lua
  function: evaluate
output:
  compliant: ok
  violations: failures
parameters:
  - group: invoice
    fields:
      - name: amount
        type: number
        required: true
        min: 0
      - name: currency
        type: string
        default: USD
  - group: signoff
    fields:
      - name: approvals
        type: array
        default: []
---
Amounts above 500 require at least one approval.
`

const approvalLogic = `
function evaluate(input)
    local violations = {}
    if input.amount > 500 and (input.approvals == nil or #input.approvals == 0) then
        table.insert(violations, "amount over 500 requires an approval")
    end
    return { ok = #violations == 0, failures = violations, currency = input.currency }
end
`

func approvalBundle(t *testing.T, files ...catalog.SkillFile) *bundle.Bundle {
	t.Helper()
	all := append([]catalog.SkillFile{
		{SkillID: "finance/invoice-approval", FileName: "SKILL.md", Content: approvalSkillMD},
	}, files...)
	b := bundle.NewBundle(&catalog.SkillMetadata{SkillID: "finance/invoice-approval"}, all)
	if _, err := b.Spec(); err != nil {
		t.Fatalf("bundle spec: %v", err)
	}
	return b
}

func logicFile(content string) catalog.SkillFile {
	return catalog.SkillFile{SkillID: "finance/invoice-approval", FileName: "logic.lua", Content: content}
}

func TestExecute_ViolationDetected(t *testing.T) {
	adapter := NewAdapter(5*time.Second, nil)
	b := approvalBundle(t, logicFile(approvalLogic))

	res, err := adapter.Execute(context.Background(), b, map[string]any{"amount": 850.0})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Output["compliant"] != false {
		t.Errorf("compliant: got %v", res.Output["compliant"])
	}
	violations, ok := res.Output["violations"].([]any)
	if !ok || len(violations) != 1 {
		t.Fatalf("violations: got %v", res.Output["violations"])
	}
	if violations[0] != "amount over 500 requires an approval" {
		t.Errorf("violation text: got %v", violations[0])
	}
}

func TestExecute_CompliantWithDefaults(t *testing.T) {
	adapter := NewAdapter(5*time.Second, nil)
	b := approvalBundle(t, logicFile(approvalLogic))

	res, err := adapter.Execute(context.Background(), b, map[string]any{"amount": 150.0})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Output["compliant"] != true {
		t.Errorf("compliant: got %v", res.Output["compliant"])
	}
	// The currency default travels into the script even though the
	// declared output drops it.
	if res.Raw["currency"] != "USD" {
		t.Errorf("default currency not applied: got %v", res.Raw["currency"])
	}
}

func TestExecute_ApprovalClearsViolation(t *testing.T) {
	adapter := NewAdapter(5*time.Second, nil)
	b := approvalBundle(t, logicFile(approvalLogic))

	res, err := adapter.Execute(context.Background(), b, map[string]any{
		"amount":    850.0,
		"approvals": []any{"cfo"},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Output["compliant"] != true {
		t.Errorf("compliant: got %v", res.Output["compliant"])
	}
}

func TestExecute_MissingRequiredInput(t *testing.T) {
	adapter := NewAdapter(5*time.Second, nil)
	b := approvalBundle(t, logicFile(approvalLogic))

	_, err := adapter.Execute(context.Background(), b, map[string]any{"currency": "EUR"})
	if !errors.Is(err, ErrMissingRequiredInput) {
		t.Fatalf("expected ErrMissingRequiredInput, got %v", err)
	}
}

func TestExecute_EntryFunctionAbsent(t *testing.T) {
	adapter := NewAdapter(5*time.Second, nil)
	b := approvalBundle(t, logicFile(`function somethingelse(input) return {} end`))

	_, err := adapter.Execute(context.Background(), b, map[string]any{"amount": 1.0})
	if !errors.Is(err, ErrEntryPointNotFound) {
		t.Fatalf("expected ErrEntryPointNotFound, got %v", err)
	}
}

func TestExecute_EntryFileAbsent(t *testing.T) {
	adapter := NewAdapter(5*time.Second, nil)
	b := approvalBundle(t) // no logic.lua in the bundle

	_, err := adapter.Execute(context.Background(), b, map[string]any{"amount": 1.0})
	if !errors.Is(err, ErrEntryPointNotFound) {
		t.Fatalf("expected ErrEntryPointNotFound, got %v", err)
	}
}

func TestExecute_OutputAdapterMismatch(t *testing.T) {
	adapter := NewAdapter(5*time.Second, nil)
	// The script never produces the "failures" field the spec maps.
	b := approvalBundle(t, logicFile(`function evaluate(input) return { ok = true } end`))

	_, err := adapter.Execute(context.Background(), b, map[string]any{"amount": 1.0})
	if !errors.Is(err, ErrOutputAdapterMismatch) {
		t.Fatalf("expected ErrOutputAdapterMismatch, got %v", err)
	}
}

func TestExecute_ScriptErrorIsRuntimeFault(t *testing.T) {
	adapter := NewAdapter(5*time.Second, nil)
	b := approvalBundle(t, logicFile(`function evaluate(input) error("boom") end`))

	_, err := adapter.Execute(context.Background(), b, map[string]any{"amount": 1.0})
	if !errors.Is(err, ErrRuntimeFault) {
		t.Fatalf("expected ErrRuntimeFault, got %v", err)
	}
}

func TestExecute_TimeoutIsRuntimeFault(t *testing.T) {
	adapter := NewAdapter(50*time.Millisecond, nil)
	b := approvalBundle(t, logicFile(`function evaluate(input) while true do end end`))

	start := time.Now()
	_, err := adapter.Execute(context.Background(), b, map[string]any{"amount": 1.0})
	if !errors.Is(err, ErrRuntimeFault) {
		t.Fatalf("expected ErrRuntimeFault, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("timeout did not interrupt the script promptly")
	}
}

func TestExecute_UnsupportedRuntime(t *testing.T) {
	adapter := NewAdapter(5*time.Second, nil)
	spec := `---
name: pyskill
domain: tools
entrypoint:
  file: main.py
  function: run
---
Body.
`
	b := bundle.NewBundle(&catalog.SkillMetadata{SkillID: "tools/pyskill"}, []catalog.SkillFile{
		{SkillID: "tools/pyskill", FileName: "SKILL.md", Content: spec},
		{SkillID: "tools/pyskill", FileName: "main.py", Content: "def run(): pass"},
	})

	_, err := adapter.Execute(context.Background(), b, nil)
	if !errors.Is(err, ErrUnsupportedRuntime) {
		t.Fatalf("expected ErrUnsupportedRuntime, got %v", err)
	}
}

func TestExecute_FlatParametersPassThrough(t *testing.T) {
	adapter := NewAdapter(5*time.Second, nil)
	spec := `---
name: echo
domain: tools
entrypoint:
  file: echo.lua
  function: run
---
Echoes its input.
`
	b := bundle.NewBundle(&catalog.SkillMetadata{SkillID: "tools/echo"}, []catalog.SkillFile{
		{SkillID: "tools/echo", FileName: "SKILL.md", Content: spec},
		{SkillID: "tools/echo", FileName: "echo.lua", Content: `function run(input) return { got = input.anything } end`},
	})

	res, err := adapter.Execute(context.Background(), b, map[string]any{"anything": "works"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Output["got"] != "works" {
		t.Errorf("pass-through: got %v", res.Output["got"])
	}
}

func TestWorkspace_MaterializeAndClose(t *testing.T) {
	b := approvalBundle(t, logicFile(approvalLogic), catalog.SkillFile{
		SkillID: "finance/invoice-approval", FileName: "docs/policy.md", Content: "policy text",
	})

	ws, err := Materialize(b)
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	for _, name := range []string{"SKILL.md", "logic.lua", "docs/policy.md"} {
		if _, err := os.ReadFile(ws.Path(name)); err != nil {
			t.Errorf("file %s not materialized: %v", name, err)
		}
	}
	if err := ws.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := os.ReadFile(ws.Path("SKILL.md")); err == nil {
		t.Error("workspace not removed")
	}
}

func TestWorkspace_RejectsTraversal(t *testing.T) {
	b := bundle.NewBundle(&catalog.SkillMetadata{SkillID: "x"}, []catalog.SkillFile{
		{SkillID: "x", FileName: "../outside.txt", Content: "nope"},
	})
	if _, err := Materialize(b); err == nil {
		t.Fatal("expected traversal rejection")
	}
}
