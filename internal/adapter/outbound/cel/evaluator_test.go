package cel

import (
	"strings"
	"testing"
)

func testInput() RuleInput {
	return RuleInput{
		PrincipalID:  "u-1",
		Username:     "alice",
		Role:         "admin",
		Capabilities: []string{"apps:read", "licenses:write"},
		Path:         "/licenses/42",
		Method:       "POST",
	}
}

func TestEvaluateExpressions(t *testing.T) {
	ev, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error = %v", err)
	}

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{name: "role match", expr: `role == "admin"`, want: true},
		{name: "role mismatch", expr: `role == "user"`, want: false},
		{name: "capability membership", expr: `"licenses:write" in capabilities`, want: true},
		{name: "path prefix", expr: `request_path.startsWith("/licenses")`, want: true},
		{name: "method check", expr: `request_method == "POST" && role == "admin"`, want: true},
		{name: "glob match", expr: `glob("/licenses/*", request_path)`, want: true},
		{name: "glob mismatch", expr: `glob("/backups/*", request_path)`, want: false},
		{name: "sets extension", expr: `sets.contains(capabilities, ["apps:read"])`, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prg, err := ev.Compile(tt.expr)
			if err != nil {
				t.Fatalf("Compile(%q) error = %v", tt.expr, err)
			}
			got, err := ev.Evaluate(prg, testInput())
			if err != nil {
				t.Fatalf("Evaluate(%q) error = %v", tt.expr, err)
			}
			if got != tt.want {
				t.Errorf("Evaluate(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestEvaluateNonBooleanResult(t *testing.T) {
	ev, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error = %v", err)
	}
	prg, err := ev.Compile(`role + "x"`)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if _, err := ev.Evaluate(prg, testInput()); err == nil {
		t.Error("Evaluate() error = nil, want non-boolean error")
	}
}

func TestEvaluateNilCapabilities(t *testing.T) {
	ev, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error = %v", err)
	}
	prg, err := ev.Compile(`size(capabilities) == 0`)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	input := testInput()
	input.Capabilities = nil
	got, err := ev.Evaluate(prg, input)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !got {
		t.Error("nil capabilities should evaluate as an empty list")
	}
}

func TestValidateExpression(t *testing.T) {
	ev, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error = %v", err)
	}

	tests := []struct {
		name    string
		expr    string
		wantErr bool
	}{
		{name: "valid", expr: `role == "admin"`},
		{name: "empty", expr: "", wantErr: true},
		{name: "syntax error", expr: "role ==", wantErr: true},
		{name: "unknown variable", expr: "region == 'x'", wantErr: true},
		{name: "too long", expr: `role == "` + strings.Repeat("a", maxExpressionLength) + `"`, wantErr: true},
		{name: "nesting too deep", expr: strings.Repeat("(", 60) + "true" + strings.Repeat(")", 60), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ev.ValidateExpression(tt.expr)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateExpression(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
			}
		})
	}
}
