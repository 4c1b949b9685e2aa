package cel

import (
	"errors"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/Sentinel-Gate/accessgate/internal/domain/condition"
)

func newTestEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	eval, err := NewEvaluator(nil)
	if err != nil {
		t.Fatalf("NewEvaluator() error: %v", err)
	}
	return eval
}

func sampleAttrs() condition.Attributes {
	return condition.Attributes{
		PrincipalID:    "alice",
		Groups:         []string{"engineering", "admin_group"},
		Role:           "admin",
		RiskScore:      35,
		HasRiskScore:   true,
		GeoLocation:    "DE",
		Location:       "office",
		DeviceType:     "laptop",
		Department:     "platform",
		AuthStrength:   "strong",
		IP:             netip.MustParseAddr("10.1.2.3"),
		Timestamp:      time.Date(2024, 6, 1, 14, 30, 0, 0, time.UTC),
		ConnectionType: "vpn",
		Object:         "reports/q2.pdf",
	}
}

func TestCompile_InvalidExpression(t *testing.T) {
	eval := newTestEvaluator(t)

	if _, err := eval.Compile(`this is not valid CEL !!!`); err == nil {
		t.Fatal("Compile() expected error for invalid expression, got nil")
	}
}

func TestCompile_RejectsNonBool(t *testing.T) {
	eval := newTestEvaluator(t)

	_, err := eval.Compile(`principal_id + "x"`)
	if err == nil || !strings.Contains(err.Error(), "must return bool") {
		t.Errorf("Compile() error = %v, want non-bool rejection", err)
	}
}

func TestCompile_Limits(t *testing.T) {
	eval := newTestEvaluator(t)

	tests := []struct {
		name string
		expr string
		want string
	}{
		{"empty", "", "empty"},
		{"too long", `principal_id == "` + strings.Repeat("a", maxExpressionLength) + `"`, "too long"},
		{"too deep", strings.Repeat("(", 51) + "true" + strings.Repeat(")", 51), "nesting too deep"},
		{"unknown variable", `tool_name == "x"`, "compilation failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := eval.Compile(tt.expr)
			if err == nil {
				t.Fatalf("Compile(%q) expected error", tt.name)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should contain %q", err.Error(), tt.want)
			}
		})
	}
}

func TestValidateNesting(t *testing.T) {
	if err := validateNesting(strings.Repeat("[", 50) + strings.Repeat("]", 50)); err != nil {
		t.Errorf("50 levels: unexpected error %v", err)
	}
	if err := validateNesting(strings.Repeat("{", 51)); err == nil {
		t.Error("51 levels: expected error")
	}
}

func TestEvaluate(t *testing.T) {
	eval := newTestEvaluator(t)
	attrs := sampleAttrs()

	tests := []struct {
		expr string
		want bool
	}{
		{`principal_id == "alice"`, true},
		{`"admin_group" in groups`, true},
		{`groups.exists(g, g == "finance")`, false},
		{`has_risk_score && risk_score < 50.0`, true},
		{`risk_score > 70.0`, false},
		{`device_type == "laptop" && connection_type == "vpn"`, true},
		{`glob("reports/*", object)`, true},
		{`glob("secrets/*", object)`, false},
		{`ip_in_cidr(ip, "10.0.0.0/8")`, true},
		{`ip_in_cidr(ip, "192.168.0.0/16")`, false},
		{`ip_in_cidr(ip, "garbage")`, false},
		{`request_hour >= 9 && request_hour < 17`, true},
		{`request_time.getDayOfWeek() == 6`, true},
		{`department.startsWith("plat")`, true},
		{`sets.contains(groups, ["engineering"])`, true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			prg, err := eval.Compile(tt.expr)
			if err != nil {
				t.Fatalf("Compile() error: %v", err)
			}
			got, err := eval.Evaluate(prg, attrs)
			if err != nil {
				t.Fatalf("Evaluate() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Evaluate(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestEvaluate_EmptyAttributes(t *testing.T) {
	eval := newTestEvaluator(t)

	prg, err := eval.Compile(`ip == "" && size(groups) == 0 && !has_risk_score`)
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	got, err := eval.Evaluate(prg, condition.Attributes{})
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if !got {
		t.Error("expected true for zero attributes")
	}
}

func TestEvaluate_RequestHourUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	eval, err := NewEvaluator(loc)
	if err != nil {
		t.Fatal(err)
	}
	prg, err := eval.Compile(`request_hour == 17`)
	if err != nil {
		t.Fatal(err)
	}
	got, err := eval.Evaluate(prg, sampleAttrs())
	if err != nil {
		t.Fatal(err)
	}
	if !got {
		t.Error("request_hour should be 17 in UTC+3 for 14:30 UTC")
	}
}

func TestExpression_RuntimeErrorDoesNotMatch(t *testing.T) {
	eval := newTestEvaluator(t)

	x, err := eval.Parse(`int(principal_id) > 0`)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if x.Type() != condition.TypeExpression {
		t.Errorf("Type() = %q", x.Type())
	}
	if x.Match(sampleAttrs()) {
		t.Error("Match() = true for an expression that fails at runtime")
	}
}

func TestRegister(t *testing.T) {
	reg := condition.NewRegistry()
	if reg.Registered(condition.TypeExpression) {
		t.Fatal("expression registered before Register()")
	}
	if err := Register(reg); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	c, err := reg.Compile(condition.TypeExpression, `role == "admin" && location == "office"`)
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	if !c.Match(sampleAttrs()) {
		t.Error("Match() = false, want true")
	}

	_, err = reg.Compile(condition.TypeExpression, `role ==`)
	if !errors.Is(err, condition.ErrMalformedCondition) {
		t.Errorf("Compile() error = %v, want ErrMalformedCondition", err)
	}

	if got := reg.Evaluate(condition.TypeExpression, `risk_score > 90.0`, sampleAttrs()); got != condition.OutcomeNoMatch {
		t.Errorf("Evaluate() = %v, want no match", got)
	}
}

func TestExpression_ConcurrentMatch(t *testing.T) {
	eval := newTestEvaluator(t)
	x, err := eval.Parse(`"admin_group" in groups && ip_in_cidr(ip, "10.0.0.0/8")`)
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan bool, 16)
	for i := 0; i < 16; i++ {
		go func() { done <- x.Match(sampleAttrs()) }()
	}
	for i := 0; i < 16; i++ {
		if !<-done {
			t.Error("concurrent Match() = false")
		}
	}
}
