package condition

import "testing"

func TestRiskThreshold(t *testing.T) {
	t.Parallel()

	tests := []struct {
		value string
		score float64
		want  bool
	}{
		{"< 30", 29.9, true},
		{"< 30", 30, false},
		{"<30", 10, true},
		{"> 70", 70.5, true},
		{"> 70", 70, false},
		{"<= 30", 30, true},
		{">= 70", 70, true},
		{">= 70", 69, false},
		{"== 50", 50, true},
		{"== 50", 50.1, false},
		{" >= -5 ", -5, true},
	}

	for _, tt := range tests {
		th, err := ParseRiskThreshold(tt.value)
		if err != nil {
			t.Fatalf("ParseRiskThreshold(%q) error: %v", tt.value, err)
		}
		attrs := Attributes{RiskScore: tt.score, HasRiskScore: true}
		if got := th.Match(attrs); got != tt.want {
			t.Errorf("%q.Match(%v) = %v, want %v", tt.value, tt.score, got, tt.want)
		}
	}
}

func TestRiskThreshold_String(t *testing.T) {
	t.Parallel()

	th, err := ParseRiskThreshold(">=70.5")
	if err != nil {
		t.Fatalf("ParseRiskThreshold() error: %v", err)
	}
	if got := th.String(); got != ">= 70.5" {
		t.Errorf("String() = %q, want %q", got, ">= 70.5")
	}
}

func TestRiskThreshold_MissingScore(t *testing.T) {
	t.Parallel()

	th, err := ParseRiskThreshold("< 100")
	if err != nil {
		t.Fatalf("ParseRiskThreshold() error: %v", err)
	}
	if th.Match(Attributes{RiskScore: 0}) {
		t.Error("Match() without risk score = true, want false")
	}
}

func TestRiskThreshold_Malformed(t *testing.T) {
	t.Parallel()

	for _, value := range []string{"", "30", "=> 30", "< ", "< abc", "!= 5", "< NaN", "> Inf"} {
		if _, err := ParseRiskThreshold(value); err == nil {
			t.Errorf("ParseRiskThreshold(%q) error = nil, want error", value)
		}
	}
}
