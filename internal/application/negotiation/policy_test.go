package negotiation

import (
	"encoding/json"
	"testing"
)

func TestEvaluateTermsPolicy(t *testing.T) {
	terms := json.RawMessage(`{"price":100,"delivery":{"days":14},"currency":"EUR"}`)

	cases := []struct {
		name   string
		policy string
		want   bool
	}{
		{"empty policy admits everything", "", true},
		{"literal true", "true", true},
		{"literal false", "false", false},
		{"numeric comparison", "price <= 500", true},
		{"numeric comparison fails", "price > 500", false},
		{"nested field", "[delivery.days] < 30", true},
		{"string equality", "currency == 'EUR'", true},
		{"conjunction", "price <= 500 && currency == 'EUR'", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := EvaluateTermsPolicy(tc.policy, terms)
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			if got != tc.want {
				t.Fatalf("policy %q: expected %t, got %t", tc.policy, tc.want, got)
			}
		})
	}
}

func TestEvaluateTermsPolicyErrors(t *testing.T) {
	terms := json.RawMessage(`{"price":100}`)

	if _, err := EvaluateTermsPolicy("price >", terms); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := EvaluateTermsPolicy("price + 1", terms); err == nil {
		t.Fatal("expected non-boolean result error")
	}
	if _, err := EvaluateTermsPolicy("missing > 10", terms); err == nil {
		t.Fatal("expected error for unknown parameter")
	}
}
