package negotiation

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/Knetic/govaluate"
)

// EvaluateTermsPolicy evaluates a session's terms-policy expression against a
// proposed terms document. An empty policy admits everything. Supports
// "true"/"false" literals.
func EvaluateTermsPolicy(policy string, terms json.RawMessage) (bool, error) {
	expr := strings.TrimSpace(policy)
	if expr == "" {
		return true, nil
	}
	switch strings.ToLower(expr) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}

	params := buildTermsParams(terms)
	parsed, err := govaluate.NewEvaluableExpression(expr)
	if err != nil {
		return false, err
	}
	result, err := parsed.Evaluate(params)
	if err != nil {
		return false, err
	}
	switch v := result.(type) {
	case bool:
		return v, nil
	default:
		return false, errors.New("terms policy did not evaluate to boolean")
	}
}

func buildTermsParams(terms json.RawMessage) map[string]interface{} {
	params := map[string]interface{}{}
	if len(terms) == 0 {
		return params
	}
	var raw interface{}
	if err := json.Unmarshal(terms, &raw); err != nil {
		return params
	}
	if m, ok := raw.(map[string]interface{}); ok {
		for k, v := range m {
			params[k] = v
		}
		flattenTerms("", m, params)
	}
	return params
}

func flattenTerms(prefix string, m map[string]interface{}, out map[string]interface{}) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch vv := v.(type) {
		case map[string]interface{}:
			flattenTerms(key, vv, out)
		default:
			out[key] = vv
		}
	}
}
