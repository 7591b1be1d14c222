package ai

import (
	"errors"
	"strings"
	"testing"
)

// ── Extraction Tests ──

func TestExtractJSON_PlainObject(t *testing.T) {
	doc, err := ExtractJSON(`{"a": 1}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc != `{"a": 1}` {
		t.Errorf("unexpected extraction: %s", doc)
	}
}

func TestExtractJSON_SurroundedByProse(t *testing.T) {
	raw := "Here is my assessment:\n```json\n{\"a\": {\"b\": 2}}\n```\nLet me know."
	doc, err := ExtractJSON(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc != `{"a": {"b": 2}}` {
		t.Errorf("unexpected extraction: %s", doc)
	}
}

func TestExtractJSON_BracesInsideStrings(t *testing.T) {
	raw := `prefix {"note": "use {caution} here", "x": "\"quoted\" }"} suffix`
	doc, err := ExtractJSON(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(doc, `{"note"`) || !strings.HasSuffix(doc, `}`) {
		t.Errorf("unexpected extraction: %s", doc)
	}
}

func TestExtractJSON_NoObject(t *testing.T) {
	if _, err := ExtractJSON("no structured output here"); !errors.Is(err, ErrNoJSON) {
		t.Fatalf("expected ErrNoJSON, got %v", err)
	}
}

func TestExtractJSON_Unbalanced(t *testing.T) {
	if _, err := ExtractJSON(`{"a": 1`); !errors.Is(err, ErrNoJSON) {
		t.Fatalf("expected ErrNoJSON for unbalanced object, got %v", err)
	}
}

// ── Validation Tests ──

func validResponse() string {
	return `{
		"diagnoses": [
			{"condition": "Community-acquired pneumonia", "probability": 0.7, "severity": "high", "rationale": "productive cough, fever, focal crackles"},
			{"condition": "Acute bronchitis", "probability": 0.2, "severity": "medium", "rationale": "cough without consolidation signs"}
		],
		"recommendations": [{"action": "Order chest X-ray", "priority": "urgent"}],
		"red_flags": [],
		"probability_scale": "decimal",
		"confidence": 85,
		"disclaimer": "Advisory only."
	}`
}

func TestParseAssessment_Valid(t *testing.T) {
	a, err := ParseAssessment("Sure, here you go: " + validResponse())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(a.Diagnoses) != 2 {
		t.Fatalf("expected 2 diagnoses, got %d", len(a.Diagnoses))
	}
	if a.Confidence != 85 {
		t.Errorf("expected confidence 85, got %g", a.Confidence)
	}
	if a.Disclaimer != "Advisory only." {
		t.Errorf("unexpected disclaimer: %s", a.Disclaimer)
	}
}

func TestParseAssessment_EmptyDiagnoses(t *testing.T) {
	_, err := ParseAssessment(`{"diagnoses": [], "confidence": 50, "disclaimer": "x"}`)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(ve.Violations) != 1 || ve.Violations[0].Field != "diagnoses" {
		t.Errorf("unexpected violations: %+v", ve.Violations)
	}
}

func TestParseAssessment_AccumulatesAllViolations(t *testing.T) {
	raw := `{
		"diagnoses": [
			{"condition": "", "probability": 1.5, "severity": "catastrophic", "rationale": "overlapping symptoms"}
		],
		"confidence": 50,
		"disclaimer": "x"
	}`
	_, err := ParseAssessment(raw)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(ve.Violations) != 3 {
		t.Fatalf("expected 3 violations (condition, probability, severity), got %d: %+v",
			len(ve.Violations), ve.Violations)
	}
}

func TestParseAssessment_PercentScaleNormalized(t *testing.T) {
	raw := `{
		"diagnoses": [{"condition": "Influenza", "probability": 70, "severity": "medium", "rationale": "seasonal pattern"}],
		"probability_scale": "percent",
		"confidence": 80,
		"disclaimer": "x"
	}`
	a, err := ParseAssessment(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Diagnoses[0].Probability != 0.7 {
		t.Errorf("expected probability normalized to 0.7, got %g", a.Diagnoses[0].Probability)
	}
	if a.ProbabilityScale != "decimal" {
		t.Errorf("expected scale normalized to decimal, got %s", a.ProbabilityScale)
	}
}

func TestParseAssessment_PercentScaleRange(t *testing.T) {
	// 70 is valid on the percent scale but invalid on decimal.
	raw := `{
		"diagnoses": [{"condition": "Influenza", "probability": 70, "severity": "medium", "rationale": "seasonal pattern"}],
		"confidence": 80,
		"disclaimer": "x"
	}`
	_, err := ParseAssessment(raw)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError under default decimal scale, got %v", err)
	}
}

func TestParseAssessment_ConfidenceClamped(t *testing.T) {
	raw := `{
		"diagnoses": [{"condition": "Influenza", "probability": 0.6, "severity": "low", "rationale": "mild presentation"}],
		"confidence": 150,
		"disclaimer": "x"
	}`
	a, err := ParseAssessment(raw)
	if err != nil {
		t.Fatalf("out-of-range confidence must not be a violation: %v", err)
	}
	if a.Confidence != defaultConfidence {
		t.Errorf("expected confidence clamped to %g, got %g", defaultConfidence, a.Confidence)
	}
}

func TestParseAssessment_MissingDisclaimerDefaulted(t *testing.T) {
	raw := `{
		"diagnoses": [{"condition": "Influenza", "probability": 0.6, "severity": "low", "rationale": "mild presentation"}],
		"confidence": 80
	}`
	a, err := ParseAssessment(raw)
	if err != nil {
		t.Fatalf("missing disclaimer must not be a violation: %v", err)
	}
	if a.Disclaimer != defaultDisclaimer {
		t.Errorf("expected default disclaimer, got %q", a.Disclaimer)
	}
}

func TestParseAssessment_MissingRationale(t *testing.T) {
	raw := `{
		"diagnoses": [{"condition": "Influenza", "probability": 0.6, "severity": "low", "rationale": "  "}],
		"confidence": 80,
		"disclaimer": "x"
	}`
	_, err := ParseAssessment(raw)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(ve.Violations) != 1 || ve.Violations[0].Field != "diagnoses[0].rationale" {
		t.Errorf("unexpected violations: %+v", ve.Violations)
	}
}

func TestParseAssessment_ReferralRequiresDetails(t *testing.T) {
	raw := `{
		"diagnoses": [{"condition": "Influenza", "probability": 0.6, "severity": "low", "rationale": "mild presentation"}],
		"referral": {"recommended": true},
		"confidence": 80,
		"disclaimer": "x"
	}`
	_, err := ParseAssessment(raw)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(ve.Violations) != 3 {
		t.Fatalf("expected 3 violations (urgency, specialty, reason), got %d: %+v",
			len(ve.Violations), ve.Violations)
	}
}

func TestParseAssessment_ReferralNotRecommended(t *testing.T) {
	raw := `{
		"diagnoses": [{"condition": "Influenza", "probability": 0.6, "severity": "low", "rationale": "mild presentation"}],
		"referral": {"recommended": false},
		"confidence": 80,
		"disclaimer": "x"
	}`
	if _, err := ParseAssessment(raw); err != nil {
		t.Fatalf("a declined referral needs no details: %v", err)
	}
}

func TestParseAssessment_EmptyRecommendationAction(t *testing.T) {
	raw := `{
		"diagnoses": [{"condition": "Influenza", "probability": 0.6, "severity": "low", "rationale": "mild presentation"}],
		"recommendations": [{"action": ""}],
		"red_flags": [{"description": ""}],
		"confidence": 80,
		"disclaimer": "x"
	}`
	_, err := ParseAssessment(raw)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(ve.Violations) != 2 {
		t.Fatalf("expected 2 violations (action, description), got %d: %+v",
			len(ve.Violations), ve.Violations)
	}
}

func TestParseAssessment_NoJSON(t *testing.T) {
	_, err := ParseAssessment("I cannot provide an assessment for this case.")
	if !errors.Is(err, ErrNoJSON) {
		t.Fatalf("expected ErrNoJSON, got %v", err)
	}
}

func TestParseAssessment_MalformedJSON(t *testing.T) {
	_, err := ParseAssessment(`{"diagnoses": [{,]}`)
	if !errors.Is(err, ErrNoJSON) {
		t.Fatalf("expected ErrNoJSON for malformed object, got %v", err)
	}
}

func TestParseAssessment_NilSlicesInitialized(t *testing.T) {
	raw := `{
		"diagnoses": [{"condition": "Influenza", "probability": 0.6, "severity": "low", "rationale": "mild presentation"}],
		"confidence": 80,
		"disclaimer": "x"
	}`
	a, err := ParseAssessment(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Recommendations == nil || a.RedFlags == nil {
		t.Error("expected recommendations and red_flags to be empty slices, not nil")
	}
}
