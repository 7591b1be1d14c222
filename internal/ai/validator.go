package ai

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoJSON is returned when no balanced JSON object can be extracted from
// the model output.
var ErrNoJSON = errors.New("no JSON object found in model output")

// Diagnosis is one candidate diagnosis from the model.
type Diagnosis struct {
	Condition   string  `json:"condition"`
	Probability float64 `json:"probability"`
	Severity    string  `json:"severity"`
	Rationale   string  `json:"rationale"`
}

// Recommendation is a suggested action for the pharmacist.
type Recommendation struct {
	Action   string `json:"action"`
	Detail   string `json:"detail,omitempty"`
	Priority string `json:"priority,omitempty"`
}

// RedFlag marks a finding that needs immediate physician attention.
type RedFlag struct {
	Description string `json:"description"`
	Urgency     string `json:"urgency,omitempty"`
}

// Referral states whether the case should be sent to a physician. When
// recommended, urgency, specialty, and reason are all mandatory.
type Referral struct {
	Recommended bool   `json:"recommended"`
	Urgency     string `json:"urgency,omitempty"`
	Specialty   string `json:"specialty,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// Assessment is the validated, normalized model output. After validation
// probabilities are always on the 0-1 decimal scale.
type Assessment struct {
	Diagnoses        []Diagnosis      `json:"diagnoses"`
	Recommendations  []Recommendation `json:"recommendations"`
	RedFlags         []RedFlag        `json:"red_flags"`
	Referral         *Referral        `json:"referral,omitempty"`
	ProbabilityScale string           `json:"probability_scale,omitempty"`
	Confidence       float64          `json:"confidence"`
	Disclaimer       string           `json:"disclaimer"`
}

// Violation is a single schema problem in the model output.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError aggregates every violation found in one pass so callers
// see the full picture instead of the first problem.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.Field + ": " + v.Message
	}
	return "assessment validation failed: " + strings.Join(msgs, "; ")
}

const (
	scaleDecimal = "decimal"
	scalePercent = "percent"

	defaultConfidence = 72.5
	defaultDisclaimer = "This assessment is generated by an AI system and is advisory only. " +
		"It must be reviewed by a licensed clinician before any action is taken."
)

var validSeverities = map[string]bool{
	"low": true, "medium": true, "high": true,
}

// ExtractJSON returns the first balanced top-level JSON object in raw.
// String literals and escape sequences are respected so braces inside
// quoted text do not confuse the scan.
func ExtractJSON(raw string) (string, error) {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(raw); i++ {
		ch := raw[i]
		if start >= 0 && inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '{':
			if start < 0 {
				start = i
			}
			depth++
		case '}':
			if start >= 0 {
				depth--
				if depth == 0 {
					return raw[start : i+1], nil
				}
			}
		case '"':
			if start >= 0 {
				inString = true
			}
		}
	}
	return "", ErrNoJSON
}

// ParseAssessment extracts, parses, validates, and normalizes a model
// response. All violations are accumulated into a single ValidationError.
func ParseAssessment(raw string) (*Assessment, error) {
	doc, err := ExtractJSON(raw)
	if err != nil {
		return nil, err
	}

	var a Assessment
	if err := json.Unmarshal([]byte(doc), &a); err != nil {
		return nil, fmt.Errorf("%w: extracted object is not valid JSON", ErrNoJSON)
	}

	if err := validateAssessment(&a); err != nil {
		return nil, err
	}
	normalizeAssessment(&a)
	return &a, nil
}

func validateAssessment(a *Assessment) error {
	var violations []Violation

	scale := a.ProbabilityScale
	if scale == "" {
		scale = scaleDecimal
	}
	if scale != scaleDecimal && scale != scalePercent {
		violations = append(violations, Violation{
			Field:   "probability_scale",
			Message: fmt.Sprintf("must be %q or %q, got %q", scaleDecimal, scalePercent, a.ProbabilityScale),
		})
	}

	if len(a.Diagnoses) == 0 {
		violations = append(violations, Violation{
			Field:   "diagnoses",
			Message: "at least one diagnosis is required",
		})
	}

	for i, d := range a.Diagnoses {
		field := fmt.Sprintf("diagnoses[%d]", i)
		if d.Condition == "" {
			violations = append(violations, Violation{
				Field:   field + ".condition",
				Message: "condition is required",
			})
		}
		if !probabilityInScale(d.Probability, scale) {
			violations = append(violations, Violation{
				Field:   field + ".probability",
				Message: fmt.Sprintf("%g is outside the %s scale", d.Probability, scale),
			})
		}
		if !validSeverities[d.Severity] {
			violations = append(violations, Violation{
				Field:   field + ".severity",
				Message: fmt.Sprintf("must be one of low, medium, high; got %q", d.Severity),
			})
		}
		if strings.TrimSpace(d.Rationale) == "" {
			violations = append(violations, Violation{
				Field:   field + ".rationale",
				Message: "rationale is required",
			})
		}
	}

	for i, r := range a.Recommendations {
		if strings.TrimSpace(r.Action) == "" {
			violations = append(violations, Violation{
				Field:   fmt.Sprintf("recommendations[%d].action", i),
				Message: "action is required",
			})
		}
	}

	for i, f := range a.RedFlags {
		if strings.TrimSpace(f.Description) == "" {
			violations = append(violations, Violation{
				Field:   fmt.Sprintf("red_flags[%d].description", i),
				Message: "description is required",
			})
		}
	}

	if a.Referral != nil && a.Referral.Recommended {
		for _, req := range []struct{ field, value string }{
			{"referral.urgency", a.Referral.Urgency},
			{"referral.specialty", a.Referral.Specialty},
			{"referral.reason", a.Referral.Reason},
		} {
			if strings.TrimSpace(req.value) == "" {
				violations = append(violations, Violation{
					Field:   req.field,
					Message: "required when a referral is recommended",
				})
			}
		}
	}

	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}

func probabilityInScale(p float64, scale string) bool {
	switch scale {
	case scalePercent:
		return p >= 0 && p <= 100
	default:
		return p >= 0 && p <= 1
	}
}

// normalizeAssessment converts percent probabilities to decimal, clamps
// out-of-range confidence to the default, and fills a missing disclaimer.
func normalizeAssessment(a *Assessment) {
	if a.ProbabilityScale == scalePercent {
		for i := range a.Diagnoses {
			a.Diagnoses[i].Probability /= 100
		}
	}
	a.ProbabilityScale = scaleDecimal

	if a.Confidence < 0 || a.Confidence > 100 {
		a.Confidence = defaultConfidence
	}
	if strings.TrimSpace(a.Disclaimer) == "" {
		a.Disclaimer = defaultDisclaimer
	}

	if a.Recommendations == nil {
		a.Recommendations = []Recommendation{}
	}
	if a.RedFlags == nil {
		a.RedFlags = []RedFlag{}
	}
}
