package ai

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rxsense/rxsense/internal/domain/patient"
)

// PromptInput carries everything the model needs to assess a case.
type PromptInput struct {
	Patient             *patient.Context
	Symptoms            []string
	Vitals              map[string]string
	ProposedMedications []string
	Notes               string
}

const systemPrompt = `You are a clinical decision support assistant for licensed pharmacists.
Analyze the patient case and respond with a single JSON object, no markdown fences, matching:
{
  "diagnoses": [{"condition": string, "probability": number, "severity": "low"|"medium"|"high", "rationale": string}],
  "recommendations": [{"action": string, "detail": string, "priority": "routine"|"urgent"}],
  "red_flags": [{"description": string, "urgency": string}],
  "referral": {"recommended": bool, "urgency": string, "specialty": string, "reason": string},
  "probability_scale": "decimal"|"percent",
  "confidence": number between 0 and 100,
  "disclaimer": string
}
Order diagnoses by descending probability and give every diagnosis a rationale.
If you recommend a physician referral, fill in urgency, specialty, and reason.
Include red_flags only for findings that need immediate physician attention.
Your output is advisory and will be reviewed by a pharmacist before any action
is taken.`

// BuildPrompt renders the system and user messages for a completion call.
func BuildPrompt(in PromptInput) (system, user string) {
	var b strings.Builder

	b.WriteString("## Patient\n")
	if in.Patient != nil && in.Patient.Patient != nil {
		p := in.Patient.Patient
		fmt.Fprintf(&b, "Age: %d\n", in.Patient.Age)
		if p.Sex != nil {
			fmt.Fprintf(&b, "Sex: %s\n", *p.Sex)
		}
		if p.WeightKg != nil {
			fmt.Fprintf(&b, "Weight: %.1f kg\n", *p.WeightKg)
		}

		b.WriteString("\n## Allergies\n")
		writeList(&b, allergyLines(in.Patient.Allergies))

		b.WriteString("\n## Active Conditions\n")
		writeList(&b, conditionLines(in.Patient.Conditions))

		b.WriteString("\n## Current Medications\n")
		writeList(&b, medicationLines(in.Patient.ActiveMedications))

		b.WriteString("\n## Recent Labs\n")
		writeList(&b, labLines(in.Patient.RecentLabs))

		if len(in.Patient.MissingSources) > 0 {
			fmt.Fprintf(&b, "\nNote: the following record sources were unavailable: %s\n",
				strings.Join(in.Patient.MissingSources, ", "))
		}
	}

	b.WriteString("\n## Presenting Symptoms\n")
	writeList(&b, in.Symptoms)

	if len(in.Vitals) > 0 {
		b.WriteString("\n## Vitals\n")
		keys := make([]string, 0, len(in.Vitals))
		for k := range in.Vitals {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %s\n", k, in.Vitals[k])
		}
	}

	if len(in.ProposedMedications) > 0 {
		b.WriteString("\n## Proposed Medications\n")
		writeList(&b, in.ProposedMedications)
	}

	if in.Notes != "" {
		b.WriteString("\n## Clinical Notes\n")
		b.WriteString(in.Notes)
		b.WriteString("\n")
	}

	return systemPrompt, b.String()
}

func writeList(b *strings.Builder, items []string) {
	if len(items) == 0 {
		b.WriteString("- none recorded\n")
		return
	}
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
}

func allergyLines(allergies []*patient.Allergy) []string {
	out := make([]string, 0, len(allergies))
	for _, a := range allergies {
		line := a.Substance
		if a.Severity != nil {
			line += " (" + *a.Severity + ")"
		}
		out = append(out, line)
	}
	return out
}

func conditionLines(conditions []*patient.Condition) []string {
	out := make([]string, 0, len(conditions))
	for _, c := range conditions {
		line := c.Name
		if c.ICD10Code != nil {
			line += " [" + *c.ICD10Code + "]"
		}
		out = append(out, line)
	}
	return out
}

func medicationLines(meds []*patient.MedicationRecord) []string {
	out := make([]string, 0, len(meds))
	for _, m := range meds {
		line := m.Name
		if m.Dose != nil {
			line += " " + *m.Dose
		}
		if m.Frequency != nil {
			line += " " + *m.Frequency
		}
		out = append(out, line)
	}
	return out
}

func labLines(labs []*patient.LabResult) []string {
	out := make([]string, 0, len(labs))
	for _, l := range labs {
		line := fmt.Sprintf("%s: %s", l.TestName, l.Value)
		if l.Unit != nil {
			line += " " + *l.Unit
		}
		if l.ReferenceRange != nil {
			line += " (ref " + *l.ReferenceRange + ")"
		}
		if l.Abnormal {
			line += " [abnormal]"
		}
		out = append(out, line)
	}
	return out
}
