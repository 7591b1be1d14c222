package safety

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rxsense/rxsense/internal/domain/patient"
)

// InteractionSource looks up catalog interactions for one medication pair.
type InteractionSource interface {
	FindByPair(ctx context.Context, medA, medB string) ([]*DrugInteraction, error)
}

// CheckInput is one safety screening request.
type CheckInput struct {
	Proposed          []string
	Allergies         []*patient.Allergy
	ActiveMedications []*patient.MedicationRecord
}

// Engine runs the three safety screens. Interaction lookups fan out over a
// bounded worker pool; results always merge in input order so repeated runs
// over the same input produce identical reports.
type Engine struct {
	source  InteractionSource
	workers int
	logger  zerolog.Logger
}

func NewEngine(source InteractionSource, workers int, logger zerolog.Logger) *Engine {
	if workers <= 0 {
		workers = 4
	}
	return &Engine{source: source, workers: workers, logger: logger}
}

// Check screens every proposed medication and returns the merged report.
// A failed interaction lookup is logged and skipped rather than failing
// the whole check; allergy and duplicate screens never fail.
func (e *Engine) Check(ctx context.Context, in CheckInput) *Report {
	report := &Report{
		Findings:  []Finding{},
		CheckedAt: time.Now().UTC(),
	}

	report.Findings = append(report.Findings, e.allergyFindings(in)...)
	report.Findings = append(report.Findings, e.duplicateFindings(in)...)
	report.Findings = append(report.Findings, e.interactionFindings(ctx, in)...)

	report.CriticalIssues = []Finding{}
	for _, f := range report.Findings {
		if f.Severity == SeverityCritical || f.Severity == SeverityMajor {
			report.CriticalIssues = append(report.CriticalIssues, f)
		}
	}
	return report
}

// allergyFindings flags any proposed medication whose name overlaps a
// recorded allergy substance, in either direction, ignoring case. Each
// allergy-medication match yields exactly one finding.
func (e *Engine) allergyFindings(in CheckInput) []Finding {
	var findings []Finding
	for _, med := range in.Proposed {
		medLower := strings.ToLower(med)
		for _, allergy := range in.Allergies {
			subLower := strings.ToLower(allergy.Substance)
			if subLower == "" || medLower == "" {
				continue
			}
			if strings.Contains(medLower, subLower) || strings.Contains(subLower, medLower) {
				findings = append(findings, Finding{
					Type:       CheckAllergy,
					Severity:   SeverityCritical,
					Medication: med,
					RelatedTo:  allergy.Substance,
					Message: fmt.Sprintf("DO NOT PRESCRIBE: patient has a documented allergy to %s",
						allergy.Substance),
				})
			}
		}
	}
	return findings
}

// duplicateFindings flags a proposed medication the patient is already
// actively taking. Only exact case-insensitive name matches count;
// near-matches are the interaction catalog's job.
func (e *Engine) duplicateFindings(in CheckInput) []Finding {
	active := make(map[string]string, len(in.ActiveMedications))
	for _, m := range in.ActiveMedications {
		active[strings.ToLower(m.Name)] = m.Name
	}

	var findings []Finding
	for _, med := range in.Proposed {
		if existing, ok := active[strings.ToLower(med)]; ok {
			findings = append(findings, Finding{
				Type:       CheckDuplicateTherapy,
				Severity:   SeverityModerate,
				Medication: med,
				RelatedTo:  existing,
				Message:    fmt.Sprintf("patient is already taking %s", existing),
			})
		}
	}
	return findings
}

type pairJob struct {
	idx      int
	proposed string
	active   string
}

// interactionFindings checks every proposed-by-active pair against the
// catalog. The per-pair result slot is indexed by job so worker scheduling
// cannot reorder the merged output.
func (e *Engine) interactionFindings(ctx context.Context, in CheckInput) []Finding {
	var jobs []pairJob
	for _, med := range in.Proposed {
		for _, active := range in.ActiveMedications {
			jobs = append(jobs, pairJob{idx: len(jobs), proposed: med, active: active.Name})
		}
	}
	if len(jobs) == 0 {
		return nil
	}

	results := make([]*Finding, len(jobs))
	jobCh := make(chan pairJob)

	workers := e.workers
	if workers > len(jobs) {
		workers = len(jobs)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobCh {
				results[job.idx] = e.checkPair(ctx, job)
			}
		}()
	}
	for _, job := range jobs {
		jobCh <- job
	}
	close(jobCh)
	wg.Wait()

	var findings []Finding
	for _, f := range results {
		if f != nil {
			findings = append(findings, *f)
		}
	}
	return findings
}

// checkPair returns the highest-severity catalog interaction for one pair,
// or nil when there is none or the lookup fails.
func (e *Engine) checkPair(ctx context.Context, job pairJob) *Finding {
	interactions, err := e.source.FindByPair(ctx, job.proposed, job.active)
	if err != nil {
		e.logger.Warn().Err(err).
			Str("proposed", job.proposed).
			Str("active", job.active).
			Msg("interaction lookup failed, skipping pair")
		return nil
	}
	if len(interactions) == 0 {
		return nil
	}

	best := interactions[0]
	for _, d := range interactions[1:] {
		if severityRank[d.Severity] > severityRank[best.Severity] {
			best = d
		}
	}

	msg := fmt.Sprintf("interacts with %s", job.active)
	if best.Description != nil && *best.Description != "" {
		msg = *best.Description
	} else if best.ClinicalEffect != nil && *best.ClinicalEffect != "" {
		msg = *best.ClinicalEffect
	}

	f := &Finding{
		Type:       CheckInteraction,
		Severity:   best.Severity,
		Medication: job.proposed,
		RelatedTo:  job.active,
		Message:    msg,
	}
	if best.Management != nil {
		f.Management = *best.Management
	}
	return f
}
