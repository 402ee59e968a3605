package reconciler

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"aih-reconciliation-service/internal/models"
	"aih-reconciliation-service/internal/normalize"
)

// AuditStatus classifies an audit row found in the internal system.
type AuditStatus int

const (
	// AuditMatched means value and quantity agree within tolerance.
	AuditMatched AuditStatus = iota
	// AuditValueDiff means the values differ by more than the tolerance.
	AuditValueDiff
	// AuditQuantityDiff means the values agree but the quantities differ.
	AuditQuantityDiff
)

var auditStatusNames = map[AuditStatus]string{
	AuditMatched:      "matched",
	AuditValueDiff:    "value_diff",
	AuditQuantityDiff: "quantity_diff",
}

func (s AuditStatus) String() string {
	if name, ok := auditStatusNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText renders the status by name.
func (s AuditStatus) MarshalText() ([]byte, error) {
	if _, ok := auditStatusNames[s]; !ok {
		return nil, fmt.Errorf("invalid audit status %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText parses a status name.
func (s *AuditStatus) UnmarshalText(b []byte) error {
	for status, name := range auditStatusNames {
		if name == string(b) {
			*s = status
			return nil
		}
	}
	return fmt.Errorf("unknown audit status %q", string(b))
}

// LeftoverReason says why a row found no counterpart.
type LeftoverReason string

const (
	// ReasonNotInSystem marks a payer row the internal system never billed:
	// a possible glosa.
	ReasonNotInSystem LeftoverReason = "not_in_system"
	// ReasonNotInTabwin marks a billed procedure the payer did not approve:
	// a possible rejection.
	ReasonNotInTabwin LeftoverReason = "not_in_tabwin"
)

// AuditMatch pairs an audit row with the first system row of its key.
type AuditMatch struct {
	Key                normalize.CompoundKey         `json:"key" yaml:"key"`
	Status             AuditStatus                   `json:"status" yaml:"status"`
	Audit              *models.PayerAuditRecord      `json:"audit" yaml:"audit"`
	System             *models.SystemProcedureRecord `json:"system" yaml:"system"`
	ValueDifference    models.MinorUnits             `json:"value_difference" yaml:"value_difference"`
	QuantityDifference int                           `json:"quantity_difference" yaml:"quantity_difference"`
}

// TabwinLeftover is an audit row without a system counterpart.
type TabwinLeftover struct {
	Key    normalize.CompoundKey    `json:"key" yaml:"key"`
	Audit  *models.PayerAuditRecord `json:"audit" yaml:"audit"`
	Reason LeftoverReason           `json:"reason" yaml:"reason"`
}

// SystemLeftover is a system key no audit row claimed. System is the first
// row of the key and Rows counts all of them.
type SystemLeftover struct {
	Key    normalize.CompoundKey         `json:"key" yaml:"key"`
	System *models.SystemProcedureRecord `json:"system" yaml:"system"`
	Rows   int                           `json:"rows" yaml:"rows"`
	Reason LeftoverReason                `json:"reason" yaml:"reason"`
}

// AuditSummary aggregates one audit reconciliation.
// PerfectMatches+ValueDifferences+QuantityDifferences equals len(Matches).
type AuditSummary struct {
	PerfectMatches      int               `json:"perfect_matches" yaml:"perfect_matches"`
	ValueDifferences    int               `json:"value_differences" yaml:"value_differences"`
	QuantityDifferences int               `json:"quantity_differences" yaml:"quantity_differences"`
	GlosasPossiveis     int               `json:"glosas_possiveis" yaml:"glosas_possiveis"`
	RejeicoesPossiveis  int               `json:"rejeicoes_possiveis" yaml:"rejeicoes_possiveis"`
	TotalAuditRows      int               `json:"total_audit_rows" yaml:"total_audit_rows"`
	TotalSystemRows     int               `json:"total_system_rows" yaml:"total_system_rows"`
	SkippedAuditRows    int               `json:"skipped_audit_rows" yaml:"skipped_audit_rows"`
	SkippedSystemRows   int               `json:"skipped_system_rows" yaml:"skipped_system_rows"`
	AuditValueTotal     models.MinorUnits `json:"audit_value_total" yaml:"audit_value_total"`
	SystemValueTotal    models.MinorUnits `json:"system_value_total" yaml:"system_value_total"`
}

// AuditResult is the outcome of one payer audit reconciliation.
type AuditResult struct {
	RunID           uuid.UUID        `json:"run_id" yaml:"run_id"`
	Matches         []AuditMatch     `json:"matches" yaml:"matches"`
	TabwinLeftovers []TabwinLeftover `json:"tabwin_leftovers" yaml:"tabwin_leftovers"`
	SystemLeftovers []SystemLeftover `json:"system_leftovers" yaml:"system_leftovers"`
	Summary         AuditSummary     `json:"summary" yaml:"summary"`
}

// ByStatus returns the matches with the given status, in audit order.
func (r *AuditResult) ByStatus(status AuditStatus) []AuditMatch {
	var out []AuditMatch
	for _, m := range r.Matches {
		if m.Status == status {
			out = append(out, m)
		}
	}
	return out
}

// ReconcileAudit compares the payer audit extract with the procedures billed
// by the internal system, keyed by normalized (authorization, procedure).
//
// Rows whose authorization or procedure normalizes to empty are skipped and
// counted. Each audit row is compared with the first system row of its key;
// several audit rows may claim the same key. System keys no audit row
// claimed become leftovers, in key order.
func ReconcileAudit(audit []*models.PayerAuditRecord, system []*models.SystemProcedureRecord, policy Policy) (*AuditResult, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	result := &AuditResult{RunID: uuid.New()}
	summary := &result.Summary
	summary.TotalAuditRows = len(audit)
	summary.TotalSystemRows = len(system)

	systemByKey := make(map[normalize.CompoundKey][]*models.SystemProcedureRecord)
	for _, row := range system {
		if row == nil {
			summary.SkippedSystemRows++
			continue
		}
		key := normalize.NewCompoundKey(row.AuthorizationNumber, row.ProcedureCode)
		if !key.Valid() {
			summary.SkippedSystemRows++
			continue
		}
		systemByKey[key] = append(systemByKey[key], row)
		summary.SystemValueTotal += row.Value
	}

	claimed := make(map[normalize.CompoundKey]bool, len(systemByKey))
	for _, row := range audit {
		if row == nil {
			summary.SkippedAuditRows++
			continue
		}
		key := normalize.NewCompoundKey(row.AuthorizationNumber, row.ProcedureCode)
		if !key.Valid() {
			summary.SkippedAuditRows++
			continue
		}
		summary.AuditValueTotal += row.Value

		rows, found := systemByKey[key]
		if !found {
			result.TabwinLeftovers = append(result.TabwinLeftovers, TabwinLeftover{Key: key, Audit: row, Reason: ReasonNotInSystem})
			summary.GlosasPossiveis++
			continue
		}
		claimed[key] = true

		match := compareAuditRow(key, row, rows[0], policy.ValueTolerance)
		switch match.Status {
		case AuditValueDiff:
			summary.ValueDifferences++
		case AuditQuantityDiff:
			summary.QuantityDifferences++
		default:
			summary.PerfectMatches++
		}
		result.Matches = append(result.Matches, match)
	}

	unclaimed := make([]normalize.CompoundKey, 0, len(systemByKey)-len(claimed))
	for key := range systemByKey {
		if !claimed[key] {
			unclaimed = append(unclaimed, key)
		}
	}
	sort.Slice(unclaimed, func(i, j int) bool { return unclaimed[i].Less(unclaimed[j]) })

	for _, key := range unclaimed {
		rows := systemByKey[key]
		result.SystemLeftovers = append(result.SystemLeftovers, SystemLeftover{
			Key:    key,
			System: rows[0],
			Rows:   len(rows),
			Reason: ReasonNotInTabwin,
		})
	}
	summary.RejeicoesPossiveis = len(result.SystemLeftovers)

	return result, nil
}

func compareAuditRow(key normalize.CompoundKey, audit *models.PayerAuditRecord, system *models.SystemProcedureRecord, tolerance models.MinorUnits) AuditMatch {
	match := AuditMatch{
		Key:                key,
		Audit:              audit,
		System:             system,
		ValueDifference:    (audit.Value - system.Value).Abs(),
		QuantityDifference: abs(audit.Quantity - system.Quantity),
	}

	switch {
	case match.ValueDifference > tolerance:
		match.Status = AuditValueDiff
	case match.QuantityDifference > 0:
		match.Status = AuditQuantityDiff
	default:
		match.Status = AuditMatched
	}
	return match
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
