package reconciler

import (
	"strings"

	"aih-reconciliation-service/internal/matcher"
	"aih-reconciliation-service/internal/normalize"
)

// Annotations maps an audit key to the catalog entry its procedure resolved to.
type Annotations map[normalize.CompoundKey]matcher.ProcedureMatchResult

// Summary counts annotations per match method.
func (a Annotations) Summary() matcher.MatchSummary {
	results := make([]matcher.ProcedureMatchResult, 0, len(a))
	for _, r := range a {
		results = append(results, r)
	}
	return matcher.Summarize(results)
}

// DescribeAudit resolves the procedure of every matched and leftover entry
// against the catalog behind pm. The first occurrence of a key wins: matches,
// then tabwin leftovers, then system leftovers. The payer description is
// preferred; the system one is the fallback. result is not modified.
func DescribeAudit(result *AuditResult, pm *matcher.ProcedureMatcher) Annotations {
	annotations := make(Annotations)
	if result == nil || pm == nil {
		return annotations
	}

	annotate := func(key normalize.CompoundKey, code, description string) {
		if _, done := annotations[key]; done {
			return
		}
		annotations[key] = pm.Match(code, description)
	}

	for _, m := range result.Matches {
		annotate(m.Key, m.Audit.ProcedureCode, firstNonBlank(m.Audit.Description, m.System.Description))
	}
	for _, l := range result.TabwinLeftovers {
		annotate(l.Key, l.Audit.ProcedureCode, l.Audit.Description)
	}
	for _, l := range result.SystemLeftovers {
		annotate(l.Key, l.System.ProcedureCode, l.System.Description)
	}
	return annotations
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
