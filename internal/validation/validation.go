// Package validation implements the two post-pipeline validation engines:
// upstream (field-level diff of extracted data against the linked claim)
// and downstream (business-rule evaluation), plus the privileged service
// that applies registry update proposals back to the external system.
package validation

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/claimsight/document-processing-service/internal/domain"
)

// Store persists validation runs. A run replaces any previous result for
// the same (document, validation type); findings and proposals ride along
// in the same transaction.
type Store interface {
	SaveValidationRun(ctx context.Context, result *domain.ValidationResult, findings []domain.ValidationFinding, proposals []domain.RegistryUpdateProposal) error
	ActiveValidationRules(ctx context.Context) ([]domain.ValidationRule, error)
}

// AuditSink appends audit log entries.
type AuditSink interface {
	AppendAudit(ctx context.Context, entry *domain.AuditLog) error
}

// penaltyPerFinding is the match-score cost of one downstream finding.
const penaltyPerFinding = 0.1

// partialMatchThreshold is the upstream score at or above which a run with
// discrepancies still counts as a partial match.
const partialMatchThreshold = 0.8

// normalizeValue renders any extracted or claim value as a trimmed,
// lowercased string for comparison.
func normalizeValue(v any) string {
	return strings.ToLower(strings.TrimSpace(stringify(v)))
}

// stringify renders a value the way it reads on the document: floats
// without exponent notation, decimals in plain form.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case decimal.Decimal:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}

// valuesMatch compares two values case-insensitively after trimming.
// When both sides parse as decimals they are compared numerically, so
// "4200.50" matches 4200.5.
func valuesMatch(ocr, claim any) bool {
	ocrStr := normalizeValue(ocr)
	claimStr := normalizeValue(claim)
	if ocrStr == claimStr {
		return true
	}
	ocrDec, err1 := decimal.NewFromString(ocrStr)
	claimDec, err2 := decimal.NewFromString(claimStr)
	return err1 == nil && err2 == nil && ocrDec.Equal(claimDec)
}

// downstreamMatchScore implements max(0, 1 - 0.1*findings).
func downstreamMatchScore(findingCount int) float64 {
	score := 1 - penaltyPerFinding*float64(findingCount)
	if score < 0 {
		return 0
	}
	return score
}

// downstreamOverallStatus derives the run status from finding severities.
func downstreamOverallStatus(findings []domain.ValidationFinding) domain.OverallStatus {
	hasWarning := false
	for _, f := range findings {
		if f.Severity == domain.SeverityError {
			return domain.OverallStatusMismatched
		}
		if f.Severity == domain.SeverityWarning {
			hasWarning = true
		}
	}
	if hasWarning {
		return domain.OverallStatusPartialMatch
	}
	return domain.OverallStatusMatched
}
