package audit

import (
	"context"

	"attestor/internal/domain"
	"attestor/pkg/canonical"
)

// IntegrityFinding points at one bad entry.
type IntegrityFinding struct {
	EntryID string `json:"entryId"`
	Index   int    `json:"index"`
	Detail  string `json:"detail"`
}

// IntegrityReport separates the two failure modes: a corrupted entry (stored
// hash does not match its recomputed fields) and a chain break (previous-hash
// linkage does not line up). They are independently detectable and both
// reported.
type IntegrityReport struct {
	EntriesChecked int                `json:"entriesChecked"`
	Corrupted      []IntegrityFinding `json:"corrupted,omitempty"`
	ChainBreaks    []IntegrityFinding `json:"chainBreaks,omitempty"`
}

// Clean reports whether the log passed both checks.
func (r IntegrityReport) Clean() bool {
	return len(r.Corrupted) == 0 && len(r.ChainBreaks) == 0
}

// ValidateIntegrity recomputes every entry's hash and walks the chain
// linkage. Passing nil validates the full stored log.
func (l *Logger) ValidateIntegrity(ctx context.Context, entries []*domain.AuditEntry) (*IntegrityReport, error) {
	if entries == nil {
		var err error
		entries, err = l.store.All(ctx)
		if err != nil {
			return nil, err
		}
	}

	report := &IntegrityReport{EntriesChecked: len(entries)}

	for i, e := range entries {
		expected, err := canonical.HMAC(l.integrityKey, e.HashableFields())
		if err != nil {
			return nil, err
		}
		if !canonical.Equal(expected, e.IntegrityHash) {
			report.Corrupted = append(report.Corrupted, IntegrityFinding{
				EntryID: e.ID,
				Index:   i,
				Detail:  "stored integrity hash does not match recomputed fields",
			})
		}
	}

	for i := 1; i < len(entries); i++ {
		if entries[i].PreviousEntryHash != entries[i-1].IntegrityHash {
			report.ChainBreaks = append(report.ChainBreaks, IntegrityFinding{
				EntryID: entries[i].ID,
				Index:   i,
				Detail:  "previousEntryHash does not match preceding entry",
			})
		}
	}

	if l.metrics != nil {
		l.metrics.AuditChainFailures.Add(float64(len(report.Corrupted) + len(report.ChainBreaks)))
	}
	return report, nil
}
