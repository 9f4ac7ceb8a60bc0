package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/pairstrader/internal/domain"
)

// ReportArchiver writes execution reports to blob storage as JSON, one
// object per execution, keyed by date for cheap prefix listing.
type ReportArchiver struct {
	blob   domain.BlobWriter
	prefix string
}

// NewReportArchiver creates an archiver writing under the given key prefix,
// e.g. "reports".
func NewReportArchiver(blob domain.BlobWriter, prefix string) *ReportArchiver {
	if prefix == "" {
		prefix = "reports"
	}
	return &ReportArchiver{blob: blob, prefix: prefix}
}

// Archive uploads one report. The object key embeds the execution date and
// id: {prefix}/2006/01/02/{execution_id}.json.
func (a *ReportArchiver) Archive(ctx context.Context, report ExecutionReport) error {
	payload, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("archiver: marshal report %s: %w", report.ExecutionID, err)
	}

	key := fmt.Sprintf("%s/%s/%s.json",
		a.prefix,
		report.Timestamp.UTC().Format("2006/01/02"),
		report.ExecutionID,
	)
	if err := a.blob.Put(ctx, key, payload, "application/json"); err != nil {
		return fmt.Errorf("archiver: upload report %s: %w", report.ExecutionID, err)
	}
	return nil
}

// Compile-time interface check.
var _ Archiver = (*ReportArchiver)(nil)
