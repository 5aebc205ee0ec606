package sheets

import (
	"context"
	"strings"

	"github.com/ignite/leadgen-pipeline/internal/pkg/logger"
	"github.com/ignite/leadgen-pipeline/internal/querygen"
)

// Summary aggregates one sync run.
type Summary struct {
	TotalRows        int
	ProcessedRows    int
	InsertedQueries  int
	DuplicateQueries int
	Errors           int
}

// SyncService reads the niches sheet, generates queries, inserts them
// idempotently and writes per-row status back.
type SyncService struct {
	adapter    Adapter
	repository *QueryRepository
	generator  *querygen.Generator
}

// NewSyncService wires the sheet sync scenario.
func NewSyncService(adapter Adapter, repository *QueryRepository, generator *querygen.Generator) *SyncService {
	return &SyncService{adapter: adapter, repository: repository, generator: generator}
}

// Sync processes every actionable row: non-empty niche, matching batch tag
// (when filtered) and a status other than done. Failures are contained per
// row and reported through the row's status.
func (s *SyncService) Sync(ctx context.Context, batchTag string) (Summary, error) {
	rows, err := s.adapter.FetchRows(ctx)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{TotalRows: len(rows)}
	var updates []StatusUpdate

	for _, rowData := range rows {
		niche := rowData.Get("niche")
		if niche == "" {
			continue
		}
		if batchTag != "" && rowData.Get("batch_tag") != batchTag {
			continue
		}
		if strings.ToLower(rowData.Get("status")) == "done" {
			continue
		}

		summary.ProcessedRows++
		row := querygen.NicheRow{
			RowIndex: rowData.RowIndex,
			Niche:    niche,
			City:     rowData.Get("city"),
			Country:  rowData.Get("country"),
			BatchTag: rowData.Get("batch_tag"),
		}

		queries := s.generator.Generate(row)
		status := "done"
		if len(queries) == 0 {
			status = "skipped"
		}

		result, err := s.repository.InsertQueries(ctx, queries)
		if err != nil {
			summary.Errors++
			errText := err.Error()
			logger.Error("sheets: row processing failed", "row", row.RowIndex, "error", errText)
			if logErr := s.repository.LogBatch(ctx, row, result, "error", errText); logErr != nil {
				logger.Error("sheets: audit log failed", "row", row.RowIndex, "error", logErr.Error())
			}
			updates = append(updates, StatusUpdate{
				RowIndex:       row.RowIndex,
				Status:         "error",
				GeneratedCount: len(queries),
				DuplicateCount: result.Duplicates,
				LastError:      errText,
			})
			continue
		}

		summary.InsertedQueries += result.Inserted
		summary.DuplicateQueries += result.Duplicates
		if logErr := s.repository.LogBatch(ctx, row, result, status, ""); logErr != nil {
			logger.Error("sheets: audit log failed", "row", row.RowIndex, "error", logErr.Error())
		}

		updates = append(updates, StatusUpdate{
			RowIndex:       row.RowIndex,
			Status:         status,
			GeneratedCount: len(queries),
			InsertedCount:  result.Inserted,
			DuplicateCount: result.Duplicates,
			FirstScheduled: result.FirstScheduled,
			LastScheduled:  result.LastScheduled,
		})
	}

	if len(updates) > 0 {
		if err := s.adapter.UpdateRows(ctx, updates); err != nil {
			return summary, err
		}
	}
	logger.Info("sheets: sync finished",
		"processed", summary.ProcessedRows, "inserted", summary.InsertedQueries,
		"duplicates", summary.DuplicateQueries, "errors", summary.Errors)
	return summary, nil
}
