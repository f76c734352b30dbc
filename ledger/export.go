package ledger

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

type parquetRow struct {
	ID              string `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Kind            string `parquet:"name=kind, type=BYTE_ARRAY, convertedtype=UTF8"`
	Direction       string `parquet:"name=direction, type=BYTE_ARRAY, convertedtype=UTF8"`
	SourceTx        string `parquet:"name=source_tx, type=BYTE_ARRAY, convertedtype=UTF8"`
	ApprovalTx      string `parquet:"name=approval_tx, type=BYTE_ARRAY, convertedtype=UTF8"`
	Sender          string `parquet:"name=sender, type=BYTE_ARRAY, convertedtype=UTF8"`
	Recipient       string `parquet:"name=recipient, type=BYTE_ARRAY, convertedtype=UTF8"`
	HookData        string `parquet:"name=hook_data, type=BYTE_ARRAY, convertedtype=UTF8"`
	AmountBaseUnits string `parquet:"name=amount_base_units, type=BYTE_ARRAY, convertedtype=UTF8"`
	Status          string `parquet:"name=status, type=BYTE_ARRAY, convertedtype=UTF8"`
	DestinationTx   string `parquet:"name=destination_tx, type=BYTE_ARRAY, convertedtype=UTF8"`
	MatchedBy       string `parquet:"name=matched_by, type=BYTE_ARRAY, convertedtype=UTF8"`
	Error           string `parquet:"name=error, type=BYTE_ARRAY, convertedtype=UTF8"`
	SubmittedAt     string `parquet:"name=submitted_at, type=BYTE_ARRAY, convertedtype=UTF8"`
	SettledAt       string `parquet:"name=settled_at, type=BYTE_ARRAY, convertedtype=UTF8"`
	SettleSeconds   int64  `parquet:"name=settle_seconds, type=INT64"`
}

// ExportParquet writes every row matching filter to w as a Snappy
// compressed parquet file and returns the row count.
func (s *Store) ExportParquet(ctx context.Context, w io.Writer, filter Filter) (int, error) {
	rows, err := s.List(ctx, filter)
	if err != nil {
		return 0, err
	}
	pw, err := writer.NewParquetWriter(writerfile.NewWriterFile(w), new(parquetRow), 1)
	if err != nil {
		return 0, fmt.Errorf("ledger: parquet schema: %w", err)
	}
	pw.RowGroupSize = 16 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		if err := pw.Write(toParquet(row)); err != nil {
			_ = pw.WriteStop()
			return 0, fmt.Errorf("ledger: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return 0, fmt.Errorf("ledger: parquet flush: %w", err)
	}
	return len(rows), nil
}

func toParquet(row Transfer) *parquetRow {
	out := &parquetRow{
		ID:              row.ID.String(),
		Kind:            string(row.Kind),
		Direction:       row.Direction,
		SourceTx:        row.SourceTx,
		ApprovalTx:      row.ApprovalTx,
		Sender:          row.Sender,
		Recipient:       row.Recipient,
		HookData:        row.HookData,
		AmountBaseUnits: row.AmountBaseUnits,
		Status:          row.Status,
		DestinationTx:   row.DestinationTx,
		MatchedBy:       row.MatchedBy,
		Error:           row.Error,
		SubmittedAt:     row.SubmittedAt.UTC().Format(time.RFC3339),
	}
	if row.SettledAt != nil {
		out.SettledAt = row.SettledAt.UTC().Format(time.RFC3339)
		out.SettleSeconds = int64(row.SettledAt.Sub(row.SubmittedAt) / time.Second)
	}
	return out
}
