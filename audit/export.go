package audit

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/warp/points-ledger/ledger"
)

// CSVHeader is the first row written by ExportCSV.
var CSVHeader = []string{
	"seq", "entry_id", "account_id", "kind", "delta", "resulting_balance",
	"version", "reason", "related_entry_id", "actor", "timestamp",
}

// ExportCSV streams matching entries to w, one row per entry, and returns
// the number of rows written (excluding the header). Paging fields of f
// are ignored.
func (r *Reporter) ExportCSV(ctx context.Context, w io.Writer, f ledger.EntryFilter) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return 0, err
	}

	f.After = ""
	n := 0
	_, err := r.each(ctx, f, func(e ledger.Entry) error {
		n++
		return cw.Write([]string{
			strconv.FormatInt(e.Seq, 10),
			string(e.ID),
			string(e.AccountID),
			string(e.Kind),
			strconv.FormatInt(e.Delta, 10),
			strconv.FormatInt(e.ResultingBalance, 10),
			strconv.FormatInt(e.Version, 10),
			e.Reason,
			string(e.RelatedEntryID),
			e.Actor,
			e.Timestamp.UTC().Format(time.RFC3339Nano),
		})
	})
	cw.Flush()
	if err != nil {
		return n, err
	}
	if err := cw.Error(); err != nil {
		return n, fmt.Errorf("write csv: %w", err)
	}
	return n, nil
}
