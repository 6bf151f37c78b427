package walinspect

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pgkeep/pgkeep/internal/rmgr"
	"github.com/pgkeep/pgkeep/internal/walformat"
)

// RmgrTotal accumulates one resource manager's share of a summarized
// record stream, per the summarization step: "accumulate
// per-rmgr counts, record bytes, FPI bytes, and combined bytes".
type RmgrTotal struct {
	Rmgr         string
	Count        int
	RecordBytes  int64
	FPIBytes     int64
	CombinedBytes int64
}

// Summary is the full totals table: one RmgrTotal per resource manager
// that appeared, plus grand totals for the percentage column.
type Summary struct {
	Totals      []RmgrTotal
	TotalCount  int
	TotalBytes  int64
}

// Summarize walks records once, accumulating per-rmgr byte and record
// counts. Records whose rmgr id doesn't resolve are grouped under
// "Unknown" rather than dropped, so totals always account for every
// input record.
func Summarize(records []*walformat.DecodedRecord) Summary {
	totals := map[string]*RmgrTotal{}
	order := []string{}

	for _, rec := range records {
		name := "Unknown"
		if m, ok := rmgr.Lookup(rmgr.ID(rec.Header.RmgrID)); ok {
			name = m.Name
		}
		t, ok := totals[name]
		if !ok {
			t = &RmgrTotal{Rmgr: name}
			totals[name] = t
			order = append(order, name)
		}
		fpi := int64(rec.FPILen())
		recordBytes := int64(rec.Header.TotalLength)
		t.Count++
		t.RecordBytes += recordBytes
		t.FPIBytes += fpi
		t.CombinedBytes += recordBytes + fpi
	}

	sort.Strings(order)
	s := Summary{Totals: make([]RmgrTotal, 0, len(order))}
	for _, name := range order {
		t := *totals[name]
		s.Totals = append(s.Totals, t)
		s.TotalCount += t.Count
		s.TotalBytes += t.CombinedBytes
	}
	return s
}

// FormatSummary renders a totals table with two-decimal percentages of
// combined bytes,  ("Percentages are two-decimal").
func FormatSummary(s Summary) string {
	headers := []string{"RMGR", "COUNT", "RECORD", "FPI", "COMBINED", "PCT"}
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}

	rows := make([][]string, 0, len(s.Totals)+1)
	for _, t := range s.Totals {
		pct := 0.0
		if s.TotalBytes > 0 {
			pct = float64(t.CombinedBytes) / float64(s.TotalBytes) * 100
		}
		row := []string{
			t.Rmgr,
			fmt.Sprintf("%d", t.Count),
			fmt.Sprintf("%d", t.RecordBytes),
			fmt.Sprintf("%d", t.FPIBytes),
			fmt.Sprintf("%d", t.CombinedBytes),
			fmt.Sprintf("%.2f", pct),
		}
		rows = append(rows, row)
		for i, v := range row {
			if len(v) > widths[i] {
				widths[i] = len(v)
			}
		}
	}
	total := []string{"TOTAL", fmt.Sprintf("%d", s.TotalCount), "", "", fmt.Sprintf("%d", s.TotalBytes), "100.00"}
	rows = append(rows, total)
	for i, v := range total {
		if len(v) > widths[i] {
			widths[i] = len(v)
		}
	}

	var b strings.Builder
	writeRow(&b, headers, widths)
	for _, r := range rows {
		writeRow(&b, r, widths)
	}
	return b.String()
}
