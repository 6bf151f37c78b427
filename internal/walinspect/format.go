package walinspect

import (
	"fmt"
	"strings"

	"github.com/pgkeep/pgkeep/internal/rmgr"
	"github.com/pgkeep/pgkeep/internal/walformat"
)

// Row is one record reduced to the fields an inspection report shows.
// It carries `json:` tags so an external JSON emitter (the design,
// "JSON emission" is an out-of-scope collaborator) can marshal it
// directly for the line-delimited-JSON output mode; this package only
// produces the value, never encodes it.
type Row struct {
	LSN         string `json:"lsn"`
	Rmgr        string `json:"rmgr"`
	XID         uint32 `json:"xid"`
	Info        uint8  `json:"info"`
	Length      uint32 `json:"length"`
	Description string `json:"description"`
}

// ToRow reduces a decoded record to its reporting fields, resolving the
// resource-manager name and its describe function from internal/rmgr.
func ToRow(rec *walformat.DecodedRecord) Row {
	name := "Unknown"
	desc := fmt.Sprintf("0x%02X len %d", rec.Header.Info, rec.Header.TotalLength)
	if m, ok := rmgr.Lookup(rmgr.ID(rec.Header.RmgrID)); ok {
		name = m.Name
		var mainData []byte
		if rec.MainData != nil {
			mainData = rec.MainData.Data
		}
		desc = m.Describe(rec.Header, mainData)
	}
	return Row{
		LSN:         rec.LSN.String(),
		Rmgr:        name,
		XID:         rec.Header.XID,
		Info:        rec.Header.Info,
		Length:      rec.Header.TotalLength,
		Description: desc,
	}
}

// ToRows reduces every record in order.
func ToRows(records []*walformat.DecodedRecord) []Row {
	rows := make([]Row, len(records))
	for i, r := range records {
		rows[i] = ToRow(r)
	}
	return rows
}

// headers for FormatTable, in column order.
var tableHeaders = []string{"LSN", "RMGR", "XID", "INFO", "LEN", "DESCRIPTION"}

// FormatTable renders rows as a human-readable table with per-column
// widths precomputed on a first pass over the data, 
// ("a human table with per-column widths precomputed on a first pass").
func FormatTable(rows []Row) string {
	widths := make([]int, len(tableHeaders))
	for i, h := range tableHeaders {
		widths[i] = len(h)
	}
	cells := make([][]string, len(rows))
	for i, r := range rows {
		c := []string{
			r.LSN,
			r.Rmgr,
			fmt.Sprintf("%d", r.XID),
			fmt.Sprintf("0x%02X", r.Info),
			fmt.Sprintf("%d", r.Length),
			r.Description,
		}
		cells[i] = c
		for j, v := range c {
			if len(v) > widths[j] {
				widths[j] = len(v)
			}
		}
	}

	var b strings.Builder
	writeRow(&b, tableHeaders, widths)
	for _, c := range cells {
		writeRow(&b, c, widths)
	}
	return b.String()
}

func writeRow(b *strings.Builder, cells []string, widths []int) {
	for i, c := range cells {
		if i > 0 {
			b.WriteString("  ")
		}
		fmt.Fprintf(b, "%-*s", widths[i], c)
	}
	b.WriteString("\n")
}
