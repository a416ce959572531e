package compare

import (
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
)

func fmtStat(v float64) string {
	if math.IsNaN(v) {
		return "-"
	}
	return strconv.FormatFloat(v, 'f', 3, 64)
}

// WriteTable renders the report's statistics, one row per field and window.
func WriteTable(w io.Writer, r *Report) error {
	table := tablewriter.NewWriter(w)
	table.Header([]string{"Field", "Window", "N", "Bias", "RMSE", "R"})
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignRight
	})

	var data [][]string
	for _, s := range r.Stats {
		data = append(data, []string{
			s.Field,
			fmt.Sprintf("%dm", int(s.Window.Minutes())),
			strconv.Itoa(s.Count),
			fmtStat(s.Bias),
			fmtStat(s.RMSE),
			fmtStat(s.Correlation),
		})
	}

	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}
