package event

import "github.com/qlandys/Plasma-sub002/pkg/quant"

// LevelsFromRows converts venue rows of the form [price, qty, ...].
// Rows with fewer than two columns or a non-finite number are skipped.
func LevelsFromRows(rows [][]quant.Number) []Level {
	if len(rows) == 0 {
		return nil
	}
	out := make([]Level, 0, len(rows))
	for _, r := range rows {
		if len(r) < 2 || r[0].Text == "" || r[1].Text == "" || !r[0].Finite() || !r[1].Finite() {
			continue
		}
		out = append(out, Level{Price: r[0].Value, Qty: r[1].Value})
	}
	return out
}
