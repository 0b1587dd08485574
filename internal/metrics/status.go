package metrics

import (
	"sort"
	"strconv"
)

// CountRow is one labelled row of a breakdown table.
type CountRow struct {
	Label string
	Count int64
}

// FlattenStatusCodes converts a status code histogram into rows sorted by
// descending count, then by code for stability.
func FlattenStatusCodes(codes map[int]int64) []CountRow {
	if len(codes) == 0 {
		return nil
	}
	rows := make([]CountRow, 0, len(codes))
	for code, count := range codes {
		rows = append(rows, CountRow{Label: strconv.Itoa(code), Count: count})
	}
	sortRows(rows)
	return rows
}

// FlattenReasons converts a transport failure breakdown into sorted rows.
func FlattenReasons(reasons map[string]int64) []CountRow {
	if len(reasons) == 0 {
		return nil
	}
	rows := make([]CountRow, 0, len(reasons))
	for reason, count := range reasons {
		rows = append(rows, CountRow{Label: reason, Count: count})
	}
	sortRows(rows)
	return rows
}

func sortRows(rows []CountRow) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count == rows[j].Count {
			return rows[i].Label < rows[j].Label
		}
		return rows[i].Count > rows[j].Count
	})
}
