package sheets

import (
	"fmt"
	"strings"
)

// header maps lower-cased column titles to their index.
type header map[string]int

func parseHeader(row []interface{}) header {
	h := make(header, len(row))
	for i, v := range row {
		h[strings.ToLower(strings.TrimSpace(fmt.Sprint(v)))] = i
	}
	return h
}

// require returns the indices of the named columns or an error naming the
// first missing one.
func (h header) require(names ...string) ([]int, error) {
	idx := make([]int, len(names))
	for i, n := range names {
		col, ok := h[n]
		if !ok {
			return nil, fmt.Errorf("missing column %q", n)
		}
		idx[i] = col
	}
	return idx, nil
}

// cell returns the trimmed string value at col, or "" when the row is short.
func cell(row []interface{}, col int) string {
	if col < 0 || col >= len(row) || row[col] == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(row[col]))
}
