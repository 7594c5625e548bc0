package export

import "strings"

// Delimiter joins the cells of every export row.
const Delimiter = ";"

// JoinRows renders rows into file content: cells joined with the
// delimiter, one row per line, trailing newline included.
func JoinRows(rows [][]string) string {
	var b strings.Builder
	for _, row := range rows {
		b.WriteString(strings.Join(row, Delimiter))
		b.WriteByte('\n')
	}
	return b.String()
}

// Document renders a header plus data rows into final file content.
func Document(header []string, rows [][]string) string {
	all := make([][]string, 0, len(rows)+1)
	all = append(all, header)
	all = append(all, rows...)
	return JoinRows(all)
}
