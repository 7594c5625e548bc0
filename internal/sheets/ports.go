package sheets

import "context"

// Ports for outbound adapters.
type (
	// RowAppender archives export rows outside the database, e.g. in a
	// spreadsheet the board can browse without CSV tooling.
	RowAppender interface {
		AppendRows(ctx context.Context, sheet string, rows [][]string) error
	}
)
