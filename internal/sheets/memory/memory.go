// Package memory is an in-memory RowAppender used in tests and when no
// spreadsheet is configured.
package memory

import (
	"context"
	"sync"

	ports "tresen/internal/sheets"
)

type Appender struct {
	mu     sync.Mutex
	sheets map[string][][]string
}

var _ ports.RowAppender = (*Appender)(nil)

func New() *Appender {
	return &Appender{sheets: make(map[string][][]string)}
}

func (a *Appender) AppendRows(_ context.Context, sheet string, rows [][]string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sheets[sheet] = append(a.sheets[sheet], rows...)
	return nil
}

// Rows returns a copy of everything appended to the sheet so far.
func (a *Appender) Rows(sheet string) [][]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	rows := a.sheets[sheet]
	out := make([][]string, len(rows))
	copy(out, rows)
	return out
}
