package memory

import (
	"context"
	"testing"
)

func TestAppendAndRead(t *testing.T) {
	a := New()
	ctx := context.Background()

	if err := a.AppendRows(ctx, "audit", [][]string{{"a", "b"}}); err != nil {
		t.Fatalf("AppendRows() error = %v", err)
	}
	if err := a.AppendRows(ctx, "audit", [][]string{{"c", "d"}, {"e", "f"}}); err != nil {
		t.Fatalf("AppendRows() error = %v", err)
	}

	rows := a.Rows("audit")
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}
	if rows[0][0] != "a" || rows[2][1] != "f" {
		t.Errorf("rows out of order: %v", rows)
	}
}

func TestRowsAreIsolatedPerSheet(t *testing.T) {
	a := New()
	ctx := context.Background()

	if err := a.AppendRows(ctx, "one", [][]string{{"x"}}); err != nil {
		t.Fatal(err)
	}
	if got := a.Rows("two"); len(got) != 0 {
		t.Errorf("sheet two has %d rows, want 0", len(got))
	}
}

func TestRowsReturnsCopy(t *testing.T) {
	a := New()
	ctx := context.Background()

	if err := a.AppendRows(ctx, "audit", [][]string{{"x"}}); err != nil {
		t.Fatal(err)
	}

	first := a.Rows("audit")
	first[0] = []string{"mutated"}

	if got := a.Rows("audit"); got[0][0] != "x" {
		t.Error("Rows() must not expose internal state")
	}
}
