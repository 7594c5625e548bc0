package export

import (
	"reflect"
	"testing"
	"time"

	"tresen/internal/core"
)

// Column positions in the accounting export.
const (
	colMemberNr     = 0
	colBillNr       = 2
	colBillDate     = 4
	colPositionNr   = 5
	colPositionName = 6
	colPositionDesc = 7
	colAmount       = 8
	colUnitPrice    = 9
	colSepa         = 10
)

// Column positions in the oversight export.
const (
	ovUsername    = 0
	ovDay         = 3
	ovItemName    = 4
	ovItemCount   = 5
	ovUnitPrice   = 6
	ovBudgetOut   = 7
	ovDonor       = 8
	ovRecipient   = 10
	ovIsSpecial   = 12
	ovIsGiveout   = 13
	ovIsCount     = 14
	ovIsBudget    = 15
	ovIsIncoming  = 16
	ovIsFFA       = 17
)

func millis(year int, month time.Month, day int) int64 {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC).UnixMilli()
}

// testSnapshot builds the reference fixture: alice buys beer and soda on
// day 0, gets an FFA beer giveout plus a priced special on day 3 and
// exchanges budget with charlie; bob has consumption but no external id.
func testSnapshot() *core.BillSnapshot {
	return &core.BillSnapshot{
		StartMillis: millis(2019, time.March, 1),
		EndMillis:   millis(2019, time.March, 31),
		Users: map[uint32]core.User{
			0: {ID: 0, Username: "alice", ExternalID: "ExternalUserId0", IsBilled: true},
			1: {ID: 1, Username: "bob", IsBilled: true},
			2: {ID: 2, Username: "charlie", ExternalID: "ExternalUserId2", IsBilled: true},
		},
		Items: map[uint32]core.Item{
			0: {ID: 0, Name: "beer", CostCents: 95},
			1: {ID: 1, Name: "soda", CostCents: 85},
		},
		Ledgers: map[uint32]core.UserLedger{
			0: {PerDay: map[uint32]core.DayLedger{
				0: {PersonallyConsumed: map[uint32]uint32{0: 3, 1: 19}},
				3: {
					SpecialsConsumed: []core.PricedSpecial{{Name: "Banana", PurchaseID: 77, PriceCents: 12345}},
					FFAGiveouts:      map[uint32]uint32{0: 9},
					GiveoutsToUsers: map[uint32]core.PaidFor{
						2: {BudgetGivenCents: 45, BudgetReceivedCents: 140},
					},
				},
			}},
			1: {PerDay: map[uint32]core.DayLedger{
				0: {PersonallyConsumed: map[uint32]uint32{0: 1}},
			}},
			2: {PerDay: map[uint32]core.DayLedger{}},
		},
	}
}

func mustAccounting(t *testing.T, e *Engine, snap *core.BillSnapshot) [][]string {
	t.Helper()
	rows, err := e.AccountingExport(snap)
	if err != nil {
		t.Fatalf("AccountingExport: %v", err)
	}
	return rows
}

func TestAccountingExportSelfPurchases(t *testing.T) {
	rows := mustAccounting(t, New(Options{}), testSnapshot())

	// bob lacks an external id; every row belongs to alice
	for i, row := range rows {
		if row[colMemberNr] != "ExternalUserId0" {
			t.Fatalf("row %d belongs to %q, want alice only", i, row[colMemberNr])
		}
		if len(row) != len(AccountingHeader()) {
			t.Fatalf("row %d has %d cells, want %d", i, len(row), len(AccountingHeader()))
		}
	}

	// day 0: beer then soda, item-id order
	if rows[0][colPositionDesc] != "Selbst gekauft" || rows[1][colPositionDesc] != "Selbst gekauft" {
		t.Errorf("self purchases must carry 'Selbst gekauft', got %q / %q",
			rows[0][colPositionDesc], rows[1][colPositionDesc])
	}
	if rows[0][colPositionName] != "beer" || rows[1][colPositionName] != "soda" {
		t.Errorf("day 0 order = %q, %q; want beer, soda", rows[0][colPositionName], rows[1][colPositionName])
	}
	if rows[0][colAmount] != "3" || rows[1][colAmount] != "19" {
		t.Errorf("counts = %q, %q; want 3, 19", rows[0][colAmount], rows[1][colAmount])
	}
	if rows[0][colUnitPrice] != "0,95" || rows[1][colUnitPrice] != "0,85" {
		t.Errorf("prices = %q, %q; want 0,95 and 0,85", rows[0][colUnitPrice], rows[1][colUnitPrice])
	}
	if rows[0][colPositionNr] != "0" || rows[1][colPositionNr] != "1" {
		t.Errorf("positions = %q, %q; want 0 and 1", rows[0][colPositionNr], rows[1][colPositionNr])
	}
}

func TestAccountingExportDay3Ordering(t *testing.T) {
	rows := mustAccounting(t, New(Options{}), testSnapshot())
	if len(rows) != 6 {
		t.Fatalf("expected 6 rows for alice, got %d", len(rows))
	}

	// day 3: special, then ffa, then budget out, then budget in
	if rows[2][colPositionDesc] != "Speziell abgestrichen" || rows[2][colPositionName] != "Banana" {
		t.Errorf("row 2 = %q/%q, want Banana special", rows[2][colPositionName], rows[2][colPositionDesc])
	}
	if rows[2][colAmount] != "1" || rows[2][colUnitPrice] != "123,45" {
		t.Errorf("special count/price = %q/%q, want 1/123,45", rows[2][colAmount], rows[2][colUnitPrice])
	}
	if rows[3][colPositionDesc] != "An alle ausgegeben" || rows[3][colAmount] != "9" || rows[3][colUnitPrice] != "0,95" {
		t.Errorf("ffa row = %q count %q price %q", rows[3][colPositionDesc], rows[3][colAmount], rows[3][colUnitPrice])
	}
	if rows[4][colPositionName] != "Guthaben verschenkt an charlie" || rows[4][colUnitPrice] != "0,45" {
		t.Errorf("budget-out row = %q price %q", rows[4][colPositionName], rows[4][colUnitPrice])
	}
	if rows[5][colPositionName] != "Guthaben erhalten von charlie" || rows[5][colUnitPrice] != "-1,40" {
		t.Errorf("budget-in row = %q price %q", rows[5][colPositionName], rows[5][colUnitPrice])
	}

	// position indices continue across the day boundary
	for i, row := range rows {
		if row[colPositionNr] != itoa(i) {
			t.Errorf("row %d position = %q, want %d", i, row[colPositionNr], i)
		}
	}
}

func itoa(i int) string {
	return string(rune('0' + i))
}

func TestAccountingExportLegacyNegativeMoney(t *testing.T) {
	rows := mustAccounting(t, New(Options{LegacyNegativeMoneyFormat: true}), testSnapshot())
	if rows[5][colUnitPrice] != "-1,40" {
		t.Errorf("legacy budget-in price = %q, want -1,40", rows[5][colUnitPrice])
	}
}

func TestAccountingExportDeterminism(t *testing.T) {
	e := New(Options{})
	first := mustAccounting(t, e, testSnapshot())
	second := mustAccounting(t, e, testSnapshot())
	if !reflect.DeepEqual(first, second) {
		t.Error("two exports over the same snapshot differ")
	}
}

func TestAccountingExportIgnoresIneligibleUsers(t *testing.T) {
	e := New(Options{})
	base := mustAccounting(t, e, testSnapshot())

	// adding another user without external id must not change the output
	snap := testSnapshot()
	snap.Users[7] = core.User{ID: 7, Username: "mallory", IsBilled: true}
	snap.Ledgers[7] = core.UserLedger{PerDay: map[uint32]core.DayLedger{
		1: {PersonallyConsumed: map[uint32]uint32{0: 4}},
	}}
	if got := mustAccounting(t, e, snap); !reflect.DeepEqual(base, got) {
		t.Error("ineligible user changed the accounting export")
	}

	// excluding alice removes all rows
	snap = testSnapshot()
	snap.Excluded = map[uint32]struct{}{0: {}}
	if got := mustAccounting(t, e, snap); len(got) != 0 {
		t.Errorf("excluded user still produced %d rows", len(got))
	}
}

func TestAccountingExportMissingItemFails(t *testing.T) {
	snap := testSnapshot()
	delete(snap.Items, 1)

	_, err := New(Options{}).AccountingExport(snap)
	if err == nil {
		t.Fatal("expected hard failure for missing item reference")
	}
}

func TestAccountingBillMetadata(t *testing.T) {
	rows := mustAccounting(t, New(Options{}), testSnapshot())
	row := rows[0]

	if row[colBillDate] != "31.03.2019" {
		t.Errorf("bill date = %q, want window end 31.03.2019", row[colBillDate])
	}
	// yymmdd + always-zero seconds + member number
	if row[colBillNr] != "19033100ExternalUserId0" {
		t.Errorf("bill number = %q", row[colBillNr])
	}
	if row[colSepa] != "1" {
		t.Errorf("non-sepa member must pay per Ueberweisung, got %q", row[colSepa])
	}
	if row[15] != "14.04.2019" { // Faelligkeit = creation + 14 days
		t.Errorf("due date = %q, want 14.04.2019", row[15])
	}
	if row[16] != "31.03.2119" { // Positionsende = creation + 100 years
		t.Errorf("position end = %q, want 31.03.2119", row[16])
	}
}

func TestOversightFlagsLegacy(t *testing.T) {
	e := New(Options{LegacyIsSpecialSemantics: true})
	rows, err := e.OversightExportForUser(testSnapshot(), 0)
	if err != nil {
		t.Fatalf("OversightExportForUser: %v", err)
	}
	if len(rows) != 6 {
		t.Fatalf("expected 6 oversight rows for alice, got %d", len(rows))
	}

	// kind per row: self, self, special, ffa, budget-out, budget-in
	wantFlags := [][6]string{
		{"true", "false", "false", "false", "false", "false"},  // self-purchase
		{"true", "false", "false", "false", "false", "false"},  // self-purchase
		{"false", "false", "false", "false", "false", "false"}, // special (inverted legacy naming)
		{"false", "true", "false", "false", "false", "true"},   // ffa
		{"false", "true", "false", "true", "false", "false"},   // budget out
		{"false", "true", "false", "true", "true", "false"},    // budget in
	}
	for i, row := range rows {
		got := [6]string{
			row[ovIsSpecial], row[ovIsGiveout], row[ovIsCount],
			row[ovIsBudget], row[ovIsIncoming], row[ovIsFFA],
		}
		if got != wantFlags[i] {
			t.Errorf("row %d flags = %v, want %v", i, got, wantFlags[i])
		}
	}
}

func TestOversightFlagsCorrected(t *testing.T) {
	rows, err := New(Options{}).OversightExportForUser(testSnapshot(), 0)
	if err != nil {
		t.Fatalf("OversightExportForUser: %v", err)
	}

	// with the compatibility switch off, is_special marks actual specials
	if rows[0][ovIsSpecial] != "false" || rows[1][ovIsSpecial] != "false" {
		t.Error("self-purchases must not set is_special under corrected semantics")
	}
	if rows[2][ovIsSpecial] != "true" {
		t.Error("priced special must set is_special under corrected semantics")
	}
	for i, row := range rows[3:] {
		if row[ovIsSpecial] != "false" {
			t.Errorf("row %d sets is_special, giveout kinds never do", i+3)
		}
	}
}

func TestOversightBudgetColumns(t *testing.T) {
	e := New(Options{})
	rows, err := e.OversightExportForUser(testSnapshot(), 0)
	if err != nil {
		t.Fatalf("OversightExportForUser: %v", err)
	}

	out, in := rows[4], rows[5]
	if out[ovBudgetOut] != "45" || in[ovBudgetOut] != "-140" {
		t.Errorf("budget_cents_outgoing = %q / %q, want 45 / -140", out[ovBudgetOut], in[ovBudgetOut])
	}
	if out[ovItemName] != "" || in[ovItemName] != "" {
		t.Error("budget rows must not carry an item name")
	}
	if out[ovDonor] != "alice" || out[ovRecipient] != "charlie" {
		t.Errorf("budget-out donor/recipient = %q/%q", out[ovDonor], out[ovRecipient])
	}
	if in[ovDonor] != "charlie" || in[ovRecipient] != "alice" {
		t.Errorf("budget-in donor/recipient = %q/%q", in[ovDonor], in[ovRecipient])
	}
}

func TestOversightDayAndCount(t *testing.T) {
	e := New(Options{})
	rows, err := e.OversightExportForUser(testSnapshot(), 0)
	if err != nil {
		t.Fatalf("OversightExportForUser: %v", err)
	}

	if rows[0][ovDay] != "01.03.2019" {
		t.Errorf("day 0 date = %q, want 01.03.2019", rows[0][ovDay])
	}
	ffa := rows[3]
	if ffa[ovDay] != "04.03.2019" {
		t.Errorf("day 3 date = %q, want 04.03.2019", ffa[ovDay])
	}
	if ffa[ovItemCount] != "9" || ffa[ovUnitPrice] != "0,95" {
		t.Errorf("ffa count/price = %q/%q", ffa[ovItemCount], ffa[ovUnitPrice])
	}
	for i, row := range rows {
		if len(row) != len(OversightHeader()) {
			t.Fatalf("row %d has %d cells, want %d", i, len(row), len(OversightHeader()))
		}
	}
}

func TestOversightEmptyLedger(t *testing.T) {
	// charlie carries an external id but has no entries in the window
	rows, err := New(Options{}).OversightExportForUser(testSnapshot(), 2)
	if err != nil {
		t.Fatalf("empty ledger must not fail: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("expected no rows, got %d", len(rows))
	}
}

func TestOversightExportAllConcatenatesInUserOrder(t *testing.T) {
	snap := testSnapshot()
	// give charlie a personal purchase so two users emit rows
	snap.Ledgers[2] = core.UserLedger{PerDay: map[uint32]core.DayLedger{
		0: {PersonallyConsumed: map[uint32]uint32{1: 2}},
	}}

	rows, err := New(Options{}).OversightExportAll(snap)
	if err != nil {
		t.Fatalf("OversightExportAll: %v", err)
	}
	if len(rows) != 7 {
		t.Fatalf("expected 6 alice + 1 charlie rows, got %d", len(rows))
	}
	for i, row := range rows[:6] {
		if row[ovUsername] != "alice" {
			t.Errorf("row %d = %q, want alice block first", i, row[ovUsername])
		}
	}
	if rows[6][ovUsername] != "charlie" {
		t.Errorf("last row = %q, want charlie", rows[6][ovUsername])
	}
}

func TestHeaders(t *testing.T) {
	if got := len(AccountingHeader()); got != 24 {
		t.Errorf("accounting header has %d columns, want 24", got)
	}
	if got := len(OversightHeader()); got != 18 {
		t.Errorf("oversight header has %d columns, want 18", got)
	}
	if AccountingHeader()[0] != "Mitgliedsnummer" || AccountingHeader()[23] != "Unterkonto Kantine" {
		t.Error("accounting header columns out of order")
	}
	if OversightHeader()[0] != "username" || OversightHeader()[17] != "is_ffa" {
		t.Error("oversight header columns out of order")
	}
}

func TestJoinRows(t *testing.T) {
	content := Document([]string{"a", "b"}, [][]string{{"1", "2"}, {"3", "4"}})
	want := "a;b\n1;2\n3;4\n"
	if content != want {
		t.Errorf("Document = %q, want %q", content, want)
	}
}
