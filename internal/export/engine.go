package export

import (
	"tresen/internal/core"
)

// Options carries the compatibility switches of the export engine.
type Options struct {
	// LegacyNegativeMoneyFormat reproduces the historic defective sign
	// placement for negative amounts (see core.FormatCentsLegacyNegative).
	// Files already imported downstream were produced with it; leave it
	// off for new installations.
	LegacyNegativeMoneyFormat bool

	// LegacyIsSpecialSemantics keeps the historic inverted meaning of the
	// oversight is_special column: true for ordinary self-purchases and
	// false for manually-priced specials. Existing consumers key on the
	// inverted meaning, so deployments with downstream tooling keep this
	// on. When off, is_special marks actual specials.
	LegacyIsSpecialSemantics bool
}

// Engine renders a finalized bill snapshot into export rows. It holds no
// state besides options: a single call is a pure computation over the
// snapshot, and concurrent calls are independent.
type Engine struct {
	opts Options
}

func New(opts Options) *Engine {
	return &Engine{opts: opts}
}

func (e *Engine) money(cents int32) string {
	if e.opts.LegacyNegativeMoneyFormat {
		return core.FormatCentsLegacyNegative(cents)
	}
	return core.FormatCents(cents)
}

// AccountingExport returns the SEWOBE import rows for every eligible user
// of the snapshot, users in ascending id order. It fails outright when a
// ledger references an unknown item or user.
func (e *Engine) AccountingExport(snap *core.BillSnapshot) ([][]string, error) {
	rows := make([][]string, 0)
	for _, userID := range sortedKeys(snap.Users) {
		if !snap.BilledEligible(userID) {
			continue
		}
		events, err := enumerateUserEvents(snap, userID)
		if err != nil {
			return nil, err
		}
		user := snap.Users[userID]
		for pos, ev := range events {
			rows = append(rows, e.accountingRow(snap, user, pos, ev))
		}
	}
	return rows, nil
}

// OversightExportAll returns the audit rows for every user carrying an
// external id, concatenated in ascending user-id order.
func (e *Engine) OversightExportAll(snap *core.BillSnapshot) ([][]string, error) {
	rows := make([][]string, 0)
	for _, userID := range sortedKeys(snap.Users) {
		userRows, err := e.OversightExportForUser(snap, userID)
		if err != nil {
			return nil, err
		}
		rows = append(rows, userRows...)
	}
	return rows, nil
}

// OversightExportForUser returns the audit rows of a single user. A user
// without ledger entries (or outside the oversight population) yields an
// empty slice, not an error.
func (e *Engine) OversightExportForUser(snap *core.BillSnapshot, userID uint32) ([][]string, error) {
	if !snap.OversightEligible(userID) {
		return nil, nil
	}
	events, err := enumerateUserEvents(snap, userID)
	if err != nil {
		return nil, err
	}
	user := snap.Users[userID]
	rows := make([][]string, 0, len(events))
	for _, ev := range events {
		rows = append(rows, e.oversightRow(snap, user, ev))
	}
	return rows, nil
}
