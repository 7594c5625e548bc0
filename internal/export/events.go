// Package export turns a finalized bill snapshot into the two tabular
// exports: the SEWOBE accounting-import CSV and the internal oversight CSV.
//
// Row order is part of the external format's meaning. Every map traversal
// therefore goes through an explicitly sorted key slice; native map
// iteration order is never relied upon.
package export

import (
	"fmt"
	"sort"

	"tresen/internal/core"
)

// EventKind classifies one billable event of a user's ledger.
type EventKind int

const (
	SelfPurchase EventKind = iota
	SpecialPurchase
	FFAConsumed
	BudgetOut
	BudgetIn
	CountGiveoutOut
)

// BillableEvent is one classified, orderable unit of consumption or
// transfer. PriceCents is signed: received budget is negative.
type BillableEvent struct {
	Kind     EventKind
	DayIndex uint32

	// ItemName is the consumed item's (or special's) name; empty for
	// budget transfers.
	ItemName string

	// Other is the counterpart user for giveouts and budget transfers.
	Other core.User

	Count      uint32
	PriceCents int32
}

func sortedKeys[V any](m map[uint32]V) []uint32 {
	keys := make([]uint32, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// enumerateUserEvents walks one user's ledger in the fixed order: days
// ascending; within a day personally-consumed items (item id ascending),
// then specials (insertion order), then free-for-all giveouts (item id
// ascending), then per-other-user giveouts (other user id ascending,
// budget given before budget received before count giveouts).
//
// A referenced item or user missing from the snapshot fails the whole
// enumeration; a partial export is worse than none.
func enumerateUserEvents(snap *core.BillSnapshot, userID uint32) ([]BillableEvent, error) {
	ledger, ok := snap.Ledgers[userID]
	if !ok {
		return nil, nil
	}

	var events []BillableEvent
	for _, day := range sortedKeys(ledger.PerDay) {
		dl := ledger.PerDay[day]

		for _, itemID := range sortedKeys(dl.PersonallyConsumed) {
			item, ok := snap.Items[itemID]
			if !ok {
				return nil, fmt.Errorf("%w: item %d referenced by user %d on day %d", core.ErrItemNotFound, itemID, userID, day)
			}
			events = append(events, BillableEvent{
				Kind:       SelfPurchase,
				DayIndex:   day,
				ItemName:   item.Name,
				Count:      dl.PersonallyConsumed[itemID],
				PriceCents: item.CostCents,
			})
		}

		for _, sp := range dl.SpecialsConsumed {
			events = append(events, BillableEvent{
				Kind:       SpecialPurchase,
				DayIndex:   day,
				ItemName:   sp.Name,
				Count:      1,
				PriceCents: sp.PriceCents,
			})
		}

		for _, itemID := range sortedKeys(dl.FFAGiveouts) {
			item, ok := snap.Items[itemID]
			if !ok {
				return nil, fmt.Errorf("%w: ffa item %d referenced by user %d on day %d", core.ErrItemNotFound, itemID, userID, day)
			}
			events = append(events, BillableEvent{
				Kind:       FFAConsumed,
				DayIndex:   day,
				ItemName:   item.Name,
				Count:      dl.FFAGiveouts[itemID],
				PriceCents: item.CostCents,
			})
		}

		for _, otherID := range sortedKeys(dl.GiveoutsToUsers) {
			other, ok := snap.Users[otherID]
			if !ok {
				return nil, fmt.Errorf("%w: user %d referenced by user %d on day %d", core.ErrUserNotFound, otherID, userID, day)
			}
			pf := dl.GiveoutsToUsers[otherID]

			if pf.BudgetGivenCents > 0 {
				events = append(events, BillableEvent{
					Kind:       BudgetOut,
					DayIndex:   day,
					Other:      other,
					Count:      1,
					PriceCents: int32(pf.BudgetGivenCents),
				})
			}
			if pf.BudgetReceivedCents > 0 {
				events = append(events, BillableEvent{
					Kind:       BudgetIn,
					DayIndex:   day,
					Other:      other,
					Count:      1,
					PriceCents: -int32(pf.BudgetReceivedCents),
				})
			}
			for _, itemID := range sortedKeys(pf.CountGiveouts) {
				item, ok := snap.Items[itemID]
				if !ok {
					return nil, fmt.Errorf("%w: giveout item %d referenced by user %d on day %d", core.ErrItemNotFound, itemID, userID, day)
				}
				events = append(events, BillableEvent{
					Kind:       CountGiveoutOut,
					DayIndex:   day,
					ItemName:   item.Name,
					Other:      other,
					Count:      pf.CountGiveouts[itemID],
					PriceCents: item.CostCents,
				})
			}
		}
	}
	return events, nil
}
