package services

import (
	"fmt"

	"tresen/internal/core"
	"tresen/internal/storage"
)

// dayAccum collects one user's activity on one relative day before it is
// frozen into a core.DayLedger.
type dayAccum struct {
	personal map[uint32]uint32
	specials []core.PricedSpecial
	ffa      map[uint32]uint32
	giveouts map[uint32]*paidForAccum
}

type paidForAccum struct {
	given    uint32
	received uint32
	counts   map[uint32]uint32
}

// BuildSnapshot folds the purchase log of a billing window into the
// immutable per-user, per-day ledger form the export engine consumes.
// Purchases keep their insertion order, which fixes the order of specials
// inside a day. Timestamps before the window start land on day 0.
func BuildSnapshot(users []core.User, items []core.Item, purchases []storage.Purchase, startMillis, endMillis int64, comment string, group core.UserGroup, excluded []uint32) (*core.BillSnapshot, error) {
	snap := &core.BillSnapshot{
		StartMillis: startMillis,
		EndMillis:   endMillis,
		Comment:     comment,
		Group:       group,
		Users:       make(map[uint32]core.User, len(users)),
		Items:       make(map[uint32]core.Item, len(items)),
		Ledgers:     make(map[uint32]core.UserLedger),
	}
	for _, u := range users {
		snap.Users[u.ID] = u
	}
	for _, it := range items {
		snap.Items[it.ID] = it
	}
	if len(excluded) > 0 {
		snap.Excluded = make(map[uint32]struct{}, len(excluded))
		for _, id := range excluded {
			snap.Excluded[id] = struct{}{}
		}
	}

	accums := make(map[uint32]map[uint32]*dayAccum)
	dayOf := func(userID uint32, tsMillis int64) *dayAccum {
		days, ok := accums[userID]
		if !ok {
			days = make(map[uint32]*dayAccum)
			accums[userID] = days
		}
		day := core.DayIndexOf(startMillis, tsMillis)
		acc, ok := days[day]
		if !ok {
			acc = &dayAccum{}
			days[day] = acc
		}
		return acc
	}

	for _, p := range purchases {
		switch p.Kind {
		case storage.PurchaseSimple:
			if p.ItemID == nil {
				return nil, fmt.Errorf("purchase %d: simple purchase without item", p.ID)
			}
			acc := dayOf(p.UserID, p.TimestampMillis)
			if acc.personal == nil {
				acc.personal = make(map[uint32]uint32)
			}
			acc.personal[*p.ItemID] += p.Count

		case storage.PurchaseSpecial:
			acc := dayOf(p.UserID, p.TimestampMillis)
			acc.specials = append(acc.specials, core.PricedSpecial{
				Name:       p.SpecialName,
				PurchaseID: uint64(p.ID),
				PriceCents: p.PriceCents,
			})

		case storage.PurchaseFFA:
			if p.ItemID == nil {
				return nil, fmt.Errorf("purchase %d: ffa giveout without item", p.ID)
			}
			acc := dayOf(p.UserID, p.TimestampMillis)
			if acc.ffa == nil {
				acc.ffa = make(map[uint32]uint32)
			}
			acc.ffa[*p.ItemID] += p.Count

		case storage.PurchaseBudget:
			if p.OtherUserID == nil {
				return nil, fmt.Errorf("purchase %d: budget transfer without recipient", p.ID)
			}
			cents := uint32(p.PriceCents)
			giver := dayOf(p.UserID, p.TimestampMillis)
			giver.paidFor(*p.OtherUserID).given += cents
			receiver := dayOf(*p.OtherUserID, p.TimestampMillis)
			receiver.paidFor(p.UserID).received += cents

		case storage.PurchaseCountGiveout:
			if p.OtherUserID == nil || p.ItemID == nil {
				return nil, fmt.Errorf("purchase %d: count giveout without consumer or item", p.ID)
			}
			acc := dayOf(p.UserID, p.TimestampMillis)
			pf := acc.paidFor(*p.OtherUserID)
			if pf.counts == nil {
				pf.counts = make(map[uint32]uint32)
			}
			pf.counts[*p.ItemID] += p.Count

		default:
			return nil, fmt.Errorf("purchase %d: unknown kind %q", p.ID, p.Kind)
		}
	}

	for userID, days := range accums {
		ledger := core.UserLedger{PerDay: make(map[uint32]core.DayLedger, len(days))}
		for day, acc := range days {
			ledger.PerDay[day] = acc.freeze()
		}
		snap.Ledgers[userID] = ledger
	}

	return snap, nil
}

func (a *dayAccum) paidFor(otherID uint32) *paidForAccum {
	if a.giveouts == nil {
		a.giveouts = make(map[uint32]*paidForAccum)
	}
	pf, ok := a.giveouts[otherID]
	if !ok {
		pf = &paidForAccum{}
		a.giveouts[otherID] = pf
	}
	return pf
}

func (a *dayAccum) freeze() core.DayLedger {
	day := core.DayLedger{
		PersonallyConsumed: a.personal,
		SpecialsConsumed:   a.specials,
		FFAGiveouts:        a.ffa,
	}
	if len(a.giveouts) > 0 {
		day.GiveoutsToUsers = make(map[uint32]core.PaidFor, len(a.giveouts))
		for otherID, pf := range a.giveouts {
			day.GiveoutsToUsers[otherID] = core.PaidFor{
				BudgetGivenCents:    pf.given,
				BudgetReceivedCents: pf.received,
				CountGiveouts:       pf.counts,
			}
		}
	}
	return day
}
