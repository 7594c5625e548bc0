package export

import (
	"strconv"

	"tresen/internal/core"
)

// oversightHeader is the fixed 18-column header of the internal audit
// export. Column names are part of the format; consumers select by name.
var oversightHeader = []string{
	"username",
	"user_id",
	"is_billed",
	"day",
	"item_name",
	"item_count",
	"item_cost_per_unit",
	"budget_cents_outgoing",
	"donor",
	"donor_id",
	"recipient",
	"recipient_id",
	"is_special",
	"is_giveout",
	"is_count",
	"is_budget",
	"is_incoming_donation",
	"is_ffa",
}

// OversightHeader returns the fixed header row of the oversight export.
func OversightHeader() []string {
	out := make([]string, len(oversightHeader))
	copy(out, oversightHeader)
	return out
}

// eventFlags is the per-kind boolean classification of an audit row.
type eventFlags struct {
	special, giveout, count, budget, incoming, ffa bool
}

// flagsFor maps an event kind onto its column flags. Under the legacy
// semantics is_special is inverted: true for ordinary self-purchases and
// false for actual manually-priced specials.
func (e *Engine) flagsFor(kind EventKind) eventFlags {
	var f eventFlags
	switch kind {
	case SelfPurchase:
		f = eventFlags{special: true}
	case SpecialPurchase:
		f = eventFlags{}
	case FFAConsumed:
		f = eventFlags{giveout: true, ffa: true}
	case BudgetOut:
		f = eventFlags{giveout: true, budget: true}
	case BudgetIn:
		f = eventFlags{giveout: true, budget: true, incoming: true}
	case CountGiveoutOut:
		f = eventFlags{giveout: true, count: true}
	}
	if !e.opts.LegacyIsSpecialSemantics {
		switch kind {
		case SelfPurchase:
			f.special = false
		case SpecialPurchase:
			f.special = true
		}
	}
	return f
}

func boolCell(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func userCells(u core.User) (name, id string) {
	return u.Username, strconv.FormatUint(uint64(u.ID), 10)
}

// oversightRow assembles one 18-field audit row for an event of the given
// user. Budget transfers carry no item name; budget_cents_outgoing is
// positive when this user gave budget away and negative when they
// received some.
func (e *Engine) oversightRow(snap *core.BillSnapshot, user core.User, ev BillableEvent) []string {
	day := core.WindowDay(snap.StartMillis, ev.DayIndex)

	var budgetOutgoing int32
	var donor, donorID, recipient, recipientID string
	switch ev.Kind {
	case BudgetOut:
		budgetOutgoing = ev.PriceCents
		donor, donorID = userCells(user)
		recipient, recipientID = userCells(ev.Other)
	case BudgetIn:
		budgetOutgoing = ev.PriceCents // already negated
		donor, donorID = userCells(ev.Other)
		recipient, recipientID = userCells(user)
	case CountGiveoutOut:
		donor, donorID = userCells(user)
		recipient, recipientID = userCells(ev.Other)
	}

	flags := e.flagsFor(ev.Kind)

	return []string{
		user.Username,
		strconv.FormatUint(uint64(user.ID), 10),
		boolCell(user.IsBilled),
		core.FormatDateLong(day),
		ev.ItemName,
		strconv.FormatUint(uint64(ev.Count), 10),
		e.money(ev.PriceCents),
		strconv.FormatInt(int64(budgetOutgoing), 10),
		donor,
		donorID,
		recipient,
		recipientID,
		boolCell(flags.special),
		boolCell(flags.giveout),
		boolCell(flags.count),
		boolCell(flags.budget),
		boolCell(flags.incoming),
		boolCell(flags.ffa),
	}
}
