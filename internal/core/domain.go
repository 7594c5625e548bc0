package core

import "errors"

type (
	// User is a member of the club. ExternalID is the membership number in
	// the external accounting system; members without one never appear in
	// the accounting-import export.
	User struct {
		ID          uint32 `json:"id"`
		Username    string `json:"username"`
		ExternalID  string `json:"external_id,omitempty"`
		IsBilled    bool   `json:"is_billed"`
		IsSepa      bool   `json:"is_sepa"`
		Highlighted bool   `json:"highlighted"`
		Deleted     bool   `json:"deleted"`
	}

	// Item is a purchasable article with a fixed unit cost in cents.
	Item struct {
		ID        uint32 `json:"id"`
		Name      string `json:"name"`
		CostCents int32  `json:"cost_cents"`
		Deleted   bool   `json:"deleted"`
	}

	// PricedSpecial is a one-off consumption whose price was fixed at
	// finalization time. It is not looked up through the item table.
	PricedSpecial struct {
		Name       string `json:"name"`
		PurchaseID uint64 `json:"purchase_id"`
		PriceCents int32  `json:"price_cents"`
	}

	// PaidFor records what one user paid for another user within a day:
	// budget moved in both directions plus count-giveout consumptions
	// keyed by item id.
	PaidFor struct {
		BudgetGivenCents    uint32            `json:"budget_given_cents"`
		BudgetReceivedCents uint32            `json:"budget_received_cents"`
		CountGiveouts       map[uint32]uint32 `json:"count_giveouts,omitempty"`
	}

	// DayLedger holds one user's consumption on one relative day of the
	// billing window. SpecialsConsumed keeps insertion order; the maps are
	// unordered and must be traversed through sorted key slices.
	DayLedger struct {
		PersonallyConsumed map[uint32]uint32  `json:"personally_consumed,omitempty"`
		SpecialsConsumed   []PricedSpecial    `json:"specials_consumed,omitempty"`
		FFAGiveouts        map[uint32]uint32  `json:"ffa_giveouts,omitempty"`
		GiveoutsToUsers    map[uint32]PaidFor `json:"giveouts_to_users,omitempty"`
	}

	// UserLedger maps relative day indices (whole-day offsets from the
	// window start, non-negative, not necessarily contiguous) to that
	// user's DayLedger.
	UserLedger struct {
		PerDay map[uint32]DayLedger `json:"per_day,omitempty"`
	}

	// UserGroup names the population a bill targets.
	UserGroup struct {
		AllBilled bool     `json:"all_billed"`
		UserIDs   []uint32 `json:"user_ids,omitempty"`
	}

	// BillSnapshot is the immutable result of finalizing a billing period.
	// It is produced exactly once by the billing service and consumed
	// read-only by the export engine.
	BillSnapshot struct {
		StartMillis int64  `json:"start_millis"`
		EndMillis   int64  `json:"end_millis"`
		Comment     string `json:"comment,omitempty"`

		Group    UserGroup           `json:"group"`
		Excluded map[uint32]struct{} `json:"excluded,omitempty"`

		Users   map[uint32]User       `json:"users"`
		Items   map[uint32]Item       `json:"items"`
		Ledgers map[uint32]UserLedger `json:"ledgers"`
	}
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrItemNotFound = errors.New("item not found")
	ErrBillNotFound = errors.New("bill not found")
	ErrEmptyWindow  = errors.New("billing window is empty")
)

// IsExcluded reports whether a user was explicitly taken out of this bill.
func (s *BillSnapshot) IsExcluded(userID uint32) bool {
	_, ok := s.Excluded[userID]
	return ok
}

// BilledEligible reports whether a user appears in the accounting-import
// export: the user must exist, carry an external id, have billing enabled
// and not be excluded from this bill.
func (s *BillSnapshot) BilledEligible(userID uint32) bool {
	u, ok := s.Users[userID]
	if !ok {
		return false
	}
	return u.ExternalID != "" && u.IsBilled && !s.IsExcluded(userID)
}

// OversightEligible is the looser filter of the audit export: the user
// must exist and carry an external id. Billing status is reported on the
// rows instead of filtering them.
func (s *BillSnapshot) OversightEligible(userID uint32) bool {
	u, ok := s.Users[userID]
	return ok && u.ExternalID != ""
}
