package core

import "testing"

func snapshotWithUsers(users ...User) *BillSnapshot {
	s := &BillSnapshot{
		Users:   make(map[uint32]User),
		Items:   make(map[uint32]Item),
		Ledgers: make(map[uint32]UserLedger),
	}
	for _, u := range users {
		s.Users[u.ID] = u
	}
	return s
}

func TestBilledEligible(t *testing.T) {
	snap := snapshotWithUsers(
		User{ID: 0, Username: "alice", ExternalID: "ExternalUserId0", IsBilled: true},
		User{ID: 1, Username: "bob", IsBilled: true},
		User{ID: 2, Username: "carol", ExternalID: "ExternalUserId2", IsBilled: false},
		User{ID: 3, Username: "dave", ExternalID: "ExternalUserId3", IsBilled: true},
	)
	snap.Excluded = map[uint32]struct{}{3: {}}

	cases := []struct {
		userID uint32
		want   bool
	}{
		{0, true},
		{1, false}, // no external id
		{2, false}, // not billed
		{3, false}, // explicitly excluded
		{9, false}, // unknown
	}
	for _, tc := range cases {
		if got := snap.BilledEligible(tc.userID); got != tc.want {
			t.Errorf("BilledEligible(%d) = %v, want %v", tc.userID, got, tc.want)
		}
	}
}

func TestOversightEligible(t *testing.T) {
	snap := snapshotWithUsers(
		User{ID: 0, Username: "alice", ExternalID: "ExternalUserId0", IsBilled: true},
		User{ID: 1, Username: "bob"},
		User{ID: 2, Username: "carol", ExternalID: "ExternalUserId2", IsBilled: false},
	)
	snap.Excluded = map[uint32]struct{}{0: {}}

	// not billed and even excluded users stay visible for oversight;
	// only a missing external id hides a user
	for _, tc := range []struct {
		userID uint32
		want   bool
	}{
		{0, true},
		{1, false},
		{2, true},
		{9, false},
	} {
		if got := snap.OversightEligible(tc.userID); got != tc.want {
			t.Errorf("OversightEligible(%d) = %v, want %v", tc.userID, got, tc.want)
		}
	}
}
