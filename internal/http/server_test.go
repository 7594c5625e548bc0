package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tresen/internal/core"
	"tresen/internal/export"
	"tresen/internal/services"
	"tresen/internal/storage"
	"tresen/internal/tickets"
)

type fakeBilling struct {
	finalized int
}

func (f *fakeBilling) RecordSimplePurchase(_ context.Context, _, _, _ uint32, _ int64) (int64, error) {
	return 1, nil
}
func (f *fakeBilling) RecordSpecialPurchase(_ context.Context, _ uint32, _ string, _ int32, _ int64) (int64, error) {
	return 1, nil
}
func (f *fakeBilling) RecordCart(_ context.Context, _ uint32, _ map[uint32]uint32, _ []services.CartSpecial, _ int64) error {
	return nil
}
func (f *fakeBilling) RecordFFAGiveout(_ context.Context, _, _, _ uint32, _ int64) (int64, error) {
	return 1, nil
}
func (f *fakeBilling) RecordBudgetTransfer(_ context.Context, _, _, _ uint32, _ int64) (int64, error) {
	return 1, nil
}
func (f *fakeBilling) RecordCountGiveout(_ context.Context, _, _, _, _ uint32, _ int64) (int64, error) {
	return 1, nil
}
func (f *fakeBilling) UndoPurchase(_ context.Context, _ int64) error { return nil }
func (f *fakeBilling) FinalizeBill(_ context.Context, start, end int64, comment string, _ core.UserGroup, _ []uint32) (*storage.Bill, error) {
	if end <= start {
		return nil, core.ErrEmptyWindow
	}
	f.finalized++
	return &storage.Bill{ID: 1, StartMillis: start, EndMillis: end, Comment: comment}, nil
}
func (f *fakeBilling) GetUserDetail(_ context.Context, id uint32) (*services.UserDetail, error) {
	if id != 1 {
		return nil, core.ErrUserNotFound
	}
	return &services.UserDetail{User: core.User{ID: 1, Username: "alice"}}, nil
}

type fakeRepo struct {
	bills map[int64]*storage.Bill
}

func (f *fakeRepo) CreateUser(_ context.Context, username string) (core.User, error) {
	return core.User{ID: 1, Username: username, IsBilled: true}, nil
}
func (f *fakeRepo) GetUser(_ context.Context, id uint32) (core.User, error) {
	if id != 1 {
		return core.User{}, core.ErrUserNotFound
	}
	return core.User{ID: 1, Username: "alice", IsBilled: true}, nil
}
func (f *fakeRepo) ListUsers(_ context.Context, _ bool) ([]core.User, error) {
	return []core.User{{ID: 1, Username: "alice", IsBilled: true}}, nil
}
func (f *fakeRepo) UpdateUser(_ context.Context, _ core.User) error { return nil }
func (f *fakeRepo) CreateItem(_ context.Context, name string, costCents int32) (core.Item, error) {
	return core.Item{ID: 1, Name: name, CostCents: costCents}, nil
}
func (f *fakeRepo) ListItems(_ context.Context, _ bool) ([]core.Item, error) { return nil, nil }
func (f *fakeRepo) DeleteItem(_ context.Context, _ uint32) error             { return nil }
func (f *fakeRepo) GlobalLog(_ context.Context, _, _ int) ([]storage.Purchase, error) {
	return nil, nil
}
func (f *fakeRepo) PersonalLog(_ context.Context, _ uint32, _, _ int) ([]storage.Purchase, error) {
	return nil, nil
}
func (f *fakeRepo) TopUsers(_ context.Context, _ int64, limit int) ([]storage.UserStat, error) {
	stats := []storage.UserStat{
		{ID: 1, Name: "alice", Count: 23},
		{ID: 2, Name: "charlie", Count: 5},
	}
	if limit < len(stats) {
		stats = stats[:limit]
	}
	return stats, nil
}
func (f *fakeRepo) GetBill(_ context.Context, id int64) (*storage.Bill, error) {
	b, ok := f.bills[id]
	if !ok {
		return nil, core.ErrBillNotFound
	}
	return b, nil
}
func (f *fakeRepo) ListBills(_ context.Context) ([]storage.Bill, error) { return nil, nil }

func testBill() *storage.Bill {
	start := time.Date(2019, 3, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	end := time.Date(2019, 3, 31, 0, 0, 0, 0, time.UTC).UnixMilli()
	return &storage.Bill{
		ID:          7,
		StartMillis: start,
		EndMillis:   end,
		Snapshot: &core.BillSnapshot{
			StartMillis: start,
			EndMillis:   end,
			Group:       core.UserGroup{AllBilled: true},
			Users: map[uint32]core.User{
				1: {ID: 1, Username: "alice", ExternalID: "A1", IsBilled: true},
			},
			Items: map[uint32]core.Item{
				1: {ID: 1, Name: "beer", CostCents: 95},
			},
			Ledgers: map[uint32]core.UserLedger{
				1: {PerDay: map[uint32]core.DayLedger{
					0: {PersonallyConsumed: map[uint32]uint32{1: 2}},
				}},
			},
		},
	}
}

func newTestServer() (*Server, *fakeBilling) {
	billing := &fakeBilling{}
	repo := &fakeRepo{bills: map[int64]*storage.Bill{7: testBill()}}
	srv := NewServer(":0", billing, repo, export.New(export.Options{}),
		tickets.NewManager("server-test-secret", time.Hour), "hunter2")
	return srv, billing
}

func TestHealthEndpoints(t *testing.T) {
	srv, _ := newTestServer()
	for _, path := range []string{"/healthz", "/readyz"} {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		srv.Handler.ServeHTTP(rr, req)
		if rr.Code != 200 {
			t.Fatalf("%s status=%d", path, rr.Code)
		}
	}
}

func TestSecurityHeaders(t *testing.T) {
	srv, _ := newTestServer()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	srv.Handler.ServeHTTP(rr, req)

	if rr.Code != 200 {
		t.Fatalf("status=%d", rr.Code)
	}
	if got := rr.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if got := rr.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q", got)
	}
}

func TestCreatePurchase_UnknownKind(t *testing.T) {
	srv, _ := newTestServer()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/purchases",
		strings.NewReader(`{"kind":"raffle","user_id":1}`))
	srv.Handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown kind, got %d", rr.Code)
	}
}

func TestFinalizeBill_RequiresAdmin(t *testing.T) {
	srv, billing := newTestServer()

	body := `{"start_millis":1000,"end_millis":2000,"all_billed":true}`

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/bills", strings.NewReader(body))
	srv.Handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without password, got %d", rr.Code)
	}
	if billing.finalized != 0 {
		t.Fatal("bill finalized without authorization")
	}

	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/bills", strings.NewReader(body))
	req.Header.Set("X-Admin-Password", "hunter2")
	srv.Handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201 with password, got %d: %s", rr.Code, rr.Body.String())
	}
	if billing.finalized != 1 {
		t.Fatal("bill not finalized despite authorization")
	}
}

func TestFinalizeBill_EmptyWindow(t *testing.T) {
	srv, _ := newTestServer()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/bills",
		strings.NewReader(`{"start_millis":2000,"end_millis":1000,"all_billed":true}`))
	req.Header.Set("X-Admin-Password", "hunter2")
	srv.Handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for empty window, got %d", rr.Code)
	}
}

func TestAccountingCSV_TicketAuthorization(t *testing.T) {
	srv, _ := newTestServer()

	// No credentials
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/bills/7/accounting.csv", nil)
	srv.Handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without ticket, got %d", rr.Code)
	}

	// Valid ticket
	ticket, err := srv.tickets.Mint(7, tickets.KindAccounting)
	if err != nil {
		t.Fatal(err)
	}
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/bills/7/accounting.csv?ticket="+ticket, nil)
	srv.Handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with ticket, got %d: %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(rr.Body.String(), "Mitgliedsnummer") {
		t.Error("CSV body missing header row")
	}

	// Ticket of the wrong kind
	wrongKind, err := srv.tickets.Mint(7, tickets.KindOversight)
	if err != nil {
		t.Fatal(err)
	}
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/bills/7/accounting.csv?ticket="+wrongKind, nil)
	srv.Handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 with wrong-kind ticket, got %d", rr.Code)
	}

	// Ticket for a different bill
	wrongBill, err := srv.tickets.Mint(8, tickets.KindAccounting)
	if err != nil {
		t.Fatal(err)
	}
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/bills/7/accounting.csv?ticket="+wrongBill, nil)
	srv.Handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 with wrong-bill ticket, got %d", rr.Code)
	}
}

func TestOversightCSV_AdminAccess(t *testing.T) {
	srv, _ := newTestServer()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/bills/7/oversight.csv?user_id=1", nil)
	req.Header.Set("X-Admin-Password", "hunter2")
	srv.Handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	// Header plus the single self-purchase row
	lines := strings.Split(strings.TrimRight(rr.Body.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Errorf("got %d lines, want 2", len(lines))
	}
}

func TestTopUsers(t *testing.T) {
	srv, _ := newTestServer()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/stats/top-users", nil)
	srv.Handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d: %s", rr.Code, rr.Body.String())
	}
	body := rr.Body.String()
	if !strings.Contains(body, `"alice"`) || !strings.Contains(body, `"charlie"`) {
		t.Errorf("leaderboard missing entries: %s", body)
	}

	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/stats/top-users?limit=1", nil)
	srv.Handler.ServeHTTP(rr, req)
	if body := rr.Body.String(); strings.Contains(body, `"charlie"`) {
		t.Errorf("limit=1 must truncate the leaderboard: %s", body)
	}
}

func TestRateLimiter(t *testing.T) {
	srv, _ := newTestServer()

	var lastCode int
	for i := 0; i < 61; i++ {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/purchases",
			strings.NewReader(`{"kind":"simple","user_id":1,"item_id":1,"count":1}`))
		req.RemoteAddr = "10.0.0.1:1234"
		srv.Handler.ServeHTTP(rr, req)
		lastCode = rr.Code
	}
	if lastCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after 61 posts, got %d", lastCode)
	}

	// Other clients are unaffected
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/purchases",
		strings.NewReader(`{"kind":"simple","user_id":1,"item_id":1,"count":1}`))
	req.RemoteAddr = "10.0.0.2:1234"
	srv.Handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201 for a fresh client, got %d", rr.Code)
	}
}
