package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"tresen/internal/core"

	_ "modernc.org/sqlite"
)

// Purchase kinds as stored in the purchases table.
const (
	PurchaseSimple       = "simple"
	PurchaseSpecial      = "special"
	PurchaseFFA          = "ffa"
	PurchaseBudget       = "budget"
	PurchaseCountGiveout = "count_giveout"
)

// Purchase is one row of the append-only purchase log. Which columns are
// meaningful depends on Kind: simple and ffa use ItemID and Count, special
// uses SpecialName and PriceCents, budget uses OtherUserID and PriceCents,
// count_giveout uses OtherUserID, ItemID and Count.
type Purchase struct {
	ID              int64
	Kind            string
	UserID          uint32
	ItemID          *uint32
	OtherUserID     *uint32
	SpecialName     string
	PriceCents      int32
	Count           uint32
	TimestampMillis int64
	Undone          bool
}

// Bill is a finalized billing window together with its frozen snapshot.
type Bill struct {
	ID          int64
	StartMillis int64
	EndMillis   int64
	Comment     string
	Snapshot    *core.BillSnapshot
	Delivered   bool
	CreatedAt   time.Time
}

// ItemStat is an aggregate over the purchase log, used for the top-items
// and top-users queries.
type ItemStat struct {
	ID    uint32
	Name  string
	Count uint32
}

type UserStat struct {
	ID    uint32
	Name  string
	Count uint32
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// --- users ---

func (r *SQLiteRepository) CreateUser(ctx context.Context, username string) (core.User, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO users (username) VALUES (?)`, username)
	if err != nil {
		return core.User{}, fmt.Errorf("create user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.User{}, fmt.Errorf("create user id: %w", err)
	}

	slog.InfoContext(ctx, "User created", "id", id, "username", username)

	return core.User{ID: uint32(id), Username: username, IsBilled: true}, nil
}

func (r *SQLiteRepository) GetUser(ctx context.Context, id uint32) (core.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, username, external_id, is_billed, is_sepa, highlighted, deleted
		 FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func (r *SQLiteRepository) GetUserByName(ctx context.Context, username string) (core.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, username, external_id, is_billed, is_sepa, highlighted, deleted
		 FROM users WHERE username = ?`, username)
	return scanUser(row)
}

func (r *SQLiteRepository) ListUsers(ctx context.Context, includeDeleted bool) ([]core.User, error) {
	query := `SELECT id, username, external_id, is_billed, is_sepa, highlighted, deleted
		 FROM users`
	if !includeDeleted {
		query += ` WHERE deleted = 0`
	}
	query += ` ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []core.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpdateUser overwrites the mutable user fields. The username is kept as key
// material for the importer and is not changed here.
func (r *SQLiteRepository) UpdateUser(ctx context.Context, u core.User) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET external_id = ?, is_billed = ?, is_sepa = ?, highlighted = ?, deleted = ?
		 WHERE id = ?`,
		u.ExternalID, u.IsBilled, u.IsSepa, u.Highlighted, u.Deleted, u.ID)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user rows: %w", err)
	}
	if n == 0 {
		return core.ErrUserNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (core.User, error) {
	var u core.User
	err := row.Scan(&u.ID, &u.Username, &u.ExternalID, &u.IsBilled, &u.IsSepa, &u.Highlighted, &u.Deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, core.ErrUserNotFound
	}
	if err != nil {
		return core.User{}, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}

// --- items ---

func (r *SQLiteRepository) CreateItem(ctx context.Context, name string, costCents int32) (core.Item, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO items (name, cost_cents) VALUES (?, ?)`, name, costCents)
	if err != nil {
		return core.Item{}, fmt.Errorf("create item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.Item{}, fmt.Errorf("create item id: %w", err)
	}

	slog.InfoContext(ctx, "Item created", "id", id, "name", name, "cost_cents", costCents)

	return core.Item{ID: uint32(id), Name: name, CostCents: costCents}, nil
}

func (r *SQLiteRepository) GetItem(ctx context.Context, id uint32) (core.Item, error) {
	var it core.Item
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, cost_cents, deleted FROM items WHERE id = ?`, id).
		Scan(&it.ID, &it.Name, &it.CostCents, &it.Deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Item{}, core.ErrItemNotFound
	}
	if err != nil {
		return core.Item{}, fmt.Errorf("get item: %w", err)
	}
	return it, nil
}

func (r *SQLiteRepository) ListItems(ctx context.Context, includeDeleted bool) ([]core.Item, error) {
	query := `SELECT id, name, cost_cents, deleted FROM items`
	if !includeDeleted {
		query += ` WHERE deleted = 0`
	}
	query += ` ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []core.Item
	for rows.Next() {
		var it core.Item
		if err := rows.Scan(&it.ID, &it.Name, &it.CostCents, &it.Deleted); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *SQLiteRepository) DeleteItem(ctx context.Context, id uint32) error {
	res, err := r.db.ExecContext(ctx, `UPDATE items SET deleted = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete item rows: %w", err)
	}
	if n == 0 {
		return core.ErrItemNotFound
	}
	return nil
}

// --- purchases ---

func (r *SQLiteRepository) RecordPurchase(ctx context.Context, p Purchase) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO purchases (kind, user_id, item_id, other_user_id, special_name, price_cents, count, timestamp_millis)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Kind, p.UserID, nullableID(p.ItemID), nullableID(p.OtherUserID),
		p.SpecialName, p.PriceCents, p.Count, p.TimestampMillis)
	if err != nil {
		return 0, fmt.Errorf("record purchase: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("record purchase id: %w", err)
	}

	slog.InfoContext(ctx, "Purchase recorded",
		"id", id,
		"kind", p.Kind,
		"user_id", p.UserID,
		"timestamp_millis", p.TimestampMillis)

	return id, nil
}

// UndoPurchase flags a purchase so snapshot building skips it. The row stays
// in the log for auditing.
func (r *SQLiteRepository) UndoPurchase(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE purchases SET undone = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("undo purchase: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("undo purchase rows: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListPurchasesWindow returns every non-undone purchase with start <= t < end,
// ordered by insertion so specials keep their recording order.
func (r *SQLiteRepository) ListPurchasesWindow(ctx context.Context, startMillis, endMillis int64) ([]Purchase, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, kind, user_id, item_id, other_user_id, special_name, price_cents, count, timestamp_millis, undone
		 FROM purchases
		 WHERE undone = 0 AND timestamp_millis >= ? AND timestamp_millis < ?
		 ORDER BY id`, startMillis, endMillis)
	if err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}
	defer rows.Close()

	return scanPurchases(rows)
}

// GlobalLog returns the most recent purchases across all users, newest first.
func (r *SQLiteRepository) GlobalLog(ctx context.Context, limit, offset int) ([]Purchase, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, kind, user_id, item_id, other_user_id, special_name, price_cents, count, timestamp_millis, undone
		 FROM purchases
		 WHERE undone = 0
		 ORDER BY id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("global log: %w", err)
	}
	defer rows.Close()

	return scanPurchases(rows)
}

// PersonalLog returns the most recent purchases of one user, newest first.
func (r *SQLiteRepository) PersonalLog(ctx context.Context, userID uint32, limit, offset int) ([]Purchase, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, kind, user_id, item_id, other_user_id, special_name, price_cents, count, timestamp_millis, undone
		 FROM purchases
		 WHERE undone = 0 AND user_id = ?
		 ORDER BY id DESC LIMIT ? OFFSET ?`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("personal log: %w", err)
	}
	defer rows.Close()

	return scanPurchases(rows)
}

// TopItemsForUser returns the user's most consumed items since sinceMillis.
func (r *SQLiteRepository) TopItemsForUser(ctx context.Context, userID uint32, sinceMillis int64, limit int) ([]ItemStat, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT i.id, i.name, SUM(p.count) AS total
		 FROM purchases p JOIN items i ON i.id = p.item_id
		 WHERE p.undone = 0 AND p.kind = 'simple' AND p.user_id = ? AND p.timestamp_millis >= ?
		 GROUP BY i.id, i.name
		 ORDER BY total DESC, i.id
		 LIMIT ?`, userID, sinceMillis, limit)
	if err != nil {
		return nil, fmt.Errorf("top items: %w", err)
	}
	defer rows.Close()

	var stats []ItemStat
	for rows.Next() {
		var s ItemStat
		if err := rows.Scan(&s.ID, &s.Name, &s.Count); err != nil {
			return nil, fmt.Errorf("scan item stat: %w", err)
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// TopUsers returns the users with the most recorded purchases since sinceMillis.
func (r *SQLiteRepository) TopUsers(ctx context.Context, sinceMillis int64, limit int) ([]UserStat, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT u.id, u.username, COUNT(*) AS total
		 FROM purchases p JOIN users u ON u.id = p.user_id
		 WHERE p.undone = 0 AND p.timestamp_millis >= ?
		 GROUP BY u.id, u.username
		 ORDER BY total DESC, u.id
		 LIMIT ?`, sinceMillis, limit)
	if err != nil {
		return nil, fmt.Errorf("top users: %w", err)
	}
	defer rows.Close()

	var stats []UserStat
	for rows.Next() {
		var s UserStat
		if err := rows.Scan(&s.ID, &s.Name, &s.Count); err != nil {
			return nil, fmt.Errorf("scan user stat: %w", err)
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

func scanPurchases(rows *sql.Rows) ([]Purchase, error) {
	var purchases []Purchase
	for rows.Next() {
		var (
			p       Purchase
			itemID  sql.NullInt64
			otherID sql.NullInt64
		)
		if err := rows.Scan(&p.ID, &p.Kind, &p.UserID, &itemID, &otherID,
			&p.SpecialName, &p.PriceCents, &p.Count, &p.TimestampMillis, &p.Undone); err != nil {
			return nil, fmt.Errorf("scan purchase: %w", err)
		}
		if itemID.Valid {
			v := uint32(itemID.Int64)
			p.ItemID = &v
		}
		if otherID.Valid {
			v := uint32(otherID.Int64)
			p.OtherUserID = &v
		}
		purchases = append(purchases, p)
	}
	return purchases, rows.Err()
}

func nullableID(id *uint32) any {
	if id == nil {
		return nil
	}
	return int64(*id)
}

// --- bills ---

func (r *SQLiteRepository) CreateBill(ctx context.Context, snap *core.BillSnapshot) (int64, error) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO bills (start_millis, end_millis, comment, snapshot)
		 VALUES (?, ?, ?, ?)`,
		snap.StartMillis, snap.EndMillis, snap.Comment, string(raw))
	if err != nil {
		return 0, fmt.Errorf("create bill: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create bill id: %w", err)
	}

	slog.InfoContext(ctx, "Bill created",
		"id", id,
		"start_millis", snap.StartMillis,
		"end_millis", snap.EndMillis,
		"users", len(snap.Ledgers))

	return id, nil
}

func (r *SQLiteRepository) GetBill(ctx context.Context, id int64) (*Bill, error) {
	var (
		b   Bill
		raw string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, start_millis, end_millis, comment, snapshot, delivered, created_at
		 FROM bills WHERE id = ?`, id).
		Scan(&b.ID, &b.StartMillis, &b.EndMillis, &b.Comment, &raw, &b.Delivered, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrBillNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get bill: %w", err)
	}

	var snap core.BillSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	b.Snapshot = &snap

	return &b, nil
}

// ListBills returns bill metadata without snapshots, newest first.
func (r *SQLiteRepository) ListBills(ctx context.Context) ([]Bill, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, start_millis, end_millis, comment, delivered, created_at
		 FROM bills ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list bills: %w", err)
	}
	defer rows.Close()

	var bills []Bill
	for rows.Next() {
		var b Bill
		if err := rows.Scan(&b.ID, &b.StartMillis, &b.EndMillis, &b.Comment, &b.Delivered, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan bill: %w", err)
		}
		bills = append(bills, b)
	}
	return bills, rows.Err()
}

func (r *SQLiteRepository) MarkBillDelivered(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE bills SET delivered = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark bill delivered: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark bill delivered rows: %w", err)
	}
	if n == 0 {
		return core.ErrBillNotFound
	}

	slog.InfoContext(ctx, "Bill marked delivered", "id", id)
	return nil
}
