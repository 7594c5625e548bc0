package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tresen/internal/amqp"
	"tresen/internal/core"
	"tresen/internal/log"
	"tresen/internal/storage"
)

// BillingService orchestrates purchase recording and bill finalization
// across SQLite and AMQP.
type BillingService struct {
	storage    *storage.SQLiteRepository
	amqpClient *amqp.Client
}

func NewBillingService(storage *storage.SQLiteRepository, amqpClient *amqp.Client) *BillingService {
	return &BillingService{
		storage:    storage,
		amqpClient: amqpClient,
	}
}

// CartSpecial is a freely priced entry of a cart purchase.
type CartSpecial struct {
	Name       string
	PriceCents int32
}

// RecordSimplePurchase books count units of an item on the user's tab.
func (s *BillingService) RecordSimplePurchase(ctx context.Context, userID, itemID, count uint32, tsMillis int64) (int64, error) {
	if count == 0 {
		return 0, fmt.Errorf("purchase count must be positive")
	}
	if _, err := s.storage.GetUser(ctx, userID); err != nil {
		return 0, fmt.Errorf("lookup user %d: %w", userID, err)
	}
	if _, err := s.storage.GetItem(ctx, itemID); err != nil {
		return 0, fmt.Errorf("lookup item %d: %w", itemID, err)
	}

	return s.storage.RecordPurchase(ctx, storage.Purchase{
		Kind:            storage.PurchaseSimple,
		UserID:          userID,
		ItemID:          &itemID,
		Count:           count,
		TimestampMillis: tsMillis,
	})
}

// RecordSpecialPurchase books a one-off consumption with a free-form name
// and price fixed at recording time.
func (s *BillingService) RecordSpecialPurchase(ctx context.Context, userID uint32, name string, priceCents int32, tsMillis int64) (int64, error) {
	if name == "" {
		return 0, fmt.Errorf("special purchase needs a name")
	}
	if _, err := s.storage.GetUser(ctx, userID); err != nil {
		return 0, fmt.Errorf("lookup user %d: %w", userID, err)
	}

	return s.storage.RecordPurchase(ctx, storage.Purchase{
		Kind:            storage.PurchaseSpecial,
		UserID:          userID,
		SpecialName:     name,
		PriceCents:      priceCents,
		Count:           1,
		TimestampMillis: tsMillis,
	})
}

// RecordCart books several items and specials in one go, all stamped with
// the same timestamp so they land on the same billing day.
func (s *BillingService) RecordCart(ctx context.Context, userID uint32, items map[uint32]uint32, specials []CartSpecial, tsMillis int64) error {
	for itemID, count := range items {
		if count == 0 {
			continue
		}
		if _, err := s.RecordSimplePurchase(ctx, userID, itemID, count, tsMillis); err != nil {
			return fmt.Errorf("cart item %d: %w", itemID, err)
		}
	}
	for _, sp := range specials {
		if _, err := s.RecordSpecialPurchase(ctx, userID, sp.Name, sp.PriceCents, tsMillis); err != nil {
			return fmt.Errorf("cart special %q: %w", sp.Name, err)
		}
	}
	return nil
}

// RecordFFAGiveout books count units of an item the user gave away to
// everyone present. The giver pays.
func (s *BillingService) RecordFFAGiveout(ctx context.Context, userID, itemID, count uint32, tsMillis int64) (int64, error) {
	if count == 0 {
		return 0, fmt.Errorf("giveout count must be positive")
	}
	if _, err := s.storage.GetUser(ctx, userID); err != nil {
		return 0, fmt.Errorf("lookup user %d: %w", userID, err)
	}
	if _, err := s.storage.GetItem(ctx, itemID); err != nil {
		return 0, fmt.Errorf("lookup item %d: %w", itemID, err)
	}

	return s.storage.RecordPurchase(ctx, storage.Purchase{
		Kind:            storage.PurchaseFFA,
		UserID:          userID,
		ItemID:          &itemID,
		Count:           count,
		TimestampMillis: tsMillis,
	})
}

// RecordBudgetTransfer moves cents from one user's tab to another's.
func (s *BillingService) RecordBudgetTransfer(ctx context.Context, fromID, toID, cents uint32, tsMillis int64) (int64, error) {
	if fromID == toID {
		return 0, fmt.Errorf("budget transfer to self")
	}
	if cents == 0 {
		return 0, fmt.Errorf("budget transfer amount must be positive")
	}
	if _, err := s.storage.GetUser(ctx, fromID); err != nil {
		return 0, fmt.Errorf("lookup user %d: %w", fromID, err)
	}
	if _, err := s.storage.GetUser(ctx, toID); err != nil {
		return 0, fmt.Errorf("lookup user %d: %w", toID, err)
	}

	return s.storage.RecordPurchase(ctx, storage.Purchase{
		Kind:            storage.PurchaseBudget,
		UserID:          fromID,
		OtherUserID:     &toID,
		PriceCents:      int32(cents),
		Count:           1,
		TimestampMillis: tsMillis,
	})
}

// RecordCountGiveout books count units of an item that the owner paid for
// and the consumer drank.
func (s *BillingService) RecordCountGiveout(ctx context.Context, ownerID, consumerID, itemID, count uint32, tsMillis int64) (int64, error) {
	if ownerID == consumerID {
		return 0, fmt.Errorf("giveout to self, record a simple purchase instead")
	}
	if count == 0 {
		return 0, fmt.Errorf("giveout count must be positive")
	}
	if _, err := s.storage.GetUser(ctx, ownerID); err != nil {
		return 0, fmt.Errorf("lookup user %d: %w", ownerID, err)
	}
	if _, err := s.storage.GetUser(ctx, consumerID); err != nil {
		return 0, fmt.Errorf("lookup user %d: %w", consumerID, err)
	}
	if _, err := s.storage.GetItem(ctx, itemID); err != nil {
		return 0, fmt.Errorf("lookup item %d: %w", itemID, err)
	}

	return s.storage.RecordPurchase(ctx, storage.Purchase{
		Kind:            storage.PurchaseCountGiveout,
		UserID:          ownerID,
		OtherUserID:     &consumerID,
		ItemID:          &itemID,
		Count:           count,
		TimestampMillis: tsMillis,
	})
}

// UndoPurchase flags a purchase so it is skipped at finalization.
func (s *BillingService) UndoPurchase(ctx context.Context, id int64) error {
	return s.storage.UndoPurchase(ctx, id)
}

// FinalizeBill freezes the billing window into an immutable snapshot,
// stores it and notifies the delivery worker. The snapshot is the sole
// input of both exports, so later edits to users or items cannot change a
// finalized bill.
func (s *BillingService) FinalizeBill(ctx context.Context, startMillis, endMillis int64, comment string, group core.UserGroup, excluded []uint32) (*storage.Bill, error) {
	if endMillis <= startMillis {
		return nil, core.ErrEmptyWindow
	}

	users, err := s.storage.ListUsers(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	items, err := s.storage.ListItems(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}
	purchases, err := s.storage.ListPurchasesWindow(ctx, startMillis, endMillis)
	if err != nil {
		return nil, fmt.Errorf("load purchases: %w", err)
	}

	snap, err := BuildSnapshot(users, items, purchases, startMillis, endMillis, comment, group, excluded)
	if err != nil {
		return nil, fmt.Errorf("build snapshot: %w", err)
	}

	id, err := s.storage.CreateBill(ctx, snap)
	if err != nil {
		return nil, fmt.Errorf("store bill: %w", err)
	}

	// Publish async delivery message (non-blocking)
	if err := s.publishFinalized(ctx, id); err != nil {
		slog.ErrorContext(ctx, "Failed to publish bill finalized message",
			"bill_id", id, "error", err)
		// Don't fail the request - the bill is stored and can be re-delivered
	}

	slog.InfoContext(ctx, "Bill finalized",
		log.FieldOperation, log.OpFinalize,
		"bill_id", id,
		"start_millis", startMillis,
		"end_millis", endMillis,
		"purchases", len(purchases))

	return &storage.Bill{
		ID:          id,
		StartMillis: startMillis,
		EndMillis:   endMillis,
		Comment:     comment,
		Snapshot:    snap,
	}, nil
}

func (s *BillingService) publishFinalized(ctx context.Context, billID int64) error {
	if s.amqpClient == nil {
		slog.WarnContext(ctx, "AMQP client not available, skipping bill finalized message")
		return nil
	}
	return s.amqpClient.PublishBillFinalized(ctx, billID)
}

// UserDetail bundles a user with their recent activity for the detail view.
type UserDetail struct {
	User     core.User
	TopItems []storage.ItemStat
	Recent   []storage.Purchase
}

// GetUserDetail returns the user together with their most consumed items of
// the past 90 days and the last few purchases.
func (s *BillingService) GetUserDetail(ctx context.Context, userID uint32) (*UserDetail, error) {
	u, err := s.storage.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	since := time.Now().AddDate(0, 0, -90).UnixMilli()
	top, err := s.storage.TopItemsForUser(ctx, userID, since, 4)
	if err != nil {
		return nil, fmt.Errorf("top items: %w", err)
	}
	recent, err := s.storage.PersonalLog(ctx, userID, 10, 0)
	if err != nil {
		return nil, fmt.Errorf("recent purchases: %w", err)
	}

	return &UserDetail{User: u, TopItems: top, Recent: recent}, nil
}

// Close closes both storage and AMQP connections
func (s *BillingService) Close() error {
	var errs []error

	if s.storage != nil {
		if err := s.storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}

	if s.amqpClient != nil {
		if err := s.amqpClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("amqp: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close billing service: %v", errs)
	}

	return nil
}
