package http

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"tresen/internal/core"
	"tresen/internal/export"
	"tresen/internal/log"
	"tresen/internal/services"
	"tresen/internal/tickets"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeServiceError maps domain errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, core.ErrUserNotFound),
		errors.Is(err, core.ErrItemNotFound),
		errors.Is(err, core.ErrBillNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, core.ErrEmptyWindow):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		slog.ErrorContext(r.Context(), "Request failed", "error", err, "url", r.URL.Path)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) isAdmin(r *http.Request) bool {
	if s.adminPassword == "" {
		return false
	}
	given := r.Header.Get("X-Admin-Password")
	return subtle.ConstantTimeCompare([]byte(given), []byte(s.adminPassword)) == 1
}

func pathID32(r *http.Request) (uint32, error) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", r.PathValue("id"))
	}
	return uint32(id), nil
}

func pathID64(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", r.PathValue("id"))
	}
	return id, nil
}

// --- users ---

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	includeDeleted := r.URL.Query().Get("include_deleted") == "true"
	users, err := s.repo.ListUsers(r.Context(), includeDeleted)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" {
		writeError(w, http.StatusBadRequest, "username required")
		return
	}
	user, err := s.repo.CreateUser(r.Context(), req.Username)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleUserDetail(w http.ResponseWriter, r *http.Request) {
	id, err := pathID32(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	detail, err := s.billing.GetUserDetail(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID32(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req struct {
		ExternalID  *string `json:"external_id"`
		IsBilled    *bool   `json:"is_billed"`
		IsSepa      *bool   `json:"is_sepa"`
		Highlighted *bool   `json:"highlighted"`
		Deleted     *bool   `json:"deleted"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	user, err := s.repo.GetUser(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if req.ExternalID != nil {
		user.ExternalID = *req.ExternalID
	}
	if req.IsBilled != nil {
		user.IsBilled = *req.IsBilled
	}
	if req.IsSepa != nil {
		user.IsSepa = *req.IsSepa
	}
	if req.Highlighted != nil {
		user.Highlighted = *req.Highlighted
	}
	if req.Deleted != nil {
		user.Deleted = *req.Deleted
	}

	if err := s.repo.UpdateUser(r.Context(), user); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// --- items ---

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	includeDeleted := r.URL.Query().Get("include_deleted") == "true"
	items, err := s.repo.ListItems(r.Context(), includeDeleted)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name      string `json:"name"`
		CostCents int32  `json:"cost_cents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "name required")
		return
	}
	if req.CostCents < 0 {
		writeError(w, http.StatusUnprocessableEntity, "cost must not be negative")
		return
	}
	item, err := s.repo.CreateItem(r.Context(), req.Name, req.CostCents)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID32(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.repo.DeleteItem(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- purchases ---

type purchaseRequest struct {
	Kind            string `json:"kind"`
	UserID          uint32 `json:"user_id"`
	ItemID          uint32 `json:"item_id"`
	OtherUserID     uint32 `json:"other_user_id"`
	Count           uint32 `json:"count"`
	PriceCents      int32  `json:"price_cents"`
	Name            string `json:"name"`
	TimestampMillis int64  `json:"timestamp_millis"`
}

func (s *Server) handleCreatePurchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.TimestampMillis == 0 {
		req.TimestampMillis = time.Now().UnixMilli()
	}
	if req.Count == 0 {
		req.Count = 1
	}

	var (
		id  int64
		err error
	)
	switch req.Kind {
	case "simple":
		id, err = s.billing.RecordSimplePurchase(r.Context(), req.UserID, req.ItemID, req.Count, req.TimestampMillis)
	case "special":
		id, err = s.billing.RecordSpecialPurchase(r.Context(), req.UserID, req.Name, req.PriceCents, req.TimestampMillis)
	case "ffa":
		id, err = s.billing.RecordFFAGiveout(r.Context(), req.UserID, req.ItemID, req.Count, req.TimestampMillis)
	case "budget":
		if req.PriceCents < 0 {
			writeError(w, http.StatusUnprocessableEntity, "budget amount must not be negative")
			return
		}
		id, err = s.billing.RecordBudgetTransfer(r.Context(), req.UserID, req.OtherUserID, uint32(req.PriceCents), req.TimestampMillis)
	case "count_giveout":
		id, err = s.billing.RecordCountGiveout(r.Context(), req.UserID, req.OtherUserID, req.ItemID, req.Count, req.TimestampMillis)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown purchase kind %q", req.Kind))
		return
	}

	if err != nil {
		if errors.Is(err, core.ErrUserNotFound) || errors.Is(err, core.ErrItemNotFound) {
			writeServiceError(w, r, err)
			return
		}
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (s *Server) handleCart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID          uint32            `json:"user_id"`
		Items           map[uint32]uint32 `json:"items"`
		Specials        []struct {
			Name       string `json:"name"`
			PriceCents int32  `json:"price_cents"`
		} `json:"specials"`
		TimestampMillis int64 `json:"timestamp_millis"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if len(req.Items) == 0 && len(req.Specials) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "cart is empty")
		return
	}
	if req.TimestampMillis == 0 {
		req.TimestampMillis = time.Now().UnixMilli()
	}

	specials := make([]services.CartSpecial, len(req.Specials))
	for i, sp := range req.Specials {
		specials[i] = services.CartSpecial{Name: sp.Name, PriceCents: sp.PriceCents}
	}

	if err := s.billing.RecordCart(r.Context(), req.UserID, req.Items, specials, req.TimestampMillis); err != nil {
		if errors.Is(err, core.ErrUserNotFound) || errors.Is(err, core.ErrItemNotFound) {
			writeServiceError(w, r, err)
			return
		}
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleUndoPurchase(w http.ResponseWriter, r *http.Request) {
	id, err := pathID64(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.billing.UndoPurchase(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePurchaseLog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}
	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	if v := q.Get("user_id"); v != "" {
		userID, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid user_id")
			return
		}
		purchases, err := s.repo.PersonalLog(r.Context(), uint32(userID), limit, offset)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, purchases)
		return
	}

	purchases, err := s.repo.GlobalLog(r.Context(), limit, offset)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, purchases)
}

// handleTopUsers serves the leaderboard: the members with the most
// recorded purchases over the last ?days= days (default 90).
func (s *Server) handleTopUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	days := 90
	if v := q.Get("days"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			days = n
		}
	}
	limit := 10
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 50 {
		limit = 50
	}

	since := time.Now().AddDate(0, 0, -days).UnixMilli()
	stats, err := s.repo.TopUsers(r.Context(), since, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// --- bills ---

func (s *Server) handleListBills(w http.ResponseWriter, r *http.Request) {
	bills, err := s.repo.ListBills(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bills)
}

func (s *Server) handleFinalizeBill(w http.ResponseWriter, r *http.Request) {
	if !s.isAdmin(r) {
		writeError(w, http.StatusUnauthorized, "admin password required")
		return
	}

	var req struct {
		StartMillis int64    `json:"start_millis"`
		EndMillis   int64    `json:"end_millis"`
		Comment     string   `json:"comment"`
		AllBilled   bool     `json:"all_billed"`
		UserIDs     []uint32 `json:"user_ids"`
		Excluded    []uint32 `json:"excluded"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	group := core.UserGroup{AllBilled: req.AllBilled, UserIDs: req.UserIDs}
	bill, err := s.billing.FinalizeBill(r.Context(), req.StartMillis, req.EndMillis, req.Comment, group, req.Excluded)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":           bill.ID,
		"start_millis": bill.StartMillis,
		"end_millis":   bill.EndMillis,
		"comment":      bill.Comment,
	})
}

func (s *Server) handleMintTicket(w http.ResponseWriter, r *http.Request) {
	if !s.isAdmin(r) {
		writeError(w, http.StatusUnauthorized, "admin password required")
		return
	}
	billID, err := pathID64(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req struct {
		Kind string `json:"kind"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	ticket, err := s.tickets.Mint(billID, req.Kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"ticket": ticket})
}

// authorizeExport grants CSV access to admins and to holders of a valid
// ticket for this bill and export kind.
func (s *Server) authorizeExport(r *http.Request, billID int64, kind string) bool {
	if s.isAdmin(r) {
		return true
	}
	ticket := r.URL.Query().Get("ticket")
	if ticket == "" || s.tickets == nil {
		return false
	}
	claims, err := s.tickets.Validate(ticket)
	if err != nil {
		return false
	}
	return claims.BillID == billID && claims.Kind == kind
}

func (s *Server) handleAccountingCSV(w http.ResponseWriter, r *http.Request) {
	billID, err := pathID64(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.authorizeExport(r, billID, tickets.KindAccounting) {
		writeError(w, http.StatusForbidden, "valid ticket or admin password required")
		return
	}

	bill, err := s.repo.GetBill(r.Context(), billID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	rows, err := s.engine.AccountingExport(bill.Snapshot)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	slog.InfoContext(r.Context(), "Export served",
		log.FieldOperation, log.OpExport,
		log.FieldExportKind, tickets.KindAccounting,
		log.FieldBillID, billID,
		log.FieldRowCount, len(rows))
	serveCSV(w, fmt.Sprintf("abrechnung-%d.csv", billID), export.Document(export.AccountingHeader(), rows))
}

func (s *Server) handleOversightCSV(w http.ResponseWriter, r *http.Request) {
	billID, err := pathID64(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.authorizeExport(r, billID, tickets.KindOversight) {
		writeError(w, http.StatusForbidden, "valid ticket or admin password required")
		return
	}

	bill, err := s.repo.GetBill(r.Context(), billID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	var rows [][]string
	if v := r.URL.Query().Get("user_id"); v != "" {
		userID, parseErr := strconv.ParseUint(v, 10, 32)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, "invalid user_id")
			return
		}
		rows, err = s.engine.OversightExportForUser(bill.Snapshot, uint32(userID))
	} else {
		rows, err = s.engine.OversightExportAll(bill.Snapshot)
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	slog.InfoContext(r.Context(), "Export served",
		log.FieldOperation, log.OpExport,
		log.FieldExportKind, tickets.KindOversight,
		log.FieldBillID, billID,
		log.FieldRowCount, len(rows))
	serveCSV(w, fmt.Sprintf("uebersicht-%d.csv", billID), export.Document(export.OversightHeader(), rows))
}

func serveCSV(w http.ResponseWriter, filename, content string) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(content))
}
