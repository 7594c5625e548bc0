package http

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"sync"
	"time"

	"log/slog"

	"tresen/internal/core"
	"tresen/internal/export"
	"tresen/internal/log"
	"tresen/internal/services"
	"tresen/internal/storage"
	"tresen/internal/tickets"
)

// Billing is the service surface the handlers call.
type Billing interface {
	RecordSimplePurchase(ctx context.Context, userID, itemID, count uint32, tsMillis int64) (int64, error)
	RecordSpecialPurchase(ctx context.Context, userID uint32, name string, priceCents int32, tsMillis int64) (int64, error)
	RecordCart(ctx context.Context, userID uint32, items map[uint32]uint32, specials []services.CartSpecial, tsMillis int64) error
	RecordFFAGiveout(ctx context.Context, userID, itemID, count uint32, tsMillis int64) (int64, error)
	RecordBudgetTransfer(ctx context.Context, fromID, toID, cents uint32, tsMillis int64) (int64, error)
	RecordCountGiveout(ctx context.Context, ownerID, consumerID, itemID, count uint32, tsMillis int64) (int64, error)
	UndoPurchase(ctx context.Context, id int64) error
	FinalizeBill(ctx context.Context, startMillis, endMillis int64, comment string, group core.UserGroup, excluded []uint32) (*storage.Bill, error)
	GetUserDetail(ctx context.Context, userID uint32) (*services.UserDetail, error)
}

// Repository is the storage surface the read handlers use directly.
type Repository interface {
	CreateUser(ctx context.Context, username string) (core.User, error)
	GetUser(ctx context.Context, id uint32) (core.User, error)
	ListUsers(ctx context.Context, includeDeleted bool) ([]core.User, error)
	UpdateUser(ctx context.Context, u core.User) error
	CreateItem(ctx context.Context, name string, costCents int32) (core.Item, error)
	ListItems(ctx context.Context, includeDeleted bool) ([]core.Item, error)
	DeleteItem(ctx context.Context, id uint32) error
	GlobalLog(ctx context.Context, limit, offset int) ([]storage.Purchase, error)
	PersonalLog(ctx context.Context, userID uint32, limit, offset int) ([]storage.Purchase, error)
	TopUsers(ctx context.Context, sinceMillis int64, limit int) ([]storage.UserStat, error)
	GetBill(ctx context.Context, id int64) (*storage.Bill, error)
	ListBills(ctx context.Context) ([]storage.Bill, error)
}

type Server struct {
	http.Server
	billing       Billing
	repo          Repository
	engine        *export.Engine
	tickets       *tickets.Manager
	adminPassword string
	rateLimiter   *rateLimiter
	shutdownOnce  sync.Once
}

// Simple in-memory rate limiter
type rateLimiter struct {
	mu           sync.Mutex
	clients      map[string]*clientInfo
	stopCleanup  chan struct{}
	shutdownOnce sync.Once
}

type clientInfo struct {
	lastRequest time.Time
	requests    int
}

func newRateLimiter() *rateLimiter {
	rl := &rateLimiter{
		clients:     make(map[string]*clientInfo),
		stopCleanup: make(chan struct{}),
	}
	go rl.startCleanup()
	return rl
}

// startCleanup runs periodic cleanup to remove stale client entries
func (rl *rateLimiter) startCleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanupStaleEntries()
		case <-rl.stopCleanup:
			return
		}
	}
}

// cleanupStaleEntries removes client entries older than 10 minutes
func (rl *rateLimiter) cleanupStaleEntries() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-10 * time.Minute)
	for ip, client := range rl.clients {
		if client.lastRequest.Before(cutoff) {
			delete(rl.clients, ip)
		}
	}
}

func (rl *rateLimiter) stop() {
	rl.shutdownOnce.Do(func() {
		if rl.stopCleanup != nil {
			close(rl.stopCleanup)
		}
	})
}

func (rl *rateLimiter) allow(clientIP string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	client, exists := rl.clients[clientIP]

	if !exists {
		rl.clients[clientIP] = &clientInfo{
			lastRequest: now,
			requests:    1,
		}
		return true
	}

	// Reset counter if more than 1 minute has passed
	if now.Sub(client.lastRequest) > time.Minute {
		client.requests = 1
		client.lastRequest = now
		return true
	}

	// Allow up to 60 requests per minute
	client.requests++
	client.lastRequest = now

	return client.requests <= 60
}

// NewServer configures routes, returning a ready-to-run http.Server.
func NewServer(addr string, billing Billing, repo Repository, engine *export.Engine, ticketManager *tickets.Manager, adminPassword string) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:    addr,
			Handler: mux,
		},
		billing:       billing,
		repo:          repo,
		engine:        engine,
		tickets:       ticketManager,
		adminPassword: adminPassword,
		rateLimiter:   newRateLimiter(),
	}

	mux.HandleFunc("/healthz", handleHealth)
	mux.HandleFunc("/readyz", handleReady)

	mux.HandleFunc("GET /api/users", s.withSecurityHeaders(s.handleListUsers))
	mux.HandleFunc("POST /api/users", s.withSecurityHeaders(s.handleCreateUser))
	mux.HandleFunc("GET /api/users/{id}", s.withSecurityHeaders(s.handleUserDetail))
	mux.HandleFunc("PUT /api/users/{id}", s.withSecurityHeaders(s.handleUpdateUser))

	mux.HandleFunc("GET /api/items", s.withSecurityHeaders(s.handleListItems))
	mux.HandleFunc("POST /api/items", s.withSecurityHeaders(s.handleCreateItem))
	mux.HandleFunc("DELETE /api/items/{id}", s.withSecurityHeaders(s.handleDeleteItem))

	mux.HandleFunc("GET /api/stats/top-users", s.withSecurityHeaders(s.handleTopUsers))

	mux.HandleFunc("GET /api/purchases", s.withSecurityHeaders(s.handlePurchaseLog))
	mux.HandleFunc("POST /api/purchases", s.withSecurityHeaders(s.handleCreatePurchase))
	mux.HandleFunc("POST /api/purchases/cart", s.withSecurityHeaders(s.handleCart))
	mux.HandleFunc("POST /api/purchases/{id}/undo", s.withSecurityHeaders(s.handleUndoPurchase))

	mux.HandleFunc("GET /api/bills", s.withSecurityHeaders(s.handleListBills))
	mux.HandleFunc("POST /api/bills", s.withSecurityHeaders(s.handleFinalizeBill))
	mux.HandleFunc("POST /api/bills/{id}/tickets", s.withSecurityHeaders(s.handleMintTicket))
	mux.HandleFunc("GET /api/bills/{id}/accounting.csv", s.withSecurityHeaders(s.handleAccountingCSV))
	mux.HandleFunc("GET /api/bills/{id}/oversight.csv", s.withSecurityHeaders(s.handleOversightCSV))

	return s
}

// Shutdown gracefully shuts down the server and cleanup routines
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		if s.rateLimiter != nil {
			s.rateLimiter.stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})

	return shutdownErr
}

// withSecurityHeaders adds security headers, rate limiting, and request logging to responses
func (s *Server) withSecurityHeaders(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Extract client IP (considering proxies)
		clientIP := r.Header.Get("X-Forwarded-For")
		if clientIP == "" {
			clientIP = r.Header.Get("X-Real-IP")
		}
		if clientIP == "" {
			clientIP = r.RemoteAddr
		}

		requestID := generateRequestID()
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		slog.InfoContext(ctx, "Request started",
			log.FieldComponent, log.ComponentHTTP,
			log.FieldRequestID, requestID,
			log.FieldMethod, r.Method,
			log.FieldPath, r.URL.Path,
			log.FieldClientIP, clientIP)

		// Apply rate limiting to mutating requests
		if r.Method == http.MethodPost && !s.rateLimiter.allow(clientIP) {
			slog.WarnContext(ctx, "Rate limit exceeded",
				log.FieldClientIP, clientIP,
				log.FieldMethod, r.Method,
				log.FieldPath, r.URL.Path)
			w.Header().Set("Retry-After", "60")
			http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		duration := time.Since(start)
		slog.InfoContext(ctx, "Request completed",
			log.FieldComponent, log.ComponentHTTP,
			log.FieldRequestID, requestID,
			log.FieldMethod, r.Method,
			log.FieldPath, r.URL.Path,
			log.FieldStatusCode, rw.statusCode,
			log.FieldDuration, duration.Milliseconds(),
			log.FieldClientIP, clientIP)
	}
}

type requestIDKey struct{}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// generateRequestID creates a unique request ID for tracing
func generateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
