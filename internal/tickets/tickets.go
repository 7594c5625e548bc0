// Package tickets issues short-lived download tokens for bill exports so
// the CSV links in delivery mails work without the admin password.
package tickets

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Export kinds a ticket can grant access to.
const (
	KindAccounting = "accounting"
	KindOversight  = "oversight"
)

var ErrInvalidTicket = errors.New("invalid or expired ticket")

// Claims are the custom JWT claims of a download ticket.
type Claims struct {
	BillID int64  `json:"bill_id"`
	Kind   string `json:"kind"`
	jwt.RegisteredClaims
}

// Manager signs and validates download tickets with a shared HMAC secret.
type Manager struct {
	secretKey []byte
	ttl       time.Duration
}

// NewManager creates a ticket manager. secretKey should be a strong random
// string, ttl is how long minted tickets remain valid.
func NewManager(secretKey string, ttl time.Duration) *Manager {
	return &Manager{
		secretKey: []byte(secretKey),
		ttl:       ttl,
	}
}

// Mint creates a ticket granting download access to one export of one bill.
func (m *Manager) Mint(billID int64, kind string) (string, error) {
	if kind != KindAccounting && kind != KindOversight {
		return "", fmt.Errorf("unknown export kind %q", kind)
	}

	now := time.Now()
	claims := &Claims{
		BillID: billID,
		Kind:   kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secretKey)
	if err != nil {
		return "", fmt.Errorf("sign ticket: %w", err)
	}

	return signed, nil
}

// Validate parses and validates a ticket, returning its claims if valid.
func (m *Manager) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return m.secretKey, nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTicket, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidTicket
	}
	if claims.Kind != KindAccounting && claims.Kind != KindOversight {
		return nil, ErrInvalidTicket
	}

	return claims, nil
}
