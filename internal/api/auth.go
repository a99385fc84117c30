package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Auth constants.
const (
	// ticketTTL is how long a WebSocket ticket is valid.
	ticketTTL = 60 * time.Second

	// defaultTokenTTL applies when security.jwt.token_ttl is unset (minutes).
	defaultTokenTTL = 60 * 24 * 30

	// ticketBytes is the number of random bytes used for WebSocket tickets.
	ticketBytes = 32
)

// ErrTokenInvalid is returned for a bearer token that fails validation.
var ErrTokenInvalid = errors.New("api: invalid token")

// Claims are the JWT claims the API accepts.
type Claims struct {
	jwt.RegisteredClaims
}

// IssueToken signs a bearer token for subject. There is no login endpoint:
// operators mint tokens for their integrations with this function (see
// the -issue-token flag of the poolbridge command).
//
// Parameters:
//   - secret: HMAC key, the configured security.jwt.secret
//   - issuer: optional iss claim; checked by ParseToken when set
//   - subject: who the token is for (e.g. "home-assistant")
//   - ttlMinutes: lifetime; zero or less uses 30 days
//
// Returns:
//   - string: The signed token
//   - error: If the secret is empty or signing fails
func IssueToken(secret, issuer, subject string, ttlMinutes int) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("issuing token: no JWT secret configured")
	}
	if subject == "" {
		return "", fmt.Errorf("issuing token: subject is required")
	}
	if ttlMinutes <= 0 {
		ttlMinutes = defaultTokenTTL
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(ttlMinutes) * time.Minute)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// ParseToken validates an HS256 bearer token and returns its claims.
// It checks the signature, expiry, subject, and the issuer when one is given.
func ParseToken(tokenString, secret, issuer string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	return claims, nil
}

// ticketStore holds pending WebSocket authentication tickets.
// Tickets are single-use and expire after ticketTTL.
type ticketStore struct {
	tickets map[string]ticketEntry
	mu      sync.Mutex
}

type ticketEntry struct {
	subject   string
	expiresAt time.Time
}

func newTicketStore() *ticketStore {
	return &ticketStore{tickets: make(map[string]ticketEntry)}
}

// issue stores a new ticket for subject and returns it.
func (ts *ticketStore) issue(subject string) string {
	b := make([]byte, ticketBytes)
	//nolint:errcheck // crypto/rand.Read always returns len(b) on supported platforms
	rand.Read(b)
	ticket := hex.EncodeToString(b)

	ts.mu.Lock()
	ts.tickets[ticket] = ticketEntry{subject: subject, expiresAt: time.Now().Add(ticketTTL)}
	ts.mu.Unlock()
	return ticket
}

// consume checks a ticket and removes it (single-use).
func (ts *ticketStore) consume(ticket string) (ticketEntry, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	entry, ok := ts.tickets[ticket]
	if !ok {
		return ticketEntry{}, false
	}
	delete(ts.tickets, ticket)
	return entry, time.Now().Before(entry.expiresAt)
}

// cleanExpired removes expired tickets from the store.
func (ts *ticketStore) cleanExpired() {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	now := time.Now()
	for ticket, entry := range ts.tickets {
		if now.After(entry.expiresAt) {
			delete(ts.tickets, ticket)
		}
	}
}

// cleanLoop runs cleanExpired periodically until the context is cancelled.
func (ts *ticketStore) cleanLoop(ctx context.Context) {
	ticker := time.NewTicker(ticketTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ts.cleanExpired()
		}
	}
}

// handleWSTicket generates a single-use WebSocket authentication ticket.
// The client uses this ticket to authenticate the WebSocket connection
// without exposing the JWT in the URL.
func (s *Server) handleWSTicket(w http.ResponseWriter, r *http.Request) {
	subject, _ := r.Context().Value(ctxKeySubject).(string) //nolint:errcheck // empty when auth is disabled
	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":     s.tickets.issue(subject),
		"expires_in": int(ticketTTL.Seconds()),
	})
}
