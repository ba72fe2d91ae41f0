// Package auth issues and verifies the two token kinds the server hands out:
// bearer identity tokens for the synchronous HTTP surface and resume tokens
// for reattaching a websocket session within its grace window.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"infinityworld.gg/internal/fault"
)

const (
	typPlayer = "player"
	typResume = "resume"
)

type Tokens struct {
	secret    []byte
	playerTTL time.Duration
	resumeTTL time.Duration
}

func New(secret string, playerTTL, resumeTTL time.Duration) *Tokens {
	return &Tokens{secret: []byte(secret), playerTTL: playerTTL, resumeTTL: resumeTTL}
}

// IssuePlayer signs an HS256 bearer token identifying a player on the HTTP
// surface.
func (t *Tokens) IssuePlayer(playerID int64) (string, error) {
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sub": playerID,
		"typ": typPlayer,
		"iat": now.Unix(),
		"exp": now.Add(t.playerTTL).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// IssueResume signs a resume token binding a player to one session. The
// room rotates these on every successful attach.
func (t *Tokens) IssueResume(playerID int64, sessionID string) (string, error) {
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sub": playerID,
		"sid": sessionID,
		"typ": typResume,
		"iat": now.Unix(),
		"exp": now.Add(t.resumeTTL).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// VerifyPlayer validates a bearer token and returns the player id.
func (t *Tokens) VerifyPlayer(raw string) (int64, error) {
	claims, err := t.parse(raw, typPlayer)
	if err != nil {
		return 0, err
	}
	return subject(claims)
}

// VerifyResume validates a resume token and returns the player and session
// ids it was bound to.
func (t *Tokens) VerifyResume(raw string) (int64, string, error) {
	claims, err := t.parse(raw, typResume)
	if err != nil {
		return 0, "", err
	}
	pid, err := subject(claims)
	if err != nil {
		return 0, "", err
	}
	sid, _ := claims["sid"].(string)
	if sid == "" {
		return 0, "", fault.New(fault.Unauthenticated, "resume token missing session")
	}
	return pid, sid, nil
}

func (t *Tokens) parse(raw, wantTyp string) (jwt.MapClaims, error) {
	tok, err := jwt.Parse(raw, func(tk *jwt.Token) (any, error) {
		if _, ok := tk.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fault.New(fault.Unauthenticated, "unexpected signing method")
		}
		return t.secret, nil
	})
	if err != nil || !tok.Valid {
		return nil, fault.New(fault.Unauthenticated, "invalid token")
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fault.New(fault.Unauthenticated, "invalid claims")
	}
	if typ, _ := claims["typ"].(string); typ != wantTyp {
		return nil, fault.New(fault.Unauthenticated, "wrong token type")
	}
	return claims, nil
}

func subject(claims jwt.MapClaims) (int64, error) {
	// Numeric claims decode as float64.
	switch v := claims["sub"].(type) {
	case float64:
		return int64(v), nil
	case int64:
		return v, nil
	default:
		return 0, fault.New(fault.Unauthenticated, "missing subject")
	}
}
