// ============================================================================
// jobwatch Auth Gate
// ============================================================================
//
// Package: internal/auth
// File: gate.go
// Purpose: Admit or reject a push channel or a control command based on a
//          Telegram Web App init assertion and an optional chat id.
//
// Checks, in order:
//   1. The assertion is a non-empty query string carrying "hash" and a
//      "user" JSON object with a numeric id.
//   2. With a bot token configured, "hash" must equal
//        hex(HMAC_SHA256(HMAC_SHA256("WebAppData", token), data_check_string))
//      where data_check_string is every other pair, sorted by key, joined
//      as "k=v" lines.
//   3. With MaxAge set, auth_date must be recent enough.
//   4. With an allow-list configured, the signed user.id must be listed.
//      An explicit chat id never replaces user.id: it must be listed too,
//      or equal user.id.
//
// Authenticate is pure: no state is mutated or cached, so every channel
// admission and every command re-runs the full check.
//
// ============================================================================

package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/ChuLiYu/jobwatch/pkg/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Identity is an admitted caller.
type Identity struct {
	UserID   int64
	ChatID   int64 // effective chat id
	Username string
	AuthDate time.Time
}

// Config configures the gate.
type Config struct {
	BotToken       string
	AllowedChatIDs []int64
	MaxAge         time.Duration // 0 disables the freshness check
}

// Gate validates identity assertions.
type Gate struct {
	secret  []byte
	allowed map[int64]struct{}
	maxAge  time.Duration
	now     func() time.Time
}

// NewGate builds a gate. An empty bot token disables signature checks and
// an empty allow-list admits any well-formed assertion.
func NewGate(cfg Config) *Gate {
	g := &Gate{maxAge: cfg.MaxAge, now: time.Now}
	if cfg.BotToken != "" {
		mac := hmac.New(sha256.New, []byte("WebAppData"))
		mac.Write([]byte(cfg.BotToken))
		g.secret = mac.Sum(nil)
	}
	if len(cfg.AllowedChatIDs) > 0 {
		g.allowed = make(map[int64]struct{}, len(cfg.AllowedChatIDs))
		for _, id := range cfg.AllowedChatIDs {
			g.allowed[id] = struct{}{}
		}
	}
	return g
}

// WithClock returns a copy of g reading time from now.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	cp := *g
	cp.now = now
	return &cp
}

type assertionUser struct {
	ID       *int64 `json:"id"`
	Username string `json:"username"`
}

// Authenticate checks initAssertion and the optional chat id. Every failure
// wraps types.ErrUnauthorized.
func (g *Gate) Authenticate(initAssertion string, chatID *int64) (Identity, error) {
	if strings.TrimSpace(initAssertion) == "" {
		return Identity{}, unauthorized("missing init assertion")
	}
	values, err := url.ParseQuery(initAssertion)
	if err != nil {
		return Identity{}, unauthorized("malformed init assertion")
	}
	hash := values.Get("hash")
	if hash == "" {
		return Identity{}, unauthorized("init assertion has no hash")
	}
	rawUser := values.Get("user")
	if rawUser == "" {
		return Identity{}, unauthorized("init assertion has no user")
	}
	var user assertionUser
	if err := json.Unmarshal([]byte(rawUser), &user); err != nil || user.ID == nil {
		return Identity{}, unauthorized("init assertion user has no numeric id")
	}

	if g.secret != nil && !g.validSignature(values, hash) {
		return Identity{}, unauthorized("init assertion signature mismatch")
	}

	var authDate time.Time
	if raw := values.Get("auth_date"); raw != "" {
		sec, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Identity{}, unauthorized("malformed auth_date")
		}
		authDate = time.Unix(sec, 0)
	}
	if g.maxAge > 0 {
		if authDate.IsZero() || g.now().Sub(authDate) > g.maxAge {
			return Identity{}, unauthorized("init assertion expired")
		}
	}

	effective := *user.ID
	if chatID != nil {
		effective = *chatID
	}
	if g.allowed != nil {
		if !g.listed(*user.ID) {
			return Identity{}, unauthorized(fmt.Sprintf("user %d not allowed", *user.ID))
		}
		if effective != *user.ID && !g.listed(effective) {
			return Identity{}, unauthorized(fmt.Sprintf("chat %d not allowed", effective))
		}
	}

	return Identity{
		UserID:   *user.ID,
		ChatID:   effective,
		Username: user.Username,
		AuthDate: authDate,
	}, nil
}

func (g *Gate) listed(id int64) bool {
	_, ok := g.allowed[id]
	return ok
}

func (g *Gate) validSignature(values url.Values, hash string) bool {
	want, err := hex.DecodeString(hash)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, g.secret)
	mac.Write([]byte(DataCheckString(values)))
	return hmac.Equal(mac.Sum(nil), want)
}

// DataCheckString builds the string the Web App signature covers.
func DataCheckString(values url.Values) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		if k == "hash" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, len(keys))
	for i, k := range keys {
		lines[i] = k + "=" + values.Get(k)
	}
	return strings.Join(lines, "\n")
}

// Sign produces a signed assertion for values. It is what Telegram does on
// its side and is used by tests and the demo.
func Sign(botToken string, values url.Values) string {
	secretMac := hmac.New(sha256.New, []byte("WebAppData"))
	secretMac.Write([]byte(botToken))
	mac := hmac.New(sha256.New, secretMac.Sum(nil))
	mac.Write([]byte(DataCheckString(values)))

	signed := url.Values{}
	for k, v := range values {
		signed[k] = v
	}
	signed.Set("hash", hex.EncodeToString(mac.Sum(nil)))
	return signed.Encode()
}

// ParseChatID parses an optional chat id. Empty input yields nil.
func ParseChatID(raw string) (*int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, unauthorized("malformed chat id")
	}
	return &id, nil
}

func unauthorized(reason string) error {
	return fmt.Errorf("%w: %s", types.ErrUnauthorized, reason)
}

// IsUnauthorized is a shorthand for errors.Is(err, types.ErrUnauthorized).
func IsUnauthorized(err error) bool {
	return errors.Is(err, types.ErrUnauthorized)
}
