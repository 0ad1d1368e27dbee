package identity

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"strings"
	"time"
	"unicode"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/labdesk/labdesk/internal/platform/auth"
)

var (
	ErrNotFound     = errors.New("identity: not found")
	ErrDuplicateKey = errors.New("identity: username, email or referrer id already taken")
)

// Metadata keys filled from the LIS referrer record.
const (
	MetaBilling = "billing"
	MetaContact = "contact"
)

// User maps to the users table. Referrers imported from the LIS carry a
// ReferrerID.
type User struct {
	ID            int64          `db:"id" json:"id"`
	Name          string         `db:"name" json:"name"`
	Username      string         `db:"username" json:"username"`
	Email         *string        `db:"email" json:"email,omitempty"`
	Mobile        *string        `db:"mobile" json:"mobile,omitempty"`
	Password      string         `db:"password" json:"-"`
	RememberToken *string        `db:"remember_token" json:"-"`
	ReferrerID    *string        `db:"referrer_id" json:"referrer_id,omitempty"`
	Role          string         `db:"role" json:"role"`
	Active        bool           `db:"active" json:"active"`
	Metadata      map[string]any `db:"metadata" json:"metadata"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
}

// Clone deep-copies u, metadata included, so a loaded user can be compared
// with its modified copy.
func (u *User) Clone() *User {
	c := *u
	c.Email = clonePtr(u.Email)
	c.Mobile = clonePtr(u.Mobile)
	c.RememberToken = clonePtr(u.RememberToken)
	c.ReferrerID = clonePtr(u.ReferrerID)
	if u.Metadata != nil {
		c.Metadata = cloneValue(u.Metadata).(map[string]any)
	}
	return &c
}

// SameAs reports whether the stored columns of u and o are equal.
func (u *User) SameAs(o *User) bool {
	return u.ID == o.ID &&
		u.Name == o.Name &&
		u.Username == o.Username &&
		eqStr(u.Email, o.Email) &&
		eqStr(u.Mobile, o.Mobile) &&
		u.Password == o.Password &&
		eqStr(u.RememberToken, o.RememberToken) &&
		eqStr(u.ReferrerID, o.ReferrerID) &&
		u.Role == o.Role &&
		u.Active == o.Active &&
		reflect.DeepEqual(normalizeMeta(u.Metadata), normalizeMeta(o.Metadata))
}

// MergeMetadata overlays patch onto the map stored under key, keeping keys
// the patch does not mention. meta is modified in place and returned; a nil
// meta is allocated.
func MergeMetadata(meta map[string]any, key string, patch map[string]any) map[string]any {
	if meta == nil {
		meta = make(map[string]any)
	}
	current, _ := meta[key].(map[string]any)
	merged := make(map[string]any, len(current)+len(patch))
	for k, v := range current {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}
	meta[key] = merged
	return meta
}

// ValidRole reports whether role is one the permission table knows.
func ValidRole(role string) bool {
	if role == auth.RoleAdmin {
		return true
	}
	_, ok := auth.RolePermissions[role]
	return ok
}

var slugFold = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slugify lowercases s, strips accents and joins the remaining alphanumeric
// runs with '-'.
func Slugify(s string) string {
	folded, _, err := transform.String(slugFold, s)
	if err != nil {
		folded = s
	}
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(folded) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			dash = false
			continue
		}
		dash = true
	}
	return b.String()
}

// ReferrerUsername derives a unique login for an imported referrer. The
// remote id suffix keeps two referrers with the same name apart.
func ReferrerUsername(name, referrerID string) string {
	if slug := Slugify(name); slug != "" {
		return slug + "." + referrerID
	}
	return "referrer." + referrerID
}

const tokenAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandomToken returns n random alphanumeric characters.
func RandomToken(n int) (string, error) {
	b := make([]byte, n)
	max := big.NewInt(int64(len(tokenAlphabet)))
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("random token: %w", err)
		}
		b[i] = tokenAlphabet[idx.Int64()]
	}
	return string(b), nil
}

func HashPassword(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func CheckPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

func normalizeMeta(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	return m
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = cloneValue(val)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, val := range t {
			s[i] = cloneValue(val)
		}
		return s
	default:
		return v
	}
}

func clonePtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func eqStr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
