package auth

import (
	"strings"
	"time"
	"unicode"
)

// Actor is an authenticated participant keyed by phone number.
type Actor struct {
	ID        string    `json:"id"`
	Phone     string    `json:"phone"`
	Name      string    `json:"name,omitempty"`
	Role      Role      `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Reasons a one-time code stops being usable.
const (
	CodeReasonVerified   = "verified"
	CodeReasonSuperseded = "superseded"
)

// OTPCode is a single-use numeric login code bound to a phone number.
// Used and UsedReason distinguish a consumed code from one replaced by a
// later request.
type OTPCode struct {
	ID         string    `json:"id"`
	Phone      string    `json:"phone"`
	Code       string    `json:"code"`
	ExpiresAt  time.Time `json:"expires_at"`
	Used       bool      `json:"used"`
	UsedReason string    `json:"used_reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// TokenPair is the result of a successful verification or refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// CodeIssue reports a granted code request. DevCode carries the literal code
// only when the service runs in dev mode.
type CodeIssue struct {
	ExpiresAt time.Time `json:"expires_at"`
	DevCode   string    `json:"dev_code,omitempty"`
}

// NormalizePhone canonicalizes a phone-shaped key: strips spaces, dashes and
// parentheses, then requires a leading + followed by 7 to 15 digits.
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r == '+' || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')':
			// separator, drop
		default:
			return "", ErrInvalidPhone
		}
	}
	phone := b.String()
	if !strings.HasPrefix(phone, "+") {
		return "", ErrInvalidPhone
	}
	digits := phone[1:]
	if len(digits) < 4 || len(digits) > 15 {
		return "", ErrInvalidPhone
	}
	if strings.ContainsRune(digits, '+') {
		return "", ErrInvalidPhone
	}
	return phone, nil
}
