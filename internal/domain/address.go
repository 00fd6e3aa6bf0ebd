package domain

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// WalletAddress is a validated, lowercase EVM address ("0x" + 40 hex chars).
// It is the identity key shared by the activity cache and the job store.
type WalletAddress string

// ParseWalletAddress validates raw input and returns its canonical form.
// Returns ErrInvalidAddress for anything that is not a 0x-prefixed 20-byte hex string.
func ParseWalletAddress(raw string) (WalletAddress, error) {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return "", invalidAddress(raw)
	}
	if !common.IsHexAddress(s) {
		return "", invalidAddress(raw)
	}
	return WalletAddress(strings.ToLower(s)), nil
}

// MustParseWalletAddress is ParseWalletAddress for constants and tests.
func MustParseWalletAddress(raw string) WalletAddress {
	addr, err := ParseWalletAddress(raw)
	if err != nil {
		panic(err)
	}
	return addr
}

// String returns the string representation of WalletAddress.
func (a WalletAddress) String() string {
	return string(a)
}

// Short returns an abbreviated form for log lines, e.g. "0xabcd…1234".
func (a WalletAddress) Short() string {
	s := string(a)
	if len(s) < 12 {
		return s
	}
	return s[:6] + "…" + s[len(s)-4:]
}

func invalidAddress(raw string) error {
	return &Error{Kind: KindInvalidAddress, Detail: "malformed wallet address " + quote(raw)}
}

func quote(s string) string {
	if len(s) > 64 {
		s = s[:64] + "…"
	}
	return "\"" + s + "\""
}
