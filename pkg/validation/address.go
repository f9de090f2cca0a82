package validation

import (
	"encoding/hex"
	"fmt"
	"strings"
)

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// ValidateCoreAddress checks a Core blockchain address (22 bytes, hex encoded).
func ValidateCoreAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("address cannot be empty")
	}

	normalized := NormalizeAddress(addr)
	if len(normalized) != 44 {
		return fmt.Errorf("invalid address length: expected 44 characters (without 0x), got %d", len(normalized))
	}
	if _, err := hex.DecodeString(normalized); err != nil {
		return fmt.Errorf("invalid hex address: %w", err)
	}
	return nil
}

// ValidateTronAddress checks the base58 form of a TRON account address ("T..." , 34 chars).
func ValidateTronAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("address cannot be empty")
	}
	if len(addr) != 34 {
		return fmt.Errorf("invalid address length: expected 34 characters, got %d", len(addr))
	}
	if addr[0] != 'T' {
		return fmt.Errorf("tron address must start with T")
	}
	for _, r := range addr {
		if !strings.ContainsRune(base58Alphabet, r) {
			return fmt.Errorf("invalid base58 character %q", r)
		}
	}
	return nil
}

// ValidatePayerAddress validates addr against the address format of the given currency's chain.
func ValidatePayerAddress(currency, addr string) error {
	switch strings.ToUpper(currency) {
	case "USDT", "TRX":
		return ValidateTronAddress(addr)
	case "CTN", "XCB":
		return ValidateCoreAddress(addr)
	}
	return fmt.Errorf("unsupported on-chain currency %q", currency)
}

// NormalizeAddress converts a hex address to lowercase without 0x prefix
func NormalizeAddress(addr string) string {
	addr = strings.TrimPrefix(addr, "0x")
	addr = strings.TrimPrefix(addr, "0X")
	return strings.ToLower(addr)
}

// SameAddress compares two addresses. Hex addresses are compared case-insensitively,
// base58 addresses byte for byte.
func SameAddress(a, b string) bool {
	if strings.HasPrefix(a, "T") || strings.HasPrefix(b, "T") {
		return a == b
	}
	return NormalizeAddress(a) == NormalizeAddress(b)
}
