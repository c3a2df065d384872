package model

import "strings"

// ZeroAddress is the EVM zero-address sentinel; a Transfer from it is the
// mint-side transfer already accounted for by the Write event.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// NormalizeAddress lowercases a hex address so case variance never splits
// one logical account into two entities. It does not validate; the decoder
// rejects malformed addresses before they reach the store.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// IsHexAddress reports whether s is a 0x-prefixed 20-byte hex address.
func IsHexAddress(s string) bool {
	if len(s) != 42 || s[0] != '0' || (s[1] != 'x' && s[1] != 'X') {
		return false
	}
	for _, c := range s[2:] {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
