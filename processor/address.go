package processor

import (
	"encoding/hex"
	"strings"
)

const addressHexLength = 64

// ZeroAddress is the sentinel owner used when a burned token's previous
// owner cannot be recovered from any source.
const ZeroAddress = "0x" + "0000000000000000000000000000000000000000000000000000000000000000"

// StandardizeAddress normalizes an account address to its canonical form:
// 0x followed by exactly 64 lowercase hex digits, left-padded with zeros.
// On-chain addresses arrive with the short form zeros stripped, so the same
// account can otherwise appear under several spellings.
func StandardizeAddress(address string) string {
	trimmed := strings.TrimPrefix(strings.ToLower(address), "0x")
	if len(trimmed) < addressHexLength {
		trimmed = strings.Repeat("0", addressHexLength-len(trimmed)) + trimmed
	}
	return "0x" + trimmed
}

// StandardizeAddressBytes renders a raw hash or address as a canonical
// address string.
func StandardizeAddressBytes(b []byte) string {
	return StandardizeAddress(hex.EncodeToString(b))
}
