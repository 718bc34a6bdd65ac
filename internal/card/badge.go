package card

import "strings"

// IsBlank reports whether a sector block is unprovisioned. Blank cards ship
// with data blocks of all zeroes or all 0xFF depending on the batch, so any
// mix of those two values counts as blank; any other byte means the block
// already carries a badge payload.
func IsBlank(block []byte) bool {
	for _, b := range block {
		if b != 0x00 && b != 0xFF {
			return false
		}
	}
	return true
}

// DecodePayload interprets a data block as a UTF-8 badge identifier,
// stripping filler bytes and surrounding whitespace.
func DecodePayload(block []byte) string {
	trimmed := strings.TrimFunc(string(block), func(r rune) bool {
		return r == 0x00 || r == 0xFFFD || r == 0xFF || r == ' '
	})
	return strings.TrimSpace(trimmed)
}

// EncodePayload truncates or right-pads an identifier to one block width.
// Padding is zero bytes so a rewritten shorter id does not leave a tail.
func EncodePayload(id string) []byte {
	block := make([]byte, BlockSize)
	copy(block, id)
	return block
}
