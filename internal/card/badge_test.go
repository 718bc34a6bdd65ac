package card

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsBlank(t *testing.T) {
	tests := []struct {
		name  string
		block []byte
		want  bool
	}{
		{"all zero", make([]byte, BlockSize), true},
		{"all ff", []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}, true},
		{"mixed zero and ff", []byte{0x00, 0xFF, 0x00, 0xFF, 0x00, 0xFF, 0x00, 0xFF, 0x00, 0xFF, 0x00, 0xFF, 0x00, 0xFF, 0x00, 0xFF}, true},
		{"ascii payload", EncodePayload("REG-2024-0042"), false},
		{"single stray byte", []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}, false},
		{"stray byte among ff", []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x41}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsBlank(tt.block))
		})
	}
}

func TestEncodePayloadPadsAndTruncates(t *testing.T) {
	short := EncodePayload("AB")
	assert.Len(t, short, BlockSize)
	assert.Equal(t, byte('A'), short[0])
	assert.Equal(t, byte(0x00), short[2])

	long := EncodePayload("0123456789ABCDEFOVERFLOW")
	assert.Len(t, long, BlockSize)
	assert.Equal(t, "0123456789ABCDEF", string(long))
}

func TestDecodePayloadTrimsFiller(t *testing.T) {
	block := EncodePayload("REG-7")
	assert.Equal(t, "REG-7", DecodePayload(block))

	// Filler of 0xFF decodes as invalid UTF-8 and must be stripped too.
	ffPadded := append([]byte("REG-7"), 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
	assert.Equal(t, "REG-7", DecodePayload(ffPadded))
}

func TestDecodePayloadBlank(t *testing.T) {
	assert.Equal(t, "", DecodePayload(make([]byte, BlockSize)))
}
