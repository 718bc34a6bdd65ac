package card

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testKeyA = []byte{0xA0, 0xB1, 0xC2, 0xD3, 0xE4, 0xF5}
	testKeyB = []byte{0xB0, 0xC1, 0xD2, 0xE3, 0xF4, 0xA5}
)

func TestProvisionBlankCard(t *testing.T) {
	fc := newFakeCard()
	p := NewProtocol(fc)

	res := p.Provision("REG-2024-0042", testKeyA, testKeyB)
	require.Equal(t, StatusLocked, res.Status, res.Error)

	// The payload is on the data block.
	assert.Equal(t, "REG-2024-0042", DecodePayload(fc.block(DataBlock)))

	// The trailer carries the new keys and access bits; the factory key no
	// longer authenticates the sector.
	trailer := fc.block(TrailerBlock)
	assert.Equal(t, testKeyA, trailer[:6])
	assert.Equal(t, []byte{0xFF, 0x07, 0x80, 0x69}, trailer[6:10])
	assert.Equal(t, testKeyB, trailer[10:16])
	assert.ErrorIs(t, p.Authenticate(DataBlock, FactoryKey), ErrAuthFailed)
	assert.NoError(t, p.Authenticate(DataBlock, testKeyA))
}

func TestProvisionIdempotentOnLockedCard(t *testing.T) {
	fc := newFakeCard()
	p := NewProtocol(fc)

	first := p.Provision("REG-2024-0042", testKeyA, testKeyB)
	require.Equal(t, StatusLocked, first.Status)
	want := append([]byte(nil), fc.block(DataBlock)...)

	for i := 0; i < 2; i++ {
		res := p.Provision("REG-9999-0001", testKeyA, testKeyB)
		assert.Equal(t, StatusAlreadyWritten, res.Status)
		assert.Equal(t, "REG-2024-0042", res.Existing)
		assert.Equal(t, want, fc.block(DataBlock))
	}
}

func TestProvisionSkipsNonBlankUnlockedCard(t *testing.T) {
	fc := newFakeCard()
	fc.blocks[DataBlock] = EncodePayload("REG-OLD")
	p := NewProtocol(fc)

	res := p.Provision("REG-NEW", testKeyA, testKeyB)
	assert.Equal(t, StatusAlreadyWritten, res.Status)
	assert.Equal(t, "REG-OLD", res.Existing)

	// Neither data block nor trailer was modified.
	assert.Equal(t, EncodePayload("REG-OLD"), fc.block(DataBlock))
	assert.Equal(t, make([]byte, BlockSize), fc.block(TrailerBlock))
}

func TestProvisionWriteFailure(t *testing.T) {
	fc := newFakeCard()
	fc.failWrite = true
	p := NewProtocol(fc)

	res := p.Provision("REG-1", testKeyA, testKeyB)
	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Error, "write data block")
}

func TestProvisionCorruptedWriteIsNotLocked(t *testing.T) {
	fc := newFakeCard()
	fc.corruptWrite = true
	p := NewProtocol(fc)

	res := p.Provision("REG-2024-0042", testKeyA, testKeyB)
	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Error, "verify data block")

	// The sector still accepts the factory key: nothing was sealed in.
	assert.Equal(t, make([]byte, BlockSize), fc.block(TrailerBlock))
	assert.NoError(t, p.Authenticate(DataBlock, FactoryKey))
}

func TestProvisionUnreadableCard(t *testing.T) {
	fc := newFakeCard()
	fc.failRead = true
	p := NewProtocol(fc)

	res := p.Provision("REG-1", testKeyA, testKeyB)
	assert.Equal(t, StatusError, res.Status)
}
