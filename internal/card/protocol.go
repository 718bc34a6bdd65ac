// Package card implements the sector read/write protocol spoken to MIFARE
// Classic cards through a PC/SC reader. All commands are ACR122-style
// pseudo-APDUs: load key into a volatile slot, authenticate a block with it,
// then read or update 16 bytes at a time.
package card

import (
	"encoding/hex"
	"errors"
	"fmt"
)

// Transport is the link to one physical reader. The production
// implementation wraps an scard.Card; tests substitute a fake.
type Transport interface {
	// Transmit sends one APDU and returns the raw response including the
	// trailing SW1/SW2 status words.
	Transmit(apdu []byte) ([]byte, error)
	// Name identifies the reader for event payloads and logs.
	Name() string
}

// Fixed card layout. Sector 1 holds the badge payload; its first data block
// carries the 16-byte identifier and its trailer holds the access keys.
const (
	DataSector   = 1
	DataBlock    = DataSector * 4     // block 4
	TrailerBlock = DataSector*4 + 3   // block 7
	BlockSize    = 16
)

// FactoryKey is the transport key blank cards ship with.
var FactoryKey = []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// accessBits is the trailer byte sequence written on lock: key A for
// read/write on data blocks, key A required to rewrite the trailer.
var accessBits = []byte{0xFF, 0x07, 0x80, 0x69}

type keyType byte

const (
	keyA keyType = 0x60
	keyB keyType = 0x61
)

var (
	ErrAuthFailed  = errors.New("card: authentication failed")
	ErrReadFailed  = errors.New("card: read failed")
	ErrWriteFailed = errors.New("card: write failed")
)

// Protocol drives the authenticate/read/write command set over one Transport.
type Protocol struct {
	t Transport
}

func NewProtocol(t Transport) *Protocol {
	return &Protocol{t: t}
}

func (p *Protocol) ReaderName() string { return p.t.Name() }

// UID asks the reader for the UID of the card in the field.
func (p *Protocol) UID() (string, error) {
	resp, err := p.t.Transmit([]byte{0xFF, 0xCA, 0x00, 0x00, 0x00})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrReadFailed, err)
	}
	if !swOK(resp) || len(resp) <= 2 {
		return "", fmt.Errorf("%w: status %s", ErrReadFailed, swString(resp))
	}
	return hex.EncodeToString(resp[:len(resp)-2]), nil
}

// loadKey places a 6-byte key into volatile key slot 0.
func (p *Protocol) loadKey(key []byte) error {
	if len(key) != 6 {
		return fmt.Errorf("card: key must be 6 bytes, got %d", len(key))
	}
	apdu := append([]byte{0xFF, 0x82, 0x00, 0x00, 0x06}, key...)
	return p.transmitOK(apdu, ErrAuthFailed)
}

// Authenticate loads key and authenticates the given block with key A.
func (p *Protocol) Authenticate(block byte, key []byte) error {
	return p.authenticate(block, key, keyA)
}

func (p *Protocol) authenticate(block byte, key []byte, kt keyType) error {
	if err := p.loadKey(key); err != nil {
		return err
	}
	apdu := []byte{0xFF, 0x86, 0x00, 0x00, 0x05, 0x01, 0x00, block, byte(kt), 0x00}
	return p.transmitOK(apdu, ErrAuthFailed)
}

// ReadBlock returns the 16 bytes of an already-authenticated block.
func (p *Protocol) ReadBlock(block byte) ([]byte, error) {
	apdu := []byte{0xFF, 0xB0, 0x00, block, BlockSize}
	resp, err := p.t.Transmit(apdu)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReadFailed, err)
	}
	if !swOK(resp) || len(resp) < BlockSize+2 {
		return nil, fmt.Errorf("%w: status %s", ErrReadFailed, swString(resp))
	}
	return resp[:BlockSize], nil
}

// WriteBlock writes 16 bytes to an already-authenticated block.
func (p *Protocol) WriteBlock(block byte, data []byte) error {
	if len(data) != BlockSize {
		return fmt.Errorf("%w: payload must be %d bytes, got %d", ErrWriteFailed, BlockSize, len(data))
	}
	apdu := append([]byte{0xFF, 0xD6, 0x00, block, BlockSize}, data...)
	return p.transmitOK(apdu, ErrWriteFailed)
}

func (p *Protocol) transmitOK(apdu []byte, sentinel error) error {
	resp, err := p.t.Transmit(apdu)
	if err != nil {
		return fmt.Errorf("%w: %v", sentinel, err)
	}
	if !swOK(resp) {
		return fmt.Errorf("%w: status %s", sentinel, swString(resp))
	}
	return nil
}

// swOK reports whether a response ends in the 90 00 success status.
func swOK(resp []byte) bool {
	n := len(resp)
	return n >= 2 && resp[n-2] == 0x90 && resp[n-1] == 0x00
}

func swString(resp []byte) string {
	if len(resp) < 2 {
		return "short response"
	}
	return hex.EncodeToString(resp[len(resp)-2:])
}
