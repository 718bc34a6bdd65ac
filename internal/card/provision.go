package card

import (
	"bytes"
	"fmt"
)

// ProvisionStatus is the terminal outcome of a write-then-lock attempt.
type ProvisionStatus string

const (
	StatusLocked         ProvisionStatus = "locked"
	StatusAlreadyWritten ProvisionStatus = "already-written"
	StatusError          ProvisionStatus = "error"
)

// ProvisionResult reports what happened to the presented card. Existing is
// the decoded current payload when the card was already provisioned, so the
// operator can tell "wrong blank" from a hard failure.
type ProvisionResult struct {
	Status   ProvisionStatus `json:"status"`
	Student  string          `json:"student,omitempty"`
	Existing string          `json:"existing,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Provision personalises a blank card: authenticate the data sector with the
// factory key, refuse to touch a non-blank block, write the identifier, and
// lock the sector by rewriting the trailer with the issuing keys. Locking is
// irreversible with the factory key, which is the point.
func (p *Protocol) Provision(id string, keyA, keyB []byte) ProvisionResult {
	if err := p.Authenticate(DataBlock, FactoryKey); err != nil {
		// A sector that rejects the factory key has been locked already.
		// Read it with the issuing key so the operator sees whose card
		// this is instead of a bare auth failure.
		if authErr := p.Authenticate(DataBlock, keyA); authErr == nil {
			if existing, readErr := p.ReadBlock(DataBlock); readErr == nil {
				return ProvisionResult{Status: StatusAlreadyWritten, Student: id, Existing: DecodePayload(existing)}
			}
		}
		return ProvisionResult{Status: StatusError, Student: id, Error: fmt.Sprintf("authenticate data block: %v", err)}
	}

	existing, err := p.ReadBlock(DataBlock)
	if err != nil {
		return ProvisionResult{Status: StatusError, Student: id, Error: fmt.Sprintf("read data block: %v", err)}
	}
	if !IsBlank(existing) {
		return ProvisionResult{Status: StatusAlreadyWritten, Student: id, Existing: DecodePayload(existing)}
	}

	payload := EncodePayload(id)
	if err := p.WriteBlock(DataBlock, payload); err != nil {
		return ProvisionResult{Status: StatusError, Student: id, Error: fmt.Sprintf("write data block: %v", err)}
	}

	// Read the block back before locking: a corrupted write must not be
	// sealed in behind the issuing keys.
	written, err := p.ReadBlock(DataBlock)
	if err != nil {
		return ProvisionResult{Status: StatusError, Student: id, Error: fmt.Sprintf("verify data block: %v", err)}
	}
	if !bytes.Equal(written, payload) {
		return ProvisionResult{Status: StatusError, Student: id,
			Error: fmt.Sprintf("verify data block: wrote %q, read back %q", DecodePayload(payload), DecodePayload(written))}
	}

	if err := p.lockSector(keyA, keyB); err != nil {
		// The payload is on the card but the sector still accepts the
		// factory key; surfaced so the operator retries on the same card.
		return ProvisionResult{Status: StatusError, Student: id, Error: fmt.Sprintf("lock sector: %v", err)}
	}

	return ProvisionResult{Status: StatusLocked, Student: id}
}

// lockSector rewrites the trailer block: new key A, fixed access bits,
// new key B. After this the factory key no longer authenticates the sector.
func (p *Protocol) lockSector(keyA, keyB []byte) error {
	if len(keyA) != 6 || len(keyB) != 6 {
		return fmt.Errorf("card: trailer keys must be 6 bytes")
	}
	if err := p.Authenticate(TrailerBlock, FactoryKey); err != nil {
		return err
	}
	trailer := make([]byte, 0, BlockSize)
	trailer = append(trailer, keyA...)
	trailer = append(trailer, accessBits...)
	trailer = append(trailer, keyB...)
	return p.WriteBlock(TrailerBlock, trailer)
}
