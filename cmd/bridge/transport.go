package main

import (
	"github.com/ebfe/scard"
)

// scardTransport adapts a connected PC/SC card to the card.Transport
// interface.
type scardTransport struct {
	card   *scard.Card
	reader string
}

func (t *scardTransport) Transmit(apdu []byte) ([]byte, error) {
	return t.card.Transmit(apdu)
}

func (t *scardTransport) Name() string {
	return t.reader
}
