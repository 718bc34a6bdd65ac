// The bridge is the standalone middleware between a physical NFC reader and
// the campus backend: it watches the PC/SC reader, runs the sector protocol
// against presented cards, and exchanges events with the server relay.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"campuscard/internal/card"
	"campuscard/internal/config"
	"campuscard/internal/logging"
	"campuscard/internal/relay"
)

func main() {
	cfg := config.Load()
	logger := logging.NewText()

	keyA, err := parseKey(cfg.CardKeyA)
	if err != nil {
		log.Fatalf("invalid CARD_KEY_A: %v", err)
	}
	keyB, err := parseKey(cfg.CardKeyB)
	if err != nil {
		log.Fatalf("invalid CARD_KEY_B: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	driver := card.NewDriver(logger, card.NewIntentSlot(), keyA, keyB)
	b := newBridge(logger, driver, cfg.ReaderName)
	client := relay.NewClient(cfg.RelayURL, b, logger)
	b.client = client

	go func() {
		if err := client.Run(ctx); err != nil && ctx.Err() == nil {
			log.Fatalf("relay client failed: %v", err)
		}
	}()

	b.run(ctx)
	logger.Info(ctx, "bridge stopped")
}

func parseKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(key) != 6 {
		return nil, errors.New("key must be 6 bytes")
	}
	return key, nil
}
