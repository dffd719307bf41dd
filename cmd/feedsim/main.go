// Package main implements feedsim, a development tool that plays the feed
// producer's role: it creates the shared-memory signal channel and publishes
// synthetic signal frames at a fixed rate so the daemon's active-phase
// decision path can be exercised without a real market feed.
//
// Usage:
//
//	go run ./cmd/feedsim -channel quantcore.signal -rate 100
//	go run ./cmd/feedsim -count 1000 -payload 256
package main

import (
	"context"
	"encoding/binary"
	"flag"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quantcore/internal/shm"
)

func main() {
	var (
		dir         = flag.String("dir", "/dev/shm", "directory backing the shared-memory region")
		channel     = flag.String("channel", "quantcore.signal", "channel name")
		capacity    = flag.Int("capacity", 65536, "channel payload capacity in bytes")
		rate        = flag.Int("rate", 100, "frames per second")
		count       = flag.Int("count", 0, "stop after this many frames (0 = run until interrupted)")
		payloadSize = flag.Int("payload", 64, "synthetic payload size in bytes")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	producer, err := shm.NewProducer(*dir, *channel, *capacity, nil)
	if err != nil {
		logger.Error("failed to create signal channel", "channel", *channel, "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	interval := time.Second / time.Duration(*rate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("publishing synthetic frames",
		"channel", *channel,
		"rate", *rate,
		"payload_bytes", *payloadSize,
	)

	published := 0
	payload := make([]byte, *payloadSize)
	for {
		select {
		case <-ctx.Done():
			logger.Info("interrupted", "published", published)
			return
		case <-ticker.C:
			fillSyntheticTick(payload)
			seq, err := producer.Publish(payload)
			if err != nil {
				logger.Error("publish failed", "error", err)
				os.Exit(1)
			}
			published++
			if published%1000 == 0 {
				logger.Info("progress", "published", published, "seq", seq)
			}
			if *count > 0 && published >= *count {
				logger.Info("done", "published", published, "last_seq", seq)
				return
			}
		}
	}
}

// fillSyntheticTick writes a timestamped pseudo-price payload: nanosecond
// timestamp, then a random walk of price bytes.
func fillSyntheticTick(payload []byte) {
	if len(payload) >= 8 {
		binary.LittleEndian.PutUint64(payload, uint64(time.Now().UnixNano()))
	}
	for i := 8; i < len(payload); i++ {
		payload[i] = byte(rand.Intn(256))
	}
}
