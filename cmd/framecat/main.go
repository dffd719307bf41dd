// Package main implements framecat, a development tool that attaches to a
// shared-memory signal channel as its consumer and prints each new frame.
// With -journal it additionally records the frames to a compressed journal
// for offline inspection.
//
// Usage:
//
//	go run ./cmd/framecat -channel quantcore.signal
//	go run ./cmd/framecat -journal /tmp/signal.zst
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
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
		interval    = flag.Duration("interval", 10*time.Millisecond, "poll interval")
		journalPath = flag.String("journal", "", "record frames to a zstd journal at this path")
		maxBytes    = flag.Int("max-bytes", 32, "payload bytes to print per frame")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	consumer, err := shm.NewConsumer(*dir, *channel, nil)
	if err != nil {
		logger.Error("failed to attach signal channel", "channel", *channel, "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	var journal *shm.JournalWriter
	if *journalPath != "" {
		journal, err = shm.NewJournalWriter(*journalPath)
		if err != nil {
			logger.Error("failed to open journal", "path", *journalPath, "error", err)
			os.Exit(1)
		}
		defer journal.Close()
		logger.Info("recording frames", "path", *journalPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	var lastSeq uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame, err := consumer.Read()
			if err != nil {
				if err == shm.ErrNoFrame {
					continue
				}
				logger.Warn("read failed", "error", err)
				continue
			}
			if frame.Seq == lastSeq {
				continue
			}
			lastSeq = frame.Seq

			n := len(frame.Payload)
			if n > *maxBytes {
				n = *maxBytes
			}
			fmt.Printf("seq=%d len=%d payload=%s\n", frame.Seq, len(frame.Payload), hex.EncodeToString(frame.Payload[:n]))

			if journal != nil {
				if err := journal.Record(frame); err != nil {
					logger.Error("journal write failed", "error", err)
					os.Exit(1)
				}
			}
		}
	}
}
