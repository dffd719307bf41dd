package shm

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"

	"quantcore/internal/types"
)

// JournalWriter records frames to a zstd-compressed file in the channel wire
// format, [sequence_id: 8][payload_length: 4][payload][sequence_id: 8], for
// offline inspection and replay of channel traffic.
type JournalWriter struct {
	file *os.File
	enc  *zstd.Encoder
}

// NewJournalWriter creates (or truncates) the journal file at path.
func NewJournalWriter(path string) (*JournalWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating journal %s: %w", path, err)
	}
	enc, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("initializing zstd encoder: %w", err)
	}
	return &JournalWriter{file: f, enc: enc}, nil
}

// Record appends one frame to the journal.
func (w *JournalWriter) Record(frame Frame) error {
	var hdr [12]byte
	binary.LittleEndian.PutUint64(hdr[0:8], frame.Seq)
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(frame.Payload)))

	if _, err := w.enc.Write(hdr[:]); err != nil {
		return fmt.Errorf("writing frame header: %w", err)
	}
	if _, err := w.enc.Write(frame.Payload); err != nil {
		return fmt.Errorf("writing frame payload: %w", err)
	}

	var tail [8]byte
	binary.LittleEndian.PutUint64(tail[:], frame.Seq)
	if _, err := w.enc.Write(tail[:]); err != nil {
		return fmt.Errorf("writing frame trailer: %w", err)
	}
	return nil
}

// Close flushes the compressor and closes the file.
func (w *JournalWriter) Close() error {
	if err := w.enc.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("closing zstd encoder: %w", err)
	}
	return w.file.Close()
}

// JournalReader iterates frames from a journal file.
type JournalReader struct {
	file *os.File
	dec  *zstd.Decoder
}

// OpenJournal opens a journal file for reading.
func OpenJournal(path string) (*JournalReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening journal %s: %w", path, err)
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("initializing zstd decoder: %w", err)
	}
	return &JournalReader{file: f, dec: dec}, nil
}

// Next decodes the next frame. It returns io.EOF at the end of the journal
// and frame_torn if a record's leading and trailing sequence ids disagree.
func (r *JournalReader) Next() (Frame, error) {
	var hdr [12]byte
	if _, err := io.ReadFull(r.dec, hdr[:]); err != nil {
		if err == io.EOF {
			return Frame{}, io.EOF
		}
		return Frame{}, fmt.Errorf("reading frame header: %w", err)
	}

	seq := binary.LittleEndian.Uint64(hdr[0:8])
	length := binary.LittleEndian.Uint32(hdr[8:12])

	payload := make([]byte, length)
	if _, err := io.ReadFull(r.dec, payload); err != nil {
		return Frame{}, fmt.Errorf("reading frame payload: %w", err)
	}

	var tail [8]byte
	if _, err := io.ReadFull(r.dec, tail[:]); err != nil {
		return Frame{}, fmt.Errorf("reading frame trailer: %w", err)
	}
	if got := binary.LittleEndian.Uint64(tail[:]); got != seq {
		return Frame{}, types.NewAppError(types.ErrCodeFrameTorn,
			fmt.Sprintf("journal record sequence mismatch (header=%d trailer=%d)", seq, got), nil)
	}

	return Frame{Seq: seq, Payload: payload}, nil
}

// Close releases the decoder and closes the file.
func (r *JournalReader) Close() error {
	r.dec.Close()
	return r.file.Close()
}
