// Package shm implements the lock-free single-producer/single-consumer signal
// channel over a named shared-memory region. The channel always holds exactly
// one frame (the most recent); every write fully overwrites the previous
// frame, so readers observe latest-value semantics, not a queue. A slow
// consumer silently misses intermediate frames; that is the design trade-off,
// not a bug.
//
// Region layout (all integers little-endian):
//
//	[0..8)    magic
//	[8..16)   owner PID
//	[16..24)  owner nonce
//	[24..32)  attach refcount
//	[32..40)  payload capacity
//	[40..64)  reserved
//	[64..)    frame: [sequence_id: 8][payload_length: 4][payload: capacity][sequence_id: 8]
//
// The payload slot is always the full capacity, so the trailing sequence_id
// sits at the fixed offset payloadOff+capacity; frames shorter than capacity
// leave stale bytes between the payload and the trailer.
//
// The frame layout is the wire format and is bit-exact across producer and
// consumer implementations.
package shm

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"quantcore/internal/types"
)

const (
	regionMagic  uint64 = 0x51435348_4D763100 // "QCSHMv1\0"
	regionSuffix        = ".qcsr"

	offMagic    = 0
	offOwnerPID = 8
	offNonce    = 16
	offRefs     = 24
	offCapacity = 32
	frameOff    = 64

	seqHeadOff = frameOff
	lenOff     = frameOff + 8
	payloadOff = frameOff + 12
)

// processAlive reports whether a PID refers to a live process. Injectable for
// testing the stale-region path. EPERM means the process exists but belongs
// to another user.
var processAlive = func(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}

// Region is one mapped shared-memory region. The creating endpoint owns the
// underlying file; attach/detach maintain a refcount in the header and the
// file is unlinked when the last endpoint detaches.
type Region struct {
	name     string
	path     string
	data     []byte
	capacity int
	detached bool
}

func regionSize(capacity int) int {
	return payloadOff + capacity + 8 // trailing sequence copy
}

func regionPath(dir, name string) string {
	return filepath.Join(dir, name+regionSuffix)
}

// CreateRegion creates the named region for the producer role. A name
// collision with a live owner is fatal to the caller (channel_name_conflict).
// A region left behind by a dead producer is removed and recreated, so
// re-creation under the same name is idempotent across crashes.
func CreateRegion(dir, name string, capacity int) (*Region, error) {
	if capacity <= 0 || capacity%8 != 0 {
		return nil, types.NewAppError(types.ErrCodeConfigInvalid,
			fmt.Sprintf("channel capacity %d must be a positive multiple of 8", capacity), nil)
	}

	path := regionPath(dir, name)
	for attempt := 0; attempt < 2; attempt++ {
		fd, err := unix.Open(path, unix.O_CREAT|unix.O_EXCL|unix.O_RDWR, 0o600)
		if err == nil {
			return initRegion(fd, path, name, capacity)
		}
		if err != unix.EEXIST {
			return nil, fmt.Errorf("creating region %s: %w", path, err)
		}

		// A region already exists under this name. If its owner is still
		// alive this is a genuine conflict; if the owner died without
		// detaching, clean up the stale region and retry once.
		stale, inspectErr := regionIsStale(path)
		if inspectErr != nil {
			return nil, inspectErr
		}
		if !stale {
			return nil, types.NewAppError(types.ErrCodeChannelNameConflict,
				fmt.Sprintf("channel region %q already owned by a live process", name), nil)
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("removing stale region %s: %w", path, err)
		}
	}

	return nil, types.NewAppError(types.ErrCodeChannelNameConflict,
		fmt.Sprintf("channel region %q could not be recreated", name), nil)
}

// AttachRegion attaches to an existing named region for the consumer role.
// Attaching before a producer exists fails closed with channel_not_found
// rather than blocking.
func AttachRegion(dir, name string) (*Region, error) {
	path := regionPath(dir, name)
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		if err == unix.ENOENT {
			return nil, types.NewAppError(types.ErrCodeChannelNotFound,
				fmt.Sprintf("channel region %q does not exist yet", name), nil)
		}
		return nil, fmt.Errorf("opening region %s: %w", path, err)
	}

	st, err := fstat(fd)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("stat region %s: %w", path, err)
	}

	data, err := unix.Mmap(fd, 0, int(st.Size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	unix.Close(fd)
	if err != nil {
		return nil, fmt.Errorf("mapping region %s: %w", path, err)
	}

	r := &Region{name: name, path: path, data: data}
	if err := r.validateHeader(int(st.Size)); err != nil {
		unix.Munmap(data)
		return nil, err
	}

	atomic.AddUint64(r.refsPtr(), 1)
	return r, nil
}

// Detach unmaps the region and drops its refcount reservation. The last
// endpoint to detach unlinks the backing file, releasing the region name.
func (r *Region) Detach() error {
	if r.detached {
		return nil
	}
	r.detached = true

	remaining := atomic.AddUint64(r.refsPtr(), ^uint64(0))
	data := r.data
	r.data = nil
	if err := unix.Munmap(data); err != nil {
		return fmt.Errorf("unmapping region %s: %w", r.path, err)
	}
	if remaining == 0 {
		if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing region %s: %w", r.path, err)
		}
	}
	return nil
}

// Capacity returns the maximum payload size in bytes.
func (r *Region) Capacity() int {
	return r.capacity
}

// Name returns the region name.
func (r *Region) Name() string {
	return r.name
}

func initRegion(fd int, path, name string, capacity int) (*Region, error) {
	size := regionSize(capacity)
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		os.Remove(path)
		return nil, fmt.Errorf("sizing region %s: %w", path, err)
	}

	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	unix.Close(fd)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("mapping region %s: %w", path, err)
	}

	binary.LittleEndian.PutUint64(data[offMagic:], regionMagic)
	binary.LittleEndian.PutUint64(data[offOwnerPID:], uint64(os.Getpid()))
	binary.LittleEndian.PutUint64(data[offNonce:], randomNonce())
	binary.LittleEndian.PutUint64(data[offRefs:], 1)
	binary.LittleEndian.PutUint64(data[offCapacity:], uint64(capacity))

	return &Region{name: name, path: path, data: data, capacity: capacity}, nil
}

// regionIsStale inspects an existing region file and reports whether its
// recorded owner process is gone.
func regionIsStale(path string) (bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, fmt.Errorf("inspecting region %s: %w", path, err)
	}
	if len(raw) < frameOff || binary.LittleEndian.Uint64(raw[offMagic:]) != regionMagic {
		// Not one of ours, or truncated beyond recognition. Treat as stale
		// debris so the producer can recreate the name.
		return true, nil
	}
	pid := int(binary.LittleEndian.Uint64(raw[offOwnerPID:]))
	return !processAlive(pid), nil
}

func (r *Region) validateHeader(fileSize int) error {
	if len(r.data) < frameOff {
		return types.NewAppError(types.ErrCodeChannelCorrupt,
			fmt.Sprintf("region %q truncated", r.name), nil)
	}
	if binary.LittleEndian.Uint64(r.data[offMagic:]) != regionMagic {
		return types.NewAppError(types.ErrCodeChannelCorrupt,
			fmt.Sprintf("region %q has unrecognized magic", r.name), nil)
	}
	capacity := int(binary.LittleEndian.Uint64(r.data[offCapacity:]))
	if capacity <= 0 || regionSize(capacity) != fileSize {
		return types.NewAppError(types.ErrCodeChannelCorrupt,
			fmt.Sprintf("region %q capacity %d inconsistent with file size %d", r.name, capacity, fileSize), nil)
	}
	r.capacity = capacity
	return nil
}

// Aligned 64-bit header fields are accessed atomically through the mapping.
// frameOff and offRefs are 8-byte aligned by construction.

func (r *Region) refsPtr() *uint64 {
	return (*uint64)(unsafe.Pointer(&r.data[offRefs]))
}

func (r *Region) seqHeadPtr() *uint64 {
	return (*uint64)(unsafe.Pointer(&r.data[seqHeadOff]))
}

func (r *Region) seqTailOff() int {
	return payloadOff + r.capacity
}

func randomNonce() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// Nonce only disambiguates region incarnations in diagnostics;
		// falling back to zero is acceptable.
		return 0
	}
	return binary.LittleEndian.Uint64(b[:])
}

func fstat(fd int) (unix.Stat_t, error) {
	var st unix.Stat_t
	err := unix.Fstat(fd, &st)
	return st, err
}
