// Package blob wraps the engine's serialized checkpoint buffers for storage
// and protects them with an integrity tag.
//
// The tag is HMAC-SHA256 truncated to TagSize bytes, computed over a
// domain-separated, length-prefixed encoding of both buffers:
//
//	HMAC(key, domain || 0x00 || len(state) || state || len(flow) || flow)
//
// Lengths are big-endian uint64. The prefixes make ("ab","c") and ("a","bc")
// tag differently. The key lives in a memguard enclave and is only decrypted
// for the duration of one tag computation.
package blob

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/awnumar/memguard"

	"github.com/roach88/flowstore/internal/checkpoint"
)

// TagSize is the stored length of the integrity tag in bytes.
const TagSize = 16

// MinKeySize is the shortest accepted HMAC key.
const MinKeySize = 16

// domainBlob separates blob tags from any other use of the same key.
// Version suffix enables future algorithm migration.
const domainBlob = "flowstore/checkpoint-blob/v1"

// Blob is the storable form of one checkpoint's serialized buffers.
type Blob struct {
	CheckpointState []byte
	FlowState       []byte
	Tag             []byte
	PersistedAt     time.Time
}

// Adapter computes and verifies blob integrity tags. It is stateless apart
// from its key and is safe for concurrent use.
type Adapter struct {
	key          *memguard.Enclave
	acceptLegacy bool
	now          func() time.Time
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLegacyZeroTags accepts blobs whose stored tag is all zero bytes.
// Older releases wrote a zero placeholder instead of a real tag; enable this
// only while such blobs may still be on disk.
func WithLegacyZeroTags(accept bool) Option {
	return func(a *Adapter) {
		a.acceptLegacy = accept
	}
}

// WithClock overrides the time source used for PersistedAt.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) {
		a.now = now
	}
}

// NewAdapter creates an adapter keyed with key. The caller's slice is copied
// before being sealed, so it stays intact; callers holding secret material
// should wipe it themselves.
func NewAdapter(key []byte, opts ...Option) (*Adapter, error) {
	if len(key) < MinKeySize {
		return nil, fmt.Errorf("blob: key must be at least %d bytes, got %d", MinKeySize, len(key))
	}

	// NewEnclave wipes its argument.
	sealed := make([]byte, len(key))
	copy(sealed, key)

	a := &Adapter{
		key: memguard.NewEnclave(sealed),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Wrap tags both buffers and returns the blob to persist. The buffers are
// stored verbatim; Wrap does not copy them.
func (a *Adapter) Wrap(checkpointState, flowState []byte) (Blob, error) {
	tag, err := a.Tag(checkpointState, flowState)
	if err != nil {
		return Blob{}, err
	}
	return Blob{
		CheckpointState: checkpointState,
		FlowState:       flowState,
		Tag:             tag,
		PersistedAt:     a.now().UTC(),
	}, nil
}

// Tag computes the integrity tag of the two buffers.
func (a *Adapter) Tag(checkpointState, flowState []byte) ([]byte, error) {
	lb, err := a.key.Open()
	if err != nil {
		return nil, fmt.Errorf("blob: open key enclave: %w", err)
	}
	defer lb.Destroy()

	mac := hmac.New(sha256.New, lb.Bytes())
	mac.Write([]byte(domainBlob))
	mac.Write([]byte{0x00})
	writeSection(mac, checkpointState)
	writeSection(mac, flowState)
	return mac.Sum(nil)[:TagSize], nil
}

// Verify checks the stored tag of b. runID only labels the returned error.
func (a *Adapter) Verify(runID checkpoint.RunID, b Blob) error {
	if a.acceptLegacy && isZeroTag(b.Tag) {
		return nil
	}

	want, err := a.Tag(b.CheckpointState, b.FlowState)
	if err != nil {
		return err
	}
	if !hmac.Equal(want, b.Tag) {
		return &IntegrityError{RunID: runID, ZeroTag: isZeroTag(b.Tag)}
	}
	return nil
}

// Unwrap verifies b and returns its two buffers.
func (a *Adapter) Unwrap(runID checkpoint.RunID, b Blob) (checkpointState, flowState []byte, err error) {
	if err := a.Verify(runID, b); err != nil {
		return nil, nil, err
	}
	return b.CheckpointState, b.FlowState, nil
}

func writeSection(mac interface{ Write([]byte) (int, error) }, data []byte) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(data)))
	mac.Write(n[:])
	mac.Write(data)
}

func isZeroTag(tag []byte) bool {
	if len(tag) != TagSize {
		return false
	}
	for _, b := range tag {
		if b != 0 {
			return false
		}
	}
	return true
}
