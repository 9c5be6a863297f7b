package dht

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/opd-ai/geomesh/address"
	"github.com/opd-ai/geomesh/crypto"
	"github.com/opd-ai/geomesh/limits"
)

// MaxEntryTTL is the longest lifetime an entry may declare.
const MaxEntryTTL = 7 * 24 * time.Hour

var (
	ErrBadEntry          = errors.New("dht: bad entry")
	ErrBadSignature      = errors.New("dht: bad signature")
	ErrPublisherMismatch = errors.New("dht: publisher address not owned by publisher key")
	ErrEntryExpired      = errors.New("dht: entry expired")
	ErrEntryTooLarge     = errors.New("dht: entry too large")
	ErrStaleEntry        = errors.New("dht: entry older than the one held")
	ErrKeyOwned          = errors.New("dht: key held by another publisher")
	ErrFutureEntry       = errors.New("dht: entry timestamp in the future")
)

// Entry is a publisher-signed key/value record.
type Entry struct {
	Key          []byte
	Value        []byte
	Timestamp    time.Time
	TTL          time.Duration
	Publisher    address.Address
	PublisherKey [crypto.KeySize]byte
	Signature    crypto.Signature
}

// NewEntry creates and signs an entry published by kp under the address publisher.
func NewEntry(kp *crypto.KeyPair, publisher address.Address, key, value []byte, ttl time.Duration, now time.Time) (*Entry, error) {
	if kp == nil {
		return nil, fmt.Errorf("%w: nil key pair", ErrBadEntry)
	}
	e := &Entry{
		Key:          append([]byte(nil), key...),
		Value:        append([]byte(nil), value...),
		Timestamp:    time.UnixMilli(now.UnixMilli()),
		TTL:          ttl.Truncate(time.Millisecond),
		Publisher:    publisher,
		PublisherKey: kp.Public,
	}
	if err := e.checkShape(); err != nil {
		return nil, err
	}

	sig, err := kp.Sign(e.signingPayload())
	if err != nil {
		return nil, fmt.Errorf("sign entry: %w", err)
	}
	e.Signature = sig
	return e, nil
}

func (e *Entry) checkShape() error {
	if len(e.Key) == 0 || len(e.Key) > limits.MaxDHTKeySize {
		return fmt.Errorf("%w: key length %d", ErrBadEntry, len(e.Key))
	}
	if len(e.Value) > limits.MaxDHTValueSize {
		return fmt.Errorf("%w: value %d bytes", ErrEntryTooLarge, len(e.Value))
	}
	if e.TTL <= 0 || e.TTL > MaxEntryTTL {
		return fmt.Errorf("%w: ttl %s", ErrBadEntry, e.TTL)
	}
	return nil
}

// signingPayload is the canonical byte string covered by the signature:
// key, value, timestamp, ttl, publisher, publisher key.
func (e *Entry) signingPayload() []byte {
	buf := make([]byte, 0, 2+len(e.Key)+4+len(e.Value)+16+address.CompactSize+crypto.KeySize)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(e.Key)))
	buf = append(buf, e.Key...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(e.Value)))
	buf = append(buf, e.Value...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(e.Timestamp.UnixMilli()))
	buf = binary.BigEndian.AppendUint64(buf, uint64(e.TTL.Milliseconds()))
	buf = e.Publisher.AppendCompact(buf)
	return append(buf, e.PublisherKey[:]...)
}

// Verify checks the entry's shape, that the publisher address belongs to
// the publisher key, and the signature.
func (e *Entry) Verify() error {
	if err := e.checkShape(); err != nil {
		return err
	}
	if !e.Publisher.ClaimedBy(e.PublisherKey) {
		return ErrPublisherMismatch
	}
	ok, err := crypto.Verify(e.signingPayload(), e.Signature, e.PublisherKey)
	if err != nil || !ok {
		return ErrBadSignature
	}
	return nil
}

// ExpiresAt returns the instant the entry stops being served.
func (e *Entry) ExpiresAt() time.Time {
	return e.Timestamp.Add(e.TTL)
}

// Expired reports whether the entry has expired at now.
func (e *Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt())
}

// MarshalBinary encodes the entry:
// [keylen(2)][key][vallen(4)][value][timestamp ms(8)][ttl ms(8)][publisher(32)][publisher key(32)][signature(64)].
func (e *Entry) MarshalBinary() ([]byte, error) {
	if err := e.checkShape(); err != nil {
		return nil, err
	}
	pub, err := e.Publisher.MarshalBinary()
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 0, 2+len(e.Key)+4+len(e.Value)+16+address.Size+crypto.KeySize+crypto.SignatureSize)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(e.Key)))
	buf = append(buf, e.Key...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(e.Value)))
	buf = append(buf, e.Value...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(e.Timestamp.UnixMilli()))
	buf = binary.BigEndian.AppendUint64(buf, uint64(e.TTL.Milliseconds()))
	buf = append(buf, pub...)
	buf = append(buf, e.PublisherKey[:]...)
	return append(buf, e.Signature[:]...), nil
}

// UnmarshalEntry decodes an entry produced by MarshalBinary. The signature
// is not checked; call Verify.
func UnmarshalEntry(data []byte) (*Entry, error) {
	r := reader{data: data}

	keyLen := int(r.uint16())
	key := r.bytes(keyLen)
	valLen := int(r.uint32())
	if valLen > limits.MaxDHTValueSize {
		return nil, fmt.Errorf("%w: value %d bytes", ErrEntryTooLarge, valLen)
	}
	value := r.bytes(valLen)
	ts := r.uint64()
	ttl := r.uint64()
	pub := r.bytes(address.Size)
	pubKey := r.bytes(crypto.KeySize)
	sig := r.bytes(crypto.SignatureSize)
	if r.err != nil {
		return nil, r.err
	}

	e := &Entry{
		Key:       key,
		Value:     value,
		Timestamp: time.UnixMilli(int64(ts)),
		TTL:       time.Duration(ttl) * time.Millisecond,
	}
	if err := e.Publisher.UnmarshalBinary(pub); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEntry, err)
	}
	copy(e.PublisherKey[:], pubKey)
	copy(e.Signature[:], sig)
	return e, nil
}

// reader is a bounds-checked big-endian cursor. The first short read
// sticks in err and later reads return zero values.
type reader struct {
	data []byte
	err  error
}

func (r *reader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.data) < n {
		r.err = fmt.Errorf("%w: truncated", ErrBadEntry)
		return nil
	}
	out := append([]byte(nil), r.data[:n]...)
	r.data = r.data[n:]
	return out
}

func (r *reader) uint16() uint16 {
	b := r.bytes(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *reader) uint32() uint32 {
	b := r.bytes(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *reader) uint64() uint64 {
	b := r.bytes(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}
