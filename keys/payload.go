package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// DefaultValidity is how long a freshly signed payload stays acceptable.
const DefaultValidity = 60 * time.Second

// ErrSystemClockBeforeUnixEpoch is returned when the local clock cannot
// produce a validity timestamp.
var ErrSystemClockBeforeUnixEpoch = errors.New("system clock is before the unix epoch, please adjust it")

// SignedPayload is the envelope carried by every authenticated message: the
// encoded body, a random nonce, an absolute expiry and an Ed25519 signature
// identified by key id.
type SignedPayload struct {
	Payload        []byte `msgpack:"payload"`
	Nonce          uint64 `msgpack:"nonce"`
	ValidUntilSecs uint64 `msgpack:"valid_until_secs"`
	Signature      []byte `msgpack:"signature"`
	KeyID          string `msgpack:"key_id"`
}

// BytesToSign builds the exact byte string covered by the signature:
// the payload followed by the nonce and the expiry, both as little-endian
// 64-bit integers.
func BytesToSign(payload []byte, nonce, validUntilSecs uint64) []byte {
	out := make([]byte, 0, len(payload)+16)
	out = append(out, payload...)
	out = binary.LittleEndian.AppendUint64(out, nonce)
	out = binary.LittleEndian.AppendUint64(out, validUntilSecs)
	return out
}

// EncodeAndSign msgpack-encodes body and wraps it in a signed envelope
// valid for the given duration.
func EncodeAndSign(body any, key Key, validity time.Duration) (*SignedPayload, error) {
	now := time.Now()
	validUntil := now.Add(validity)
	if validUntil.Before(time.Unix(0, 0)) {
		return nil, ErrSystemClockBeforeUnixEpoch
	}

	payload, err := msgpack.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}

	var nonceBytes [8]byte
	if _, err := rand.Read(nonceBytes[:]); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	nonce := binary.LittleEndian.Uint64(nonceBytes[:])

	signer, err := key.Signer()
	if err != nil {
		return nil, err
	}
	validUntilSecs := uint64(validUntil.Unix())
	return &SignedPayload{
		Payload:        payload,
		Nonce:          nonce,
		ValidUntilSecs: validUntilSecs,
		Signature:      ed25519.Sign(signer, BytesToSign(payload, nonce, validUntilSecs)),
		KeyID:          key.ID,
	}, nil
}

// DecodePayload authenticates the envelope against store and decodes its
// body into out. Checks run in a fixed order: expiry first, then key
// lookup, then signature, and only then is the body decoded.
func DecodePayload(store Store, sp *SignedPayload, out any) error {
	now := time.Now()
	validUntil := time.Unix(int64(sp.ValidUntilSecs), 0)
	if validUntil.Before(now) {
		return &ExpiredSignatureError{ValidUntil: validUntil, Now: now}
	}
	if err := store.Verify(sp.KeyID, BytesToSign(sp.Payload, sp.Nonce, sp.ValidUntilSecs), sp.Signature); err != nil {
		return err
	}
	if err := msgpack.Unmarshal(sp.Payload, out); err != nil {
		return &PayloadDecodeError{Err: err}
	}
	return nil
}
