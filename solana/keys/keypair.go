package keys

import (
	"crypto/ed25519"
	"encoding/base64"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
)

// Keypair wraps an ed25519 signing key. The canonical on-disk form is the
// 64-byte secret key (seed followed by public key), matching what Solana
// tooling writes to wallet files.
type Keypair struct {
	priv ed25519.PrivateKey
}

// FromBytes builds a Keypair from the 64-byte secret key.
func FromBytes(secret []byte) (*Keypair, error) {
	if len(secret) != ed25519.PrivateKeySize {
		return nil, errors.Errorf("keys: secret key must be %d bytes, got %d", ed25519.PrivateKeySize, len(secret))
	}
	return &Keypair{priv: ed25519.PrivateKey(append([]byte(nil), secret...))}, nil
}

// FromIntArray builds a Keypair from the JSON int-array wallet format.
func FromIntArray(arr []int) (*Keypair, error) {
	b := make([]byte, len(arr))
	for i, v := range arr {
		if v < 0 || v > 255 {
			return nil, errors.Errorf("keys: byte %d out of range at index %d", v, i)
		}
		b[i] = byte(v)
	}
	return FromBytes(b)
}

// FromBase58 builds a Keypair from a base58-encoded 64-byte secret key.
func FromBase58(s string) (*Keypair, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return nil, errors.Wrap(err, "keys: decode base58 secret")
	}
	return FromBytes(b)
}

// PublicKey returns the base58-encoded public key.
func (k *Keypair) PublicKey() string {
	return base58.Encode(k.priv.Public().(ed25519.PublicKey))
}

// Sign signs an arbitrary message.
func (k *Keypair) Sign(message []byte) []byte {
	return ed25519.Sign(k.priv, message)
}

// Bytes returns a copy of the 64-byte secret key.
func (k *Keypair) Bytes() []byte {
	return append([]byte(nil), k.priv...)
}

// SignTransactionBase64 signs a base64-serialized (possibly versioned)
// transaction as the fee payer and returns the signed transaction, base64
// encoded, ready for sendTransaction.
//
// Wire layout: compact-u16 signature count, then count 64-byte signatures,
// then the message. The fee payer's signature occupies slot 0 and covers the
// message bytes only.
func (k *Keypair) SignTransactionBase64(txBase64 string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(txBase64)
	if err != nil {
		return "", errors.Wrap(err, "keys: decode transaction")
	}

	numSigs, offset, err := decodeCompactU16(raw)
	if err != nil {
		return "", errors.Wrap(err, "keys: parse signature count")
	}
	if numSigs == 0 {
		return "", errors.New("keys: transaction reserves no signature slots")
	}
	msgStart := offset + numSigs*64
	if msgStart >= len(raw) {
		return "", errors.New("keys: transaction truncated")
	}

	sig := k.Sign(raw[msgStart:])
	copy(raw[offset:offset+64], sig)

	return base64.StdEncoding.EncodeToString(raw), nil
}

// decodeCompactU16 reads a Solana compact-u16 length prefix.
func decodeCompactU16(b []byte) (int, int, error) {
	value := 0
	for i := 0; i < 3; i++ {
		if i >= len(b) {
			return 0, 0, errors.New("short buffer")
		}
		value |= int(b[i]&0x7f) << (7 * i)
		if b[i]&0x80 == 0 {
			return value, i + 1, nil
		}
	}
	return 0, 0, errors.New("compact-u16 overflow")
}
