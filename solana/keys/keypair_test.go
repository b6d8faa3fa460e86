package keys

import (
	"crypto/ed25519"
	"encoding/base64"
	"testing"

	"github.com/mr-tron/base58"
)

func testKeypair(t *testing.T) *Keypair {
	t.Helper()
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i + 1)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	kp, err := FromBytes(priv)
	if err != nil {
		t.Fatal(err)
	}
	return kp
}

func TestFromIntArray(t *testing.T) {
	kp := testKeypair(t)
	arr := make([]int, 64)
	for i, b := range kp.Bytes() {
		arr[i] = int(b)
	}

	kp2, err := FromIntArray(arr)
	if err != nil {
		t.Fatal(err)
	}
	if kp2.PublicKey() != kp.PublicKey() {
		t.Fatal("public keys should match")
	}
}

func TestFromIntArray_RejectsOutOfRange(t *testing.T) {
	arr := make([]int, 64)
	arr[10] = 300
	if _, err := FromIntArray(arr); err == nil {
		t.Fatal("expected error for out-of-range byte")
	}
}

func TestFromBase58_RoundTrip(t *testing.T) {
	kp := testKeypair(t)
	encoded := base58.Encode(kp.Bytes())

	kp2, err := FromBase58(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if kp2.PublicKey() != kp.PublicKey() {
		t.Fatal("public keys should match")
	}
}

func TestSign_Verifies(t *testing.T) {
	kp := testKeypair(t)
	msg := []byte("copy this trade")
	sig := kp.Sign(msg)

	pub, err := base58.Decode(kp.PublicKey())
	if err != nil {
		t.Fatal(err)
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), msg, sig) {
		t.Fatal("signature should verify")
	}
}

func TestSignTransactionBase64(t *testing.T) {
	kp := testKeypair(t)

	// One signature slot, zeroed, followed by a fake message.
	message := []byte{0x80, 0x01, 0x00, 0x03, 0xaa, 0xbb, 0xcc}
	raw := make([]byte, 0, 1+64+len(message))
	raw = append(raw, 0x01)
	raw = append(raw, make([]byte, 64)...)
	raw = append(raw, message...)

	signed, err := kp.SignTransactionBase64(base64.StdEncoding.EncodeToString(raw))
	if err != nil {
		t.Fatal(err)
	}

	out, err := base64.StdEncoding.DecodeString(signed)
	if err != nil {
		t.Fatal(err)
	}
	pub, _ := base58.Decode(kp.PublicKey())
	if !ed25519.Verify(ed25519.PublicKey(pub), out[65:], out[1:65]) {
		t.Fatal("embedded signature should verify against the message bytes")
	}
}

func TestSignTransactionBase64_RejectsEmpty(t *testing.T) {
	kp := testKeypair(t)
	if _, err := kp.SignTransactionBase64(base64.StdEncoding.EncodeToString([]byte{0x00})); err == nil {
		t.Fatal("expected error for zero signature slots")
	}
}

func TestDecodeCompactU16(t *testing.T) {
	cases := []struct {
		in     []byte
		value  int
		offset int
	}{
		{[]byte{0x01}, 1, 1},
		{[]byte{0x7f}, 127, 1},
		{[]byte{0x80, 0x01}, 128, 2},
		{[]byte{0xff, 0x01}, 255, 2},
	}
	for _, c := range cases {
		v, off, err := decodeCompactU16(c.in)
		if err != nil {
			t.Fatalf("decode %v: %v", c.in, err)
		}
		if v != c.value || off != c.offset {
			t.Fatalf("decode %v: got (%d,%d), want (%d,%d)", c.in, v, off, c.value, c.offset)
		}
	}
}
