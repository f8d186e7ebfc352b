package crypto

import "testing"

func TestSignVerifyRoundTrip(t *testing.T) {
	pub, priv, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	msg := []byte("lct://device:1234:session@local")
	sig, err := Sign(msg, priv)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := Verify(msg, sig, pub); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerifyRejectsBadSignature(t *testing.T) {
	pub, priv, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	sig, err := Sign([]byte("payload-a"), priv)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := Verify([]byte("payload-b"), sig, pub); err == nil {
		t.Fatalf("expected verification failure for tampered payload")
	}
}

func TestVerifyRejectsMalformedKey(t *testing.T) {
	if err := Verify([]byte("x"), []byte("sig"), PublicKey{0x01}); err == nil {
		t.Fatalf("expected CryptoError for malformed public key")
	}
}

func TestCanonicalEncodeDeterministic(t *testing.T) {
	type payload struct {
		B string `json:"b"`
		A string `json:"a"`
	}
	p := payload{B: "two", A: "one"}
	enc1, err := CanonicalEncode(p)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	enc2, err := CanonicalEncode(p)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(enc1) != string(enc2) {
		t.Fatalf("canonical encoding not stable: %s != %s", enc1, enc2)
	}
	// field order follows struct declaration order, not alphabetical.
	want := `{"b":"two","a":"one"}`
	if string(enc1) != want {
		t.Fatalf("unexpected canonical form: %s", enc1)
	}
}

func TestHashOfDeterministic(t *testing.T) {
	h1, err := HashOf(map[string]int{"a": 1, "b": 2})
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	h2, err := HashOf(map[string]int{"b": 2, "a": 1})
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("expected map key ordering to be canonicalized: %s != %s", h1, h2)
	}
}
