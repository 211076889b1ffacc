package pagecipher

import (
	"bytes"
	"errors"
	"testing"
)

func TestDeriveBasisKey_Deterministic(t *testing.T) {
	salt := bytes.Repeat([]byte{0x10}, SaltSize)
	source := StaticKeySource{Secret: []byte("device-secret")}

	k1, err := DeriveBasisKey([]byte("hunter2hunter2"), salt, source)
	if err != nil {
		t.Fatalf("DeriveBasisKey: %v", err)
	}
	defer k1.Zero()

	k2, err := DeriveBasisKey([]byte("hunter2hunter2"), salt, source)
	if err != nil {
		t.Fatalf("DeriveBasisKey: %v", err)
	}
	defer k2.Zero()

	if !bytes.Equal(k1.Bytes(), k2.Bytes()) {
		t.Fatal("same inputs derived different keys")
	}
	if k1.Len() != KeySize {
		t.Fatalf("key len = %d, want %d", k1.Len(), KeySize)
	}
}

func TestDeriveBasisKey_InputsChangeKey(t *testing.T) {
	salt := bytes.Repeat([]byte{0x11}, SaltSize)
	otherSalt := bytes.Repeat([]byte{0x12}, SaltSize)
	source := StaticKeySource{Secret: []byte("device-a")}
	otherSource := StaticKeySource{Secret: []byte("device-b")}

	base, err := DeriveBasisKey([]byte("password-one"), salt, source)
	if err != nil {
		t.Fatalf("DeriveBasisKey: %v", err)
	}
	defer base.Zero()

	cases := []struct {
		name     string
		password []byte
		salt     []byte
		source   KeySource
	}{
		{"password", []byte("password-two"), salt, source},
		{"salt", []byte("password-one"), otherSalt, source},
		{"device secret", []byte("password-one"), salt, otherSource},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			k, err := DeriveBasisKey(tc.password, tc.salt, tc.source)
			if err != nil {
				t.Fatalf("DeriveBasisKey: %v", err)
			}
			defer k.Zero()
			if bytes.Equal(base.Bytes(), k.Bytes()) {
				t.Fatalf("changing %s did not change the key", tc.name)
			}
		})
	}
}

func TestDeriveBasisKey_Validation(t *testing.T) {
	source := StaticKeySource{Secret: []byte("s")}

	if _, err := DeriveBasisKey(nil, bytes.Repeat([]byte{1}, SaltSize), source); !errors.Is(err, ErrEmptyPassword) {
		t.Fatalf("empty password err = %v, want ErrEmptyPassword", err)
	}
	if _, err := DeriveBasisKey([]byte("p"), []byte("short"), source); !errors.Is(err, ErrSaltSize) {
		t.Fatalf("short salt err = %v, want ErrSaltSize", err)
	}
}

func TestDeriveSubkey_PurposeSeparation(t *testing.T) {
	parent := NewSecureBytes(bytes.Repeat([]byte{0x22}, KeySize))
	defer parent.Zero()

	a, err := DeriveSubkey(parent, "pagevault/free-pool/v1")
	if err != nil {
		t.Fatalf("DeriveSubkey: %v", err)
	}
	defer a.Zero()

	b, err := DeriveSubkey(parent, "pagevault/page-data/v1")
	if err != nil {
		t.Fatalf("DeriveSubkey: %v", err)
	}
	defer b.Zero()

	if bytes.Equal(a.Bytes(), b.Bytes()) {
		t.Fatal("different infos produced the same subkey")
	}
}

func TestSecureBytes_Zero(t *testing.T) {
	buf := []byte{1, 2, 3, 4}
	s := NewSecureBytes(buf)
	s.Zero()

	if s.Len() != 0 {
		t.Fatalf("Len after Zero = %d, want 0", s.Len())
	}
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("buf[%d] = %d, want 0 after Zero", i, b)
		}
	}
}

func TestSystemEntropy_Fill(t *testing.T) {
	var e SystemEntropy
	buf := make([]byte, 64)
	if err := e.Fill(buf); err != nil {
		t.Fatalf("Fill: %v", err)
	}
	if bytes.Equal(buf, make([]byte, 64)) {
		t.Fatal("Fill left buffer all zero")
	}
}
