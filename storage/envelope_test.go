package storage

import (
	"bytes"
	"testing"

	"github.com/jmcleod/terminguard/internal/util"
)

func TestEnvelope(t *testing.T) {
	key, _ := util.RandomBytes(util.AESKeySize)
	plain := []byte("top secret")
	aad := []byte("context")

	env, err := SealRecord(key, plain, aad)
	if err != nil {
		t.Fatalf("SealRecord failed: %v", err)
	}

	if env.Ver != 1 {
		t.Errorf("expected version 1, got %d", env.Ver)
	}

	decrypted, err := OpenRecord(key, env, aad)
	if err != nil {
		t.Fatalf("OpenRecord failed: %v", err)
	}

	if !bytes.Equal(plain, decrypted) {
		t.Errorf("expected %s, got %s", plain, decrypted)
	}

	t.Run("WrongAAD", func(t *testing.T) {
		_, err := OpenRecord(key, env, []byte("wrong context"))
		if err == nil {
			t.Error("expected error with wrong AAD, got nil")
		}
	})

	t.Run("WrongKey", func(t *testing.T) {
		wrongKey, _ := util.RandomBytes(util.AESKeySize)
		_, err := OpenRecord(wrongKey, env, aad)
		if err == nil {
			t.Error("expected error with wrong key, got nil")
		}
	})

	t.Run("UnsupportedVersion", func(t *testing.T) {
		badEnv := *env
		badEnv.Ver = 99
		_, err := OpenRecord(key, &badEnv, aad)
		if err == nil {
			t.Error("expected error with unsupported version, got nil")
		}
	})

	t.Run("UnsupportedScheme", func(t *testing.T) {
		badEnv := *env
		badEnv.Scheme = "unknown"
		_, err := OpenRecord(key, &badEnv, aad)
		if err == nil {
			t.Error("expected error with unsupported scheme, got nil")
		}
	})
}

func TestPlainJSONEnvelope(t *testing.T) {
	type record struct {
		Name string `json:"name"`
	}

	env, err := EncodeJSON(record{Name: "admin"})
	if err != nil {
		t.Fatalf("EncodeJSON failed: %v", err)
	}
	if env.Scheme != SchemePlainJSON {
		t.Fatalf("expected scheme %q, got %q", SchemePlainJSON, env.Scheme)
	}

	var got record
	if err := DecodeJSON(env, &got); err != nil {
		t.Fatalf("DecodeJSON failed: %v", err)
	}
	if got.Name != "admin" {
		t.Errorf("expected admin, got %q", got.Name)
	}

	key, _ := util.RandomBytes(util.AESKeySize)
	sealed, err := SealRecord(key, []byte(`{"name":"x"}`), nil)
	if err != nil {
		t.Fatalf("SealRecord failed: %v", err)
	}
	if err := DecodeJSON(sealed, &got); err == nil {
		t.Error("expected DecodeJSON to reject sealed envelope")
	}
}
