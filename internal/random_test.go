package internal

import (
	"encoding/base64"
	"testing"

	"github.com/google/uuid"
)

func TestNewTokenIDIsRandomBase64URL(t *testing.T) {
	seen := make(map[string]struct{}, 64)
	for i := 0; i < 64; i++ {
		id, err := NewTokenID()
		if err != nil {
			t.Fatalf("new token id: %v", err)
		}
		raw, err := base64.RawURLEncoding.DecodeString(id)
		if err != nil {
			t.Fatalf("token id is not unpadded base64url: %v", err)
		}
		if len(raw) != tokenIDSize {
			t.Fatalf("expected %d bytes, got %d", tokenIDSize, len(raw))
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate token id %q", id)
		}
		seen[id] = struct{}{}
	}
}

func TestNewDeviceIDIsUUID(t *testing.T) {
	id, err := NewDeviceID()
	if err != nil {
		t.Fatalf("new device id: %v", err)
	}
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("device id %q is not a uuid: %v", id, err)
	}
}
