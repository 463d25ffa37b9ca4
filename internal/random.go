package internal

import (
	"crypto/rand"
	"encoding/base64"

	"github.com/google/uuid"
)

const tokenIDSize = 32

// NewTokenID returns 32 random bytes as unpadded base64url, used as a jti.
func NewTokenID() (string, error) {
	var raw [tokenIDSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// NewDeviceID returns a random UUID for callers that supply no device id.
func NewDeviceID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
