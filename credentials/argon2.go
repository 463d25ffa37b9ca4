package credentials

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB   uint32 = 8 * 1024
	minSaltLength uint32 = 16
	minKeyLength  uint32 = 16
	minPassBytes         = 10
	maxPassBytes         = 1024
	algorithmID          = "argon2id"
)

var (
	ErrInvalidHash    = errors.New("credentials: invalid argon2id hash")
	ErrPasswordLength = errors.New("credentials: password length out of range")
	ErrInvalidParams  = errors.New("credentials: invalid argon2 parameters")
)

// Params are the argon2id cost parameters. Memory is in KiB.
type Params struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultParams follow the OWASP argon2id baseline.
func DefaultParams() Params {
	return Params{Memory: 64 * 1024, Time: 3, Parallelism: 2, SaltLength: 16, KeyLength: 32}
}

func (p Params) validate() error {
	switch {
	case p.Memory < minMemoryKB:
		return fmt.Errorf("%w: memory must be >= %d KiB", ErrInvalidParams, minMemoryKB)
	case p.Time < 1:
		return fmt.Errorf("%w: time must be >= 1", ErrInvalidParams)
	case p.Parallelism < 1:
		return fmt.Errorf("%w: parallelism must be >= 1", ErrInvalidParams)
	case p.SaltLength < minSaltLength:
		return fmt.Errorf("%w: salt must be >= %d bytes", ErrInvalidParams, minSaltLength)
	case p.KeyLength < minKeyLength:
		return fmt.Errorf("%w: key must be >= %d bytes", ErrInvalidParams, minKeyLength)
	}
	return nil
}

// Hasher produces and checks PHC-encoded argon2id hashes:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
type Hasher struct {
	params Params
}

func NewHasher(p Params) (*Hasher, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &Hasher{params: p}, nil
}

// Hash uses the password bytes exactly as given; there is no Unicode
// normalization.
func (h *Hasher) Hash(password string) (string, error) {
	if len(password) < minPassBytes || len(password) > maxPassBytes {
		return "", ErrPasswordLength
	}

	salt := make([]byte, h.params.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(password), salt, h.params.Time, h.params.Memory, h.params.Parallelism, h.params.KeyLength)

	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID, argon2.Version,
		h.params.Memory, h.params.Time, h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify recomputes the hash with the parameters stored in encoded.
func (h *Hasher) Verify(password, encoded string) (bool, error) {
	if len(password) > maxPassBytes {
		return false, ErrPasswordLength
	}
	stored, err := decode(encoded)
	if err != nil {
		return false, err
	}
	key := argon2.IDKey([]byte(password), stored.salt, stored.params.Time, stored.params.Memory, stored.params.Parallelism, stored.params.KeyLength)
	return subtle.ConstantTimeCompare(key, stored.key) == 1, nil
}

// NeedsRehash reports whether encoded was made with weaker parameters than h.
func (h *Hasher) NeedsRehash(encoded string) (bool, error) {
	stored, err := decode(encoded)
	if err != nil {
		return false, err
	}
	p := stored.params
	return h.params.Memory > p.Memory ||
		h.params.Time > p.Time ||
		h.params.Parallelism > p.Parallelism ||
		h.params.KeyLength != p.KeyLength, nil
}

type decoded struct {
	params Params
	salt   []byte
	key    []byte
}

func decode(encoded string) (decoded, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != algorithmID {
		return decoded{}, ErrInvalidHash
	}
	if parts[2] != "v="+strconv.Itoa(argon2.Version) {
		return decoded{}, fmt.Errorf("%w: unsupported version %q", ErrInvalidHash, parts[2])
	}

	var out decoded
	var memory, time, threads uint64
	seen := 0
	for _, kv := range strings.Split(parts[3], ",") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return decoded{}, ErrInvalidHash
		}
		var err error
		switch k {
		case "m":
			memory, err = strconv.ParseUint(v, 10, 32)
		case "t":
			time, err = strconv.ParseUint(v, 10, 32)
		case "p":
			threads, err = strconv.ParseUint(v, 10, 8)
		default:
			return decoded{}, fmt.Errorf("%w: unknown parameter %q", ErrInvalidHash, k)
		}
		if err != nil {
			return decoded{}, fmt.Errorf("%w: parameter %s", ErrInvalidHash, k)
		}
		seen++
	}
	if seen != 3 {
		return decoded{}, ErrInvalidHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return decoded{}, fmt.Errorf("%w: salt encoding", ErrInvalidHash)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return decoded{}, fmt.Errorf("%w: key encoding", ErrInvalidHash)
	}

	out.params = Params{
		Memory:      uint32(memory),
		Time:        uint32(time),
		Parallelism: uint8(threads),
		SaltLength:  uint32(len(salt)),
		KeyLength:   uint32(len(key)),
	}
	if err := out.params.validate(); err != nil {
		return decoded{}, fmt.Errorf("%w: %w", ErrInvalidHash, err)
	}
	out.salt, out.key = salt, key
	return out, nil
}
