// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitDojo Contributors

package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
)

// Argon2Params are the tunable argon2id cost parameters.
type Argon2Params struct {
	Time      uint32 `koanf:"time" yaml:"time"`
	MemoryKiB uint32 `koanf:"memory-kib" yaml:"memory-kib"`
	Threads   uint8  `koanf:"threads" yaml:"threads"`
	KeyLen    uint32 `koanf:"key-len" yaml:"key-len"`
	SaltLen   uint32 `koanf:"salt-len" yaml:"salt-len"`
}

// DefaultArgon2Params returns the production cost parameters.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Time:      3,
		MemoryKiB: 128 * 1024, // 128 MiB
		Threads:   2,
		KeyLen:    32,
		SaltLen:   16,
	}
}

// Validate checks that the parameters can produce a usable hash.
func (p Argon2Params) Validate() error {
	switch {
	case p.Time == 0:
		return oops.Code("AUTH_INVALID_PARAMS").Errorf("argon2 time must be positive")
	case p.Threads == 0:
		return oops.Code("AUTH_INVALID_PARAMS").Errorf("argon2 threads must be positive")
	case p.MemoryKiB < 8*uint32(p.Threads):
		return oops.Code("AUTH_INVALID_PARAMS").
			With("memory_kib", p.MemoryKiB).
			Errorf("argon2 memory must be at least 8 KiB per thread")
	case p.KeyLen < 16 || p.KeyLen > 128:
		return oops.Code("AUTH_INVALID_PARAMS").With("key_len", p.KeyLen).Errorf("argon2 key length out of range")
	case p.SaltLen < 8 || p.SaltLen > 64:
		return oops.Code("AUTH_INVALID_PARAMS").With("salt_len", p.SaltLen).Errorf("argon2 salt length out of range")
	}
	return nil
}

// ErrEmptyPassword is returned when attempting to hash an empty password.
var ErrEmptyPassword = oops.Code("AUTH_EMPTY_PASSWORD").Errorf("password cannot be empty")

// PasswordHasher provides password hashing and verification.
type PasswordHasher interface {
	// Hash produces an encoded hash of the password with a fresh salt.
	Hash(password string) (string, error)

	// Verify checks if the password matches the hash.
	// Returns (true, nil) on match, (false, nil) on mismatch, or error on invalid hash.
	Verify(password, hash string) (bool, error)

	// NeedsRehash returns true if the hash was produced with parameters
	// other than the ones currently configured.
	NeedsRehash(hash string) bool
}

// Argon2idHasher implements PasswordHasher using argon2id.
type Argon2idHasher struct {
	params Argon2Params
}

// NewArgon2idHasher creates an Argon2idHasher with DefaultArgon2Params.
func NewArgon2idHasher() *Argon2idHasher {
	return &Argon2idHasher{params: DefaultArgon2Params()}
}

// NewArgon2idHasherWithParams creates an Argon2idHasher with explicit parameters.
func NewArgon2idHasherWithParams(params Argon2Params) (*Argon2idHasher, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Argon2idHasher{params: params}, nil
}

// Params returns the configured parameters.
func (h *Argon2idHasher) Params() Argon2Params {
	return h.params
}

// Hash produces an argon2id hash of the password.
func (h *Argon2idHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	salt := make([]byte, h.params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", oops.Code("AUTH_SALT_FAILED").Wrap(err)
	}

	key := argon2.IDKey([]byte(password), salt, h.params.Time, h.params.MemoryKiB, h.params.Threads, h.params.KeyLen)

	// $argon2id$v=19$m=131072,t=3,p=2$<salt>$<key>
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.MemoryKiB,
		h.params.Time,
		h.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify checks if the password matches the hash.
func (h *Argon2idHasher) Verify(password, encodedHash string) (bool, error) {
	decoded, err := decodeArgon2id(encodedHash)
	if err != nil {
		return false, err
	}

	if !h.withinBounds(decoded.params) {
		return false, oops.Code("AUTH_INVALID_HASH").
			With("memory_kib", decoded.params.MemoryKiB).
			With("time", decoded.params.Time).
			With("threads", decoded.params.Threads).
			Errorf("hash parameters exceed configured limits")
	}

	computed := argon2.IDKey([]byte(password), decoded.salt, decoded.params.Time,
		decoded.params.MemoryKiB, decoded.params.Threads, decoded.params.KeyLen)

	return subtle.ConstantTimeCompare(computed, decoded.key) == 1, nil
}

// NeedsRehash returns true if the hash is not argon2id or was produced with
// different cost parameters.
func (h *Argon2idHasher) NeedsRehash(encodedHash string) bool {
	decoded, err := decodeArgon2id(encodedHash)
	if err != nil {
		return true
	}
	got := decoded.params
	return decoded.version != argon2.Version ||
		got.MemoryKiB != h.params.MemoryKiB ||
		got.Time != h.params.Time ||
		got.Threads != h.params.Threads ||
		got.KeyLen != h.params.KeyLen
}

// withinBounds accepts hashes produced with older or smaller settings but
// refuses ones that would cost far more than the configured parameters.
func (h *Argon2idHasher) withinBounds(got Argon2Params) bool {
	limit := h.params
	if got.MemoryKiB > limit.MemoryKiB*2 || got.Time > limit.Time*2 || uint32(got.Threads) > uint32(limit.Threads)*2 {
		return false
	}
	if got.SaltLen < 8 || got.SaltLen > 64 {
		return false
	}
	return got.KeyLen >= 16 && got.KeyLen <= 128
}

type argon2idHash struct {
	version int
	params  Argon2Params
	salt    []byte
	key     []byte
}

func decodeArgon2id(encoded string) (*argon2idHash, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("invalid hash format")
	}
	if parts[1] != "argon2id" {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("unsupported hash algorithm: %s", parts[1])
	}

	out := &argon2idHash{}
	if _, err := fmt.Sscanf(parts[2], "v=%d", &out.version); err != nil {
		return nil, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}

	var memory, time, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return nil, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
	if time == 0 || memory == 0 {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("cost parameters must be positive")
	}
	// Validate threads fits in uint8 to prevent silent truncation
	if threads == 0 || threads > 255 {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("threads value %d out of range", threads)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
	if len(key) == 0 || len(key) > 1<<10 {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("invalid hash key length: %d", len(key))
	}

	out.params = Argon2Params{
		Time:      time,
		MemoryKiB: memory,
		Threads:   uint8(threads),
		KeyLen:    uint32(len(key)),  //nolint:gosec // bounded above
		SaltLen:   uint32(len(salt)), //nolint:gosec // bounded by the decoded string length
	}
	out.salt = salt
	out.key = key
	return out, nil
}
