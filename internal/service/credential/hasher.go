package credential

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const (
	HasherBcrypt   = "bcrypt"
	HasherArgon2id = "argon2id"
)

var (
	ErrPasswordMismatch = errors.New("password mismatch")
	ErrUnknownHash      = errors.New("unknown password hash format")
)

// Interface to create or compare user password hashes
type Hasher interface {
	// Generate Hash from password
	Hash(password string) (string, error)

	// Compare known hashedPassword and user provided password
	// Must be protected against timing attacks
	// Returns ErrPasswordMismatch if password does not match
	Compare(hashedPassword string, password string) error
}

// Bcrypt password hasher
// Password is pre-hashed with sha256 so passwords longer than 72 bytes are not truncated
type BcryptHasher struct {
	Cost int
}

func (h BcryptHasher) Hash(password string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}

	sum := sha256.Sum256([]byte(password))
	hash, err := bcrypt.GenerateFromPassword(sum[:], cost)
	return string(hash), err
}

func (h BcryptHasher) Compare(hashedPassword string, password string) error {
	sum := sha256.Sum256([]byte(password))
	err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), sum[:])
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrPasswordMismatch
	}
	return err
}

// Argon2id hasher producing PHC strings: $argon2id$v=19$m=65536,t=3,p=4$<salt>$<hash>
type Argon2Hasher struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
	KeyLen  uint32
	SaltLen uint32
}

func DefaultArgon2Hasher() Argon2Hasher {
	return Argon2Hasher{
		Time:    3,
		Memory:  64 * 1024,
		Threads: 4,
		KeyLen:  32,
		SaltLen: 16,
	}
}

func (h Argon2Hasher) Hash(password string) (string, error) {
	salt := make([]byte, h.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("error while generating salt. Err: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, h.Time, h.Memory, h.Threads, h.KeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.Memory, h.Time, h.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Compare uses parameters stored in hash, not the hasher ones
func (h Argon2Hasher) Compare(hashedPassword string, password string) error {
	parts := strings.Split(hashedPassword, "$")
	if len(parts) != 6 || parts[1] != HasherArgon2id {
		return ErrUnknownHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return ErrUnknownHash
	}

	var memory, time uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return ErrUnknownHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return ErrUnknownHash
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return ErrUnknownHash
	}

	computed := argon2.IDKey([]byte(password), salt, time, memory, threads, uint32(len(expected)))
	if subtle.ConstantTimeCompare(computed, expected) != 1 {
		return ErrPasswordMismatch
	}
	return nil
}

// MultiHasher hashes with primary hasher and compares with hasher matching hash prefix,
// so stored hashes keep working after hashing algorithm changed
type MultiHasher struct {
	primary Hasher
	bcrypt  BcryptHasher
	argon2  Argon2Hasher
}

func NewHasher(name string) (*MultiHasher, error) {
	h := &MultiHasher{
		bcrypt: BcryptHasher{Cost: bcrypt.DefaultCost},
		argon2: DefaultArgon2Hasher(),
	}

	switch name {
	case HasherBcrypt, "":
		h.primary = h.bcrypt
	case HasherArgon2id:
		h.primary = h.argon2
	default:
		return nil, fmt.Errorf("unknown password hasher %q", name)
	}

	return h, nil
}

func (h *MultiHasher) Hash(password string) (string, error) {
	return h.primary.Hash(password)
}

func (h *MultiHasher) Compare(hashedPassword string, password string) error {
	switch {
	case strings.HasPrefix(hashedPassword, "$argon2id$"):
		return h.argon2.Compare(hashedPassword, password)
	case strings.HasPrefix(hashedPassword, "$2a$"), strings.HasPrefix(hashedPassword, "$2b$"), strings.HasPrefix(hashedPassword, "$2y$"):
		return h.bcrypt.Compare(hashedPassword, password)
	default:
		return ErrUnknownHash
	}
}
