package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Supported hashing algorithms.
const (
	AlgorithmBcrypt   = "bcrypt"
	AlgorithmArgon2id = "argon2id"
)

const (
	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 1
	argonKeyLen  = 32
	argonSaltLen = 16

	// upper bound accepted when decoding a stored hash
	argonMaxMemory = 1024 * 1024

	// bcrypt ignores input past this length
	bcryptMaxPassword = 72
)

// Hasher produces and verifies salted password hashes. New hashes use the
// configured algorithm; Verify accepts any supported encoding so stored
// hashes keep working after the algorithm changes.
type Hasher struct {
	algorithm string
	cost      int
}

// HasherOption configures a Hasher.
type HasherOption func(*Hasher) error

// WithAlgorithm selects the algorithm used for new hashes.
func WithAlgorithm(name string) HasherOption {
	return func(h *Hasher) error {
		name = strings.TrimSpace(strings.ToLower(name))
		switch name {
		case "":
			return nil
		case AlgorithmBcrypt, AlgorithmArgon2id:
			h.algorithm = name
			return nil
		default:
			return fmt.Errorf("%w: unsupported password algorithm %q", ErrInvalidInput, name)
		}
	}
}

// WithBcryptCost overrides the bcrypt work factor.
func WithBcryptCost(cost int) HasherOption {
	return func(h *Hasher) error {
		if cost == 0 {
			return nil
		}
		if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
			return fmt.Errorf("%w: bcrypt cost %d out of range", ErrInvalidInput, cost)
		}
		h.cost = cost
		return nil
	}
}

// NewHasher constructs a Hasher, bcrypt at the default cost unless configured otherwise.
func NewHasher(opts ...HasherOption) (*Hasher, error) {
	h := &Hasher{algorithm: AlgorithmBcrypt, cost: bcrypt.DefaultCost}
	for _, opt := range opts {
		if err := opt(h); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// Algorithm returns the algorithm used for new hashes.
func (h *Hasher) Algorithm() string {
	return h.algorithm
}

// Check reports whether plaintext can be hashed by the configured algorithm.
func (h *Hasher) Check(plaintext string) error {
	if len(plaintext) == 0 {
		return fmt.Errorf("%w: password is empty", ErrInvalidInput)
	}
	if h.algorithm == AlgorithmBcrypt && len(plaintext) > bcryptMaxPassword {
		return ErrPasswordTooLong
	}
	return nil
}

// Hash returns an encoded, salted hash of plaintext.
func (h *Hasher) Hash(plaintext string) (string, error) {
	if err := h.Check(plaintext); err != nil {
		return "", err
	}
	if h.algorithm == AlgorithmArgon2id {
		return hashArgon2id(plaintext)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify reports whether plaintext matches the encoded hash. A malformed or
// unsupported hash never matches.
func (h *Hasher) Verify(plaintext, encoded string) bool {
	switch {
	case encoded == "":
		return false
	case strings.HasPrefix(encoded, "$argon2id$"):
		ok, err := verifyArgon2id(plaintext, encoded)
		return err == nil && ok
	case strings.HasPrefix(encoded, "$2a$"), strings.HasPrefix(encoded, "$2b$"), strings.HasPrefix(encoded, "$2y$"):
		return bcrypt.CompareHashAndPassword([]byte(encoded), []byte(plaintext)) == nil
	default:
		return false
	}
}

func hashArgon2id(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

type argonParams struct {
	time    uint32
	memory  uint32
	threads uint8
}

func verifyArgon2id(password, encoded string) (bool, error) {
	salt, hash, params, err := decodePHC(encoded)
	if err != nil {
		return false, err
	}
	candidate := argon2.IDKey([]byte(password), salt, params.time, params.memory, params.threads, uint32(len(hash)))
	return subtle.ConstantTimeCompare(hash, candidate) == 1, nil
}

func decodePHC(encoded string) (salt, hash []byte, params argonParams, err error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return nil, nil, params, errors.New("invalid PHC hash format")
	}
	if parts[1] != AlgorithmArgon2id {
		return nil, nil, params, fmt.Errorf("unsupported algorithm: %s", parts[1])
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return nil, nil, params, fmt.Errorf("parse version: %w", err)
	}
	if version != argon2.Version {
		return nil, nil, params, fmt.Errorf("unsupported argon2 version %d", version)
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.memory, &params.time, &params.threads); err != nil {
		return nil, nil, params, fmt.Errorf("parse parameters: %w", err)
	}
	// argon2.IDKey panics on zero rounds or parallelism.
	if params.time < 1 || params.threads < 1 || params.memory < 8*uint32(params.threads) || params.memory > argonMaxMemory {
		return nil, nil, params, errors.New("argon2 parameters out of range")
	}
	salt, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, nil, params, fmt.Errorf("decode salt: %w", err)
	}
	hash, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, nil, params, fmt.Errorf("decode hash: %w", err)
	}
	if len(hash) == 0 {
		return nil, nil, params, errors.New("empty argon2 hash")
	}
	return salt, hash, params, nil
}
