// Package credential encodes and verifies the opaque scan tokens students
// present as QR codes.
//
// A token is base64url(version | issuedAt | nonce | ciphertext). The
// plaintext is "{hostelID}:{subjectID}"; the version byte and issuance time
// are authenticated as associated data so they cannot be altered.
package credential

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// ErrInvalid marks every decode failure.
var ErrInvalid = errors.New("invalid credential")

const (
	version    byte = 1
	delimiter       = ":"
	headerSize      = 1 + 8
	minSecret       = 16
	kdfInfo         = "messgate credential v1"
)

var encoding = base64.RawURLEncoding

// Credential is the decoded content of a token.
type Credential struct {
	HostelID  int64
	SubjectID string
	IssuedAt  time.Time
}

// Codec is safe for concurrent use.
type Codec struct {
	aead   cipher.AEAD
	maxAge time.Duration
	skew   time.Duration
	now    func() time.Time
}

// Option customises a Codec.
type Option func(*Codec)

// WithClock overrides the time source used for issuance and expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

// WithClockSkew sets how far in the future an issuance time may lie.
func WithClockSkew(d time.Duration) Option {
	return func(c *Codec) { c.skew = d }
}

// NewCodec derives the encryption key from secret. maxAge <= 0 disables
// expiry.
func NewCodec(secret string, maxAge time.Duration, opts ...Option) (*Codec, error) {
	if len(secret) < minSecret {
		return nil, fmt.Errorf("credential: secret must be at least %d bytes", minSecret)
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(kdfInfo)), key); err != nil {
		return nil, fmt.Errorf("credential: derive key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("credential: init cipher: %w", err)
	}
	c := &Codec{aead: aead, maxAge: maxAge, skew: time.Minute, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// MaxAge returns the configured expiry, zero when tokens never expire.
func (c *Codec) MaxAge() time.Duration { return c.maxAge }

// Encode issues a token for subjectID in hostelID at the current time.
func (c *Codec) Encode(hostelID int64, subjectID string) (string, error) {
	return c.EncodeAt(hostelID, subjectID, c.now())
}

// EncodeAt issues a token stamped with issuedAt.
func (c *Codec) EncodeAt(hostelID int64, subjectID string, issuedAt time.Time) (string, error) {
	if hostelID <= 0 {
		return "", fmt.Errorf("credential: hostel id must be positive, got %d", hostelID)
	}
	if subjectID == "" || strings.Contains(subjectID, delimiter) {
		return "", fmt.Errorf("credential: subject id %q is empty or contains %q", subjectID, delimiter)
	}

	plain := strconv.FormatInt(hostelID, 10) + delimiter + subjectID
	prefix := headerSize + c.aead.NonceSize()
	buf := make([]byte, prefix, prefix+len(plain)+c.aead.Overhead())
	buf[0] = version
	putIssued(buf, issuedAt)
	nonce := buf[headerSize:]
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("credential: nonce: %w", err)
	}
	out := c.aead.Seal(buf, nonce, []byte(plain), buf[:headerSize])
	return encoding.EncodeToString(out), nil
}

// Decode authenticates and parses token. All failures wrap ErrInvalid.
func (c *Codec) Decode(token string) (Credential, error) {
	raw, err := encoding.DecodeString(strings.TrimSpace(token))
	if err != nil {
		return Credential{}, fmt.Errorf("%w: malformed encoding", ErrInvalid)
	}
	nonceSize := c.aead.NonceSize()
	if len(raw) < headerSize+nonceSize+c.aead.Overhead() {
		return Credential{}, fmt.Errorf("%w: too short", ErrInvalid)
	}
	if raw[0] != version {
		return Credential{}, fmt.Errorf("%w: unsupported version %d", ErrInvalid, raw[0])
	}
	header := raw[:headerSize]
	nonce := raw[headerSize : headerSize+nonceSize]
	plain, err := c.aead.Open(nil, nonce, raw[headerSize+nonceSize:], header)
	if err != nil {
		return Credential{}, fmt.Errorf("%w: authentication failed", ErrInvalid)
	}

	hostelID, subjectID, err := splitPayload(string(plain))
	if err != nil {
		return Credential{}, err
	}

	issuedAt := time.Unix(int64(binary.BigEndian.Uint64(header[1:])), 0)
	now := c.now()
	if issuedAt.After(now.Add(c.skew)) {
		return Credential{}, fmt.Errorf("%w: issued in the future", ErrInvalid)
	}
	if c.maxAge > 0 && now.Sub(issuedAt) > c.maxAge {
		return Credential{}, fmt.Errorf("%w: expired", ErrInvalid)
	}

	return Credential{HostelID: hostelID, SubjectID: subjectID, IssuedAt: issuedAt}, nil
}

func putIssued(header []byte, t time.Time) {
	binary.BigEndian.PutUint64(header[1:headerSize], uint64(t.Unix()))
}

func splitPayload(plain string) (int64, string, error) {
	if plain == "" {
		return 0, "", fmt.Errorf("%w: empty payload", ErrInvalid)
	}
	parts := strings.Split(plain, delimiter)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return 0, "", fmt.Errorf("%w: payload format", ErrInvalid)
	}
	hostelID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || hostelID <= 0 {
		return 0, "", fmt.Errorf("%w: hostel field", ErrInvalid)
	}
	return hostelID, parts[1], nil
}
