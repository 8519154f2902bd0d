// Package blobstore implements the content-addressed chunk body store
// described in (C1 Chunk Store): one gzip-compressed file per
// chunk SHA-1, optionally wrapped in AES-256-GCM when an encryption key is
// configured.
package blobstore

import (
	"bytes"
	"compress/gzip"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	pampaerrors "github.com/lemon07r/pampax/internal/errors"
)

// Mode selects the chunk store's encryption policy.
type Mode string

const (
	ModeOn   Mode = "on"
	ModeOff  Mode = "off"
	ModeAuto Mode = "auto"
)

const (
	magic       = "PMPX"
	cipherVer   = byte(1)
	nonceLen    = 12
	keyLen      = 32
	headerLen   = len(magic) + 1 + nonceLen
)

// WriteResult reports how a chunk body was persisted.
type WriteResult struct {
	Encrypted bool
}

// Store reads and writes chunk bodies under <root>/<chunkDir>/<sha>.gz(.enc).
// It is safe for concurrent use: writes are per-SHA and content-addressed, so
// distinct chunks never contend for the same path.
type Store struct {
	root     string
	chunkDir string
	mode     Mode
	key      []byte // nil unless encryption is configured
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithChunkDir overrides the default "chunks" subdirectory name.
func WithChunkDir(name string) Option {
	return func(s *Store) { s.chunkDir = name }
}

// New creates a Store rooted at root (typically "<repo>/.pampa"). keySource is
// the raw PAMPAX_ENCRYPTION_KEY configuration value (base64 or hex), or empty
// if unset. A decode/length failure is returned immediately: it must be
// fatal at startup, never deferred to a write call.
func New(root string, mode Mode, keySource string, opts ...Option) (*Store, error) {
	s := &Store{root: root, chunkDir: "chunks", mode: mode}
	for _, opt := range opts {
		opt(s)
	}

	if keySource != "" {
		key, err := decodeKey(keySource)
		if err != nil {
			return nil, fmt.Errorf("decoding PAMPAX_ENCRYPTION_KEY: %w", err)
		}
		s.key = key
	}

	if err := os.MkdirAll(s.dir(), 0o755); err != nil {
		return nil, fmt.Errorf("creating chunk store directory: %w", err)
	}

	return s, nil
}

func decodeKey(src string) ([]byte, error) {
	if key, err := base64.StdEncoding.DecodeString(src); err == nil && len(key) == keyLen {
		return key, nil
	}
	if key, err := hex.DecodeString(src); err == nil && len(key) == keyLen {
		return key, nil
	}
	return nil, fmt.Errorf("key must decode to exactly %d bytes as base64 or hex", keyLen)
}

func (s *Store) dir() string {
	return filepath.Join(s.root, s.chunkDir)
}

func (s *Store) plainPath(sha string) string {
	return filepath.Join(s.dir(), sha+".gz")
}

func (s *Store) encPath(sha string) string {
	return filepath.Join(s.dir(), sha+".gz.enc")
}

// shouldEncrypt resolves the configured Mode against key availability.
func (s *Store) shouldEncrypt() bool {
	switch s.mode {
	case ModeOn:
		return true
	case ModeOff:
		return false
	default: // auto
		return s.key != nil
	}
}

// Write gzip-compresses bytes and persists it under sha, encrypting per the
// store's mode. Any existing file of the other form for this sha is removed
// so at most one form exists per SHA.
func (s *Store) Write(sha string, data []byte) (WriteResult, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(data); err != nil {
		return WriteResult{}, pampaerrors.New(pampaerrors.ErrCodeInternal, "gzip compression failed", err)
	}
	if err := gw.Close(); err != nil {
		return WriteResult{}, pampaerrors.New(pampaerrors.ErrCodeInternal, "gzip close failed", err)
	}
	gzipped := buf.Bytes()

	encrypt := s.shouldEncrypt()
	if encrypt && s.key == nil {
		return WriteResult{}, pampaerrors.New(pampaerrors.ErrCodeEncryptionKeyRequired,
			"encryption requested but no key configured", nil).
			WithSuggestion("set PAMPAX_ENCRYPTION_KEY or switch encryption mode to off")
	}

	var out []byte
	var err error
	if encrypt {
		out, err = s.seal(gzipped)
		if err != nil {
			return WriteResult{}, pampaerrors.New(pampaerrors.ErrCodeInternal, "encrypting chunk body", err)
		}
	} else {
		out = gzipped
	}

	target := s.plainPath(sha)
	other := s.encPath(sha)
	if encrypt {
		target, other = s.encPath(sha), s.plainPath(sha)
	}

	if err := os.WriteFile(target, out, 0o644); err != nil {
		return WriteResult{}, pampaerrors.New(pampaerrors.ErrCodeFilePermission, "writing chunk body", err).
			WithDetail("path", target)
	}
	_ = os.Remove(other)

	return WriteResult{Encrypted: encrypt}, nil
}

// Read locates sha's body (trying plaintext then encrypted), decrypts it if
// necessary, and returns the decompressed bytes.
func (s *Store) Read(sha string) ([]byte, error) {
	if raw, err := os.ReadFile(s.plainPath(sha)); err == nil {
		return s.gunzip(raw)
	}

	raw, err := os.ReadFile(s.encPath(sha))
	if os.IsNotExist(err) {
		return nil, pampaerrors.New(pampaerrors.ErrCodeBlobNotFound,
			fmt.Sprintf("chunk body not found for sha %s", sha), nil).WithDetail("sha", sha)
	}
	if err != nil {
		return nil, pampaerrors.New(pampaerrors.ErrCodeFilePermission, "reading chunk body", err).WithDetail("sha", sha)
	}

	if s.key == nil {
		return nil, pampaerrors.New(pampaerrors.ErrCodeEncryptionKeyRequired,
			fmt.Sprintf("chunk %s is encrypted but no key is configured", sha), nil).
			WithSuggestion("set PAMPAX_ENCRYPTION_KEY to the key used to index this repository")
	}

	gzipped, err := s.open(raw)
	if err != nil {
		return nil, err
	}
	return s.gunzip(gzipped)
}

// Remove deletes both possible on-disk forms of sha. Missing files are not
// an error.
func (s *Store) Remove(sha string) error {
	for _, p := range []string{s.plainPath(sha), s.encPath(sha)} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return pampaerrors.New(pampaerrors.ErrCodeFilePermission, "removing chunk body", err).WithDetail("path", p)
		}
	}
	return nil
}

func (s *Store) gunzip(data []byte) ([]byte, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, pampaerrors.New(pampaerrors.ErrCodeCorruptBlob, "chunk body is not valid gzip", err)
	}
	defer gr.Close()
	out, err := io.ReadAll(gr)
	if err != nil {
		return nil, pampaerrors.New(pampaerrors.ErrCodeCorruptBlob, "chunk body gzip stream truncated", err)
	}
	return out, nil
}

// seal encrypts plaintext with AES-256-GCM, laying out
// magic(4) || version(1) || nonce(12) || ciphertext || tag(16).
func (s *Store) seal(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	var header bytes.Buffer
	header.WriteString(magic)
	header.WriteByte(cipherVer)
	header.Write(nonce)

	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	return append(header.Bytes(), sealed...), nil
}

// open decrypts a blob produced by seal, verifying the magic/version header
// and the GCM authentication tag. Authentication failure returns
// ErrCodeDecryptFailed and is never silently treated as plaintext.
func (s *Store) open(blob []byte) ([]byte, error) {
	if len(blob) < headerLen {
		return nil, pampaerrors.New(pampaerrors.ErrCodeCorruptBlob, "encrypted chunk body too short", nil)
	}
	if string(blob[:len(magic)]) != magic {
		return nil, pampaerrors.New(pampaerrors.ErrCodeCorruptBlob, "encrypted chunk body has bad magic", nil)
	}
	version := blob[len(magic)]
	if version != cipherVer {
		return nil, pampaerrors.New(pampaerrors.ErrCodeCorruptBlob,
			fmt.Sprintf("unsupported chunk encryption version %d", version), nil)
	}
	nonce := blob[len(magic)+1 : headerLen]
	ciphertext := blob[headerLen:]

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, pampaerrors.New(pampaerrors.ErrCodeDecryptFailed, "constructing AES cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, pampaerrors.New(pampaerrors.ErrCodeDecryptFailed, "constructing GCM mode", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, pampaerrors.New(pampaerrors.ErrCodeDecryptFailed, "chunk body authentication failed", err).
			WithSuggestion("the configured PAMPAX_ENCRYPTION_KEY does not match the key used to index this repository")
	}
	return plaintext, nil
}

// ResolveMode parses the PAMPAX_ENCRYPTION_MODE-style config string, defaulting
// to ModeAuto for any unrecognized value.
func ResolveMode(raw string) Mode {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "on":
		return ModeOn
	case "off":
		return ModeOff
	default:
		return ModeAuto
	}
}
