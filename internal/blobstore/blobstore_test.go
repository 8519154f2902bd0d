package blobstore

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sha1Hex(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

func TestWriteReadRoundtrip_Plaintext(t *testing.T) {
	root := t.TempDir()
	store, err := New(root, ModeOff, "")
	require.NoError(t, err)

	body := []byte("func alpha() {}")
	sha := sha1Hex(body)

	result, err := store.Write(sha, body)
	require.NoError(t, err)
	assert.False(t, result.Encrypted)

	got, err := store.Read(sha)
	require.NoError(t, err)
	assert.Equal(t, body, got)

	assert.FileExists(t, filepath.Join(root, "chunks", sha+".gz"))
	assert.NoFileExists(t, filepath.Join(root, "chunks", sha+".gz.enc"))
}

func TestWriteReadRoundtrip_Encrypted(t *testing.T) {
	root := t.TempDir()
	key := make([]byte, keyLen)
	for i := range key {
		key[i] = byte(i)
	}
	keySrc := base64.StdEncoding.EncodeToString(key)

	store, err := New(root, ModeOn, keySrc)
	require.NoError(t, err)

	body := []byte("def beta(): pass")
	sha := sha1Hex(body)

	result, err := store.Write(sha, body)
	require.NoError(t, err)
	assert.True(t, result.Encrypted)

	got, err := store.Read(sha)
	require.NoError(t, err)
	assert.Equal(t, body, got)

	assert.FileExists(t, filepath.Join(root, "chunks", sha+".gz.enc"))
	assert.NoFileExists(t, filepath.Join(root, "chunks", sha+".gz"))
}

func TestRead_EncryptedWithoutKey_Fails(t *testing.T) {
	root := t.TempDir()
	key := make([]byte, keyLen)
	keySrc := hex.EncodeToString(key)

	store, err := New(root, ModeOn, keySrc)
	require.NoError(t, err)

	body := []byte("fn gamma() {}")
	sha := sha1Hex(body)
	_, err = store.Write(sha, body)
	require.NoError(t, err)

	// Re-open without a key, as if PAMPAX_ENCRYPTION_KEY was unset.
	store2, err := New(root, ModeAuto, "")
	require.NoError(t, err)

	_, err = store2.Read(sha)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ERR_208")
}

func TestRead_WrongKey_DecryptFails(t *testing.T) {
	root := t.TempDir()
	key1 := make([]byte, keyLen)
	for i := range key1 {
		key1[i] = 1
	}
	store, err := New(root, ModeOn, base64.StdEncoding.EncodeToString(key1))
	require.NoError(t, err)

	body := []byte("class Delta {}")
	sha := sha1Hex(body)
	_, err = store.Write(sha, body)
	require.NoError(t, err)

	key2 := make([]byte, keyLen)
	for i := range key2 {
		key2[i] = 2
	}
	store2, err := New(root, ModeOn, base64.StdEncoding.EncodeToString(key2))
	require.NoError(t, err)

	_, err = store2.Read(sha)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ERR_209")
}

func TestRead_NotFound(t *testing.T) {
	root := t.TempDir()
	store, err := New(root, ModeOff, "")
	require.NoError(t, err)

	_, err = store.Read("0000000000000000000000000000000000dead")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ERR_211")
}

func TestNew_BadKeyLength_Fatal(t *testing.T) {
	root := t.TempDir()
	_, err := New(root, ModeOn, "not-a-valid-key")
	require.Error(t, err)
}

func TestRemove_IdempotentOnMissing(t *testing.T) {
	root := t.TempDir()
	store, err := New(root, ModeOff, "")
	require.NoError(t, err)

	err = store.Remove("does-not-exist")
	assert.NoError(t, err)
}

func TestAutoMode_EncryptsWhenKeyPresent(t *testing.T) {
	root := t.TempDir()
	key := make([]byte, keyLen)
	store, err := New(root, ModeAuto, hex.EncodeToString(key))
	require.NoError(t, err)

	body := []byte("package main")
	sha := sha1Hex(body)
	result, err := store.Write(sha, body)
	require.NoError(t, err)
	assert.True(t, result.Encrypted)
}

func TestAutoMode_PlaintextWithoutKey(t *testing.T) {
	root := t.TempDir()
	store, err := New(root, ModeAuto, "")
	require.NoError(t, err)

	body := []byte("package main")
	sha := sha1Hex(body)
	result, err := store.Write(sha, body)
	require.NoError(t, err)
	assert.False(t, result.Encrypted)
}

func TestWriteReplacesOtherForm(t *testing.T) {
	root := t.TempDir()
	key := make([]byte, keyLen)
	body := []byte("func f() {}")
	sha := sha1Hex(body)

	plainStore, err := New(root, ModeOff, "")
	require.NoError(t, err)
	_, err = plainStore.Write(sha, body)
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(root, "chunks", sha+".gz"))

	encStore, err := New(root, ModeOn, base64.StdEncoding.EncodeToString(key))
	require.NoError(t, err)
	_, err = encStore.Write(sha, body)
	require.NoError(t, err)

	assert.NoFileExists(t, filepath.Join(root, "chunks", sha+".gz"))
	assert.FileExists(t, filepath.Join(root, "chunks", sha+".gz.enc"))
}

func TestResolveMode(t *testing.T) {
	assert.Equal(t, ModeOn, ResolveMode("on"))
	assert.Equal(t, ModeOff, ResolveMode("off"))
	assert.Equal(t, ModeAuto, ResolveMode("auto"))
	assert.Equal(t, ModeAuto, ResolveMode(""))
	assert.Equal(t, ModeAuto, ResolveMode("garbage"))
}

func TestInvariant_I1_ShaMatchesDecodedBody(t *testing.T) {
	root := t.TempDir()
	store, err := New(root, ModeOff, "")
	require.NoError(t, err)

	bodies := [][]byte{
		[]byte("a"),
		[]byte("func main() { println(\"hi\") }"),
		make([]byte, 40000), // exercise larger payloads too
	}
	for _, body := range bodies {
		sha := sha1Hex(body)
		_, err := store.Write(sha, body)
		require.NoError(t, err)

		got, err := store.Read(sha)
		require.NoError(t, err)
		assert.Equal(t, sha, sha1Hex(got))
	}
}

func TestMain(m *testing.M) {
	os.Exit(m.Run())
}
