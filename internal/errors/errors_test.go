package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnwrapReachesCause(t *testing.T) {
	cause := errors.New("open chunks/ab12.gz: no such file")

	err := New(ErrCodeBlobNotFound, "chunk body missing", cause)
	require.NotNil(t, err)
	assert.Equal(t, cause, errors.Unwrap(err))
	assert.True(t, errors.Is(err, cause))
}

func TestErrorStringCarriesCode(t *testing.T) {
	cases := []struct {
		code, message, want string
	}{
		{ErrCodeConfigNotFound, "no .pampax.yaml found", "[ERR_101_CONFIG_NOT_FOUND] no .pampax.yaml found"},
		{ErrCodeDatabaseNotFound, ".pampa/pampa.db missing", "[ERR_207_DATABASE_NOT_FOUND] .pampa/pampa.db missing"},
		{ErrCodeNetworkTimeout, "embedding request timed out", "[ERR_301_NETWORK_TIMEOUT] embedding request timed out"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, New(tc.code, tc.message, nil).Error())
	}
}

func TestIsMatchesByCodeOnly(t *testing.T) {
	a := New(ErrCodeBlobNotFound, "sha deadbeef", nil)
	b := New(ErrCodeBlobNotFound, "sha cafef00d", nil)
	c := New(ErrCodeCorruptBlob, "sha deadbeef", nil)

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))
}

func TestWithDetailAndSuggestionChain(t *testing.T) {
	err := New(ErrCodeDecryptFailed, "authentication failed", nil).
		WithDetail("sha", "ab12cd34").
		WithDetail("path", ".pampa/chunks/ab12cd34.gz.enc").
		WithSuggestion("verify PAMPAX_ENCRYPTION_KEY matches the key used at index time")

	assert.Equal(t, "ab12cd34", err.Details["sha"])
	assert.Equal(t, ".pampa/chunks/ab12cd34.gz.enc", err.Details["path"])
	assert.Contains(t, err.Suggestion, "PAMPAX_ENCRYPTION_KEY")
}

func TestClassificationDerivesFromCode(t *testing.T) {
	cases := []struct {
		code      string
		category  Category
		severity  Severity
		retryable bool
	}{
		{ErrCodeConfigNotFound, CategoryConfig, SeverityError, false},
		{ErrCodeFileNotFound, CategoryIO, SeverityError, false},
		{ErrCodeDatabaseNotFound, CategoryIO, SeverityError, false},
		{ErrCodeCorruptIndex, CategoryIO, SeverityFatal, false},
		{ErrCodeDiskFull, CategoryIO, SeverityFatal, false},
		{ErrCodeEncryptionKeyRequired, CategoryIO, SeverityFatal, false},
		{ErrCodeNetworkTimeout, CategoryNetwork, SeverityWarning, true},
		{ErrCodeNetworkUnavailable, CategoryNetwork, SeverityWarning, true},
		{ErrCodeModelDownload, CategoryNetwork, SeverityWarning, true},
		{ErrCodeRateLimitExhausted, CategoryNetwork, SeverityError, false},
		{ErrCodeInvalidQuery, CategoryValidation, SeverityError, false},
		{ErrCodeSearchFailed, CategoryInternal, SeverityError, false},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			err := New(tc.code, "x", nil)
			assert.Equal(t, tc.category, err.Category)
			assert.Equal(t, tc.severity, err.Severity)
			assert.Equal(t, tc.retryable, err.Retryable)
		})
	}
}

func TestWrapReusesMessage(t *testing.T) {
	cause := errors.New("sqlite: unable to open database file")

	err := Wrap(ErrCodeDatabaseNotFound, cause)
	require.NotNil(t, err)
	assert.Equal(t, ErrCodeDatabaseNotFound, err.Code)
	assert.Equal(t, cause.Error(), err.Message)
	assert.Equal(t, cause, err.Cause)

	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestConstructorShorthands(t *testing.T) {
	assert.Equal(t, CategoryConfig, ConfigError("bad yaml", nil).Category)
	assert.Equal(t, CategoryIO, IOError("unreadable", nil).Category)
	assert.Equal(t, CategoryValidation, ValidationError("empty query", nil).Category)
	assert.Equal(t, CategoryInternal, InternalError("unexpected", nil).Category)

	netErr := NetworkError("connection refused", nil)
	assert.Equal(t, CategoryNetwork, netErr.Category)
	assert.True(t, netErr.Retryable)
}

func TestIsRetryableSeesThroughWrapping(t *testing.T) {
	inner := New(ErrCodeNetworkTimeout, "timeout", nil)
	wrapped := fmt.Errorf("embedding chunk: %w", inner)

	assert.True(t, IsRetryable(inner))
	assert.True(t, IsRetryable(wrapped))
	assert.False(t, IsRetryable(New(ErrCodeFileNotFound, "gone", nil)))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.False(t, IsRetryable(nil))
}

func TestIsFatalSeesThroughWrapping(t *testing.T) {
	inner := New(ErrCodeDiskFull, "no space left", nil)
	wrapped := fmt.Errorf("writing manifest: %w", inner)

	assert.True(t, IsFatal(inner))
	assert.True(t, IsFatal(wrapped))
	assert.False(t, IsFatal(New(ErrCodeFileNotFound, "gone", nil)))
	assert.False(t, IsFatal(errors.New("plain")))
	assert.False(t, IsFatal(nil))
}

func TestCodeAndCategoryExtraction(t *testing.T) {
	err := New(ErrCodeNoChunksFound, "index is empty", nil)
	assert.Equal(t, ErrCodeNoChunksFound, GetCode(err))
	assert.Equal(t, CategoryInternal, GetCategory(err))

	wrapped := fmt.Errorf("searching: %w", err)
	assert.Equal(t, ErrCodeNoChunksFound, GetCode(wrapped))

	assert.Empty(t, GetCode(errors.New("plain")))
	assert.Empty(t, GetCategory(errors.New("plain")))
}
