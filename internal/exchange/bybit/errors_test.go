package bybit

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/futures-exec-agent/internal/exchange"
)

// TestClassifyRetCode_Success verifies retCode 0 maps to no error
func TestClassifyRetCode_Success(t *testing.T) {
	assert.NoError(t, classifyRetCode(0, "OK"))
}

// TestClassifyRetCode_TransientCodes verifies rate limits and server errors
// are retryable
func TestClassifyRetCode_TransientCodes(t *testing.T) {
	for _, code := range []int{ErrCodeRateLimitExceeded, ErrCodeServerTimeout, 500, 502, 503, 504} {
		err := classifyRetCode(code, "server busy")
		require.Error(t, err, "code %d", code)
		assert.True(t, exchange.IsTransient(err), "code %d must be transient", code)
		assert.False(t, exchange.IsFatal(err))
	}
}

// TestClassifyRetCode_FatalCodes verifies order rejections are never retried
func TestClassifyRetCode_FatalCodes(t *testing.T) {
	for _, code := range []int{
		ErrCodeInvalidAPIKey, ErrCodeInsufficientBalance,
		ErrCodeInvalidQuantity, ErrCodeReduceOnlyViolation,
	} {
		err := classifyRetCode(code, "rejected")
		require.Error(t, err, "code %d", code)
		assert.True(t, exchange.IsFatal(err), "code %d must be fatal", code)
		assert.False(t, exchange.IsTransient(err))
	}

	var gwErr *exchange.Error
	err := classifyRetCode(ErrCodeInsufficientBalance, "insufficient balance")
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, "bybit", gwErr.Exchange)
	assert.Equal(t, ErrCodeInsufficientBalance, gwErr.Code)
}

// TestWrapTransport verifies transport failures are transient
func TestWrapTransport(t *testing.T) {
	assert.NoError(t, wrapTransport(nil))

	err := wrapTransport(fmt.Errorf("connection reset by peer"))
	require.Error(t, err)
	assert.True(t, exchange.IsTransient(err))
}

// TestIgnoreNotModified verifies the leverage idempotency code is swallowed
func TestIgnoreNotModified(t *testing.T) {
	assert.NoError(t, ignoreNotModified(nil))
	assert.NoError(t, ignoreNotModified(classifyRetCode(ErrCodeLeverageNotModified, "leverage not modified")))

	err := ignoreNotModified(classifyRetCode(ErrCodeInvalidAPIKey, "bad key"))
	assert.Error(t, err)
}

// TestFormatFloat verifies quantities serialize without exponent notation
func TestFormatFloat(t *testing.T) {
	assert.Equal(t, "0.001", formatFloat(0.001))
	assert.Equal(t, "50000", formatFloat(50000))
	assert.Equal(t, "0.03", formatFloat(0.03))
}
