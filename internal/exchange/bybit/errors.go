package bybit

import (
	"github.com/ducminhle1904/futures-exec-agent/internal/exchange"
)

// Common Bybit error codes
const (
	ErrCodeInvalidAPIKey       = 10003
	ErrCodeInvalidSignature    = 10004
	ErrCodeInvalidTimestamp    = 10005
	ErrCodeRateLimitExceeded   = 10006
	ErrCodeServerTimeout       = 10016
	ErrCodeOrderNotFound       = 110001
	ErrCodeInvalidOrderType    = 110004
	ErrCodeInsufficientBalance = 110007
	ErrCodeSymbolNotFound      = 110009
	ErrCodeInvalidQuantity     = 110020
	ErrCodeInvalidPrice        = 110021
	ErrCodeReduceOnlyViolation = 110017
	ErrCodeLeverageNotModified = 110043
)

// transientCodes are retried with backoff; everything else with a nonzero
// retCode is treated as fatal for the current intent.
var transientCodes = map[int]bool{
	ErrCodeRateLimitExceeded: true,
	ErrCodeServerTimeout:     true,
	500:                      true,
	502:                      true,
	503:                      true,
	504:                      true,
}

// classifyRetCode maps a Bybit API retCode to a classified gateway error.
// retCode 0 returns nil.
func classifyRetCode(retCode int, retMsg string) error {
	if retCode == 0 {
		return nil
	}
	if transientCodes[retCode] {
		return exchange.NewTransientError(exchangeName, retCode, retMsg)
	}
	return exchange.NewFatalError(exchangeName, retCode, retMsg)
}

// wrapTransport classifies a transport-level failure (connection reset,
// timeout, DNS) as transient.
func wrapTransport(err error) error {
	if err == nil {
		return nil
	}
	return exchange.WrapTransport(exchangeName, err)
}
