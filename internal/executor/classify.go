package executor

import (
	"context"
	"errors"
	"strings"
)

// terminalPatterns mark outcomes retrying cannot change: the position was
// already cleared by another actor or is no longer below water on chain.
var terminalPatterns = []string{
	"reverted",
	"execution reverted",
	"not undercollateralized",
	"position healthy",
	"already liquidated",
	"nothing to liquidate",
}

// retryablePatterns cover transient transport and fee conditions.
var retryablePatterns = []string{
	"nonce too low",
	"nonce too high",
	"replacement transaction underpriced",
	"transaction underpriced",
	"fee cap",
	"max fee per gas",
	"too many requests",
	"connection refused",
	"connection reset",
	"broken pipe",
	"timeout",
	"timed out",
	"eof",
	"temporarily unavailable",
}

// retryable reports whether a submission failure is worth another attempt
// within the same episode. Reverts are terminal: the on-chain state the
// call encoded no longer holds and only a fresh sweep can produce a valid
// replacement. Unknown errors default to retryable so a noisy RPC node
// cannot terminally fail a still-liquidable position.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, p := range terminalPatterns {
		if strings.Contains(msg, p) {
			return false
		}
	}
	for _, p := range retryablePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return true
}
