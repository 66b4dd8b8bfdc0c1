package payment

import "strings"

// Raw gateway transaction statuses.
const (
	TxCapture    = "capture"
	TxSettlement = "settlement"
	TxPending    = "pending"
	TxCancel     = "cancel"
	TxDeny       = "deny"
	TxExpire     = "expire"

	FraudAccept = "accept"
)

// Classify maps a raw transaction status and fraud status to the internal
// outcome. It is pure: the same input always yields the same Status. A
// capture held by fraud review stays pending, and unknown statuses are
// pending rather than guessed.
func Classify(transactionStatus, fraudStatus string) Status {
	tx := strings.ToLower(strings.TrimSpace(transactionStatus))
	fraud := strings.ToLower(strings.TrimSpace(fraudStatus))

	switch tx {
	case TxCapture:
		if fraud == FraudAccept {
			return StatusPaid
		}
		return StatusPending
	case TxSettlement:
		return StatusPaid
	case TxCancel, TxDeny, TxExpire:
		return StatusFailed
	default:
		return StatusPending
	}
}
