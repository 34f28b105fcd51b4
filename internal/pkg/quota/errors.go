package quota

import (
	"fmt"

	"github.com/cloudhop/cloudhop/app/models"
)

// QuotaExceededError signals that the copy-count allowance is used up.
// Scope tells the caller whether the user waits for rollover (monthly) or
// must upgrade (lifetime).
type QuotaExceededError struct {
	Scope models.UsageScope
	Limit uint64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("copy quota exceeded (%s limit of %d reached)", e.Scope, e.Limit)
}

// TransferQuotaExceededError signals that the transfer-byte allowance cannot
// cover the requested size. Available is clamped at zero.
type TransferQuotaExceededError struct {
	Scope     models.UsageScope
	Available uint64
}

func (e *TransferQuotaExceededError) Error() string {
	return fmt.Sprintf("transfer quota exceeded (%s scope, %d bytes available)", e.Scope, e.Available)
}

// FileTooLargeError signals a single file above the plan's per-file cap.
type FileTooLargeError struct {
	Limit uint64
}

func (e *FileTooLargeError) Error() string {
	return fmt.Sprintf("file exceeds the plan limit of %d bytes", e.Limit)
}

// SlotLimitError signals that attaching one more distinct provider account
// would exceed the lifetime slot cap.
type SlotLimitError struct {
	Limit int
}

func (e *SlotLimitError) Error() string {
	return fmt.Sprintf("cloud account limit of %d reached", e.Limit)
}
