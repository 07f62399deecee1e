package store

import (
	"errors"
	"fmt"
	"testing"
)

// Compile-time checks that the interfaces are importable and usable.
func TestLedgerStoreInterfaceExists(t *testing.T) {
	_ = StoreAddressParams{}

	var _ LedgerStore
	var _ PositionStore
	var _ ApplicationStore
}

func TestSentinelsSurviveWrapping(t *testing.T) {
	sentinels := []error{
		ErrDuplicateTransaction,
		ErrConcurrentModification,
		ErrUserNotFound,
		ErrApplicationNotFound,
		ErrAddressNotFound,
	}
	for _, sentinel := range sentinels {
		wrapped := fmt.Errorf("update failed: %w", sentinel)
		if !errors.Is(wrapped, sentinel) {
			t.Errorf("errors.Is lost %v through wrapping", sentinel)
		}
	}
}
