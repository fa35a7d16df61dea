package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrappersPreserveSentinel(t *testing.T) {
	cases := []struct {
		err      error
		sentinel error
		kind     string
	}{
		{Validationf("bad input %d", 7), ErrValidation, "validation_error"},
		{AssetNotFoundf("symbol %s", "ACME"), ErrAssetNotFound, "asset_not_found"},
		{OrderNotFoundf("id %s", "x"), ErrOrderNotFound, "order_not_found"},
		{InsufficientAssetsf("held %d", 3), ErrInsufficientAssets, "insufficient_assets"},
		{Settlementf("seller gone"), ErrSettlement, "settlement_error"},
		{TransactionAbortf("deadlock"), ErrTransactionAbort, "transaction_abort"},
	}
	for _, tc := range cases {
		assert.ErrorIs(t, tc.err, tc.sentinel)
		assert.Equal(t, tc.kind, Kind(tc.err))
	}
}

func TestKindSurvivesFurtherWrapping(t *testing.T) {
	err := fmt.Errorf("submit failed: %w", InsufficientAssetsf("held 1, requested 2"))
	assert.Equal(t, "insufficient_assets", Kind(err))
}

func TestKindUnknownError(t *testing.T) {
	assert.Equal(t, "internal_error", Kind(errors.New("boom")))
	assert.Equal(t, "internal_error", Kind(fmt.Errorf("wrapped: %w", errors.New("boom"))))
}

func TestMessagesIncludeDetail(t *testing.T) {
	err := InsufficientAssetsf("held %s, requested %s", "3", "5")
	assert.Contains(t, err.Error(), "insufficient assets")
	assert.Contains(t, err.Error(), "held 3, requested 5")
}
