// Package errs defines the error taxonomy surfaced by the trading core.
//
// Every error returned from a matching transaction is raised only after the
// transaction has been rolled back, so a caller never has to disambiguate
// between "rejected" and "partially processed": it is always the former.
package errs

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Use errors.Is against these to classify an error without
// caring about the wrapped detail.
var (
	// ErrValidation marks malformed or missing input. User-correctable,
	// no retry.
	ErrValidation = errors.New("validation failed")

	// ErrAssetNotFound marks an unknown asset id or symbol.
	ErrAssetNotFound = errors.New("asset not found")

	// ErrOrderNotFound marks an unknown order id.
	ErrOrderNotFound = errors.New("order not found")

	// ErrInsufficientAssets marks a sell exceeding the owner's holding.
	ErrInsufficientAssets = errors.New("insufficient assets")

	// ErrSettlement marks a settlement invariant violation, e.g. a seller
	// holding that vanished between the eligibility check and settlement.
	// It indicates a concurrency bug, not a user mistake.
	ErrSettlement = errors.New("settlement failed")

	// ErrTransactionAbort marks a storage-layer conflict. The caller may
	// retry the original request since no partial state survives rollback.
	ErrTransactionAbort = errors.New("transaction aborted")
)

// Validationf wraps ErrValidation with a formatted detail message.
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, prepend(ErrValidation, args)...)
}

// AssetNotFoundf wraps ErrAssetNotFound with a formatted detail message.
func AssetNotFoundf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, prepend(ErrAssetNotFound, args)...)
}

// OrderNotFoundf wraps ErrOrderNotFound with a formatted detail message.
func OrderNotFoundf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, prepend(ErrOrderNotFound, args)...)
}

// InsufficientAssetsf wraps ErrInsufficientAssets with a formatted detail message.
func InsufficientAssetsf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, prepend(ErrInsufficientAssets, args)...)
}

// Settlementf wraps ErrSettlement with a formatted detail message.
func Settlementf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, prepend(ErrSettlement, args)...)
}

// TransactionAbortf wraps ErrTransactionAbort with a formatted detail message.
func TransactionAbortf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, prepend(ErrTransactionAbort, args)...)
}

func prepend(err error, args []interface{}) []interface{} {
	return append([]interface{}{err}, args...)
}

// Kind returns a short machine-readable name for the error's taxonomy
// class, used by the HTTP layer for structured responses.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrAssetNotFound):
		return "asset_not_found"
	case errors.Is(err, ErrOrderNotFound):
		return "order_not_found"
	case errors.Is(err, ErrInsufficientAssets):
		return "insufficient_assets"
	case errors.Is(err, ErrSettlement):
		return "settlement_error"
	case errors.Is(err, ErrTransactionAbort):
		return "transaction_abort"
	default:
		return "internal_error"
	}
}
