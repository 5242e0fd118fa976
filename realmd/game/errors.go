package game

import (
	"errors"
	"fmt"
)

// Code classifies every failure a handler can surface to a client.
type Code string

const (
	// Pre-lock validation
	CodeSelfTrade       Code = "SELF_TRADE"
	CodeInvalidSlot     Code = "INVALID_SLOT"
	CodeInvalidQuantity Code = "INVALID_QUANTITY"

	// Concurrency admission
	CodeAlreadyInTrade Code = "ALREADY_IN_TRADE"
	CodePlayerBusy     Code = "PLAYER_BUSY"
	CodeRateLimited    Code = "RATE_LIMITED"
	CodeDuplicate      Code = "DUPLICATE_REQUEST"

	// State
	CodeNotInTrade   Code = "NOT_IN_TRADE"
	CodeInvalidTrade Code = "INVALID_TRADE"

	// Commit-time, detected inside the locked section
	CodeItemChanged            Code = "ITEM_CHANGED"
	CodeUntradeableItem        Code = "UNTRADEABLE_ITEM"
	CodeInventoryFullInitiator Code = "INVENTORY_FULL_INITIATOR"
	CodeInventoryFullRecipient Code = "INVENTORY_FULL_RECIPIENT"
	CodeInventoryFull          Code = "INVENTORY_FULL"
	CodeBankFull               Code = "INVENTORY_FULL_BANK"

	// Infrastructure
	CodeServerError Code = "SERVER_ERROR"
)

// Error is the typed error carried across every engine boundary.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func E(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the failure code from err, defaulting to SERVER_ERROR
// for anything untyped (driver errors, context cancellation, ...).
func CodeOf(err error) Code {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Code
	}
	return CodeServerError
}
