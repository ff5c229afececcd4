package multipay

import (
	"fmt"

	"github.com/odyssey-erp/multipay/internal/platform/httpx"
)

var (
	// ErrValidation marks errors whose message is meant for the user.
	ErrValidation = httpx.ErrValidation
	// ErrWizardNotFound indicates an unknown or expired wizard.
	ErrWizardNotFound = fmt.Errorf("multipay: wizard not found: %w", httpx.ErrNotFound)
	// ErrConfirmInProgress indicates another confirmation holds the wizard lock.
	ErrConfirmInProgress = fmt.Errorf("multipay: confirmation already in progress: %w", httpx.ErrDuplicate)
	// ErrAlreadyConfirmed indicates the idempotency key was used before.
	ErrAlreadyConfirmed = fmt.Errorf("multipay: request already processed: %w", httpx.ErrDuplicate)

	errLockUnavailable = httpx.ErrUnavailable
)

// User facing messages.
const (
	msgNotPosted          = "You can only register payment for posted journal entries."
	msgNothingToPay       = "You can't register a payment because there is nothing left to pay on the selected journal items."
	msgNothingToPayOn     = "There is nothing left to pay on %s."
	msgDifferentCompanies = "You can't create payments for entries belonging to different companies."
	msgMixedDirection     = "You can't register payments for journal items being either all inbound, either all outbound."
	msgMissingOutstanding = "You can't create a new payment without an outstanding payments/receipts account set either on the company or the %s payment method in the %s journal."
	msgMissingWriteOff    = "You must set a difference account to mark invoice %s as fully paid."
	msgInvalidAmount      = "The payment amount of %s must be positive."
	msgInvalidHandling    = "Unknown payment difference handling %q."
	msgUnknownRow         = "The batch has no row %s."
	msgForeignJournal     = "The journal %s belongs to another company."
)

// ValidationError carries a message that is shown verbatim to the user.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// Unwrap exposes ErrValidation for errors.Is.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

var (
	// ErrNotPosted is returned when a selected entry is not posted.
	ErrNotPosted error = &ValidationError{Msg: msgNotPosted}
	// ErrNothingToPay is returned when no selected line has a residual.
	ErrNothingToPay error = &ValidationError{Msg: msgNothingToPay}
	// ErrDifferentCompanies is returned when the selection spans companies.
	ErrDifferentCompanies error = &ValidationError{Msg: msgDifferentCompanies}
	// ErrMixedDirection is returned when inbound and outbound lines are mixed.
	ErrMixedDirection error = &ValidationError{Msg: msgMixedDirection}
	// ErrNoRows is returned when a batch has no rows left.
	ErrNoRows error = &ValidationError{Msg: "The batch has no invoice to pay."}
	// ErrMissingOutstandingAccount is returned when no liquidity account is configured.
	ErrMissingOutstandingAccount error = &ValidationError{Msg: "multipay: missing outstanding account"}
	// ErrMissingWriteOffAccount is returned when a write-off has no account.
	ErrMissingWriteOffAccount error = &ValidationError{Msg: "multipay: missing write-off account"}
)

// missingOutstanding builds the user message for ErrMissingOutstandingAccount.
func missingOutstanding(method, journal string) error {
	return &outstandingError{ValidationError{Msg: fmt.Sprintf(msgMissingOutstanding, method, journal)}}
}

type outstandingError struct {
	ValidationError
}

func (e *outstandingError) Is(target error) bool {
	return target == ErrMissingOutstandingAccount
}

func missingWriteOff(move string) error {
	return &writeOffError{ValidationError{Msg: fmt.Sprintf(msgMissingWriteOff, move)}}
}

type writeOffError struct {
	ValidationError
}

func (e *writeOffError) Is(target error) bool {
	return target == ErrMissingWriteOffAccount
}

func nothingToPay(move string) error {
	return &nothingToPayError{ValidationError{Msg: fmt.Sprintf(msgNothingToPayOn, move)}}
}

type nothingToPayError struct {
	ValidationError
}

func (e *nothingToPayError) Is(target error) bool {
	return target == ErrNothingToPay
}
