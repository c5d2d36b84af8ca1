package database

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

type ErrorClass int

const (
	ErrorClassPermanent ErrorClass = iota
	ErrorClassTransient
	ErrorClassDeadlock
	ErrorClassSerialization
)

func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassPermanent
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001":
			return ErrorClassSerialization
		case "40P01":
			return ErrorClassDeadlock
		case "55P03":
			return ErrorClassTransient
		case "23505", "23503", "23502", "23514":
			return ErrorClassPermanent
		}
	}

	if errors.Is(err, sql.ErrNoRows) {
		return ErrorClassPermanent
	}

	return ErrorClassPermanent
}

func IsRetryable(err error) bool {
	class := ClassifyError(err)
	return class == ErrorClassTransient ||
		class == ErrorClassDeadlock ||
		class == ErrorClassSerialization
}

// IsUniqueViolation reports whether err is a unique-constraint violation on
// the named constraint. The acceptance and bid-submission paths rely on this
// to translate index violations into domain errors.
func IsUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "23505" && pqErr.Constraint == constraint
}

var (
	ErrValidation         = errors.New("validation failed")
	ErrOrderNotFound      = errors.New("order not found")
	ErrPartNotFound       = errors.New("part not found")
	ErrBidNotFound        = errors.New("bid not found")
	ErrInvoiceNotFound    = errors.New("invoice not found")
	ErrVendorNotFound     = errors.New("vendor not found")
	ErrVendorNotApproved  = errors.New("vendor not approved")
	ErrDuplicateBid       = errors.New("vendor already has an active bid on this part")
	ErrNotBidOwner        = errors.New("bid belongs to another vendor")
	ErrBidAlreadyAccepted = errors.New("bid is already accepted")
	ErrBidUnavailable     = errors.New("bid is no longer available")
	ErrPartAlreadyAwarded = errors.New("part already has an accepted bid")
	ErrOrderNotReady      = errors.New("order is not ready for checkout")
	ErrOrderAlreadyPaid   = errors.New("order is already paid")
	ErrInvalidTransition  = errors.New("invalid shipping transition")
	ErrInvalidSignature   = errors.New("invalid webhook signature")
)
