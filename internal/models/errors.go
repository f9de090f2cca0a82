package models

import (
	"errors"
	"fmt"
)

var (
	// ErrCapacityExhausted means no node or address is available. Never retried silently.
	ErrCapacityExhausted = errors.New("capacity exhausted")
	// ErrNoCapacity is returned by node selection.
	ErrNoCapacity = fmt.Errorf("%w: no active node with spare capacity", ErrCapacityExhausted)
	// ErrPoolExhausted is returned by a node's address pool.
	ErrPoolExhausted = fmt.Errorf("%w: address pool exhausted", ErrCapacityExhausted)

	// ErrNodeUnreachable covers network failures and timeouts talking to a node.
	ErrNodeUnreachable = errors.New("node unreachable")

	ErrUnauthorized = errors.New("unauthorized")
	// ErrTokenExpired is an ErrUnauthorized that a fresh token can fix.
	ErrTokenExpired = fmt.Errorf("%w: token expired", ErrUnauthorized)

	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidInput  = errors.New("invalid input")
	ErrInvalidState  = errors.New("invalid state")

	// ErrAmountMismatch means a payment arrived with the wrong value. Needs an operator.
	ErrAmountMismatch = errors.New("payment amount mismatch")
	// ErrPaymentNotFound means no matching payment yet. The caller may check again later.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrDuplicateConfirmation means the transaction was already closed. Callers treat it as success.
	ErrDuplicateConfirmation = errors.New("duplicate confirmation")
)
