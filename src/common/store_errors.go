package common

import (
	"errors"
	"fmt"
)

// StoreErrType enumerates the kinds of errors returned by ledger stores.
type StoreErrType uint32

const (
	// KeyNotFound is returned when a block, slot, or account is not present.
	KeyNotFound StoreErrType = iota
	// KeyAlreadyExists is returned when inserting something that is already
	// there and the operation is not idempotent.
	KeyAlreadyExists
	// Empty is returned when a collection that must not be empty is.
	Empty
	// Closed is returned by stores that have been closed.
	Closed
)

// StoreErr is a typed store error carrying the kind of data and the key that
// caused it.
type StoreErr struct {
	dataType string
	errType  StoreErrType
	key      string
}

// NewStoreErr creates a StoreErr.
func NewStoreErr(dataType string, errType StoreErrType, key string) StoreErr {
	return StoreErr{
		dataType: dataType,
		errType:  errType,
		key:      key,
	}
}

// Error implements the error interface.
func (e StoreErr) Error() string {
	m := ""
	switch e.errType {
	case KeyNotFound:
		m = "Not Found"
	case KeyAlreadyExists:
		m = "Key Already Exists"
	case Empty:
		m = "Empty"
	case Closed:
		m = "Closed"
	}

	return fmt.Sprintf("%s, %s, %s", e.dataType, e.key, m)
}

// IsStore checks that an error is, or wraps, a StoreErr and that it's code
// matches the provided StoreErr code.
func IsStore(err error, t StoreErrType) bool {
	var storeErr StoreErr
	return errors.As(err, &storeErr) && storeErr.errType == t
}
