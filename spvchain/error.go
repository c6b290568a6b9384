// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package spvchain

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a kind of error.
type ErrorCode int

// These constants are used to identify a specific RuleError.
const (
	// ErrOrphanHeader indicates the parent of a header is not known.
	ErrOrphanHeader ErrorCode = iota

	// ErrUnexpectedDifficulty indicates the header bits are out of the
	// valid range for the network.
	ErrUnexpectedDifficulty

	// ErrHighHash indicates the header does not hash to a value which is
	// lower than the target difficulty it claims.
	ErrHighHash

	// ErrTimeTooNew indicates the header timestamp is too far in the
	// future as compared to the current time.
	ErrTimeTooNew

	// ErrBadMerkleRoot indicates the calculated merkle root does not match
	// the one committed to by the header.
	ErrBadMerkleRoot

	// ErrNoTransactions indicates a block does not have any transactions.
	ErrNoTransactions

	// ErrWrongNetwork indicates the header database was created for a
	// different network.
	ErrWrongNetwork

	// numErrorCodes is the maximum error code number used in tests.
	numErrorCodes
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrOrphanHeader:         "ErrOrphanHeader",
	ErrUnexpectedDifficulty: "ErrUnexpectedDifficulty",
	ErrHighHash:             "ErrHighHash",
	ErrTimeTooNew:           "ErrTimeTooNew",
	ErrBadMerkleRoot:        "ErrBadMerkleRoot",
	ErrNoTransactions:       "ErrNoTransactions",
	ErrWrongNetwork:         "ErrWrongNetwork",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// RuleError identifies a rule violation.  The caller can use type assertions
// to determine if a failure was specifically due to a rule violation and
// access the ErrorCode field to ascertain the specific reason.
type RuleError struct {
	ErrorCode   ErrorCode // Describes the kind of error
	Description string    // Human readable description of the issue
}

// Error satisfies the error interface and prints human-readable errors.
func (e RuleError) Error() string {
	return e.Description
}

// ruleError creates a RuleError given a set of arguments.
func ruleError(c ErrorCode, desc string) RuleError {
	return RuleError{ErrorCode: c, Description: desc}
}

// IsErrorCode returns whether err is a RuleError with the passed code.
func IsErrorCode(err error, c ErrorCode) bool {
	var rerr RuleError
	return errors.As(err, &rerr) && rerr.ErrorCode == c
}
