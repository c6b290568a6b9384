// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package spvpeer

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a kind of peer error.
type ErrorCode int

// These constants are used to identify a specific Error.
const (
	// ErrConnection indicates the underlying connection failed, for
	// example because it was refused, reset or timed out.
	ErrConnection ErrorCode = iota

	// ErrProtocol indicates the remote peer violated the wire protocol,
	// for example with bad framing, an unexpected command or an
	// incompatible version.
	ErrProtocol

	// ErrWriteTimeout indicates a message could not be written within the
	// configured write timeout.
	ErrWriteTimeout

	// ErrSync indicates a block or header received while synchronizing
	// could not be integrated into the block chain.
	ErrSync

	// numErrorCodes is the maximum error code number used in tests.
	numErrorCodes
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrConnection:   "ErrConnection",
	ErrProtocol:     "ErrProtocol",
	ErrWriteTimeout: "ErrWriteTimeout",
	ErrSync:         "ErrSync",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// Error describes a peer failure.  Errors with the ErrConnection, ErrProtocol
// and ErrWriteTimeout codes are fatal and end the connection.  ErrSync errors
// are retried and only end the connection once the retry limit is exhausted.
type Error struct {
	Code        ErrorCode
	Description string
	Err         error
}

// Error satisfies the error interface and prints human-readable errors.
func (e *Error) Error() string {
	if e.Err != nil {
		return e.Description + ": " + e.Err.Error()
	}
	return e.Description
}

// Unwrap returns the underlying error, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// Fatal returns whether the error ends the connection by itself.
func (e *Error) Fatal() bool {
	return e.Code != ErrSync
}

// IsErrorCode returns whether err is, or wraps, an *Error with the passed
// code.
func IsErrorCode(err error, c ErrorCode) bool {
	var perr *Error
	return errors.As(err, &perr) && perr.Code == c
}

func makeError(c ErrorCode, desc string, err error) *Error {
	return &Error{Code: c, Description: desc, Err: err}
}

func connectionError(desc string, err error) *Error {
	return makeError(ErrConnection, desc, err)
}

func protocolError(desc string, err error) *Error {
	return makeError(ErrProtocol, desc, err)
}

func syncError(desc string, err error) *Error {
	return makeError(ErrSync, desc, err)
}
