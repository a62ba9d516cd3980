package validator

import (
	"errors"
	"fmt"
)

// Kind classifies why a block or transaction was rejected.
type Kind int

// Set of rejection kinds.
const (
	KindStructural Kind = iota + 1
	KindTemporal
	KindWork
	KindLedger
	KindValue
	KindAuthorization
	KindDuplication
	KindConcurrency
)

var kindNames = map[Kind]string{
	KindStructural:    "structural",
	KindTemporal:      "temporal",
	KindWork:          "work",
	KindLedger:        "ledger",
	KindValue:         "value",
	KindAuthorization: "authorization",
	KindDuplication:   "duplication",
	KindConcurrency:   "concurrency",
}

// String implements the fmt.Stringer interface.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Code names the rule a candidate broke.
type Code string

// Set of rejection codes.
const (
	CodeUTXONotFound                  Code = "UTXONotFound"
	CodeImmatureCoinbase              Code = "ImmatureCoinbase"
	CodeSignatureVerificationFailed   Code = "SignatureVerificationFailed"
	CodeExcessiveCoinbaseReward       Code = "ExcessiveCoinbaseReward"
	CodeTimestampNotGreaterThanMTP    Code = "TimestampNotGreaterThanMTP"
	CodeBlockMinedTooSoon             Code = "BlockMinedTooSoon"
	CodeTimestampTooFarInFuture       Code = "TimestampTooFarInFuture"
	CodeUnexpectedDifficultyChange    Code = "UnexpectedDifficultyChange"
	CodeIncorrectDifficultyAdjustment Code = "IncorrectDifficultyAdjustment"
	CodeInvalidProofOfWork            Code = "InvalidProofOfWork"
	CodeInsufficientInputValue        Code = "InsufficientInputValue"
	CodeDoubleSpendInBlock            Code = "DoubleSpendInBlock"
	CodeDuplicateTransaction          Code = "DuplicateTransaction"
	CodePreviousBlockNotFound         Code = "PreviousBlockNotFound"
	CodeNoCoinbaseTransaction         Code = "NoCoinbaseTransaction"
	CodeInvalidCoinbaseInputs         Code = "InvalidCoinbaseInputs"
	CodeInvalidCoinbaseInput          Code = "InvalidCoinbaseInput"
	CodeInvalidStructure              Code = "InvalidStructure"
)

// Error is a rejection of a block or transaction. Rejections are local and
// recoverable: the candidate is discarded and the node carries on.
type Error struct {
	Kind Kind
	Code Code
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any rejection with the same code, so errors.Is works against
// the sentinel values below regardless of kind or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func reject(kind Kind, code Code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Err: fmt.Errorf(format, args...)}
}

// IsRejection reports whether err is a validation rejection and returns it.
func IsRejection(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Set of sentinel rejections for use with errors.Is.
var (
	ErrUTXONotFound                  = &Error{Kind: KindLedger, Code: CodeUTXONotFound}
	ErrImmatureCoinbase              = &Error{Kind: KindLedger, Code: CodeImmatureCoinbase}
	ErrSignatureVerificationFailed   = &Error{Kind: KindAuthorization, Code: CodeSignatureVerificationFailed}
	ErrExcessiveCoinbaseReward       = &Error{Kind: KindValue, Code: CodeExcessiveCoinbaseReward}
	ErrTimestampNotGreaterThanMTP    = &Error{Kind: KindTemporal, Code: CodeTimestampNotGreaterThanMTP}
	ErrBlockMinedTooSoon             = &Error{Kind: KindTemporal, Code: CodeBlockMinedTooSoon}
	ErrTimestampTooFarInFuture       = &Error{Kind: KindTemporal, Code: CodeTimestampTooFarInFuture}
	ErrUnexpectedDifficultyChange    = &Error{Kind: KindWork, Code: CodeUnexpectedDifficultyChange}
	ErrIncorrectDifficultyAdjustment = &Error{Kind: KindWork, Code: CodeIncorrectDifficultyAdjustment}
	ErrInvalidProofOfWork            = &Error{Kind: KindWork, Code: CodeInvalidProofOfWork}
	ErrInsufficientInputValue        = &Error{Kind: KindValue, Code: CodeInsufficientInputValue}
	ErrDoubleSpendInBlock            = &Error{Kind: KindDuplication, Code: CodeDoubleSpendInBlock}
	ErrDuplicateTransaction          = &Error{Kind: KindDuplication, Code: CodeDuplicateTransaction}
	ErrPreviousBlockNotFound         = &Error{Kind: KindStructural, Code: CodePreviousBlockNotFound}
	ErrNoCoinbaseTransaction         = &Error{Kind: KindStructural, Code: CodeNoCoinbaseTransaction}
	ErrInvalidCoinbaseInputs         = &Error{Kind: KindStructural, Code: CodeInvalidCoinbaseInputs}
	ErrInvalidCoinbaseInput          = &Error{Kind: KindStructural, Code: CodeInvalidCoinbaseInput}
	ErrInvalidStructure              = &Error{Kind: KindStructural, Code: CodeInvalidStructure}
)

// ErrStorageUnavailable is returned when the ledger or chain store fails.
// It is never a rejection of the candidate: the node itself may be unable to
// make progress.
var ErrStorageUnavailable = errors.New("storage unavailable")
