package types

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrorKind 引擎错误分类
//
// **分类**：
// - validation: 参数不合法，没有发起任何网络操作
// - signing: 签名失败，账本状态未变化，可安全重试
// - submission: 交易提交前被拒绝或执行回滚
// - synchronization: 轮询失败（网络/超时），不是终态
// - commitment_lost: 本地 salt 丢失，无法合作完成揭示
type ErrorKind string

const (
	KindValidation      ErrorKind = "validation"
	KindSigning         ErrorKind = "signing"
	KindSubmission      ErrorKind = "submission"
	KindSynchronization ErrorKind = "synchronization"
	KindCommitmentLost  ErrorKind = "commitment_lost"
)

// 哨兵错误，配合 errors.Is 使用
var (
	ErrInvalidAddress      = errors.New("invalid address")
	ErrMissingMove         = errors.New("move selection required")
	ErrWagerTooLow         = errors.New("wager below ledger minimum")
	ErrInvalidIntentHash   = errors.New("invalid intent hash")
	ErrGameNotFound        = errors.New("game not found")
	ErrNotParticipant      = errors.New("not a participant in this game")
	ErrAlreadyCommitted    = errors.New("move already committed")
	ErrCommitmentPending   = errors.New("a different move is already submitted and awaiting confirmation")
	ErrGameClosed          = errors.New("game is not accepting commitments")
	ErrRevealNotAllowed    = errors.New("reveal not allowed in current phase")
	ErrOperationInProgress = errors.New("another operation is in progress")
	ErrNoSession           = errors.New("wallet not connected")

	ErrSignerUnavailable = errors.New("signer unavailable")
	ErrUserRejected      = errors.New("user rejected signing request")
	ErrWrongChain        = errors.New("active chain does not match signing domain")

	ErrTxRejected = errors.New("transaction rejected")
	ErrTxReverted = errors.New("transaction reverted")
	ErrTxPending  = errors.New("transaction not yet confirmed")

	ErrCommitmentLost = errors.New("commitment secret lost")
)

// EngineError 引擎错误类型
// 结构沿用 Problem Details 的字段（Code/UserMessage/Detail/TraceID）
type EngineError struct {
	Kind        ErrorKind
	Code        string
	UserMessage string
	Detail      string
	Details     map[string]interface{}
	TraceID     string
	Timestamp   string
	Err         error
}

func (e *EngineError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.UserMessage, e.Detail)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.UserMessage)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// 错误码常量
const (
	ErrorCodeValidation      = "RPS_VALIDATION_ERROR"
	ErrorCodeSigning         = "RPS_SIGNING_ERROR"
	ErrorCodeSubmission      = "RPS_SUBMISSION_ERROR"
	ErrorCodeSynchronization = "RPS_SYNC_ERROR"
	ErrorCodeCommitmentLost  = "RPS_COMMITMENT_LOST"
)

var kindCodes = map[ErrorKind]string{
	KindValidation:      ErrorCodeValidation,
	KindSigning:         ErrorCodeSigning,
	KindSubmission:      ErrorCodeSubmission,
	KindSynchronization: ErrorCodeSynchronization,
	KindCommitmentLost:  ErrorCodeCommitmentLost,
}

// NewError 创建 EngineError
// err 为底层原因（通常是哨兵错误），detail 可为空
func NewError(kind ErrorKind, err error, detail string) *EngineError {
	userMessage := string(kind)
	if err != nil {
		userMessage = err.Error()
	}
	return &EngineError{
		Kind:        kind,
		Code:        kindCodes[kind],
		UserMessage: userMessage,
		Detail:      detail,
		Details:     make(map[string]interface{}),
		TraceID:     uuid.New().String(),
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Err:         err,
	}
}

// Validation 创建参数校验错误
func Validation(err error, detail string) *EngineError {
	return NewError(KindValidation, err, detail)
}

// Signing 创建签名错误
func Signing(err error, detail string) *EngineError {
	return NewError(KindSigning, err, detail)
}

// Submission 创建交易提交错误，reason 为账本回滚原因（可为空）
func Submission(err error, reason string) *EngineError {
	e := NewError(KindSubmission, err, reason)
	if reason != "" {
		e.Details["revert_reason"] = reason
	}
	return e
}

// Synchronization 创建同步错误
func Synchronization(err error, detail string) *EngineError {
	return NewError(KindSynchronization, err, detail)
}

// CommitmentLost 创建承诺丢失错误
func CommitmentLost(intentHash string) *EngineError {
	e := NewError(KindCommitmentLost, ErrCommitmentLost, intentHash)
	e.Details["intent_hash"] = intentHash
	e.Details["resolution"] = "wait for reveal deadline or cancel on the ledger"
	return e
}

// IsEngineError 检查错误链中是否包含 EngineError
func IsEngineError(err error) (*EngineError, bool) {
	var engErr *EngineError
	if errors.As(err, &engErr) {
		return engErr, true
	}
	return nil, false
}

// KindOf 返回错误分类，非 EngineError 返回空字符串
func KindOf(err error) ErrorKind {
	if engErr, ok := IsEngineError(err); ok {
		return engErr.Kind
	}
	return ""
}
