package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewError_Fields(t *testing.T) {
	err := Validation(ErrInvalidAddress, "opponent")

	assert.Equal(t, KindValidation, err.Kind)
	assert.Equal(t, ErrorCodeValidation, err.Code)
	assert.Equal(t, "invalid address", err.UserMessage)
	assert.Equal(t, "[RPS_VALIDATION_ERROR] invalid address: opponent", err.Error())
	assert.NotEmpty(t, err.TraceID)
	assert.NotEmpty(t, err.Timestamp)
}

func TestEngineError_ErrorsIs(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		kind   ErrorKind
	}{
		{"signing rejected", Signing(ErrUserRejected, ""), ErrUserRejected, KindSigning},
		{"wrong chain", Signing(ErrWrongChain, "chain 1 != 11155111"), ErrWrongChain, KindSigning},
		{"reverted", Submission(ErrTxReverted, "game expired"), ErrTxReverted, KindSubmission},
		{"sync", Synchronization(errors.New("dial tcp"), ""), nil, KindSynchronization},
		{"lost", CommitmentLost("0xabc"), ErrCommitmentLost, KindCommitmentLost},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)
			if tt.target != nil {
				assert.ErrorIs(t, wrapped, tt.target)
			}
			assert.Equal(t, tt.kind, KindOf(wrapped))
		})
	}
}

func TestSubmission_RevertReasonDetail(t *testing.T) {
	err := Submission(ErrTxRejected, "Insufficient wager")
	require.Contains(t, err.Details, "revert_reason")
	assert.Equal(t, "Insufficient wager", err.Details["revert_reason"])

	noReason := Submission(ErrTxRejected, "")
	assert.NotContains(t, noReason.Details, "revert_reason")
}

func TestKindOf_PlainError(t *testing.T) {
	assert.Equal(t, ErrorKind(""), KindOf(errors.New("plain")))
	_, ok := IsEngineError(nil)
	assert.False(t, ok)
}
