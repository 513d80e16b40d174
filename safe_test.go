package gotxn

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_safe_transaction(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		setup   func(tx *recordingTransaction)
		call    func(safe *safeTransaction) error
		wantErr bool
	}{
		{
			name: "phase1 rejected",
			setup: func(tx *recordingTransaction) {
				tx.phase1 = false
			},
			call: func(safe *safeTransaction) error {
				ok, err := safe.CommitPhase1(ctx)
				assert.False(t, ok)
				return err
			},
		},
		{
			name: "phase1 error votes false",
			setup: func(tx *recordingTransaction) {
				tx.phase1Err = errors.New("vote failed")
			},
			call: func(safe *safeTransaction) error {
				ok, err := safe.CommitPhase1(ctx)
				assert.False(t, ok)
				return err
			},
			wantErr: true,
		},
		{
			name: "phase1 panic votes false",
			setup: func(tx *recordingTransaction) {
				tx.panicOn = "commitPhase1"
			},
			call: func(safe *safeTransaction) error {
				ok, err := safe.CommitPhase1(ctx)
				assert.False(t, ok)
				return err
			},
			wantErr: true,
		},
		{
			name: "phase2 panic",
			setup: func(tx *recordingTransaction) {
				tx.panicOn = "commitPhase2"
			},
			call: func(safe *safeTransaction) error {
				return safe.CommitPhase2(ctx)
			},
			wantErr: true,
		},
		{
			name: "rollback error",
			setup: func(tx *recordingTransaction) {
				tx.rollbackErr = errors.New("rollback failed")
			},
			call: func(safe *safeTransaction) error {
				return safe.Rollback(ctx)
			},
			wantErr: true,
		},
		{
			name: "release panic",
			setup: func(tx *recordingTransaction) {
				tx.panicOn = "release"
			},
			call: func(safe *safeTransaction) error {
				return safe.Release(ctx)
			},
			wantErr: true,
		},
		{
			name: "release",
			call: func(safe *safeTransaction) error {
				return safe.Release(ctx)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := newRecordingTransaction()
			if tt.setup != nil {
				tt.setup(tx)
			}
			var err error
			assert.NotPanics(t, func() {
				err = tt.call(newSafeTransaction(tx))
			})
			assert.Equal(t, tt.wantErr, err != nil)
		})
	}
}

func Test_safe_transaction_idempotent(t *testing.T) {
	safe := newSafeTransaction(newRecordingTransaction())
	assert.Same(t, safe, newSafeTransaction(safe))
}
