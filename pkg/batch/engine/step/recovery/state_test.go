package recovery_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/recovery"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

var errBoom = errors.New("boom")

func TestFailurePoint(t *testing.T) {
	cases := []struct {
		name    string
		mode    recovery.FailurePointMode
		failure *exception.ItemFailure
		want    int64
	}{
		{"compatible read", recovery.Compatible, exception.ReadFailure(5, errBoom), 5},
		{"compatible process", recovery.Compatible, exception.ProcessFailure(5, errBoom), 6},
		{"compatible write", recovery.Compatible, exception.WriteFailure(9, errBoom), 10},
		{"corrected read", recovery.Corrected, exception.ReadFailure(5, errBoom), 5},
		{"corrected process", recovery.Corrected, exception.ProcessFailure(5, errBoom), 5},
		{"corrected write", recovery.Corrected, exception.WriteFailure(9, errBoom), 9},
		{"compatible chunk timeout", recovery.Compatible, exception.ChunkFailure(3, exception.ErrChunkTimeout), 4},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := recovery.New(&model.ExecutionCursor{}, tc.mode)
			assert.Equal(t, tc.want, s.FailurePoint(tc.failure))
		})
	}
}

func TestRecoveryRoundTrip(t *testing.T) {
	cursor := &model.ExecutionCursor{Position: 8}
	s := recovery.New(cursor, recovery.Compatible)
	assert.False(t, s.Recovering())
	assert.Equal(t, 10, s.ChunkSize(10))

	s.Enter(exception.ProcessFailure(5, errBoom), 0)
	require.True(t, s.Recovering())
	assert.Equal(t, int64(0), cursor.Position)
	assert.Equal(t, int64(6), cursor.FailurePoint)
	assert.Equal(t, 1, s.ChunkSize(10))

	var exitedAt int64
	for cursor.Position < 20 {
		cursor.Position++
		if s.Resolve() {
			exitedAt = cursor.Position
			break
		}
	}
	assert.Equal(t, int64(7), exitedAt)
	assert.Equal(t, model.ModeNormal, cursor.Mode)
	assert.Equal(t, 10, s.ChunkSize(10))
}

func TestEnterWhileRecoveringKeepsFurthestPoint(t *testing.T) {
	cursor := &model.ExecutionCursor{}
	s := recovery.New(cursor, recovery.Compatible)

	s.Enter(exception.WriteFailure(9, errBoom), 0)
	cursor.Position = 3
	s.Enter(exception.ReadFailure(3, errBoom), 3)
	assert.Equal(t, int64(10), cursor.FailurePoint)
	assert.Equal(t, int64(3), cursor.Position)
}

func TestResolveOutsideRecovery(t *testing.T) {
	cursor := &model.ExecutionCursor{Position: 50}
	s := recovery.New(cursor, recovery.Corrected)
	assert.False(t, s.Resolve())
	assert.Equal(t, model.ModeNormal, cursor.Mode)
}

func TestParseMode(t *testing.T) {
	m, err := recovery.ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, recovery.Compatible, m)

	m, err = recovery.ParseMode(" Corrected ")
	require.NoError(t, err)
	assert.Equal(t, recovery.Corrected, m)

	_, err = recovery.ParseMode("strict")
	assert.Error(t, err)
}

func TestNewStartsInNormal(t *testing.T) {
	cursor := &model.ExecutionCursor{Position: 40}
	s := recovery.New(cursor, "")
	assert.Equal(t, model.ModeNormal, cursor.Mode)
	assert.Equal(t, recovery.Compatible, s.Mode())
	assert.False(t, s.Recovering())
}

func TestFinishLeavesRecovery(t *testing.T) {
	cursor := &model.ExecutionCursor{}
	s := recovery.New(cursor, recovery.Compatible)
	assert.False(t, s.Finish())

	s.Enter(exception.WriteFailure(29, errBoom), 20)
	cursor.Position = 30
	assert.False(t, s.Resolve())
	assert.True(t, s.Finish())
	assert.Equal(t, model.ModeNormal, cursor.Mode)
	assert.Zero(t, cursor.FailurePoint)
	assert.Equal(t, int64(30), cursor.Position)
}
