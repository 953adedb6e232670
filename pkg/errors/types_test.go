// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeBand(t *testing.T) {
	tests := []struct {
		code Code
		want Band
	}{
		{CodeProtocol, BandPermanent},
		{CodeBadAttribute, BandPermanent},
		{CodeNotAuthenticated, BandPermanent},
		{CodeStoreBusy, BandTransient},
		{CodeMomUnreachable, BandTransient},
		{CodeOutOfMemory, BandInternal},
		{CodeUnexpectedEOF, BandInternal},
		{Code(999), BandInternal},
	}
	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.code.Band())
		})
	}
}

func TestCodeRetryable(t *testing.T) {
	assert.True(t, CodeStoreBusy.Retryable())
	assert.True(t, CodeMomUnreachable.Retryable())
	assert.False(t, CodeBadAttribute.Retryable())
	assert.False(t, CodeOutOfMemory.Retryable())
}

func TestCodeString(t *testing.T) {
	assert.Equal(t, "BAD_ATTRIBUTE", CodeBadAttribute.String())
	assert.Equal(t, "UNKNOWN", Code(999).String())
}

func TestBandString(t *testing.T) {
	assert.Equal(t, "permanent", BandPermanent.String())
	assert.Equal(t, "transient", BandTransient.String())
	assert.Equal(t, "internal", BandInternal.String())
	assert.Equal(t, "unknown", Band(999).String())
}

func TestBatchError_Error(t *testing.T) {
	e := New(CodeBadAttribute, "bad value")
	assert.Equal(t, "[BAD_ATTRIBUTE] bad value", e.Error())

	e.Details = "walltime must be positive"
	assert.Equal(t, "[BAD_ATTRIBUTE] bad value: walltime must be positive", e.Error())
}

func TestBatchError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	e := Wrap(CodeMomUnreachable, "mom down", cause)

	assert.Equal(t, cause, e.Unwrap())
	assert.True(t, errors.Is(e, cause))
}

func TestBatchError_Is(t *testing.T) {
	a := New(CodeStoreBusy, "busy now")
	b := New(CodeStoreBusy, "busy later")
	c := New(CodeDeadlock, "deadlock")

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))
}

func TestBatchError_RetryableAndBand(t *testing.T) {
	e := New(CodeSchedulerBusy, "cycle running")
	assert.True(t, e.Retryable())
	assert.Equal(t, BandTransient, e.Band())
}

func TestNewAndWrap(t *testing.T) {
	e := New(CodeProtocol, "bad frame")
	require.Nil(t, e.Cause)
	assert.False(t, e.Timestamp.IsZero())

	cause := errors.New("read failed")
	wrapped := Wrap(CodeUnexpectedEOF, "stream closed", cause)
	assert.Equal(t, cause, wrapped.Cause)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(New(CodeStoreBusy, "busy")))
	assert.False(t, IsRetryable(New(CodeBadAttribute, "bad")))
	assert.False(t, IsRetryable(errors.New("plain error")))
	assert.False(t, IsRetryable(nil))
}
