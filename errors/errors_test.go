package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssociationError(t *testing.T) {
	err := NewAssociationError(
		RejectSourceServiceUser,
		RejectReasonCalledAETitleNotRecognized,
		"AE title mismatch",
	)

	assert.Equal(t, RejectSourceServiceUser, err.Source)
	assert.Equal(t, RejectReasonCalledAETitleNotRecognized, err.Reason)
	assert.Equal(t, RejectResultPermanent, err.Result)
	assert.Contains(t, err.Error(), "called-ae-title-not-recognized")
	assert.True(t, errors.Is(err, ErrAssociationRejected))

	wrapped := fmt.Errorf("failed to associate: %w", err)
	var assocErr *AssociationError
	require.True(t, errors.As(wrapped, &assocErr))
	assert.Equal(t, "AE title mismatch", assocErr.Msg)
}

func TestDIMSEError(t *testing.T) {
	tests := []struct {
		name      string
		status    uint16
		isSuccess bool
		isPending bool
		isWarning bool
		isFailure bool
	}{
		{"Success", 0x0000, true, false, false, false},
		{"Pending", 0xFF00, false, true, false, false},
		{"Warning", 0x0107, false, false, true, false},
		{"Failure", 0xC000, false, false, false, true},
		{"Refused", 0xA700, false, false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewDIMSEError("C-STORE", tt.status, "test error")

			assert.Equal(t, tt.isSuccess, err.IsSuccess())
			assert.Equal(t, tt.isPending, err.IsPending())
			assert.Equal(t, tt.isWarning, err.IsWarning())
			assert.Equal(t, tt.isFailure, err.IsFailure())
		})
	}
}

func TestTimeoutError(t *testing.T) {
	err := NewTimeoutError("dimse", "3m0s")

	assert.Equal(t, "dimse", err.Operation)
	assert.True(t, err.Timeout())
	assert.Equal(t, "timeout: dimse exceeded 3m0s", err.Error())
}

func TestNetworkError(t *testing.T) {
	innerErr := errors.New("connection refused")
	err := NewNetworkError("dial", innerErr)

	assert.Equal(t, "dial", err.Op)
	assert.True(t, errors.Is(err, innerErr))
}

func TestPDUError(t *testing.T) {
	err := NewPDUError(0x04, "invalid PDU length")

	assert.Equal(t, byte(0x04), err.PDUType)
	assert.Equal(t, "PDU error (type: 0x04): invalid PDU length", err.Error())
	assert.True(t, errors.Is(err, ErrInvalidPDU))
	assert.True(t, errors.Is(fmt.Errorf("decode: %w", err), ErrInvalidPDU))
}

func TestAbortError(t *testing.T) {
	err := NewAbortError(0x02, 0x01)

	assert.Equal(t, byte(0x02), err.Source)
	assert.Equal(t, byte(0x01), err.Reason)
	assert.Contains(t, err.Error(), "service-provider")
	assert.True(t, errors.Is(err, ErrConnectionClosed))
}

func TestParseError(t *testing.T) {
	err := NewParseError(132, "(0010,0010)", "unexpected delimiter")
	assert.Equal(t, "parse error at offset 132, tag (0010,0010): unexpected delimiter", err.Error())

	err = NewParseError(8, "", "truncated header")
	assert.Equal(t, "parse error at offset 8: truncated header", err.Error())
}

func TestAssociationRejectReasonString(t *testing.T) {
	tests := []struct {
		reason   AssociationRejectReason
		expected string
	}{
		{RejectReasonNoReasonGiven, "no-reason-given"},
		{RejectReasonApplicationContextNotSupported, "application-context-not-supported"},
		{RejectReasonCallingAETitleNotRecognized, "calling-ae-title-not-recognized"},
		{RejectReasonCalledAETitleNotRecognized, "called-ae-title-not-recognized"},
		{AssociationRejectReason(0xFF), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.reason.String())
		})
	}
}

func TestAssociationRejectSourceString(t *testing.T) {
	tests := []struct {
		source   AssociationRejectSource
		expected string
	}{
		{RejectSourceServiceUser, "service-user"},
		{RejectSourceServiceProviderACSE, "service-provider-acse"},
		{RejectSourceServiceProviderPresentation, "service-provider-presentation"},
		{AssociationRejectSource(0xFF), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.source.String())
		})
	}
}

func TestRejectResultString(t *testing.T) {
	assert.Equal(t, "rejected-permanent", RejectResultPermanent.String())
	assert.Equal(t, "rejected-transient", RejectResultTransient.String())
}
