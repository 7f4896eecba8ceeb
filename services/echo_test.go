package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caio-sobreiro/dcmstream/dimse"
	"github.com/caio-sobreiro/dcmstream/network"
	"github.com/caio-sobreiro/dcmstream/types"
)

func TestEchoService_HandleDIMSE(t *testing.T) {
	service := NewEchoService(quietLogger())
	req := &network.Request{
		ContextID: 1,
		Command:   dimse.NewCEchoRequest(7),
		MessageID: 7,
		RemoteAE:  "SCU",
	}

	rsp, ds, err := service.HandleDIMSE(context.Background(), req)
	require.NoError(t, err)
	assert.Nil(t, ds)
	assert.Equal(t, types.CEchoRSP, rsp.CommandField())
	assert.Equal(t, uint16(7), rsp.MessageIDBeingRespondedTo())
	assert.Equal(t, types.VerificationSOPClass, rsp.AffectedSOPClassUID())
	assert.Equal(t, types.StatusSuccess, rsp.Status())
}

func TestEchoService_HealthCheck(t *testing.T) {
	assert.NoError(t, NewEchoService(nil).HealthCheck(context.Background()))
}
