package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caio-sobreiro/dcmstream/association"
	"github.com/caio-sobreiro/dcmstream/types"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dcmstream.yaml")
	content := `
server:
  address: ":4242"
  ae_title: ARCHIVE
  dimse_timeout: 90s
  move_destinations:
    WORKSTATION: 10.0.0.5:104
client:
  called_ae_title: ARCHIVE
  connect_timeout: 2s
negotiation:
  transfer_syntaxes:
    - 1.2.840.10008.1.2
  refused:
    - 1.2.840.10008.5.1.4.1.1.2
storage:
  directory: /var/lib/dcmstream
logging:
  level: debug
  format: json
metrics:
  enabled: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":4242", cfg.Server.Address)
	assert.Equal(t, "ARCHIVE", cfg.Server.AETitle)
	assert.Equal(t, 90*time.Second, cfg.Server.DimseTimeout)
	assert.Equal(t, map[string]string{"WORKSTATION": "10.0.0.5:104"}, cfg.Server.MoveDestinations)
	assert.Equal(t, 64, cfg.Server.MaxAssociations, "unset keys keep their defaults")
	assert.Equal(t, 2*time.Second, cfg.Client.ConnectTimeout)
	assert.Equal(t, "DCMSTREAM-SCU", cfg.Client.CallingAETitle)
	assert.Equal(t, []string{types.ImplicitVRLittleEndian}, cfg.Negotiation.TransferSyntaxes)
	assert.Equal(t, "/var/lib/dcmstream", cfg.Storage.Directory)
	assert.Equal(t, filepath.Join("/var/lib/dcmstream", ".incoming"), cfg.Storage.SpillDir())
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, slog.LevelDebug, cfg.Logging.SlogLevel())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		name     string
		yaml     string
		errorMsg string
	}{
		{"malformed yaml", "server: [", "failed to parse config"},
		{"bad duration", "server:\n  dimse_timeout: soon\n", "failed to parse config"},
		{"long AE title", "server:\n  ae_title: THIS-IS-WAY-TOO-LONG\n", "ae_title must be at most 16 characters"},
		{"move destination without address", "server:\n  move_destinations:\n    WORKSTATION: \"\"\n", "move destination WORKSTATION has no address"},
		{"no associations", "server:\n  max_associations: 0\n", "max_associations must be at least 1"},
		{"tiny PDU", "client:\n  max_pdu_length: 8\n", "max_pdu_length must be between"},
		{"unknown transfer syntax", "negotiation:\n  transfer_syntaxes: [1.2.3]\n", "unknown transfer syntax"},
		{"nothing to accept", "negotiation:\n  abstract_syntaxes: []\n  accept_all_storage: false\n", "abstract_syntaxes cannot be empty"},
		{"log level", "logging:\n  level: verbose\n", "level must be one of"},
		{"log format", "logging:\n  format: xml\n", "format must be 'json' or 'text'"},
		{"metrics path", "metrics:\n  enabled: true\n  path: metrics\n", "path must start with '/'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorMsg)
		})
	}
}

func TestNegotiationPolicy(t *testing.T) {
	cfg := Default()
	cfg.Negotiation.TransferSyntaxes = []string{types.ExplicitVRLittleEndian}
	cfg.Negotiation.Refused = []string{types.CTImageStorage}

	policy := cfg.Negotiation.Policy()
	assert.True(t, policy.SupportsAbstractSyntax(types.VerificationSOPClass))
	assert.True(t, policy.SupportsAbstractSyntax(types.MRImageStorage))
	assert.True(t, policy.SupportsTransferSyntax(types.ExplicitLittleEndian))
	assert.False(t, policy.SupportsTransferSyntax(types.ImplicitLittleEndian))

	a := association.New("SCU", "DCMSTREAM")
	ct, err := a.AddPresentationContext(types.CTImageStorage, types.ExplicitLittleEndian)
	require.NoError(t, err)
	mr, err := a.AddPresentationContext(types.MRImageStorage, types.ImplicitLittleEndian, types.ExplicitLittleEndian)
	require.NoError(t, err)
	assert.Equal(t, 1, policy.Negotiate(a, nil))

	pc, _ := a.PresentationContext(ct)
	assert.Equal(t, association.ResultRejectUser, pc.Result)
	assert.Equal(t, types.ExplicitLittleEndian, a.AcceptedTransferSyntax(mr))
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l := LoggingConfig{Level: "warn", Format: "json"}
	logger := l.NewLogger(&buf)

	logger.Info("Hidden")
	logger.Warn("Shown", "context_id", 1)
	assert.NotContains(t, buf.String(), "Hidden")
	assert.Contains(t, buf.String(), `"msg":"Shown"`)
	assert.Contains(t, buf.String(), `"context_id":1`)
}
