// Package config loads the YAML configuration of the dcmstream command.
// Library packages never read it; the command translates each section into
// the options of the package it configures.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/caio-sobreiro/dcmstream/association"
	"github.com/caio-sobreiro/dcmstream/types"
)

// Config represents the complete configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Client      ClientConfig      `yaml:"client"`
	Negotiation NegotiationConfig `yaml:"negotiation"`
	Storage     StorageConfig     `yaml:"storage"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// ServerConfig configures the acceptor
type ServerConfig struct {
	Address         string        `yaml:"address"`
	AETitle         string        `yaml:"ae_title"`
	MaxAssociations int           `yaml:"max_associations"`
	MaxPDULength    uint32        `yaml:"max_pdu_length"`
	SocketTimeout   time.Duration `yaml:"socket_timeout"`
	DimseTimeout    time.Duration `yaml:"dimse_timeout"`
	StreamParse     bool          `yaml:"stream_parse"`
	// MoveDestinations maps the AE titles C-MOVE may send to onto host:port.
	MoveDestinations map[string]string `yaml:"move_destinations"`
}

// ClientConfig configures the requestor commands
type ClientConfig struct {
	Address        string        `yaml:"address"`
	CallingAETitle string        `yaml:"calling_ae_title"`
	CalledAETitle  string        `yaml:"called_ae_title"`
	MaxPDULength   uint32        `yaml:"max_pdu_length"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	SocketTimeout  time.Duration `yaml:"socket_timeout"`
	DimseTimeout   time.Duration `yaml:"dimse_timeout"`
	ReleaseTimeout time.Duration `yaml:"release_timeout"`
}

// NegotiationConfig is the presentation context policy of the acceptor
type NegotiationConfig struct {
	// TransferSyntaxes in order of preference; UIDs.
	TransferSyntaxes     []string `yaml:"transfer_syntaxes"`
	AbstractSyntaxes     []string `yaml:"abstract_syntaxes"`
	AcceptAllStorage     bool     `yaml:"accept_all_storage"`
	Refused              []string `yaml:"refused"`
	CalledAETitles       []string `yaml:"called_ae_titles"`
	OmitRejectedContexts bool     `yaml:"omit_rejected_contexts"`
}

// StorageConfig tells the store service where instances go
type StorageConfig struct {
	Directory      string `yaml:"directory"`
	SpillDirectory string `yaml:"spill_directory"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         ":11112",
			AETitle:         "DCMSTREAM",
			MaxAssociations: 64,
			MaxPDULength:    types.DefaultMaxPDULength,
			SocketTimeout:   30 * time.Second,
			DimseTimeout:    180 * time.Second,
			StreamParse:     true,
		},
		Client: ClientConfig{
			Address:        "localhost:11112",
			CallingAETitle: "DCMSTREAM-SCU",
			CalledAETitle:  "DCMSTREAM",
			MaxPDULength:   types.DefaultMaxPDULength,
			ConnectTimeout: 10 * time.Second,
			SocketTimeout:  30 * time.Second,
			DimseTimeout:   180 * time.Second,
			ReleaseTimeout: 10 * time.Second,
		},
		Negotiation: NegotiationConfig{
			TransferSyntaxes: types.GetUncompressedTransferSyntaxes(),
			AbstractSyntaxes: []string{
				types.VerificationSOPClass,
				types.PatientRootQueryRetrieveInformationModelFind,
				types.StudyRootQueryRetrieveInformationModelFind,
				types.PatientRootQueryRetrieveInformationModelMove,
				types.StudyRootQueryRetrieveInformationModelMove,
			},
			AcceptAllStorage: true,
		},
		Storage: StorageConfig{
			Directory: "./storage",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9090",
			Path:    "/metrics",
		},
	}
}

// Load reads the configuration file at path over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return config, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := c.Client.Validate(); err != nil {
		return fmt.Errorf("client config: %w", err)
	}
	if err := c.Negotiation.Validate(); err != nil {
		return fmt.Errorf("negotiation config: %w", err)
	}
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}
	return nil
}

func validateAETitle(name, ae string) error {
	if strings.TrimSpace(ae) == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	if len(ae) > 16 {
		return fmt.Errorf("%s must be at most 16 characters, got %q", name, ae)
	}
	return nil
}

func validatePDULength(v uint32) error {
	if v != 0 && (v < types.MinPDULength || v > types.MaxPDULengthCap) {
		return fmt.Errorf("max_pdu_length must be between %d and %d, got %d", types.MinPDULength, types.MaxPDULengthCap, v)
	}
	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}
	if err := validateAETitle("ae_title", s.AETitle); err != nil {
		return err
	}
	if s.MaxAssociations < 1 {
		return fmt.Errorf("max_associations must be at least 1, got %d", s.MaxAssociations)
	}
	if err := validatePDULength(s.MaxPDULength); err != nil {
		return err
	}
	if s.SocketTimeout < 0 {
		return fmt.Errorf("socket_timeout cannot be negative, got %s", s.SocketTimeout)
	}
	for ae, address := range s.MoveDestinations {
		if err := validateAETitle("move destination", ae); err != nil {
			return err
		}
		if address == "" {
			return fmt.Errorf("move destination %s has no address", ae)
		}
	}
	return nil
}

// Validate validates client configuration
func (c *ClientConfig) Validate() error {
	if err := validateAETitle("calling_ae_title", c.CallingAETitle); err != nil {
		return err
	}
	if err := validateAETitle("called_ae_title", c.CalledAETitle); err != nil {
		return err
	}
	if err := validatePDULength(c.MaxPDULength); err != nil {
		return err
	}
	if c.ConnectTimeout < 0 || c.SocketTimeout < 0 || c.ReleaseTimeout < 0 {
		return fmt.Errorf("timeouts cannot be negative")
	}
	return nil
}

// Validate validates negotiation configuration
func (n *NegotiationConfig) Validate() error {
	if len(n.TransferSyntaxes) == 0 {
		return fmt.Errorf("transfer_syntaxes cannot be empty")
	}
	for _, uid := range n.TransferSyntaxes {
		if !types.IsKnownTransferSyntax(uid) {
			return fmt.Errorf("unknown transfer syntax %q", uid)
		}
	}
	if len(n.AbstractSyntaxes) == 0 && !n.AcceptAllStorage {
		return fmt.Errorf("abstract_syntaxes cannot be empty unless accept_all_storage is set")
	}
	return nil
}

// Policy builds the acceptor policy of the section.
func (n *NegotiationConfig) Policy() *association.Policy {
	policy := &association.Policy{
		AbstractSyntaxes:     make(map[string]bool, len(n.AbstractSyntaxes)),
		AcceptAllStorage:     n.AcceptAllStorage,
		Refused:              make(map[string]bool, len(n.Refused)),
		CalledAETitles:       n.CalledAETitles,
		OmitRejectedContexts: n.OmitRejectedContexts,
	}
	for _, uid := range n.AbstractSyntaxes {
		policy.AbstractSyntaxes[uid] = true
	}
	for _, uid := range n.Refused {
		policy.Refused[uid] = true
	}
	for _, uid := range n.TransferSyntaxes {
		policy.TransferSyntaxes = append(policy.TransferSyntaxes, types.LookupTransferSyntax(uid))
	}
	return policy
}

// Validate validates storage configuration
func (s *StorageConfig) Validate() error {
	if s.Directory == "" {
		return fmt.Errorf("directory cannot be empty")
	}
	return nil
}

// SpillDir is where inbound C-STORE datasets are written while they
// arrive; it defaults to a subdirectory of the storage directory.
func (s *StorageConfig) SpillDir() string {
	if s.SpillDirectory != "" {
		return s.SpillDirectory
	}
	return filepath.Join(s.Directory, ".incoming")
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}
	return nil
}

// SlogLevel maps Level to a slog level.
func (l *LoggingConfig) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the root logger writing to w.
func (l *LoggingConfig) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: l.SlogLevel()}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Validate validates metrics configuration
func (m *MetricsConfig) Validate() error {
	if !m.Enabled {
		return nil
	}
	if m.Address == "" {
		return fmt.Errorf("address cannot be empty when metrics are enabled")
	}
	if !strings.HasPrefix(m.Path, "/") {
		return fmt.Errorf("path must start with '/', got '%s'", m.Path)
	}
	return nil
}
