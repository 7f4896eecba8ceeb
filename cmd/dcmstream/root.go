package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/caio-sobreiro/dcmstream/client"
	"github.com/caio-sobreiro/dcmstream/config"
)

type rootOpts struct {
	cfgFile string
	debug   bool
}

var (
	rootOpt rootOpts
	cfg     *config.Config
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "dcmstream",
	Short:         "DICOM upper layer server and client",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

// Execute runs the command named on the command line and exits non-zero
// when it fails.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootOpt.cfgFile, "config", "", "YAML config file (default: built-in defaults)")
	rootCmd.PersistentFlags().BoolVarP(&rootOpt.debug, "debug", "d", false, "log at debug level")
}

func initConfig() error {
	if rootOpt.cfgFile == "" {
		cfg = config.Default()
	} else {
		loaded, err := config.Load(rootOpt.cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if rootOpt.debug {
		cfg.Logging.Level = "debug"
	}
	logger = cfg.Logging.NewLogger(os.Stderr)
	slog.SetDefault(logger)
	return nil
}

// peerOpts are the connection flags shared by the client commands.
type peerOpts struct {
	address   string
	callingAE string
	calledAE  string
}

func (o *peerOpts) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.address, "address", "a", "", "host:port of the peer (default: client.address)")
	cmd.Flags().StringVar(&o.callingAE, "calling-ae", "", "calling AE title (default: client.calling_ae_title)")
	cmd.Flags().StringVar(&o.calledAE, "called-ae", "", "called AE title (default: client.called_ae_title)")
}

// resolve returns the peer address and association config, flags taking
// precedence over the config file.
func (o *peerOpts) resolve() (string, client.Config) {
	c := cfg.Client
	address := c.Address
	if o.address != "" {
		address = o.address
	}
	cc := client.Config{
		CallingAETitle: c.CallingAETitle,
		CalledAETitle:  c.CalledAETitle,
		MaxPDULength:   c.MaxPDULength,
		ConnectTimeout: c.ConnectTimeout,
		SocketTimeout:  c.SocketTimeout,
		DimseTimeout:   c.DimseTimeout,
		ReleaseTimeout: c.ReleaseTimeout,
		Logger:         logger,
	}
	if o.callingAE != "" {
		cc.CallingAETitle = o.callingAE
	}
	if o.calledAE != "" {
		cc.CalledAETitle = o.calledAE
	}
	return address, cc
}

// finish releases a when err is nil and aborts it otherwise.
func finish(a *client.Association, err error) error {
	if err != nil {
		_ = a.Abort()
		return err
	}
	return a.Close()
}
