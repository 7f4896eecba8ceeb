package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/caio-sobreiro/dcmstream/client"
)

var echoOpt peerOpts

var echoCmd = &cobra.Command{
	Use:     "echo",
	Short:   "verify a peer with C-ECHO",
	Args:    cobra.NoArgs,
	Example: `dcmstream echo -a pacs:104 --called-ae PACS`,
	RunE: func(cmd *cobra.Command, args []string) error {
		address, cc := echoOpt.resolve()
		a, err := client.Connect(cmd.Context(), address, cc)
		if err != nil {
			return err
		}

		rsp, err := a.Echo(cmd.Context())
		if err == nil {
			fmt.Fprintf(cmd.OutOrStdout(), "C-ECHO %s: status 0x%04X\n", address, rsp.Status)
		}
		return finish(a, err)
	},
}

func init() {
	echoOpt.bind(echoCmd)
	rootCmd.AddCommand(echoCmd)
}
