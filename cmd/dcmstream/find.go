package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/caio-sobreiro/dcmstream/client"
	"github.com/caio-sobreiro/dcmstream/types"
)

var (
	findPeer  peerOpts
	findQuery queryOpts
)

var findCmd = &cobra.Command{
	Use:     "find",
	Short:   "query a peer with C-FIND",
	Args:    cobra.NoArgs,
	Example: `dcmstream find -L STUDY -k PatientName='DOE*' -k StudyInstanceUID -k StudyDate`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sopClass, err := findQuery.sopClass(false)
		if err != nil {
			return err
		}
		identifier, err := findQuery.identifier()
		if err != nil {
			return err
		}

		address, cc := findPeer.resolve()
		cc.AbstractSyntaxes = []string{sopClass}
		a, err := client.Connect(cmd.Context(), address, cc)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		matches := 0
		responses, err := a.Find(cmd.Context(), &client.CFindRequest{
			SOPClassUID: sopClass,
			Dataset:     identifier,
			OnResponse: func(rsp *client.CFindResponse) {
				matches++
				fmt.Fprintf(out, "# match %d\n", matches)
				if rsp.Dataset != nil {
					_ = rsp.Dataset.Dump(out, nil)
				}
			},
		})
		if err != nil {
			return finish(a, err)
		}
		final := responses[len(responses)-1]
		fmt.Fprintf(out, "C-FIND: %d matches, status 0x%04X %s\n", matches, final.Status, final.ErrorComment)
		if err := finish(a, nil); err != nil {
			return err
		}
		if types.StatusStateOf(final.Status) == types.StatusStateFailure {
			return fmt.Errorf("C-FIND failed with status 0x%04X", final.Status)
		}
		return nil
	},
}

func init() {
	findPeer.bind(findCmd)
	findQuery.bind(findCmd)
	rootCmd.AddCommand(findCmd)
}
