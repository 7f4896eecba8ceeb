package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/caio-sobreiro/dcmstream/client"
	"github.com/caio-sobreiro/dcmstream/types"
)

var (
	movePeer        peerOpts
	moveQuery       queryOpts
	moveDestination string
)

var moveCmd = &cobra.Command{
	Use:     "move",
	Short:   "ask a peer to send matching instances with C-MOVE",
	Args:    cobra.NoArgs,
	Example: `dcmstream move --dest WORKSTATION -L STUDY -k StudyInstanceUID=1.2.840.1`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sopClass, err := moveQuery.sopClass(true)
		if err != nil {
			return err
		}
		identifier, err := moveQuery.identifier()
		if err != nil {
			return err
		}

		address, cc := movePeer.resolve()
		cc.AbstractSyntaxes = []string{sopClass}
		a, err := client.Connect(cmd.Context(), address, cc)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		final, err := a.Move(cmd.Context(), &client.CMoveRequest{
			SOPClassUID: sopClass,
			Destination: moveDestination,
			Dataset:     identifier,
			OnProgress: func(rsp *client.CMoveResponse) {
				ops := rsp.SubOperations
				fmt.Fprintf(out, "remaining %d, completed %d, failed %d, warning %d\n",
					ops.Remaining, ops.Completed, ops.Failed, ops.Warning)
			},
		})
		if err != nil {
			return finish(a, err)
		}
		ops := final.SubOperations
		fmt.Fprintf(out, "C-MOVE: status 0x%04X, completed %d, failed %d, warning %d %s\n",
			final.Status, ops.Completed, ops.Failed, ops.Warning, final.ErrorComment)
		if final.Dataset != nil {
			for _, uid := range final.Dataset.GetStrings(types.FailedSOPInstanceUIDListTag) {
				fmt.Fprintf(out, "failed: %s\n", uid)
			}
		}
		if err := finish(a, nil); err != nil {
			return err
		}
		if types.StatusStateOf(final.Status) == types.StatusStateFailure {
			return fmt.Errorf("C-MOVE failed with status 0x%04X", final.Status)
		}
		return nil
	},
}

func init() {
	movePeer.bind(moveCmd)
	moveQuery.bind(moveCmd)
	moveCmd.Flags().StringVar(&moveDestination, "dest", "", "AE title of the move destination")
	_ = moveCmd.MarkFlagRequired("dest")
	rootCmd.AddCommand(moveCmd)
}
