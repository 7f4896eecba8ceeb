package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/caio-sobreiro/dcmstream/client"
	"github.com/caio-sobreiro/dcmstream/dicom"
	"github.com/caio-sobreiro/dcmstream/types"
)

var storeOpt peerOpts

var storeCmd = &cobra.Command{
	Use:     "store FILE...",
	Short:   "send Part 10 files with C-STORE",
	Args:    cobra.MinimumNArgs(1),
	Example: `dcmstream store -a pacs:104 --called-ae PACS ct1.dcm ct2.dcm`,
	RunE: func(cmd *cobra.Command, args []string) error {
		address, cc := storeOpt.resolve()
		if err := proposeFiles(&cc, args); err != nil {
			return err
		}

		a, err := client.Connect(cmd.Context(), address, cc)
		if err != nil {
			return err
		}

		failed := 0
		for _, path := range args {
			rsp, err := a.StoreFile(cmd.Context(), path, types.PriorityMedium)
			switch {
			case err != nil && cmd.Context().Err() != nil:
				return finish(a, err)
			case err != nil:
				failed++
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", path, err)
			case types.StatusStateOf(rsp.Status) == types.StatusStateFailure:
				failed++
				fmt.Fprintf(cmd.OutOrStdout(), "%s: status 0x%04X %s\n", path, rsp.Status, rsp.ErrorComment)
			default:
				fmt.Fprintf(cmd.OutOrStdout(), "%s: status 0x%04X\n", path, rsp.Status)
			}
		}
		if err := finish(a, nil); err != nil {
			return err
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d files were not stored", failed, len(args))
		}
		return nil
	},
}

func init() {
	storeOpt.bind(storeCmd)
	rootCmd.AddCommand(storeCmd)
}

// proposeFiles sets the abstract syntaxes of cc to the SOP classes of the
// files and prefers their transfer syntaxes.
func proposeFiles(cc *client.Config, paths []string) error {
	classes := make(map[string]bool)
	syntaxes := make(map[string]bool)
	for _, path := range paths {
		file, err := dicom.ReadFile(path, dicom.DefaultReadOptions|dicom.FileMetaInfoOnly)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		if class := file.Meta.GetUID(types.MediaStorageSOPClassUIDTag); class != "" && !classes[class] {
			classes[class] = true
			cc.AbstractSyntaxes = append(cc.AbstractSyntaxes, class)
		}
		if ts := file.Meta.GetUID(types.TransferSyntaxUIDTag); types.IsKnownTransferSyntax(ts) && !syntaxes[ts] {
			syntaxes[ts] = true
			cc.PreferredTransferSyntaxes = append(cc.PreferredTransferSyntaxes, ts)
		}
	}
	for _, ts := range []string{types.ExplicitVRLittleEndian, types.ImplicitVRLittleEndian} {
		if !syntaxes[ts] {
			cc.PreferredTransferSyntaxes = append(cc.PreferredTransferSyntaxes, ts)
		}
	}
	return nil
}
