package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/caio-sobreiro/dcmstream/dicom"
)

var dumpMeta bool

var dumpCmd = &cobra.Command{
	Use:     "dump FILE...",
	Short:   "print the attributes of Part 10 files",
	Args:    cobra.MinimumNArgs(1),
	Example: `dcmstream dump --meta ct1.dcm`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		for _, path := range args {
			file, err := dicom.ReadFile(path, dicom.DefaultReadOptions)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "# %s (%s)\n", path, file.TransferSyntax().Name)
			if dumpMeta {
				if err := file.Meta.Dump(out, nil); err != nil {
					return err
				}
				fmt.Fprintln(out)
			}
			if err := file.Dataset.Dump(out, nil); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	dumpCmd.Flags().BoolVar(&dumpMeta, "meta", false, "also print the file meta information")
	rootCmd.AddCommand(dumpCmd)
}
