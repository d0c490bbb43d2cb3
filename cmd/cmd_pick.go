// Copyright 2025 The RSPOGeo Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"

	"github.com/jcodagnone/rspogeo/pipeline"
	"github.com/jcodagnone/rspogeo/store"
	"github.com/spf13/cobra"
)

var (
	pickDataset = &datasetOptions{}
	pickOptions = &pipeline.Options{}
)

var pickCmd = &cobra.Command{
	Use:   "pick",
	Short: "Recomputes coordinates from the result store, without network",
	Long: `Applies the candidate selection again to the answers already in the
result store and writes the output CSV. Schools without a stored answer are
left as they are.
`,
	RunE: func(_ *cobra.Command, _ []string) error {
		table, err := pickDataset.read()
		if err != nil {
			return err
		}

		if pickOptions.H3Resolution < 0 || pickOptions.H3Resolution > 15 {
			return fmt.Errorf("--h3-res must be between 0 and 15, got %d", pickOptions.H3Resolution)
		}

		st := store.NewFileStore(pickDataset.Store)
		defer st.Close()

		d := pipeline.NewDriver(st, nil, nil, pipeline.FileCheckpointer(pickDataset.output()), pickOptions)
		err = d.Run(context.Background(), table)

		d.Metrics.Log()

		return err
	},
}

func init() {
	rootCmd.AddCommand(pickCmd)
	addDatasetFlags(pickCmd, pickDataset)

	pickOptions.CheckpointInterval = 1 << 30
	pickCmd.Flags().IntVar(
		&pickOptions.H3Resolution,
		"h3-res",
		0,
		"Adds an h3 column at this resolution (1-15)",
	)
}
