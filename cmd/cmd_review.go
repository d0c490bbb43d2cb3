// Copyright 2025 The RSPOGeo Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"github.com/jcodagnone/rspogeo/review"
	"github.com/jcodagnone/rspogeo/store"
	"github.com/spf13/cobra"
)

var (
	reviewDataset = &datasetOptions{}
	reviewAddr    string
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Serves the result store as JSON for manual review",
	Long: `Starts a local server with:

  GET /api/stats          counts of matched, fallback and unresolved schools
  GET /api/records/:id    stored candidates and the selected one
  GET /api/unresolved     schools without coordinates
`,
	RunE: func(_ *cobra.Command, _ []string) error {
		postcodes, err := reviewDataset.postcodes()
		if err != nil {
			return err
		}

		s, err := review.NewServer(store.NewFileStore(reviewDataset.Store), nil, postcodes)
		if err != nil {
			return err
		}

		return s.Run(reviewAddr)
	},
}

func init() {
	rootCmd.AddCommand(reviewCmd)
	addDatasetFlags(reviewCmd, reviewDataset)
	reviewCmd.Flags().StringVar(&reviewAddr, "addr", review.DefaultAddr, "Listen address, loopback only")
}
