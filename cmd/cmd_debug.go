// Copyright 2025 The RSPOGeo Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/jcodagnone/rspogeo/geocode"
	"github.com/jcodagnone/rspogeo/store"
	"github.com/spf13/cobra"
)

var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Dev tools",
}

var debugQueryDataset = &datasetOptions{}

var debugQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Prints the geocoder query built for every record",
	Long: `Prints the record id followed by the query that would be sent:

$ rspogeo debug query --in schools.csv
12345	mazowieckie Warszawa Marszałkowska 1 00-001
`,
	RunE: func(_ *cobra.Command, _ []string) error {
		t, err := debugQueryDataset.read()
		if err != nil {
			return err
		}

		for _, r := range t.Records() {
			fmt.Printf("%s\t%s\n", r.ID(), geocode.BuildQuery(r, geocode.DefaultQueryFields))
		}

		return nil
	},
}

var (
	debugSelectStore    string
	debugSelectPostcode string
)

var debugSelectCmd = &cobra.Command{
	Use:   "select <id>",
	Short: "Prints the candidates stored for a record and the one selected",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		m, err := store.NewFileStore(debugSelectStore).Load()
		if err != nil {
			return err
		}

		entry, ok := m.Get(args[0])
		if !ok {
			return fmt.Errorf("%s is not in %s", args[0], debugSelectStore)
		}

		if entry.Error != "" {
			fmt.Printf("stored error: %s\n", entry.Error)
		}

		candidates, err := geocode.DecodeCandidates(entry.Results)
		if err != nil {
			return err
		}

		for i, c := range candidates {
			s, err := json.Marshal(c)
			if err != nil {
				return err
			}

			fmt.Printf("%d\t%s\n", i, s)
		}

		res := geocode.NewSelector().Select(candidates, debugSelectPostcode)

		switch {
		case !res.Resolved:
			fmt.Println("unresolved")
		case res.Matched:
			fmt.Printf("matched candidate %d: %s\n", res.Index, res.Point)
		default:
			fmt.Printf("fallback candidate %d: %s\n", res.Index, res.Point)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(debugCmd)
	debugCmd.AddCommand(debugQueryCmd)
	debugCmd.AddCommand(debugSelectCmd)

	addDatasetFlags(debugQueryCmd, debugQueryDataset)
	debugSelectCmd.Flags().StringVar(&debugSelectStore, "store", "results.jsonl", "Result store file")
	debugSelectCmd.Flags().StringVar(&debugSelectPostcode, "postcode", "", "Registry postcode of the record")
}
