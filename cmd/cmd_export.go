// Copyright 2025 The RSPOGeo Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"database/sql"
	"fmt"
	"log"

	_ "github.com/duckdb/duckdb-go/v2" // register duckdb driver
	"github.com/jcodagnone/rspogeo/geocode"
	"github.com/jcodagnone/rspogeo/store"
	"github.com/jcodagnone/rspogeo/warehouse"
	"github.com/spf13/cobra"
)

type exportOptions struct {
	datasetOptions
	DbPath string
}

var exportOpts = &exportOptions{}

// postcodes reads the registry postcode of every record in --in, if given.
func (o *datasetOptions) postcodes() (map[string]string, error) {
	if o.In == "" {
		log.Printf("WARN no --in given, every stored answer is treated as a fallback")

		return nil, nil
	}

	t, err := o.read()
	if err != nil {
		return nil, err
	}

	ret := make(map[string]string, t.Len())

	for _, r := range t.Records() {
		if id := r.ID(); id != "" {
			ret[id], _ = r.Get(geocode.FieldPostcode)
		}
	}

	return ret, nil
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Exports the stored answers and their selection to DuckDB",
	RunE: func(_ *cobra.Command, _ []string) error {
		postcodes, err := exportOpts.postcodes()
		if err != nil {
			return err
		}

		m, err := store.NewFileStore(exportOpts.Store).Load()
		if err != nil {
			return fmt.Errorf("loading result store: %w", err)
		}

		db, err := sql.Open("duckdb", exportOpts.DbPath)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer db.Close()

		repo := warehouse.NewRepository(db)
		if err := repo.CreateSchema(); err != nil {
			return fmt.Errorf("creating table: %w", err)
		}

		if err := repo.SaveResolutions(warehouse.Resolve(m, geocode.NewSelector(), postcodes)); err != nil {
			return err
		}

		n, err := repo.CountUnresolved()
		if err != nil {
			return err
		}

		log.Printf("Exported %d schools to %s, %d without coordinates", len(m), exportOpts.DbPath, n)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
	addDatasetFlags(exportCmd, &exportOpts.datasetOptions)
	exportCmd.Flags().StringVar(&exportOpts.DbPath, "db", "rspogeo.duckdb", "DuckDB database file")
}
