// Copyright 2025 The RSPOGeo Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/jcodagnone/rspogeo/dataset"
	"github.com/jcodagnone/rspogeo/geocode"
	"github.com/jcodagnone/rspogeo/pipeline"
	"github.com/jcodagnone/rspogeo/store"
	"github.com/jcodagnone/rspogeo/utils/httputils"
	"github.com/spf13/cobra"
)

type datasetOptions struct {
	In       string
	Out      string
	Store    string
	IDColumn string
}

// output returns the dataset path to write, `<in>_coords.csv` by default.
func (o *datasetOptions) output() string {
	if o.Out != "" {
		return o.Out
	}

	ext := filepath.Ext(o.In)

	return strings.TrimSuffix(o.In, ext) + "_coords" + ext
}

func (o *datasetOptions) read() (*dataset.Table, error) {
	if o.In == "" {
		return nil, errors.New("--in is required")
	}

	t, err := dataset.ReadFile(o.In, o.IDColumn)
	if err != nil {
		return nil, err
	}

	log.Printf("Read %d records from %s", t.Len(), o.In)

	return t, nil
}

func addDatasetFlags(cmd *cobra.Command, o *datasetOptions) {
	cmd.Flags().StringVar(&o.In, "in", "", "Input CSV of the school registry")
	cmd.Flags().StringVar(&o.Out, "out", "", "Output CSV, defaults to <in>_coords.csv")
	cmd.Flags().StringVar(&o.Store, "store", "results.jsonl", "Result store file")
	cmd.Flags().StringVar(&o.IDColumn, "id-col", "numer_rspo", "Column holding the record id")
}

var (
	geocodeDataset = &datasetOptions{}
	geocodeOptions = &pipeline.Options{}
	photonOptions  = &geocode.PhotonOptions{}
	clientOptions  = &httputils.ClientOptions{}
)

var geocodeCmd = &cobra.Command{
	Use:   "geocode",
	Short: "Adds coordinates to a registry export",
	Long: `Reads the registry CSV, answers every school already in the result store
from there and asks the geocoder for the rest, one request at a time. Every
answer is appended to the store before it is merged, and the output CSV is
checkpointed regularly, so the command can be interrupted and rerun at will.
`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		table, err := geocodeDataset.read()
		if err != nil {
			return err
		}

		if geocodeOptions.H3Resolution < 0 || geocodeOptions.H3Resolution > 15 {
			return fmt.Errorf("--h3-res must be between 0 and 15, got %d", geocodeOptions.H3Resolution)
		}

		if photonOptions.MaxDelay < photonOptions.MinDelay {
			photonOptions.MaxDelay = photonOptions.MinDelay
		}

		if !cmd.Flags().Changed("user-agent") && os.Getenv(envFlags["user-agent"]) == "" {
			clientOptions.UserAgent = fmt.Sprintf("rspogeo/%s (+https://github.com/jcodagnone/rspogeo)", Version)
		}

		client, err := geocode.NewPhotonClient(photonOptions, httputils.NewClient(clientOptions))
		if err != nil {
			return err
		}

		st := store.NewFileStore(geocodeDataset.Store)
		defer st.Close()

		geocodeOptions.ShowProgress = true

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		d := pipeline.NewDriver(
			st,
			client,
			nil,
			pipeline.FileCheckpointer(geocodeDataset.output()),
			geocodeOptions,
		)
		err = d.Run(ctx, table)

		d.Metrics.Log()
		log.Printf("%d geocoder requests", client.Calls)

		return err
	},
}

func init() {
	rootCmd.AddCommand(geocodeCmd)
	addDatasetFlags(geocodeCmd, geocodeDataset)

	geocodeCmd.Flags().StringVar(
		&photonOptions.Endpoint,
		"endpoint",
		geocode.DefaultPhotonEndpoint,
		"Photon search endpoint",
	)
	geocodeCmd.Flags().StringVar(
		&photonOptions.Lang,
		"lang",
		"",
		"Preferred language of the answers",
	)
	geocodeCmd.Flags().IntVar(
		&photonOptions.Limit,
		"limit",
		0,
		"Maximum number of candidates per query, 0 keeps the server default",
	)
	geocodeCmd.Flags().DurationVar(
		&photonOptions.MinDelay,
		"delay",
		time.Second,
		"Pause between the end of a request and the start of the next",
	)
	geocodeCmd.Flags().DurationVar(
		&photonOptions.MaxDelay,
		"delay-max",
		0,
		"When greater than --delay, the pause is random between both",
	)
	geocodeCmd.Flags().IntVar(
		&geocodeOptions.CheckpointInterval,
		"checkpoint",
		pipeline.DefaultCheckpointInterval,
		"Records processed between writes of the output CSV",
	)
	geocodeCmd.Flags().IntVar(
		&geocodeOptions.Retries,
		"retries",
		0,
		"Extra attempts after a transient geocoder error",
	)
	geocodeCmd.Flags().IntVar(
		&geocodeOptions.H3Resolution,
		"h3-res",
		0,
		"Adds an h3 column at this resolution (1-15)",
	)
	geocodeCmd.Flags().DurationVar(
		&clientOptions.Timeout,
		"timeout",
		30*time.Second,
		"Timeout of a single geocoder request",
	)
	geocodeCmd.Flags().StringVar(
		&clientOptions.UserAgent,
		"user-agent",
		httputils.DefaultUserAgent,
		"User-Agent sent to the geocoder",
	)
	geocodeCmd.Flags().BoolVar(
		&clientOptions.Trace,
		"trace-http",
		false,
		"Display HTTP requests-responses",
	)
	geocodeCmd.Flags().BoolVar(
		&clientOptions.TraceBody,
		"trace-http-body",
		false,
		"Display HTTP requests-responses bodies",
	)
}
