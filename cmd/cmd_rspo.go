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
	"time"

	"github.com/jcodagnone/rspogeo/rspo"
	"github.com/jcodagnone/rspogeo/spatial"
	"github.com/jcodagnone/rspogeo/utils/httputils"
	"github.com/spf13/cobra"
)

var (
	rspoOptions       = &rspo.Options{}
	rspoClientOptions = &httputils.ClientOptions{}
)

var rspoCmd = &cobra.Command{
	Use:   "rspo <id>...",
	Short: "Reads the coordinates published on the registry page of each school",
	Long: `Fetches https://rspo.gov.pl/rspo/<id> for every id and prints the map
point shown there, one school per line:

$ rspogeo rspo 12345
12345	52.2297	21.0122
`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		if rspoOptions.MaxDelay < rspoOptions.MinDelay {
			rspoOptions.MaxDelay = rspoOptions.MinDelay
		}

		if rspoClientOptions.UserAgent == "" {
			rspoClientOptions.UserAgent = fmt.Sprintf("rspogeo/%s (+https://github.com/jcodagnone/rspogeo)", Version)
		}

		c, err := rspo.NewClient(rspoOptions, httputils.NewClient(rspoClientOptions))
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		missing := 0

		for i, id := range args {
			p, err := c.Coordinates(ctx, id)

			switch {
			case err == nil:
				fmt.Printf("%s\t%s\t%s\n", id, spatial.FormatCoord(p.Lat), spatial.FormatCoord(p.Lng))
			case ctx.Err() != nil:
				return ctx.Err()
			case errors.Is(err, rspo.ErrNoLocation):
				missing++

				log.Printf("[%d/%d] WARN %v", i+1, len(args), err)
			default:
				return err
			}
		}

		if missing > 0 {
			log.Printf("%d of %d schools without location", missing, len(args))
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(rspoCmd)

	rspoCmd.Flags().StringVar(&rspoOptions.BaseURL, "base-url", rspo.DefaultBaseURL, "Registry base URL")
	rspoCmd.Flags().DurationVar(&rspoOptions.MinDelay, "delay", time.Second, "Minimum pause between pages")
	rspoCmd.Flags().DurationVar(&rspoOptions.MaxDelay, "delay-max", 5*time.Second, "Maximum pause between pages")
	rspoCmd.Flags().DurationVar(&rspoClientOptions.Timeout, "timeout", 30*time.Second, "Timeout of a single request")
	rspoCmd.Flags().StringVar(&rspoClientOptions.UserAgent, "user-agent", "", "User-Agent sent to the registry")
	rspoCmd.Flags().BoolVar(&rspoClientOptions.Trace, "trace-http", false, "Display HTTP requests-responses")
}
