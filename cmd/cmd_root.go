// Copyright 2025 The RSPOGeo Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type logWriter struct {
	writer io.Writer
}

func (w *logWriter) Write(bytes []byte) (int, error) {
	return fmt.Fprintf(w.writer, "%s %s", time.Now().Format("2006-01-02 15:04:05"), string(bytes))
}

func init() {
	log.SetFlags(0)
	log.SetOutput(&logWriter{writer: os.Stderr})
}

// envFlags maps flag names to the environment variables that override their
// defaults.
var envFlags = map[string]string{
	"endpoint":   "RSPOGEO_ENDPOINT",
	"user-agent": "RSPOGEO_USER_AGENT",
}

var rootCmd = &cobra.Command{
	Use:   "rspogeo",
	Short: "school registry geocoding",
	Long: `
rspogeo adds coordinates to the Polish school registry (RSPO) exports by
querying a geocoder once per school and keeping every answer in a local
result store, so interrupted runs resume where they left off.

Defaults can be set in a .env file or through RSPOGEO_* environment variables.
`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading .env: %w", err)
		}

		return applyEnv(cmd.Flags())
	},
}

// applyEnv sets every flag listed in envFlags that was not given explicitly
// and whose variable is set.
func applyEnv(flags *pflag.FlagSet) error {
	for name, env := range envFlags {
		f := flags.Lookup(name)
		if f == nil || f.Changed {
			continue
		}

		if v, ok := os.LookupEnv(env); ok && v != "" {
			if err := f.Value.Set(v); err != nil {
				return fmt.Errorf("invalid %s: %w", env, err)
			}
		}
	}

	return nil
}

var Version = "dev"

func Execute(version string) {
	Version = version

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
