// Command geomesh-node manages mesh identities and runs an in-memory mesh
// simulation.
package main

import (
	"log"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var rootCmd *cobra.Command

var rootFlags struct {
	logLevel string
}

func init() {
	rootCmd = &cobra.Command{
		Use:           "geomesh-node",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logrus.ParseLevel(rootFlags.logLevel)
			if err != nil {
				return err
			}
			logrus.SetLevel(level)
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(
		&rootFlags.logLevel,
		"log-level",
		"warn",
		"logrus level: debug, info, warn or error",
	)
	rootCmd.AddCommand(keygenCmd())
	rootCmd.AddCommand(addressCmd())
	rootCmd.AddCommand(simulateCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
