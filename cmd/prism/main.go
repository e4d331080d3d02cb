// Package main is the prism table server binary.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "prism",
	Short: "Shared battle map server",
	Long: `prism hosts a shared battle map: token movement, initiative and turn
order for one game master and their players, synchronised across replicas.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/dev.yaml", "path to configuration file")
	rootCmd.AddCommand(serveCmd, migrateCmd, bestiaryCmd)
}
