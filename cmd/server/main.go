package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const envFileFlag = "env-file"

var rootCmd = &cobra.Command{
	Use:          "tileview",
	Short:        "Slippy map tile cache and viewport service",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String(envFileFlag, "", "path to a dotenv file loaded before the environment is parsed")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(warmupCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
