package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:           "santaline",
	Short:         "Gemini gateway for the call-Santa app",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if os.Getenv("NO_COLOR") != "" {
			noColor = true
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(textCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(imageCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(letterCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(requestsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

func versionString() string {
	return fmt.Sprintf("santaline %s", version)
}
