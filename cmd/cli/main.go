package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "dealflow",
	Short: "Dealflow CLI - recurring billing management",
	Long: `Dealflow CLI is a command-line tool for managing recurring billing series.
It lists series, inspects upcoming occurrences, and drives pause/resume/cancel.`,
}

func init() {
	viper.SetConfigName(".dealflow")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("$HOME")
	viper.AddConfigPath(".")
	viper.SetDefault("server", "http://localhost:8080")
	_ = viper.ReadInConfig()

	rootCmd.AddCommand(newLoginCommand())
	rootCmd.AddCommand(newSeriesCommand())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
