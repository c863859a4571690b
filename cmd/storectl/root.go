// Package main implements storectl, a command-line client for a single
// file-backed Store instance.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tailored-agentic-units/storecore/config"
	"github.com/tailored-agentic-units/storecore/store"
	"github.com/tailored-agentic-units/storecore/store/storage"
)

var activeStore *store.Store

// RootCmd is the base command when storectl is invoked without a subcommand.
var RootCmd = &cobra.Command{
	Use:               "storectl",
	Short:             "Inspect and drive a file-backed store instance",
	PersistentPreRunE: setupStore,
}

func init() {
	cobra.OnInitialize(initStoreConfig)

	key := "state-dir"
	RootCmd.PersistentFlags().String(key, "./.storectl-state", wrapString("Directory the file-backed driver persists keys under"))

	key = "config"
	RootCmd.PersistentFlags().String(key, "", wrapString("Path to a store config JSON file"))

	RootCmd.AddCommand(setCmd)
	RootCmd.AddCommand(getCmd)
	RootCmd.AddCommand(mergeCmd)
	RootCmd.AddCommand(mergeCollectionCmd)
	RootCmd.AddCommand(setCollectionCmd)
	RootCmd.AddCommand(clearCmd)
	RootCmd.AddCommand(updateCmd)
}

// wrapString is deliberately unwrapped: storectl's flag descriptions are
// short enough that wrapping them would be a no-op.
func wrapString(text string) string { return text }

func initStoreConfig() {
	viper.SetEnvPrefix("storectl")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func setupStore(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	cfg := config.DefaultConfig()
	if path := viper.GetString("config"); path != "" {
		loaded, err := config.LoadFile(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = *loaded
	}

	driver := storage.NewFileStore(viper.GetString("state-dir"))

	s, err := store.New(context.Background(), store.Options{
		Config: cfg,
		Driver: driver,
	})
	if err != nil {
		return fmt.Errorf("create store: %w", err)
	}
	if err := s.DeferredInit(context.Background()); err != nil {
		return fmt.Errorf("deferred init: %w", err)
	}

	activeStore = s
	return nil
}

// Execute runs RootCmd. Called once by main.main.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
