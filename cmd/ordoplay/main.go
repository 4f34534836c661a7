// SPDX-License-Identifier: MIT OR Apache-2.0

package main

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/ordokr/OrdoPlayEditor/services/editor/config"
)

var (
	cfg        config.Config
	configPath string

	rootCmd = &cobra.Command{
		Use:   "ordoplay",
		Short: "A CLI for the OrdoPlay level editor history engine",
		Long: `OrdoPlay drives a transactional, copy-on-write undo/redo engine
for game level editing: snapshot-backed edits, atomic operation groups,
gesture coalescing, and a bounded history memory budget.`,
	}

	editCmd = &cobra.Command{
		Use:   "edit",
		Short: "Open an interactive editing session",
		Long: `Starts an in-memory scene and an interactive command loop.
Edits are captured as before/after snapshots and pushed onto the undo
stack; type "help" inside the session for the command list.`,
		Run: runEdit,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the editor version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("ordoplay", version)
		},
	}
)

// version is stamped by the build; "dev" for local builds.
var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		cfg = config.Default()
		if configPath == "" {
			return
		}
		loaded, err := config.Load(configPath)
		if err != nil {
			log.Fatalf("Error loading config: %v", err)
		}
		cfg = loaded
		log.Printf("Configuration loaded from %s", configPath)
	}

	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(versionCmd)
}
