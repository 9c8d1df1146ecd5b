package cmd

import (
	"fmt"
	"os"

	"github.com/kvflood/kvflood/cmd/kv"
	"github.com/kvflood/kvflood/cmd/serve"
	"github.com/kvflood/kvflood/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.1.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "kvflood",
		Short: "replicated key-value dissemination store",
		Long: fmt.Sprintf(`kvflood (v%s)

An eventually-consistent, gossip-flooded key-value store, disseminating
per-area key/value publications across a set of peers.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of kvflood",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("kvflood v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(kv.KeyValueCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, "json", util.WrapString("serializer to use (json, gob, binary)"))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "tcp", util.WrapString("transport to use (tcp)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
