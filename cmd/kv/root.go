package kv

import (
	"github.com/kvflood/kvflood/cmd/util"
	"github.com/kvflood/kvflood/rpc/client"
	"github.com/spf13/cobra"
)

var (
	requestClient *client.RequestClient

	// KeyValueCommands represents the KV command group
	KeyValueCommands = &cobra.Command{
		Use:               "kv",
		Short:             "Perform key-value store operations against an area",
		PersistentPreRunE: setupKVClient,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitClientConfig)

	// Add common RPC flags to the KV command
	util.SetupRPCClientFlags(KeyValueCommands)

	// Add subcommands
	KeyValueCommands.AddCommand(setCmd)
	KeyValueCommands.AddCommand(getCmd)
	KeyValueCommands.AddCommand(dumpAllCmd)
	KeyValueCommands.AddCommand(dumpHashesCmd)
	KeyValueCommands.AddCommand(peersCmd)
	KeyValueCommands.AddCommand(addPeerCmd)
	KeyValueCommands.AddCommand(delPeerCmd)
	KeyValueCommands.AddCommand(subscribeCmd)
	KeyValueCommands.AddCommand(statsCmd)
}

// setupKVClient initializes the RPC request client
func setupKVClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	config := util.GetClientConfig()

	codec, err := util.GetCodec()
	if err != nil {
		return err
	}

	t, err := util.GetTransport()
	if err != nil {
		return err
	}

	requestClient, err = client.NewRequestClient(*config, t, codec)
	return err
}
