package kv

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/kvflood/kvflood/cmd/util"
	"github.com/kvflood/kvflood/lib/kvstore"
	"github.com/kvflood/kvflood/lib/wire"
	"github.com/spf13/cobra"
)

var (
	setCmd = &cobra.Command{
		Use:   "set [key] [value] [ttlSeconds]",
		Short: "Sets the value for a key in the configured area",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, payload := args[0], args[1]

			ttlMs := kvstore.InfinityTTL
			if len(args) == 3 {
				ttlSeconds, err := strconv.ParseInt(args[2], 10, 64)
				if err != nil {
					return fmt.Errorf("ttlSeconds must be a number: %w", err)
				}
				ttlMs = ttlSeconds * 1000
			}

			v := kvstore.Value{OriginatorID: util.GetArea(), Payload: []byte(payload), TTLMs: ttlMs}
			v.SetHash()

			if err := requestClient.Set(util.GetArea(), map[string]kvstore.Value{key: v}); err != nil {
				return err
			}
			fmt.Println("set successfully")
			return nil
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [key...]",
		Short: "Reads the value for one or more keys",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vals, err := requestClient.Get(util.GetArea(), args)
			if err != nil {
				return err
			}
			for _, key := range args {
				if v, ok := vals[key]; ok {
					fmt.Printf("key=%s, value=%s, version=%d\n", key, v.Payload, v.Version)
				} else {
					fmt.Printf("key=%s, not found\n", key)
				}
			}
			return nil
		},
	}
	dumpAllCmd = &cobra.Command{
		Use:   "dump-all",
		Short: "Dumps every key/value pair in the configured area",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			vals, err := requestClient.DumpAll(util.GetArea(), wire.KeyDumpParams{})
			if err != nil {
				return err
			}
			for key, v := range vals {
				fmt.Printf("key=%s, value=%s, version=%d\n", key, v.Payload, v.Version)
			}
			return nil
		},
	}
	dumpHashesCmd = &cobra.Command{
		Use:   "dump-hashes",
		Short: "Dumps every key/hash pair in the configured area, without payloads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			vals, err := requestClient.DumpHashes(util.GetArea(), wire.KeyDumpParams{})
			if err != nil {
				return err
			}
			for key, v := range vals {
				fmt.Printf("key=%s, hash=%d, version=%d\n", key, v.Hash, v.Version)
			}
			return nil
		},
	}
	peersCmd = &cobra.Command{
		Use:   "peers",
		Short: "Lists the peers configured for the area",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			peers, err := requestClient.GetPeers(util.GetArea())
			if err != nil {
				return err
			}
			for name, p := range peers {
				fmt.Printf("peer=%s, endpoint=%s, state=%s\n", name, p.TransportEndpoint, p.SyncState)
			}
			return nil
		},
	}
	addPeerCmd = &cobra.Command{
		Use:   "add-peer [name] [endpoint] [tlsIdentity]",
		Short: "Adds a peer to the area, triggering full-sync",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			tlsIdentity := ""
			if len(args) == 3 {
				tlsIdentity = args[2]
			}
			if err := requestClient.AddPeer(util.GetArea(), args[0], args[1], tlsIdentity); err != nil {
				return err
			}
			fmt.Println("peer added successfully")
			return nil
		},
	}
	delPeerCmd = &cobra.Command{
		Use:   "del-peer [name]",
		Short: "Removes a peer from the area",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requestClient.DelPeer(util.GetArea(), args[0]); err != nil {
				return err
			}
			fmt.Println("peer removed successfully")
			return nil
		},
	}
	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Reads the current merge-latency percentiles for the configured area",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := requestClient.GetStats(util.GetArea())
			if err != nil {
				return err
			}
			fmt.Printf("merge latency: p50=%dus p99=%dus p999=%dus\n", stats.P50Us, stats.P99Us, stats.P999Us)
			return nil
		},
	}
	subscribeCmd = &cobra.Command{
		Use:   "subscribe",
		Short: "Streams the initial snapshot and every subsequent publication in the area, until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snapshot, cancel, err := requestClient.Subscribe(
				util.GetArea(), wire.KeyDumpParams{}, false, false,
				func(pub kvstore.Publication) {
					for key, v := range pub.KeyVals {
						fmt.Printf("update key=%s, value=%s, version=%d\n", key, v.Payload, v.Version)
					}
					for _, key := range pub.ExpiredKeys {
						fmt.Printf("expired key=%s\n", key)
					}
				},
			)
			if err != nil {
				return err
			}
			defer cancel()

			for key, v := range snapshot {
				fmt.Printf("initial key=%s, value=%s, version=%d\n", key, v.Payload, v.Version)
			}

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			<-sig
			return nil
		},
	}
)
