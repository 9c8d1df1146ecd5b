package serve

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	cmdUtil "github.com/kvflood/kvflood/cmd/util"
	"github.com/kvflood/kvflood/lib/klog"
	"github.com/kvflood/kvflood/lib/kvstore"
	"github.com/kvflood/kvflood/lib/wire"
	"github.com/kvflood/kvflood/rpc/client"
	"github.com/kvflood/kvflood/rpc/common"
	"github.com/kvflood/kvflood/rpc/server"
	"github.com/kvflood/kvflood/rpc/transport"
	"github.com/kvflood/kvflood/rpc/transport/tcp"
	"github.com/fsnotify/fsnotify"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the kvflood server",
		Long:    `Start the kvflood server with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is KVFLOOD_<flag> (e.g. KVFLOOD_TIMEOUT=15)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	key := "node-id"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Unique node identifier for this replica, used as originator id and gossip node name"))

	key = "areas"
	ServeCmd.PersistentFlags().String(key, "area1", cmdUtil.WrapString("Comma-separated list of area ids to serve"))

	key = "spanning-tree-areas"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Comma-separated subset of --areas that enables the optional DUAL spanning-tree module"))

	key = "peers"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Comma-separated list of statically configured peers. Format: area/name@endpoint[@tlsIdentity]"))

	key = "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:8080", cmdUtil.WrapString("The address on which the request-surface RPC server will listen"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int(key, 5, cmdUtil.WrapString("Timeout in seconds for transport reads/writes"))

	key = "tcp-nodelay"
	ServeCmd.PersistentFlags().Bool(key, true, cmdUtil.WrapString("Whether to enable TCP_NODELAY on server connections"))

	key = "write-buffer"
	ServeCmd.PersistentFlags().Int(key, 512, cmdUtil.WrapString("The size of the write buffer for the transport (in KB)"))

	key = "read-buffer"
	ServeCmd.PersistentFlags().Int(key, 512, cmdUtil.WrapString("The size of the read buffer for the transport (in KB)"))

	key = "tcp-keepalive"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("The keepalive interval for server connections (in seconds)"))

	key = "tcp-linger"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("The linger time for server connections (in seconds)"))

	key = "max-workers-per-conn"
	ServeCmd.PersistentFlags().Int(key, 32, cmdUtil.WrapString("Maximum concurrent request handlers per accepted connection"))

	key = "membership-bind-addr"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0", cmdUtil.WrapString("Bind address for the gossip liveness agent"))

	key = "membership-bind-port"
	ServeCmd.PersistentFlags().Int(key, 7946, cmdUtil.WrapString("Bind port for the gossip liveness agent"))

	key = "membership-seeds"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Comma-separated list of gossip seed addresses to join at startup"))

	key = "metrics-namespace"
	ServeCmd.PersistentFlags().String(key, "kvflood", cmdUtil.WrapString("Namespace prefix for exported Prometheus metrics"))

	key = "metrics-addr"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Address to serve the Prometheus /metrics scrape endpoint on; disabled when empty"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))

	key = "config"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Optional path to a config file (yaml/json/toml); when set, log-level and peers are hot-reloaded on change"))

	key = "sentry-dsn"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Sentry DSN fatal-path errors are reported to before the process aborts; disabled when empty"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	if dsn := viper.GetString("sentry-dsn"); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: dsn}); err != nil {
			Logger.Warningf("sentry init failed, fatal-path errors will not be reported: %v", err)
		}
	}

	serveCmdConfig.LocalNodeID = viper.GetString("node-id")
	if serveCmdConfig.LocalNodeID == "" {
		return reportFatal(fmt.Errorf("node-id is required"))
	}

	// parse areas
	spanningTreeAreas := map[string]bool{}
	for _, id := range splitNonEmpty(viper.GetString("spanning-tree-areas")) {
		spanningTreeAreas[id] = true
	}

	areas := map[string]*common.AreaSpec{}
	var order []string
	for _, id := range splitNonEmpty(viper.GetString("areas")) {
		areas[id] = &common.AreaSpec{AreaID: id, UseSpanningTree: spanningTreeAreas[id]}
		order = append(order, id)
	}

	// parse peers: area/name@endpoint[@tlsIdentity]
	for _, entry := range splitNonEmpty(viper.GetString("peers")) {
		areaAndRest := strings.SplitN(entry, "/", 2)
		if len(areaAndRest) != 2 {
			return reportFatal(fmt.Errorf("invalid peer format: %s (expected area/name@endpoint[@tlsIdentity])", entry))
		}
		areaID := areaAndRest[0]
		area, ok := areas[areaID]
		if !ok {
			return reportFatal(fmt.Errorf("peer %s references unconfigured area %s", entry, areaID))
		}

		parts := strings.Split(areaAndRest[1], "@")
		if len(parts) < 2 || len(parts) > 3 {
			return reportFatal(fmt.Errorf("invalid peer format: %s (expected name@endpoint[@tlsIdentity])", entry))
		}
		peer := common.PeerSpec{Name: parts[0], Endpoint: parts[1]}
		if len(parts) == 3 {
			peer.TLSIdentity = parts[2]
		}
		area.Peers = append(area.Peers, peer)
	}

	serveCmdConfig.Areas = make([]common.AreaSpec, 0, len(order))
	for _, id := range order {
		serveCmdConfig.Areas = append(serveCmdConfig.Areas, *areas[id])
	}

	serveCmdConfig.Transport = common.TransportConfig{
		Endpoint:          viper.GetString("endpoint"),
		TCPNoDelay:        viper.GetBool("tcp-nodelay"),
		TimeoutSecond:     viper.GetInt("timeout"),
		WriteBufferSize:   viper.GetInt("write-buffer") * 1024,
		ReadBufferSize:    viper.GetInt("read-buffer") * 1024,
		TCPKeepAliveSec:   viper.GetInt("tcp-keepalive"),
		TCPLingerSec:      viper.GetInt("tcp-linger"),
		MaxWorkersPerConn: viper.GetInt("max-workers-per-conn"),
	}

	serveCmdConfig.Membership = common.MembershipConfig{
		BindAddr: viper.GetString("membership-bind-addr"),
		BindPort: viper.GetInt("membership-bind-port"),
		Seeds:    splitNonEmpty(viper.GetString("membership-seeds")),
	}

	serveCmdConfig.Serializer = viper.GetString("serializer")
	serveCmdConfig.MetricsNamespace = viper.GetString("metrics-namespace")
	serveCmdConfig.MetricsAddr = viper.GetString("metrics-addr")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	if path := viper.GetString("config"); path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return reportFatal(fmt.Errorf("reading config file %s: %w", path, err))
		}
	}

	return nil
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// run starts the kvflood server
func run(_ *cobra.Command, _ []string) error {
	config := *serveCmdConfig

	klog.SetLevel(klog.ParseLevel(config.LogLevel))

	if viper.GetString("sentry-dsn") != "" {
		defer sentry.Flush(2 * time.Second)
	}

	codec, err := codecFor(config.Serializer)
	if err != nil {
		return reportFatal(err)
	}

	metrics := kvstore.NewMetrics(config.MetricsNamespace)

	if config.MetricsAddr != "" {
		go serveMetrics(config.MetricsAddr)
	}

	eventCh := make(chan kvstore.MembershipEvent, 64)
	membership, err := kvstore.NewMembership(config.LocalNodeID, config.Membership.BindAddr, config.Membership.BindPort, eventCh)
	if err != nil {
		return reportFatal(err)
	}
	if n, err := membership.Join(config.Membership.Seeds); err != nil {
		Logger.Warningf("failed to join gossip cluster: %v", err)
	} else {
		Logger.Infof("joined gossip cluster, contacted %d seeds", n)
	}

	stores := make([]*kvstore.Store, 0, len(config.Areas))
	peersByName := make(map[string][]areaPeer)

	for _, areaSpec := range config.Areas {
		connFactory := func() transport.IRPCClientTransport { return tcp.NewTCPClientTransport() }
		clientCfg := common.ClientConfig{
			TimeoutSecond:          config.Transport.TimeoutSecond,
			RetryCount:             3,
			ConnectionsPerEndpoint: 1,
			Serializer:             config.Serializer,
		}
		sender := client.NewPeerClient(areaSpec.AreaID, config.LocalNodeID, connFactory, codec, clientCfg)

		store := kvstore.NewStore(kvstore.AreaConfig{
			AreaID:          areaSpec.AreaID,
			LocalNodeID:     config.LocalNodeID,
			UseSpanningTree: areaSpec.UseSpanningTree,
		}, sender, metrics)

		go store.Run()
		stores = append(stores, store)

		for _, p := range areaSpec.Peers {
			store.AddPeer(p.Name, p.Endpoint, p.TLSIdentity)
			peersByName[p.Name] = append(peersByName[p.Name], areaPeer{store: store, spec: p})
		}
	}

	go watchMembership(eventCh, peersByName)

	if viper.ConfigFileUsed() != "" {
		watchConfigReload(config, stores)
	}

	registry := kvstore.NewAreaRegistry(stores...)

	t := tcp.NewTCPServerTransport()
	serv := server.NewRPCServer(config, t, codec, registry)

	if err := serv.Serve(); err != nil {
		return reportFatal(err)
	}
	return nil
}

// serveMetrics runs the Prometheus scrape endpoint an operator's
// Prometheus polls, rendering every VictoriaMetrics series this process
// has registered (§9 ambient observability). Errors here are logged, not
// fatal - a dead scrape endpoint shouldn't take the RPC server down with it.
func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		kvstore.WriteMetrics(w)
	})
	Logger.Infof("serving /metrics on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		Logger.Errorf("metrics endpoint stopped: %v", err)
	}
}

// reportFatal reports err to Sentry (a no-op when sentry.Init was never
// called, i.e. no DSN configured) before returning it, so a fatal
// startup/serve failure gets paged the same way dKV leans on Dragonboat's
// own health surfaces to surface consensus-layer failures.
func reportFatal(err error) error {
	sentry.CaptureException(err)
	return err
}

// watchConfigReload wires fsnotify (via viper.WatchConfig) to two pieces
// of "hot" runtime config named in the config file: the log level, and
// newly appended peer entries for already-running areas. Removing a peer
// or area from the file has no effect - only additions are hot-reloaded,
// the same one-directional semantics dKV documents for its own gossip
// join events.
func watchConfigReload(base common.ServerConfig, stores []*kvstore.Store) {
	storeByArea := make(map[string]*kvstore.Store, len(stores))
	knownPeers := make(map[string]map[string]bool, len(stores))
	for _, s := range stores {
		storeByArea[s.AreaID()] = s
		knownPeers[s.AreaID()] = map[string]bool{}
	}
	for _, area := range base.Areas {
		for _, p := range area.Peers {
			knownPeers[area.AreaID][p.Name] = true
		}
	}

	viper.OnConfigChange(func(e fsnotify.Event) {
		Logger.Infof("config file changed (%s), reloading log-level and peers", e.Name)

		klog.SetLevel(klog.ParseLevel(viper.GetString("log-level")))

		areas := map[string][]common.PeerSpec{}
		for _, entry := range splitNonEmpty(viper.GetString("peers")) {
			areaAndRest := strings.SplitN(entry, "/", 2)
			if len(areaAndRest) != 2 {
				continue
			}
			parts := strings.Split(areaAndRest[1], "@")
			if len(parts) < 2 || len(parts) > 3 {
				continue
			}
			peer := common.PeerSpec{Name: parts[0], Endpoint: parts[1]}
			if len(parts) == 3 {
				peer.TLSIdentity = parts[2]
			}
			areas[areaAndRest[0]] = append(areas[areaAndRest[0]], peer)
		}

		for areaID, peers := range areas {
			store, ok := storeByArea[areaID]
			if !ok {
				continue
			}
			for _, p := range peers {
				if knownPeers[areaID][p.Name] {
					continue
				}
				Logger.Infof("config reload: adding peer %s to area %s", p.Name, areaID)
				store.AddPeer(p.Name, p.Endpoint, p.TLSIdentity)
				knownPeers[areaID][p.Name] = true
			}
		}
	})
	viper.WatchConfig()
}

// areaPeer pairs a statically configured peer with the area Store it
// belongs to, so gossip liveness events can be routed back to it.
type areaPeer struct {
	store *kvstore.Store
	spec  common.PeerSpec
}

// watchMembership reacts to gossip join/leave events, following §4.2's
// note that gossip failure detection reacts to a dead peer faster than
// the flood-send failure budget alone: a join event immediately
// re-triggers full-sync for a rejoining peer, and a leave event evicts
// the peer on departure.
func watchMembership(eventCh <-chan kvstore.MembershipEvent, peersByName map[string][]areaPeer) {
	for ev := range eventCh {
		areaPeers, ok := peersByName[ev.PeerName]
		if !ok {
			continue
		}
		for _, ap := range areaPeers {
			if ev.Joined {
				Logger.Infof("gossip: peer %s joined, re-syncing", ev.PeerName)
				ap.store.AddPeer(ap.spec.Name, ap.spec.Endpoint, ap.spec.TLSIdentity)
			} else {
				Logger.Infof("gossip: peer %s left, evicting", ev.PeerName)
				ap.store.DelPeer(ap.spec.Name)
			}
		}
	}
}

func codecFor(serializer string) (wire.Codec, error) {
	switch serializer {
	case "json":
		return wire.NewJSONCodec(), nil
	case "gob":
		return wire.NewGobCodec(), nil
	case "binary":
		return wire.NewCompressedCodec(), nil
	default:
		return nil, fmt.Errorf("invalid serializer %s", serializer)
	}
}

var Logger = klog.Get("cmd/serve")

// initConfig reads in serveCmdConfig file and ENV variables if set.
func initConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("kvflood")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}
