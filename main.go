package main

import (
	"flag"
	"os"
	"strings"
	"time"

	"github.com/cloudflare/tableflip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	pluginv1 "github.com/relaycache/relaycache/api/defined/v1/plugin"
	"github.com/relaycache/relaycache/conf"
	"github.com/relaycache/relaycache/contrib/app"
	"github.com/relaycache/relaycache/contrib/config"
	"github.com/relaycache/relaycache/contrib/config/provider/file"
	"github.com/relaycache/relaycache/contrib/log"
	"github.com/relaycache/relaycache/contrib/transport"
	"github.com/relaycache/relaycache/engine"
	"github.com/relaycache/relaycache/expiry"
	"github.com/relaycache/relaycache/fetcher"
	"github.com/relaycache/relaycache/hash"
	"github.com/relaycache/relaycache/pkg/encoding"
	"github.com/relaycache/relaycache/pkg/encoding/json"
	"github.com/relaycache/relaycache/plugin"
	_ "github.com/relaycache/relaycache/plugin/purge"
	"github.com/relaycache/relaycache/policy"
	"github.com/relaycache/relaycache/server"
	"github.com/relaycache/relaycache/storage"
)

var (
	id, _ = os.Hostname()

	// flagConf is the config flag.
	flagConf string = "config.yaml"
	// flagVerbose is the verbose flag.
	flagVerbose bool

	// Version is the version of the app.
	Version string = "no-set"
	GitHash string = "no-set"
	Built   string = "0"
)

func init() {
	// init flag
	flag.StringVar(&flagConf, "c", "config.yaml", "config file path")
	flag.BoolVar(&flagVerbose, "v", false, "enable verbose log")

	// init global encoding
	encoding.SetDefaultCodec(json.JSONCodec{})

	// init logger
	log.SetLogger(log.With(log.DefaultLogger, "ts", log.Timestamp(time.RFC3339), "pid", os.Getpid()))

	// init prometheus
	prometheus.Unregister(collectors.NewGoCollector())
	registerer := prometheus.WrapRegistererWithPrefix("relaycache_", prometheus.DefaultRegisterer)
	registerer.MustRegister(collectors.NewGoCollector(collectors.WithGoCollectorMemStatsMetricsDisabled()))
}

func main() {
	flag.Parse()

	c := config.New[conf.Bootstrap](config.WithSource(file.NewSource(flagConf)))
	defer c.Close()

	bc := &conf.Bootstrap{}
	if err := c.Scan(bc); err != nil {
		log.Fatal(err)
	}

	a, err := newApp(bc)
	if err != nil {
		log.Fatal(err)
	}

	if err := a.Run(); err != nil {
		log.Fatal(err)
	}
}

func newApp(bc *conf.Bootstrap) (*app.App, error) {
	stopTimeout := 120 * time.Second

	// graceful upgrade
	flip, err := tableflip.New(tableflip.Options{
		PIDFile:        bc.PidFile,
		UpgradeTimeout: stopTimeout,
	})
	if err != nil {
		panic(err)
	}

	// graceful upgrade if we have not parent process
	// remove unix socket file.
	if !flip.HasParent() {
		if strings.HasSuffix(bc.Server.Addr, ".sock") {
			_ = os.Remove(bc.Server.Addr) // remove unix socket
		}
	}

	// init storage
	st, err := storage.New(bc.Storage, log.GetLogger())
	if err != nil {
		log.Fatalf("failed to initialize storage: %v", err)
	}
	storage.SetDefault(st)

	// init the request state engine and its collaborators. The session
	// pool is built afterward (it needs eng.Drive), so the hash index is
	// handed its pool reference once CacheServer builds one.
	backend := fetcher.New(fetcher.Config{Backends: bc.Upstream.Address})

	hashIdx := hash.New(nil)
	eng := &engine.Engine{
		Policy:  policy.New(),
		Hash:    hashIdx,
		Fetcher: backend,
		Storage: storage.NewEngineBridge(st),
		Expiry:  expiry.New(1 << 20),
		Cfg: engine.Config{
			TimeoutIdle:      5 * time.Second,
			TimeoutLinger:    50 * time.Millisecond,
			TimeoutReq:       2 * time.Second,
			SendTimeout:      10 * time.Second,
			LRUTimeout:       2 * time.Second,
			ConnectTimeout:   3500 * time.Millisecond,
			FirstByteTimeout: 60 * time.Second,
			BetweenBytes:     60 * time.Second,
			MaxRestarts:      4,
			GzipEnabled:      true,
			OutbufCapacity:   64 * 1024,
		},
		Log: log.NewHelper(log.GetLogger()),
	}

	// load plugin
	plugins := loadPlugin(log.GetLogger(), bc)

	// transport servers: the admin/ops/plugin HTTP surface, the raw
	// cache listener driving eng, and every plugin's own lifecycle.
	servers := make([]transport.Server, 0, len(plugins)+2)

	srv := server.NewServer(flip, bc, plugins)
	servers = append(servers, srv)

	cacheSrv := server.NewCacheServer(bc.Server, eng, 64, 4096)
	hashIdx.SetPool(eng.Pool)
	servers = append(servers, cacheSrv)

	for _, plug := range plugins {
		servers = append(servers, plug)
	}

	return app.New(
		app.ID(id),
		app.Name("relaycache"),
		app.Version(Version),
		app.StopTimeout(stopTimeout),
		app.Logger(log.GetLogger()),
		app.Server(servers...),
	), nil
}

func loadPlugin(logger log.Logger, bc *conf.Bootstrap) []pluginv1.Plugin {
	ctxlog := log.NewHelper(logger)

	plugins := make([]pluginv1.Plugin, 0, len(bc.Plugin))
	for _, plug := range bc.Plugin {
		instance, err := plugin.Create(plug, ctxlog)
		if err != nil {
			ctxlog.Errorf("load plugin %s failed: %v", plug.Name, err)
			continue
		}
		ctxlog.Debugf("plugin %s loaded", plug.PluginName())
		plugins = append(plugins, instance)
	}
	return plugins
}
