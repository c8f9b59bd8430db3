// Command tileserver serves the map-tile pipeline (SPEC_FULL.md §6's
// command-line form):
//
//	tileserver <host>:<port> (json <path> | etcd <host>) [--internal-port <port>] [--bind-addr <addr>]
//
// Grounded on atlasdatatech-tiler/main.go for the flag/logging setup
// idiom, generalized from a single-config-file batch tool into a
// long-running server with two listeners and hot-reloadable config.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	nested "github.com/antonfisher/nested-logrus-formatter"
	"github.com/shiena/ansicolor"
	log "github.com/sirupsen/logrus"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/atlasdatatech/tileserver/internal/cacher"
	"github.com/atlasdatatech/tileserver/internal/config"
	"github.com/atlasdatatech/tileserver/internal/dispatch"
	"github.com/atlasdatatech/tileserver/internal/httpapi"
	"github.com/atlasdatatech/tileserver/internal/peers"
	"github.com/atlasdatatech/tileserver/internal/processor"
	"github.com/atlasdatatech/tileserver/internal/render"
	"github.com/atlasdatatech/tileserver/internal/statemachine"
	"github.com/atlasdatatech/tileserver/internal/workerpool"
)

// exitConfigInvalid is spec.md §6's exit code `-1`, clamped into the
// process's 8-bit exit status space the same way any POSIX shell would
// report a C `exit(-1)`.
const exitConfigInvalid = 255

func init() {
	log.SetFormatter(&nested.Formatter{
		HideKeys:        true,
		ShowFullLevel:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	log.SetOutput(ansicolor.NewAnsiColorWriter(os.Stdout))
	log.SetLevel(log.DebugLevel)
}

func usage() {
	fmt.Fprintf(os.Stderr, `tileserver
Usage: tileserver <host>:<port> (json <path> | etcd <host>) [--internal-port <port>] [--bind-addr <addr>]
`)
	flag.PrintDefaults()
}

func main() {
	internalPort := flag.Int("internal-port", 0, "internal (peer) listener port; 0 disables it")
	bindAddr := flag.String("bind-addr", "", "override the bind address for both listeners")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) < 2 {
		usage()
		os.Exit(1)
	}
	publicAddr := args[0]

	store := config.New()
	var etcdClient *clientv3.Client

	switch args[1] {
	case "json":
		if len(args) < 3 {
			usage()
			os.Exit(1)
		}
		if err := config.LoadFile(store, args[2]); err != nil {
			log.WithError(err).Error("tileserver: config invalid")
			os.Exit(exitConfigInvalid)
		}
	case "etcd":
		if len(args) < 3 {
			usage()
			os.Exit(1)
		}
		client, err := clientv3.New(clientv3.Config{Endpoints: []string{args[2]}, DialTimeout: 5 * time.Second})
		if err != nil {
			log.WithError(err).Error("tileserver: config invalid")
			os.Exit(exitConfigInvalid)
		}
		etcdClient = client
		backend := config.NewEtcdBackend(client, "/config", store)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = backend.Start(ctx)
		cancel()
		if err != nil {
			log.WithError(err).Error("tileserver: config invalid")
			os.Exit(exitConfigInvalid)
		}
	default:
		usage()
		os.Exit(1)
	}

	loaders, kvLoaders, err := buildLoaders(store)
	if err != nil {
		log.WithError(err).Error("tileserver: config invalid")
		os.Exit(exitConfigInvalid)
	}
	defer func() {
		for _, l := range kvLoaders {
			l.Close()
		}
	}()

	providers, err := buildProviders(store, loaders)
	if err != nil {
		log.WithError(err).Error("tileserver: config invalid")
		os.Exit(exitConfigInvalid)
	}

	endpoints, err := buildEndpoints(store, providers)
	if err != nil {
		log.WithError(err).Error("tileserver: config invalid")
		os.Exit(exitConfigInvalid)
	}
	router := dispatch.NewRouter(endpoints)

	workers := renderWorkerCount(store)
	queueLimit := intOr(store, "render/queue_limit", 1000)
	pool := workerpool.New(queueLimit)
	manager := render.NewManager(pool, render.PlaceholderRenderer{}, render.PlaceholderStyleLoader)
	for i := 0; i < workers; i++ {
		manager.AddWorker()
	}
	wireStyleReload(store, manager)

	cacheBackend, err := buildCacheBackend(store)
	if err != nil {
		log.WithError(err).Error("tileserver: config invalid")
		os.Exit(exitConfigInvalid)
	}
	cache := cacher.New(cacheBackend)

	proc := processor.New(manager)

	var directory *peers.Directory
	if etcdClient != nil {
		selfAddr := publicAddr
		directory = peers.New(etcdClient, "/nodes", selfAddr, 30*time.Second)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := directory.Start(ctx); err != nil {
			log.WithError(err).Warn("tileserver: peer directory bootstrap failed, running single-node")
			directory = nil
		}
		cancel()
		if directory != nil {
			if err := directory.Register(context.Background()); err != nil {
				log.WithError(err).Warn("tileserver: peer registration failed")
			}
		}
	}

	deps := statemachine.Deps{
		Cacher:    cache,
		Processor: proc,
		Peers:     directory,
		Proxy:     httpapi.NewHTTPPeerProxy(),
		Styles:    manager,
	}

	publicServer := httpapi.NewServer(router, deps, false)
	publicMux := http.NewServeMux()
	publicServer.Mount(publicMux)
	publicHTTP := &http.Server{Addr: resolveAddr(*bindAddr, publicAddr), Handler: publicMux}

	var internalHTTP *http.Server
	if *internalPort != 0 {
		internalServer := httpapi.NewServer(router, deps, true)
		internalMux := http.NewServeMux()
		internalServer.Mount(internalMux)
		internalHTTP = &http.Server{Addr: resolveAddr(*bindAddr, fmt.Sprintf(":%d", *internalPort)), Handler: internalMux}
	}

	go func() {
		log.WithField("addr", publicHTTP.Addr).Info("tileserver: public listener starting")
		if err := publicHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("tileserver: public listener failed")
		}
	}()
	if internalHTTP != nil {
		go func() {
			log.WithField("addr", internalHTTP.Addr).Info("tileserver: internal listener starting")
			if err := internalHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Fatal("tileserver: internal listener failed")
			}
		}()
	}

	waitForSignal(publicServer, directory, publicHTTP, internalHTTP, pool, cacheBackend, etcdClient)
}

// waitForSignal blocks until SIGHUP (maintenance drain) or SIGINT/SIGTERM
// (orderly shutdown), per spec.md §6.
func waitForSignal(srv *httpapi.Server, directory *peers.Directory, public, internal *http.Server, pool *workerpool.Pool, cache *cacher.SQLiteBackend, etcdClient *clientv3.Client) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)

	for sig := range sigs {
		switch sig {
		case syscall.SIGHUP:
			log.Info("tileserver: entering maintenance, draining")
			srv.SetStatus(httpapi.StatusMaintenance)
			if directory != nil {
				directory.Unregister(context.Background())
			}
			time.Sleep(10 * time.Second)
			shutdown(public, internal, pool, cache, directory, etcdClient)
			return
		case syscall.SIGINT, syscall.SIGTERM:
			log.Info("tileserver: shutting down")
			if directory != nil {
				directory.Unregister(context.Background())
			}
			shutdown(public, internal, pool, cache, directory, etcdClient)
			return
		}
	}
}

func shutdown(public, internal *http.Server, pool *workerpool.Pool, cache *cacher.SQLiteBackend, directory *peers.Directory, etcdClient *clientv3.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	public.Shutdown(ctx)
	if internal != nil {
		internal.Shutdown(ctx)
	}
	pool.Stop()
	if err := cache.Close(); err != nil {
		log.WithError(err).Warn("tileserver: cache close failed")
	}
	if directory != nil {
		directory.Close()
	}
	if etcdClient != nil {
		etcdClient.Close()
	}
}

func resolveAddr(bindAddr, fallback string) string {
	if bindAddr == "" {
		return fallback
	}
	_, port, err := net.SplitHostPort(fallback)
	if err != nil {
		return bindAddr
	}
	return net.JoinHostPort(bindAddr, port)
}

func renderWorkerCount(store *config.Store) int {
	if v, ok := store.Get("render/workers"); ok {
		if n, ok := toInt(v); ok && n > 0 {
			return n
		}
	}
	return runtime.NumCPU()
}

func intOr(store *config.Store, key string, fallback int) int {
	if v, ok := store.Get(key); ok {
		if n, ok := toInt(v); ok {
			return n
		}
	}
	return fallback
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// wireStyleReload publishes the current render/styles value (if any)
// into the manager and attaches an observer so future config updates
// trigger a hot style swap (spec.md §4.6, §4.12).
func wireStyleReload(store *config.Store, manager *render.Manager) {
	apply := func(value any) {
		styles, err := decodeStyles(value)
		if err != nil {
			log.WithError(err).Warn("tileserver: render/styles update rejected")
			return
		}
		manager.UpdateStyles(styles)
	}

	current, ok, _ := store.Attach("render/styles", apply)
	if ok {
		apply(current)
	}
}

// buildCacheBackend opens the cache SQLite database named by
// cacher.conn_str, bounding its connection pool at cacher.workers
// (spec.md §4.12).
func buildCacheBackend(store *config.Store) (*cacher.SQLiteBackend, error) {
	raw, _ := store.Get("cacher")
	section, _ := raw.(map[string]any)

	connStr, _ := section["conn_str"].(string)
	if connStr == "" {
		connStr = "cache.db"
	}

	backend, err := cacher.OpenSQLiteBackend(connStr)
	if err != nil {
		return nil, err
	}
	if n, ok := toInt(section["workers"]); ok {
		backend.SetMaxConns(n)
	}
	return backend, nil
}
