package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"flag"
	"log"
	"math/rand"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"citysim/internal/city"
	"citysim/internal/persistence/archive"
	"citysim/internal/persistence/indexdb"
	persistlog "citysim/internal/persistence/log"
	"citysim/internal/persistence/snapshot"
	"citysim/internal/sim/catalogs"
	"citysim/internal/sim/clock"
	"citysim/internal/sim/tuning"
	"citysim/internal/transport/observer"
)

func main() {
	var (
		addr        = flag.String("addr", ":8080", "http listen address")
		seed        = flag.Int64("seed", 0, "city and run seed (0: use the tuning seed)")
		configDir   = flag.String("configs", "./configs", "config directory")
		dataDir     = flag.String("data", "./data", "runtime data directory")
		tuningPath  = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB   = flag.Bool("disable_db", false, "disable the sqlite read model")
		allowRemote = flag.Bool("allow_remote", false, "accept observer connections from non-loopback addresses")
		autostart   = flag.Bool("autostart", false, "start the day as soon as the server is up")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load catalogs: %v", err)
		}
		logger.Printf("names catalog not found in %s; using built-in names", *configDir)
		cats = catalogs.Defaults()
	}

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}
	tuneDigest := fileDigest(tp)

	runSeed := *seed
	if runSeed == 0 {
		runSeed = tune.Seed
	}
	grid := city.Generate(tune.GenConfig(), city.NewNameGenerator(cats.Names), rand.New(rand.NewSource(runSeed)))
	logger.Printf("city %dx%d residences=%d workplaces=%d eateries=%d leisure=%d seed=%d",
		grid.Width(), grid.Height(), len(grid.Residences()), len(grid.Workplaces()),
		len(grid.Eateries()), len(grid.LeisureSites()), runSeed)

	drv := clock.New(clock.Config{
		Tuning: tune,
		Seed:   runSeed,
		Logger: log.New(os.Stdout, "[driver] ", log.LstdFlags|log.Lmicroseconds),
	}, grid)

	// Optional read model (does not affect sim determinism).
	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(*dataDir, "index", "citysim.sqlite"))
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
		if err := idx.UpsertCatalogs(cats, tune); err != nil {
			logger.Printf("index: upsert catalogs: %v", err)
		}
	}

	runLog := persistlog.NewRunLogger(filepath.Join(*dataDir, "runs"))
	defer runLog.Close()

	obsSrv, err := observer.NewServer(drv, log.New(os.Stdout, "[observer] ", log.LstdFlags|log.Lmicroseconds), observer.Options{
		AllowRemote:  *allowRemote,
		NamesDigest:  cats.Names.Digest,
		TuningDigest: tuneDigest,
	})
	if err != nil {
		logger.Fatalf("observer: %v", err)
	}

	fin := newFinisher(*dataDir, idx, logger)

	drv.AddRunSink(runLog)
	drv.AddFrameSink(runLog)
	drv.AddEventSink(runLog)
	if idx != nil {
		drv.AddRunSink(idx)
		drv.AddFrameSink(idx)
		drv.AddEventSink(idx)
	}
	drv.AddRunSink(obsSrv)
	drv.AddFrameSink(obsSrv)
	drv.AddEventSink(obsSrv)
	drv.AddRunSink(fin)

	a, err := newAPI(drv, obsSrv, idx, logger)
	if err != nil {
		logger.Fatalf("api: %v", err)
	}

	mux := http.NewServeMux()
	a.routes(mux)
	mux.HandleFunc("/v1/bootstrap", obsSrv.BootstrapHandler())
	mux.HandleFunc("/v1/ws", obsSrv.WSHandler())
	if envBool("CITYSIM_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", localOnly(pprof.Index))
		mux.HandleFunc("/debug/pprof/cmdline", localOnly(pprof.Cmdline))
		mux.HandleFunc("/debug/pprof/profile", localOnly(pprof.Profile))
		mux.HandleFunc("/debug/pprof/symbol", localOnly(pprof.Symbol))
		mux.HandleFunc("/debug/pprof/trace", localOnly(pprof.Trace))
	} else {
		logger.Printf("pprof endpoints disabled (CITYSIM_ENABLE_PPROF_HTTP=false)")
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := signalContext()
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := drv.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error { return fin.run(gctx) })
	g.Go(func() error {
		logger.Printf("listening on %s", *addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		return srv.Shutdown(ctx2)
	})
	if *autostart {
		g.Go(func() error {
			var ok bool
			if err := drv.Do(gctx, func(d *clock.Driver) { ok = d.Start() }); err != nil {
				return nil
			}
			if !ok {
				logger.Printf("autostart refused: %s", drv.Metrics().Status)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Printf("server stopped: %v", err)
	}
	if idx != nil {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		if err := idx.Sync(ctx2); err != nil {
			logger.Printf("index sync: %v", err)
		}
		cancel2()
	}
}

// finisher writes the final snapshot of each run off the driver loop, then
// archives it and records it in the index.
type finisher struct {
	snaps   *snapshot.Writer
	dataDir string
	idx     *indexdb.SQLiteIndex
	logger  *log.Logger
	ch      chan snapshot.RunV1
}

func newFinisher(dataDir string, idx *indexdb.SQLiteIndex, logger *log.Logger) *finisher {
	return &finisher{
		snaps:   snapshot.NewWriter(filepath.Join(dataDir, "snapshots")),
		dataDir: dataDir,
		idx:     idx,
		logger:  logger,
		ch:      make(chan snapshot.RunV1, 2),
	}
}

func (f *finisher) RunStarted(clock.RunInfo) error { return nil }

func (f *finisher) RunFinished(res clock.Result) error {
	select {
	case f.ch <- snapshot.FromResult(res):
		return nil
	default:
		return errors.New("snapshot queue full")
	}
}

func (f *finisher) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			// Drain what the last tick handed over before exiting.
			for {
				select {
				case snap := <-f.ch:
					f.write(snap)
				default:
					return nil
				}
			}
		case snap := <-f.ch:
			f.write(snap)
		}
	}
}

func (f *finisher) write(snap snapshot.RunV1) {
	path := f.snaps.PathFor(snap.Header.RunID)
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		f.logger.Printf("snapshot write: %v", err)
		return
	}
	if f.idx != nil {
		f.idx.RecordSnapshot(snap.Header.RunID, path)
	}
	archived, ok, err := archive.ArchiveRunSnapshot(f.dataDir, path, snap)
	switch {
	case err != nil:
		f.logger.Printf("archive run snapshot: %v", err)
	case ok:
		f.logger.Printf("run %s archived to %s", snap.Header.RunID, filepath.Dir(archived))
	}
}

func fileDigest(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func localOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
