// Command b2-fuse mounts a Backblaze B2 bucket as a FUSE filesystem.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/falense/b2-fuse/internal/b2api"
	"github.com/falense/b2-fuse/internal/b2fs"
	"github.com/falense/b2-fuse/internal/bucketcache"
	"github.com/falense/b2-fuse/internal/config"
	"github.com/falense/b2-fuse/internal/dirtree"
	"github.com/falense/b2-fuse/internal/metrics"
	"github.com/falense/b2-fuse/internal/openfile"
	"github.com/falense/b2-fuse/internal/writepipe"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"
)

func usage() {
	fmt.Printf(`b2-fuse - mount a Backblaze B2 bucket as a filesystem.

Usage: b2-fuse [options] <mountpoint>

Valid options:
`)
	flag.PrintDefaults()
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	// --config-file has to be known before the rest of the flags can be
	// registered with the file's values as their defaults, so it is scanned
	// for up front with its own tiny FlagSet rather than flag.CommandLine.
	configPath := scanConfigPathFlag(os.Args[1:])

	cfg := config.Defaults()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", configPath).Msg("failed to load configuration")
		}
		cfg = loaded
	}

	flag.StringP("config-file", "f", configPath, "A YAML-formatted configuration file.")
	debugOn := flag.BoolP("debug", "d", false, "Enable FUSE debug logging.")
	allowOther := flag.BoolP("allow-other", "o", false, "Allow other users to access the mount.")
	help := flag.BoolP("help", "h", false, "Displays this help message.")
	applyFlags := config.Flags(flag.CommandLine, &cfg)
	flag.Usage = usage
	flag.Parse()
	applyFlags()

	if *help {
		flag.Usage()
		os.Exit(0)
	}
	if len(flag.Args()) == 0 {
		flag.Usage()
		fmt.Fprintln(os.Stderr, "\nNo mountpoint provided, exiting.")
		os.Exit(1)
	}
	mountPoint := flag.Arg(0)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if err := prepareTempFolder(cfg.TempFolder); err != nil {
		log.Fatal().Err(err).Str("tempFolder", cfg.TempFolder).Msg("failed to prepare scratch directory")
	}
	if cfg.TempFolder != "" {
		defer os.RemoveAll(cfg.TempFolder)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := b2api.NewClient(b2api.Config{
		AccountID:      cfg.AccountID,
		ApplicationKey: cfg.ApplicationKey,
		BucketID:       cfg.BucketID,
		MaxRetries:     cfg.MaxRetries,
	}, log.Logger)
	if err := client.Authorize(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to authorize with B2")
	}

	var mcol *metrics.Collector
	if cfg.MetricsAddr != "" {
		mcol = metrics.New()
		go serveMetrics(cfg.MetricsAddr, mcol, client)
	}

	remote := openfile.NewRemote(client)
	listCache := bucketcache.NewListingCache(cfg.CacheTimeout, mcol)
	dirIndex := dirtree.NewIndex()
	files := openfile.NewSet(remote, openfile.Config{
		TempRoot:       cfg.TempFolder,
		UseDisk:        cfg.UseDisk,
		PartSize:       int64(cfg.FileDownloadMiB) << 20,
		MemoryLimitMiB: cfg.MemoryLimitMiB,
	}, mcol)

	pipeline := writepipe.New(client, listCache, log.Logger, writepipe.Config{
		Debounce:      cfg.Debounce,
		QueueCapacity: cfg.QueueCapacity,
		Workers:       cfg.Workers,
	}, mcol)
	pipeline.Start(ctx)
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := pipeline.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("write pipeline did not drain cleanly")
		}
	}()

	fsCfg := b2fs.DefaultConfig()
	fsCfg.EnableHashfiles = cfg.EnableHashfiles
	fsCfg.PurgeOnRelease = cfg.PurgeOnRelease
	filesystem := b2fs.NewFileSystem(client, remote, listCache, dirIndex, files, pipeline, log.Logger, fsCfg)

	mountOpts := b2fs.DefaultMountOptions()
	mountOpts.Debug = *debugOn
	mountOpts.AllowOther = *allowOther
	manager := b2fs.NewMountManager(filesystem, mountPoint, mountOpts, log.Logger)

	if err := manager.Mount(); err != nil {
		log.Fatal().Err(err).Str("mountpoint", mountPoint).
			Msg("mount failed. is the mountpoint already in use? (try fusermount -u)")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info().Msg("shutting down")
		if err := manager.Unmount(); err != nil {
			log.Error().Err(err).Msg("unmount failed")
		}
	}()

	log.Info().Str("mountpoint", mountPoint).Msg("serving filesystem")
	manager.Wait()
}

// scanConfigPathFlag looks for -f/--config-file in args without disturbing
// the main flag set, so its value is available before the rest of the
// flags are registered with the loaded file as their defaults.
func scanConfigPathFlag(args []string) string {
	scan := flag.NewFlagSet("b2-fuse-prescan", flag.ContinueOnError)
	scan.ParseErrorsWhitelist.UnknownFlags = true
	scan.Usage = func() {}
	path := scan.StringP("config-file", "f", "", "")
	_ = scan.Parse(args)
	return *path
}

// prepareTempFolder creates the scratch directory, matching the original's
// temp_folder handling: its existence at startup is an error, not something
// to wipe and reuse, since a leftover folder means a prior run didn't shut
// down cleanly and may still hold buffers an operator would want to inspect.
func prepareTempFolder(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("tempFolder %q already exists", path)
	} else if !os.IsNotExist(err) {
		return err
	}
	return os.MkdirAll(path, 0700)
}

func serveMetrics(addr string, mcol *metrics.Collector, client b2api.Client) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", mcol.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		snap := client.Health()
		w.Header().Set("Content-Type", "application/json")
		if snap.State != "healthy" && snap.State != "degraded" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(snap)
	})

	log.Info().Str("addr", addr).Msg("serving metrics and health endpoint")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error().Err(err).Msg("metrics server exited")
	}
}
