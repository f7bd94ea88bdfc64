package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"

	httptrace "github.com/DataDog/dd-trace-go/contrib/net/http/v2"
	"github.com/DataDog/dd-trace-go/v2/ddtrace/tracer"
	"github.com/alecthomas/kong"
	"github.com/eslopemap/eslope/mbtiles"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"
	_ "gocloud.dev/blob/azureblob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var cli struct {
	LogLevel  string `default:"info" enum:"debug,info,warn,error" env:"ESLOPE_LOG_LEVEL" help:"Minimum level of log messages."`
	LogFormat string `default:"console" enum:"console,json" env:"ESLOPE_LOG_FORMAT" help:"Log encoding."`
	Quiet     bool   `env:"ESLOPE_QUIET" help:"Disable progress bars."`

	Merge struct {
		Dest        string   `arg:"" optional:"" help:"Destination store, created from the first source when missing." type:"path"`
		Sources     []string `arg:"" optional:"" help:"Local paths or remote URLs (s3://, gs://, azblob://, http(s)://), later ones win."`
		Plan        string   `help:"YAML merge plan replacing the arguments." type:"existingfile"`
		Bbox        string   `help:"Only merge tiles within min_lon,min_lat,max_lon,max_lat."`
		Region      string   `help:"Only merge tiles within the bounding box of a GeoJSON Polygon or MultiPolygon file." type:"existingfile"`
		Zooms       string   `help:"Only merge tiles of a zoom range, e.g. 8-15."`
		Name        string   `help:"Name of a newly created destination."`
		Description string   `help:"Description of a newly created destination."`
		Overwrite   bool     `help:"Replace an existing destination instead of merging into it."`
		Tmpdir      string   `env:"ESLOPE_TMPDIR" help:"Directory for crops and downloaded sources." type:"existingdir"`
		Threads     int      `default:"4" help:"Number of download threads."`
	} `cmd:"" help:"Merge stores into one, later sources overriding earlier ones."`

	Crop struct {
		Input  string `arg:"" help:"Input store." type:"existingfile"`
		Output string `arg:"" help:"Output store." type:"path"`
		Bbox   string `help:"Area of interest: min_lon,min_lat,max_lon,max_lat."`
		Region string `help:"GeoJSON Polygon or MultiPolygon file whose bounding box is the area of interest." type:"existingfile"`
		Zooms  string `help:"Zoom range, e.g. 8-15."`
		Force  bool   `help:"Remove an existing output."`
		Backup bool   `help:"Rename an existing output with a .bak suffix."`
	} `cmd:"" help:"Copy the tiles of an area of interest into a new store."`

	Remove struct {
		Input  string `arg:"" help:"Store to modify in place." type:"existingfile"`
		Bbox   string `help:"Area to remove: min_lon,min_lat,max_lon,max_lat."`
		Region string `help:"GeoJSON Polygon or MultiPolygon file whose bounding box is removed." type:"existingfile"`
		Zooms  string `help:"Zoom range to remove from; whole levels without an area."`
	} `cmd:"" help:"Delete the tiles of an area or of zoom levels."`

	Bounds struct {
		Input     string `arg:"" help:"Store." type:"existingfile"`
		Heuristic string `default:"loose" enum:"loose,inner,strictest" help:"How the extent is derived from the tiles."`
		Update    bool   `help:"Write bounds, center, minzoom and maxzoom to the metadata."`
	} `cmd:"" help:"Compute the geographic extent of the tiles."`

	Show struct {
		Input    string `arg:"" help:"Store." type:"existingfile"`
		JSON     bool   `help:"Output JSON."`
		PerZoom  bool   `help:"Show a breakdown per zoom level."`
		Metadata bool   `help:"Show every metadata key."`
	} `cmd:"" help:"Summarize a store."`

	Tile struct {
		Path string `arg:"" type:"existingfile"`
		Z    uint8  `arg:""`
		X    uint32 `arg:""`
		Y    uint32 `arg:""`
		TMS  bool   `name:"tms" help:"Y is south-origin, as stored."`
	} `cmd:"" help:"Fetch one tile and output it on stdout."`

	Compare struct {
		A     string `arg:"" type:"existingfile"`
		B     string `arg:"" type:"existingfile"`
		Zooms string `help:"Zoom range to compare."`
	} `cmd:"" help:"Compare the tiles of two stores."`

	Index struct {
		Input string `arg:"" type:"existingfile"`
	} `cmd:"" help:"Deduplicate tiles and add the unique tile index."`

	Serve struct {
		Path      string `arg:"" help:"Directory holding .mbtiles stores." type:"existingdir"`
		Port      int    `default:"8080" env:"ESLOPE_PORT"`
		Cors      string `help:"Allowed CORS origin."`
		PoolSize  int    `default:"4" help:"Read connections per store."`
		PublicURL string `name:"public-url" env:"ESLOPE_PUBLIC_URL" help:"Public URL of the tile endpoint e.g. https://example.com"`
		Datadog   bool   `env:"ESLOPE_DATADOG" help:"Trace requests with Datadog."`
	} `cmd:"" help:"Run an HTTP server for Z/X/Y tiles."`

	Upload struct {
		Input          string `arg:"" type:"existingfile"`
		Key            string `arg:""`
		MaxConcurrency int    `default:"2" help:"# of upload threads"`
		Bucket         string `required:"" env:"ESLOPE_BUCKET" help:"Bucket to upload to."`
	} `cmd:"" help:"Upload a local store to remote storage."`

	Version struct {
	} `cmd:"" help:"Show the program version."`
}

func newLogger(level string, format string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
		cfg.DisableStacktrace = true
	}
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	cfg.Level = lvl
	return cfg.Build()
}

func parseArea(bbox string, region string) (*mbtiles.BBox, error) {
	switch {
	case bbox != "" && region != "":
		return nil, errors.New("--bbox and --region are exclusive")
	case bbox != "":
		b, err := mbtiles.ParseBBox(bbox)
		if err != nil {
			return nil, err
		}
		return &b, nil
	case region != "":
		b, err := mbtiles.LoadRegion(region)
		if err != nil {
			return nil, err
		}
		return &b, nil
	}
	return nil, nil
}

func parseZooms(s string) (*mbtiles.ZoomRange, error) {
	if s == "" {
		return nil, nil
	}
	zr, err := mbtiles.ParseZoomRange(s)
	if err != nil {
		return nil, err
	}
	return &zr, nil
}

func runMerge(ctx context.Context, logger *zap.Logger) error {
	var dest string
	var sources []string
	var opts mbtiles.MergeOptions
	if cli.Merge.Plan != "" {
		plan, err := mbtiles.LoadMergePlan(cli.Merge.Plan)
		if err != nil {
			return err
		}
		if opts, err = plan.Options(); err != nil {
			return err
		}
		dest, sources = plan.Dest, plan.Sources
	} else {
		if cli.Merge.Dest == "" || len(cli.Merge.Sources) == 0 {
			return errors.New("merge needs a destination and at least one source, or --plan")
		}
		area, err := parseArea(cli.Merge.Bbox, cli.Merge.Region)
		if err != nil {
			return err
		}
		zooms, err := parseZooms(cli.Merge.Zooms)
		if err != nil {
			return err
		}
		dest, sources = cli.Merge.Dest, cli.Merge.Sources
		opts = mbtiles.MergeOptions{
			Name:        cli.Merge.Name,
			Description: cli.Merge.Description,
			BBox:        area,
			Zooms:       zooms,
			Overwrite:   cli.Merge.Overwrite,
		}
	}
	if opts.ScratchDir == "" {
		opts.ScratchDir = cli.Merge.Tmpdir
	}

	fetchDir, err := os.MkdirTemp(opts.ScratchDir, "eslope-fetch-")
	if err != nil {
		return fmt.Errorf("failed to create download directory: %w", err)
	}
	defer os.RemoveAll(fetchDir)
	local, err := mbtiles.FetchSources(ctx, logger, sources, fetchDir, cli.Merge.Threads)
	if err != nil {
		return err
	}
	return mbtiles.Merge(logger, dest, local, opts)
}

func runCrop(logger *zap.Logger) error {
	area, err := parseArea(cli.Crop.Bbox, cli.Crop.Region)
	if err != nil {
		return err
	}
	if area == nil {
		return errors.New("crop needs --bbox or --region")
	}
	zooms, err := parseZooms(cli.Crop.Zooms)
	if err != nil {
		return err
	}
	policy := mbtiles.FailIfExists
	if cli.Crop.Backup {
		policy = mbtiles.BackupExisting
	} else if cli.Crop.Force {
		policy = mbtiles.OverwriteExisting
	}
	if err := mbtiles.PrepareDestination(logger, cli.Crop.Output, policy); err != nil {
		return err
	}
	n, err := mbtiles.CropToBBox(logger, mbtiles.FromPath(cli.Crop.Input), mbtiles.FromPath(cli.Crop.Output), *area, zooms)
	if err != nil {
		return err
	}
	logger.Info("cropped", zap.String("input", cli.Crop.Input), zap.String("output", cli.Crop.Output), zap.Int64("tiles", n))
	return nil
}

func runRemove(logger *zap.Logger) error {
	area, err := parseArea(cli.Remove.Bbox, cli.Remove.Region)
	if err != nil {
		return err
	}
	zooms, err := parseZooms(cli.Remove.Zooms)
	if err != nil {
		return err
	}
	if area == nil && zooms == nil {
		return errors.New("remove needs an area, a zoom range or both")
	}
	_, err = mbtiles.RemoveRegion(logger, mbtiles.FromPath(cli.Remove.Input), area, zooms)
	return err
}

func runBounds(logger *zap.Logger) error {
	h, err := mbtiles.ParseHeuristic(cli.Bounds.Heuristic)
	if err != nil {
		return err
	}
	src := mbtiles.FromPath(cli.Bounds.Input)
	var b mbtiles.BBox
	if cli.Bounds.Update {
		b, err = mbtiles.UpdateBounds(src, h)
	} else {
		b, err = mbtiles.ComputeBounds(src, h)
	}
	if err != nil {
		return err
	}
	logger.Debug("computed bounds", zap.String("path", cli.Bounds.Input), zap.Stringer("heuristic", h))
	fmt.Println(b)
	return nil
}

func runCompare(logger *zap.Logger) error {
	zooms, err := parseZooms(cli.Compare.Zooms)
	if err != nil {
		return err
	}
	c, err := mbtiles.Compare(logger, mbtiles.FromPath(cli.Compare.A), mbtiles.FromPath(cli.Compare.B), zooms)
	if err != nil {
		return err
	}
	fmt.Println(c)
	if !c.Identical() {
		os.Exit(1)
	}
	return nil
}

func runServe(logger *zap.Logger) error {
	server, err := mbtiles.NewServer(logger, cli.Serve.Path, cli.Serve.PoolSize, "", cli.Serve.PublicURL)
	if err != nil {
		return err
	}
	defer server.Close()
	mbtiles.SetBuildInfo(version, commit, date)

	type serveMux interface {
		http.Handler
		Handle(pattern string, handler http.Handler)
	}
	var mux serveMux = http.NewServeMux()
	if cli.Serve.Datadog {
		if err := tracer.Start(tracer.WithService("eslope"), tracer.WithServiceVersion(version)); err != nil {
			return fmt.Errorf("failed to start tracer: %w", err)
		}
		defer tracer.Stop()
		mux = httptrace.NewServeMux()
	}
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", server)

	var handler http.Handler = mux
	if cli.Serve.Cors != "" {
		handler = cors.New(cors.Options{
			AllowedOrigins: []string{cli.Serve.Cors},
			AllowedMethods: []string{http.MethodGet, http.MethodHead},
		}).Handler(mux)
	}

	logger.Info("serving", zap.String("path", cli.Serve.Path), zap.Int("port", cli.Serve.Port),
		zap.String("cors", cli.Serve.Cors))
	return http.ListenAndServe(":"+strconv.Itoa(cli.Serve.Port), handler)
}

func run(ctx context.Context, kctx *kong.Context, logger *zap.Logger) error {
	switch kctx.Selected().Name {
	case "merge":
		return runMerge(ctx, logger)
	case "crop":
		return runCrop(logger)
	case "remove":
		return runRemove(logger)
	case "bounds":
		return runBounds(logger)
	case "show":
		return mbtiles.Show(logger, os.Stdout, cli.Show.Input, mbtiles.ShowOptions{
			JSON:     cli.Show.JSON,
			PerZoom:  cli.Show.PerZoom,
			Metadata: cli.Show.Metadata,
		})
	case "tile":
		origin := mbtiles.NorthOrigin
		if cli.Tile.TMS {
			origin = mbtiles.SouthOrigin
		}
		return mbtiles.ShowTile(logger, os.Stdout, cli.Tile.Path, cli.Tile.Z, cli.Tile.X, cli.Tile.Y, origin)
	case "compare":
		return runCompare(logger)
	case "index":
		n, err := mbtiles.EnsureUniqueIndex(mbtiles.FromPath(cli.Index.Input))
		if err != nil {
			return err
		}
		logger.Info("indexed", zap.String("path", cli.Index.Input), zap.Int64("duplicates_removed", n))
		return nil
	case "serve":
		return runServe(logger)
	case "upload":
		return mbtiles.Upload(ctx, logger, cli.Upload.Input, cli.Upload.Bucket, cli.Upload.Key, cli.Upload.MaxConcurrency)
	case "version":
		fmt.Printf("eslope %s, commit %s, built at %s\n", version, commit, date)
		return nil
	}
	return fmt.Errorf("unknown command %s", kctx.Command())
}

func main() {
	if len(os.Args) < 2 {
		os.Args = append(os.Args, "--help")
	}

	kctx := kong.Parse(&cli,
		kong.Name("eslope"),
		kong.Description("Merge, crop and inspect MBTiles pyramids."),
		kong.Configuration(kong.JSON, "~/.config/eslope.json", "eslope.json"),
	)

	logger, err := newLogger(cli.LogLevel, cli.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging configuration: %v\n", err)
		os.Exit(2)
	}
	defer logger.Sync()
	mbtiles.SetQuietMode(cli.Quiet)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, kctx, logger); err != nil {
		logger.Fatal("command failed", zap.String("command", kctx.Command()), zap.Error(err))
	}
}
