package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/transitbridge-data/internal/common/config"
	"github.com/transitbridge-data/internal/common/db"
	"github.com/transitbridge-data/internal/common/logger"
	"github.com/transitbridge-data/internal/common/maintenance"
	"github.com/transitbridge-data/internal/gtfs/acquirer"
	"github.com/transitbridge-data/internal/gtfs/importer"
	"github.com/transitbridge-data/internal/gtfs/parser"
	"github.com/transitbridge-data/internal/gtfs/validator"
	"github.com/transitbridge-data/internal/mapping"
	"github.com/transitbridge-data/pkg/gtfs/models"
)

var (
	flagImport   = pflag.Bool("import", false, "run a feed import")
	flagName     = pflag.String("name", "", "feed name (groups generations of the same feed)")
	flagFile     = pflag.String("file", "", "import from a local archive path")
	flagURL      = pflag.String("url", "", "import from an HTTP(S) URL")
	flagFTPHost  = pflag.String("ftp-host", "", "import from an FTP server (host[:port])")
	flagFTPUser  = pflag.String("ftp-user", "", "FTP username")
	flagFTPPass  = pflag.String("ftp-password", "", "FTP password")
	flagFTPPath  = pflag.String("ftp-path", "", "path of the archive on the FTP server")
	flagMap      = pflag.String("map", "", "map entities of a feed: routes, stops, schedules or fares")
	flagFeedID   = pflag.Int64("feed-id", 0, "feed id for --map, --validate-feed and --delete-feed")
	flagValidate = pflag.Bool("validate-feed", false, "re-run referential checks against persisted rows")
	flagDelete   = pflag.Bool("delete-feed", false, "delete a feed and all its data")
	flagPrune    = pflag.Bool("prune", false, "delete superseded generations of --name")
	flagKeep     = pflag.Int("keep-stale", 1, "stale generations to keep when pruning")
)

func main() {
	pflag.Parse()

	// .env is optional; real deployments configure through the environment.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load configuration:", err)
		os.Exit(1)
	}

	log := logger.WithLevel(
		logger.New(logger.ConsoleWriter(), logger.FileWriter(cfg.Logging.FilePath)),
		logger.ParseLevel(cfg.Logging.Level),
	)

	database, err := db.New(cfg.Database.ConnectionString(), log)
	if err != nil {
		log.Fatal("Failed to connect to database", "error", err)
	}
	defer database.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Warn("Shutdown signal received, cancelling")
		cancel()
	}()

	if err := database.Migrate(ctx); err != nil {
		log.Fatal("Failed to migrate schema", "error", err)
	}

	switch {
	case *flagImport:
		runImport(ctx, cfg, database, log)
	case *flagMap != "":
		runMapping(ctx, database, log)
	case *flagValidate:
		runValidateFeed(ctx, cfg, database, log)
	case *flagDelete:
		runDeleteFeed(ctx, database, log)
	case *flagPrune:
		runPrune(ctx, database, log)
	default:
		pflag.Usage()
		os.Exit(2)
	}
}

func runImport(ctx context.Context, cfg *config.Config, database *db.DB, log logger.Logger) {
	if *flagName == "" {
		log.Fatal("--name is required for an import")
	}

	source, err := sourceFromFlags()
	if err != nil {
		log.Fatal("Invalid import source", "error", err)
	}

	store := db.NewFeedStore(database, cfg.Import.BatchSize)
	imp := importer.New(
		store,
		acquirer.New(cfg.Import.DownloadDir, cfg.Import.FetchTimeout, log),
		parser.New(log),
		validator.New(log),
		log,
	)

	result, err := imp.StartImport(ctx, source, *flagName)
	if err != nil {
		if result != nil {
			for _, msg := range result.Report.Messages() {
				log.Error("Import error", "feed_id", result.FeedID, "detail", msg)
			}
		}
		log.Fatal("Import failed", "error", err)
	}

	log.Info("Import succeeded", "feed_id", result.FeedID, "status", string(result.Status))
	for table, n := range result.Counts {
		log.Info("Imported table", "table", table, "rows", n)
	}
}

func sourceFromFlags() (models.Source, error) {
	switch {
	case *flagFile != "":
		return models.Source{Type: models.SourceUpload, UploadPath: *flagFile}, nil
	case *flagURL != "":
		return models.Source{Type: models.SourceURL, URL: *flagURL}, nil
	case *flagFTPHost != "":
		if *flagFTPPath == "" {
			return models.Source{}, fmt.Errorf("--ftp-path is required with --ftp-host")
		}
		return models.Source{
			Type: models.SourceFTP,
			FTP: &models.FTPSource{
				Host:     *flagFTPHost,
				User:     *flagFTPUser,
				Password: *flagFTPPass,
				Path:     *flagFTPPath,
			},
		}, nil
	default:
		return models.Source{}, fmt.Errorf("one of --file, --url or --ftp-host is required")
	}
}

func runMapping(ctx context.Context, database *db.DB, log logger.Logger) {
	if *flagFeedID == 0 {
		log.Fatal("--feed-id is required for --map")
	}

	entityType, err := parseEntityType(*flagMap)
	if err != nil {
		log.Fatal("Invalid --map value", "error", err)
	}

	ok, err := database.HasBookingTables(ctx)
	if err != nil {
		log.Fatal("Checking booking tables", "error", err)
	}
	if !ok {
		log.Fatal("Booking tables are not present in this database")
	}

	store := db.NewMappingStore(database, db.NewFeedStore(database, 1))
	mapper := mapping.NewMapper(store, store, store, log)

	result, err := mapper.MapEntities(ctx, *flagFeedID, entityType)
	if err != nil {
		log.Fatal("Mapping failed", "error", err)
	}

	log.Info("Mapping completed",
		"feed_id", result.FeedID,
		"entity_type", string(result.EntityType),
		"mapped", result.Mapped)
	for _, u := range result.Unmapped {
		log.Warn("Unmapped entity", "entity_id", u.EntityID, "reason", u.Reason)
	}
}

func parseEntityType(s string) (models.MappingEntityType, error) {
	switch s {
	case "routes":
		return models.MapRoutes, nil
	case "stops":
		return models.MapStops, nil
	case "schedules":
		return models.MapSchedules, nil
	case "fares":
		return models.MapFares, nil
	default:
		return "", fmt.Errorf("unknown entity type %q", s)
	}
}

func runValidateFeed(ctx context.Context, cfg *config.Config, database *db.DB, log logger.Logger) {
	if *flagFeedID == 0 {
		log.Fatal("--feed-id is required for --validate-feed")
	}

	store := db.NewFeedStore(database, cfg.Import.BatchSize)
	report, err := store.ValidateFeed(ctx, *flagFeedID)
	if err != nil {
		log.Fatal("Validation failed to run", "error", err)
	}

	if report.Empty() {
		log.Info("Feed is referentially consistent", "feed_id", *flagFeedID)
		return
	}
	for _, msg := range report.Messages() {
		log.Error("Dangling reference", "feed_id", *flagFeedID, "detail", msg)
	}
	os.Exit(1)
}

func runDeleteFeed(ctx context.Context, database *db.DB, log logger.Logger) {
	if *flagFeedID == 0 {
		log.Fatal("--feed-id is required for --delete-feed")
	}

	m := maintenance.New(database, log)
	result, err := m.DeleteFeed(ctx, *flagFeedID)
	if err != nil {
		log.Fatal("Delete failed", "error", err)
	}
	log.Info("Feed deleted",
		"feed_id", result.FeedID,
		"feed_name", result.Name,
		"records_deleted", result.RecordsDeleted)
}

func runPrune(ctx context.Context, database *db.DB, log logger.Logger) {
	if *flagName == "" {
		log.Fatal("--name is required for --prune")
	}

	m := maintenance.New(database, log)
	results, err := m.PruneStaleFeeds(ctx, *flagName, *flagKeep)
	if err != nil {
		log.Fatal("Prune failed", "error", err)
	}
	log.Info("Prune completed", "feed_name", *flagName, "generations_removed", len(results))
}
