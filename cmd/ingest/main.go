package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/timmy/kindred/internal/config"
	"github.com/timmy/kindred/internal/index"
	"github.com/timmy/kindred/internal/logger"
	"github.com/timmy/kindred/internal/metrics"
	"github.com/timmy/kindred/internal/repository"
	"github.com/timmy/kindred/internal/service"
	"github.com/timmy/kindred/internal/source/localdir"
	"github.com/timmy/kindred/internal/storage"
)

func main() {
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "json",
		ServiceName: "kindred-ingest",
	})
	logger.SetDefaultLogger(appLogger)

	rootCmd := &cobra.Command{
		Use:   "kindred-ingest",
		Short: "Catalog ingestion and maintenance for kindred",
		Long: `kindred-ingest embeds local image files into the catalog and runs
maintenance over user taste vectors.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", "", "Path to config file")

	rootCmd.AddCommand(
		newRunCmd(),
		newReconcileCmd(),
		newSeedCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		appLogger.WithError(err).Error("Command failed")
		os.Exit(1)
	}
}

// deps holds what every subcommand needs.
type deps struct {
	cfg       *config.Config
	db        *gorm.DB
	index     index.Index
	users     *repository.UserRepository
	images    *repository.ImageRepository
	favorites *repository.FavoriteRepository
	imageVecs *repository.VectorStore
	userVecs  *repository.VectorStore
	favorite  *service.FavoriteService
}

func (d *deps) Close() {
	if d.index != nil {
		d.index.Close()
	}
	if sqlDB, err := d.db.DB(); err == nil {
		sqlDB.Close()
	}
}

func setup(cmd *cobra.Command) (*deps, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	dim := cfg.Embedding.Dimensions
	d := &deps{
		cfg:       cfg,
		db:        db,
		users:     repository.NewUserRepository(db),
		images:    repository.NewImageRepository(db),
		favorites: repository.NewFavoriteRepository(db),
		imageVecs: repository.NewImageVectorStore(db, dim),
		userVecs:  repository.NewUserVectorStore(db, dim),
	}

	d.index, err = index.New(cmd.Context(), &cfg.Index, dim, db)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to initialize similarity index: %w", err)
	}

	agg := service.NewAggregator(d.favorites, d.imageVecs, d.userVecs, d.index)
	d.favorite = service.NewFavoriteService(db, d.users, d.images, d.favorites, d.userVecs, agg, d.index, metrics.NewNoop(), logger.GetDefault())

	// In-process backends start empty; load them so recomputes during ingest
	// see the other users.
	if !index.Persistent(d.index) {
		if _, err := d.favorite.BootstrapIndex(cmd.Context()); err != nil {
			d.Close()
			return nil, err
		}
	}
	return d, nil
}

// warnDetachedIndex logs when the index lives only in this process. Vectors
// written here reach the database, but a running API server keeps serving its
// own in-memory copy until it reconciles or restarts.
func warnDetachedIndex(log *logger.Logger, idx index.Index) bool {
	if index.Persistent(idx) {
		return false
	}
	log.WithField("backend", idx.Backend()).
		Warn("Similarity index is in-process; a running API server will not see these user vectors until POST /api/v1/admin/reconcile or a restart")
	return true
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Embed image files from a directory into the catalog",
		Long: `Walk a directory of images, embed each file and store the vector under
the image URL. With storage enabled the files are uploaded and the public
URL becomes the catalog key.

Examples:
  kindred-ingest run --limit 100
  kindred-ingest run --dir ./static/images --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			urlPrefix, _ := cmd.Flags().GetString("url-prefix")
			limit, _ := cmd.Flags().GetInt("limit")
			force, _ := cmd.Flags().GetBool("force")

			d, err := setup(cmd)
			if err != nil {
				return err
			}
			defer d.Close()
			warnDetachedIndex(logger.GetDefault(), d.index)

			if err := d.cfg.Embedding.ValidateWithAPIKey(); err != nil {
				return err
			}
			if dir == "" {
				dir = d.cfg.Ingest.Root
			}
			if !cmd.Flags().Changed("url-prefix") {
				urlPrefix = d.cfg.Ingest.URLPrefix
			}

			objectStorage, err := storage.NewStorage(&d.cfg.Storage)
			if err != nil {
				return fmt.Errorf("failed to initialize storage: %w", err)
			}
			if b, ok := objectStorage.(interface{ EnsureBucket(context.Context) error }); ok {
				if err := b.EnsureBucket(cmd.Context()); err != nil {
					return fmt.Errorf("failed to ensure storage bucket: %w", err)
				}
			}

			embedder := service.NewJinaImageEmbedder(&d.cfg.Embedding)
			defer embedder.Close()

			ingestService := service.NewIngestService(
				d.db,
				d.images,
				d.imageVecs,
				d.favorites,
				d.favorite,
				embedder,
				objectStorage,
				metrics.NewNoop(),
				logger.GetDefault(),
				&service.IngestConfig{
					Workers:       d.cfg.Ingest.Workers,
					BatchSize:     d.cfg.Ingest.BatchSize,
					StoragePrefix: d.cfg.Storage.Prefix,
				},
			)

			logger.GetDefault().WithFields(logger.Fields{
				logger.FieldSource: localdir.SourceID,
				"dir":              dir,
				"limit":            limit,
				"force":            force,
			}).Info("Starting ingestion")

			stats, err := ingestService.IngestFromSource(cmd.Context(), localdir.NewAdapter(dir, urlPrefix), limit, &service.IngestOptions{
				Force: force,
			})
			if err != nil {
				return fmt.Errorf("failed to ingest from %s: %w", dir, err)
			}
			logger.GetDefault().WithFields(logger.Fields{
				"total":     stats.TotalItems,
				"processed": stats.ProcessedItems,
				"skipped":   stats.SkippedItems,
				"failed":    stats.FailedItems,
			}).Info("Ingestion completed")
			return nil
		},
	}
	cmd.Flags().String("dir", "", "Image directory (defaults to ingest.root)")
	cmd.Flags().String("url-prefix", "", "URL prefix for files when storage is disabled (defaults to ingest.url_prefix)")
	cmd.Flags().Int("limit", 100, "Maximum number of files to ingest")
	cmd.Flags().Bool("force", false, "Re-embed images that already have a vector")
	return cmd
}

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Recompute every user vector from stored favorites",
		Long: `Recompute each user's taste vector from the current favorites and
rewrite the similarity index. Use after a crash or a backend switch.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := setup(cmd)
			if err != nil {
				return err
			}
			defer d.Close()
			warnDetachedIndex(logger.GetDefault(), d.index)

			stats, err := d.favorite.ReconcileAll(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "users=%d with_vector=%d failed=%d index_entries=%d\n",
				stats.Users, stats.WithVector, stats.Failed, stats.IndexEntries)
			if stats.Failed > 0 {
				return fmt.Errorf("%d users failed to reconcile", stats.Failed)
			}
			return nil
		},
	}
}

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed [username...]",
		Short: "Create users",
		Long: `Create the named users, or the users listed under users.seed when no
names are given. Existing users are left unchanged.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := setup(cmd)
			if err != nil {
				return err
			}
			defer d.Close()

			names := args
			if len(names) == 0 {
				names = d.cfg.Users.Seed
			}
			users, err := service.NewUserService(d.users).EnsureUsers(cmd.Context(), names)
			if err != nil {
				return err
			}
			for _, u := range users {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", u.ID, u.Username)
			}
			return nil
		},
	}
}
