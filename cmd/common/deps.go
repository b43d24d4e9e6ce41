// Package common provides shared dependency wiring for CLI commands.
package common

import (
	"fmt"
	"strconv"

	"github.com/jmoiron/sqlx"

	"github.com/NightMareKD/crawler-medicine/internal/blob"
	"github.com/NightMareKD/crawler-medicine/internal/config"
	"github.com/NightMareKD/crawler-medicine/internal/database"
	"github.com/NightMareKD/crawler-medicine/internal/logger"
)

// Deps bundles the dependencies shared by all commands: configuration,
// logging, the database connection, and the repositories on top of it.
type Deps struct {
	Config *config.Config
	Logger logger.Interface
	DB     *sqlx.DB

	CrawlQueue *database.CrawlQueueRepository
	OCRQueue   *database.OCRQueueRepository
	Documents  *database.DocumentRepository
	Audit      *database.AuditRepository
}

// BuildDeps loads configuration and constructs the shared dependencies.
// Callers own the returned Deps and must Close them.
func BuildDeps() (*Deps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	log := logger.New(logger.Config{
		Level:       cfg.Logger.Level,
		Encoding:    cfg.Logger.Encoding,
		Development: cfg.Logger.Development,
	})

	db, err := database.NewPostgresConnection(database.Config{
		Host:     cfg.Database.Host,
		Port:     strconv.Itoa(cfg.Database.Port),
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &Deps{
		Config:     cfg,
		Logger:     log,
		DB:         db,
		CrawlQueue: database.NewCrawlQueueRepository(db),
		OCRQueue:   database.NewOCRQueueRepository(db),
		Documents:  database.NewDocumentRepository(db),
		Audit:      database.NewAuditRepository(db),
	}, nil
}

// BuildBlobStore constructs the asset store from configuration.
func (d *Deps) BuildBlobStore() (*blob.Store, error) {
	return blob.NewStore(blob.Config{
		Endpoint:  d.Config.Storage.Endpoint,
		AccessKey: d.Config.Storage.AccessKey,
		SecretKey: d.Config.Storage.SecretKey,
		UseSSL:    d.Config.Storage.UseSSL,
		Bucket:    d.Config.Storage.Bucket,
	}, d.Logger)
}

// Close releases held resources.
func (d *Deps) Close() {
	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			d.Logger.Warn("failed to close database connection", "error", err.Error())
		}
	}
}
