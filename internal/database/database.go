package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strconv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/emilythestrangee/memories/backend/internal/models"
)

// Service represents a service that interacts with a database.
type Service interface {
	// Health returns a map of health status information.
	// The keys and values in the map are service-specific.
	Health(ctx context.Context) map[string]string

	// Close terminates the database connection.
	// It returns an error if the connection cannot be closed.
	Close() error
	GetDB() *gorm.DB
}

type service struct {
	db  *gorm.DB
	log logrus.FieldLogger
}

// Options tune the connection.
type Options struct {
	DSN     string
	Verbose bool
	Logger  *logrus.Logger
}

// New opens a pgx backed connection pool, wraps it in GORM and runs the
// schema migrations.
func New(opts Options) (Service, error) {
	sqlDB, err := sql.Open("pgx", opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	level := logger.Warn
	if opts.Verbose {
		level = logger.Info
	}
	gormLogger := logger.New(
		log.New(opts.Logger.Writer(), "\r\n", 0),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: gormLogger,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("error initialising gorm: %w", err)
	}

	opts.Logger.Info("Database connected successfully")

	if err := Migrate(db); err != nil {
		sqlDB.Close()
		return nil, err
	}

	opts.Logger.Info("Database migrations completed")

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return &service{db: db, log: opts.Logger}, nil
}

// Migrate creates or updates the tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.User{}, &models.Post{}); err != nil {
		return fmt.Errorf("error migrating database: %w", err)
	}
	// Serves the tag overlap (&&) predicate used by search.
	if err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_posts_tags ON posts USING GIN (tags)`).Error; err != nil {
		return fmt.Errorf("error creating tag index: %w", err)
	}
	return nil
}

func (s *service) GetDB() *gorm.DB {
	return s.db
}

// Health pings the database and reports connection pool usage. Status is
// "down" when the ping fails.
func (s *service) Health(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		s.log.WithError(err).Warn("Database health check failed")
		return map[string]string{"status": "down", "error": err.Error()}
	}

	pool := sqlDB.Stats()
	return map[string]string{
		"status":           "up",
		"open_connections": strconv.Itoa(pool.OpenConnections),
		"in_use":           strconv.Itoa(pool.InUse),
		"idle":             strconv.Itoa(pool.Idle),
		"max_open":         strconv.Itoa(pool.MaxOpenConnections),
		"wait_count":       strconv.FormatInt(pool.WaitCount, 10),
		"wait_duration":    pool.WaitDuration.String(),
	}
}

// Close closes the database connection.
func (s *service) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}

	s.log.Info("Disconnected from database")
	return sqlDB.Close()
}
