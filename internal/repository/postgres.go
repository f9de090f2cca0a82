package repository

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/Viktorio135/vpn/internal/models"
	"github.com/Viktorio135/vpn/pkg/logger"
)

// GatewayModels are the tables owned by the gateway.
var GatewayModels = []interface{}{
	&models.User{},
	&models.Node{},
	&models.Subscription{},
	&models.Transaction{},
	&models.AppLock{},
}

// NodeModels are the tables owned by an edge node.
var NodeModels = []interface{}{
	&models.Address{},
	&models.Peer{},
}

// DB is the GORM backed store used by both the gateway and the nodes.
type DB struct {
	logger *logger.Logger

	Conn *gorm.DB
}

func NewPostgresDB(user, password, dbname, host string, port int, logger *logger.Logger) (*DB, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		host, user, password, dbname, port)

	db, err := open(postgres.Open(dsn), logger, GatewayModels...)
	if err != nil {
		return nil, err
	}
	logger.Info("Successfully connected to PostgreSQL!")
	return db, nil
}

// NewSQLiteDB opens (or creates) the SQLite database at path and migrates the given models.
func NewSQLiteDB(path string, logger *logger.Logger, migrate ...interface{}) (*DB, error) {
	db, err := open(sqlite.Open(path+"?_busy_timeout=5000&_foreign_keys=on"), logger, migrate...)
	if err != nil {
		return nil, err
	}

	// SQLite has a single writer; one connection avoids "database is locked".
	sqlDB, err := db.Conn.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	logger.Debug("Opened SQLite database ", path)
	return db, nil
}

func open(dialector gorm.Dialector, logger *logger.Logger, migrate ...interface{}) (*DB, error) {
	// Configure GORM logger to suppress "record not found" messages
	gl := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  true,
		},
	)
	conn, err := gorm.Open(dialector, &gorm.Config{Logger: gl})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := conn.AutoMigrate(migrate...); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate models: %w", err)
	}
	return &DB{Conn: conn, logger: logger}, nil
}

func (db *DB) Close() error {
	sqlDB, err := db.Conn.DB()
	if err != nil {
		return fmt.Errorf("failed to get database connection: %w", err)
	}
	return sqlDB.Close()
}

// notFound converts gorm's record-not-found into models.ErrNotFound.
func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, models.ErrNotFound)
	}
	return fmt.Errorf("failed to get %s: %w", what, err)
}
