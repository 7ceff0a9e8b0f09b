package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Driver selects the SQL dialect a Store connects with.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverMySQL    Driver = "mysql"
	DriverSQLite   Driver = "sqlite"
)

// Store is the shared *gorm.DB handle every per-concern adapter in this
// package embeds. One Store backs the ApiKeyStore, ProjectStore,
// KeyStore, OrgKeyProviders, CustomProviderLookup, logqueue.Store,
// topup.Store, and topup.Lock implementations.
type Store struct {
	db *gorm.DB
}

// Open connects to dsn with the given driver and returns a Store ready
// for Migrate. Mirrors the teacher's db_init.go dialect switch.
func Open(driver Driver, dsn string, logger *zap.Logger) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	case DriverMySQL:
		dialector = mysql.Open(dsn)
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("storage: connect: %w", err)
	}
	return &Store{db: db}, nil
}

// Migrate runs AutoMigrate over every model this package owns, mirroring
// the teacher's db_init.go InitDatabase.
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(
		&Organization{},
		&Project{},
		&ApiKey{},
		&ProviderKey{},
		&Log{},
		&Transaction{},
		&PaymentMethod{},
		&Lock{},
	)
}

// ApiKeys returns the api/handlers.ApiKeyStore adapter over this store.
func (s *Store) ApiKeys() *ApiKeyAdapter { return &ApiKeyAdapter{db: s.db} }

// Projects returns the api/handlers.ProjectStore adapter over this store.
func (s *Store) Projects() *ProjectAdapter { return &ProjectAdapter{db: s.db} }

// ProviderKeys returns the credentials.KeyStore / router.OrgKeyProviders /
// router.CustomProviderLookup adapter over this store.
func (s *Store) ProviderKeys() *ProviderKeyAdapter { return &ProviderKeyAdapter{db: s.db} }

// Logs returns the logqueue.Store adapter over this store.
func (s *Store) Logs() *LogAdapter { return &LogAdapter{db: s.db} }

// TopUp returns the topup.Store adapter over this store.
func (s *Store) TopUp() *TopUpAdapter { return &TopUpAdapter{db: s.db} }

// Locks returns the topup.Lock adapter over this store.
func (s *Store) Locks() *LockAdapter { return &LockAdapter{db: s.db} }

// Ping verifies the underlying connection is reachable, for the health
// handler's database check.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
