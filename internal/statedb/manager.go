package statedb

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Entry is one persisted key/value pair.
type Entry struct {
	Key   string         `gorm:"primaryKey;column:key"`
	Value datatypes.JSON `gorm:"column:value"`
}

// TableName sets the table name for Entry.
func (Entry) TableName() string {
	return "state_entries"
}

// Manager handles the state database connection and implements Store.
type Manager struct {
	DB             *gorm.DB
	SqlDB          *sql.DB
	IsValid        bool
	ShouldUseLocal bool
	Logger         zerolog.Logger

	maxValueBytes int
}

// NewManager creates a new state database manager.
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		IsValid:        false,
		ShouldUseLocal: false,
		Logger:         log,
		maxValueBytes:  viper.GetInt("storage.maxValueBytes"),
	}
}

// Connect establishes the database connection. When db.driver is "postgres"
// a Postgres connection is attempted first, falling back to local SQLite.
func (m *Manager) Connect() error {
	var err error

	if viper.GetString("db.driver") == "postgres" {
		m.DB, err = m.getPostgresDB()
		if err != nil {
			m.Logger.Error().Err(err).Msg("Failed to connect to Postgres DB, trying SQLite")
			m.ShouldUseLocal = true
		}
	} else {
		m.ShouldUseLocal = true
	}

	if m.ShouldUseLocal {
		m.DB, err = m.getSqliteDB(viper.GetString("db.path"))
		if err != nil || m.DB == nil {
			m.IsValid = false
			return fmt.Errorf("failed to get local SQLite DB: %s", err)
		}
	}

	// test connection
	m.SqlDB, err = m.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to access sql interface: %s", err)
	}
	if err = m.SqlDB.Ping(); err != nil {
		m.IsValid = false
		return fmt.Errorf("failed to validate connection: %s", err)
	}
	m.IsValid = true
	m.Logger.Info().Msg("Connected to state database")

	if !m.ShouldUseLocal {
		m.SqlDB.SetMaxOpenConns(10)
	}

	return nil
}

func (m *Manager) getPostgresDB() (*gorm.DB, error) {
	dsn := fmt.Sprintf(`host=%s port=%s user=%s password=%s dbname=%s sslmode=disable`,
		viper.GetString("db.host"),
		viper.GetString("db.port"),
		viper.GetString("db.username"),
		viper.GetString("db.password"),
		viper.GetString("db.database"),
	)

	m.Logger.Debug().Msgf("Connecting to Postgres DB at '%s'", dsn)

	return gorm.Open(postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
}

// getSqliteDB returns a connection to a SQLite database.
// If path is empty, uses an in-memory database.
func (m *Manager) getSqliteDB(path string) (*gorm.DB, error) {
	dsn := path
	if dsn == "" {
		dsn = "file::memory:?cache=shared"
		m.Logger.Info().Msg("Using in-memory SQLite state DB")
	} else {
		m.Logger.Info().Str("path", path).Msg("Using local SQLite state DB")
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		PrepareStmt:            true,
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		m.IsValid = false
		return nil, err
	}

	// set PRAGMAS
	pragmas := []string{
		"PRAGMA user_version = 1;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA temp_store = MEMORY;",
	}
	for _, pragma := range pragmas {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("error setting PRAGMA: %s", err)
		}
	}

	return db, nil
}

// Setup migrates the state schema.
func (m *Manager) Setup() error {
	if err := m.DB.AutoMigrate(&Entry{}); err != nil {
		m.IsValid = false
		return fmt.Errorf("failed to migrate state schema: %s", err)
	}
	m.Logger.Info().Msg("State database setup complete")
	return nil
}

// Get returns the value stored under key.
func (m *Manager) Get(key string) ([]byte, bool, error) {
	var entry Entry
	err := m.DB.Where("key = ?", key).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("error reading key %q: %w", key, err)
	}
	return []byte(entry.Value), true, nil
}

// Set persists value under key. Values larger than the configured
// storage.maxValueBytes are refused with ErrQuota.
func (m *Manager) Set(key string, value []byte) error {
	if m.maxValueBytes > 0 && len(value) > m.maxValueBytes {
		return ErrQuota
	}
	err := m.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&Entry{Key: key, Value: datatypes.JSON(value)}).Error
	if err != nil {
		return fmt.Errorf("error writing key %q: %w", key, err)
	}
	return nil
}

// Delete removes key from the store.
func (m *Manager) Delete(key string) error {
	if err := m.DB.Where("key = ?", key).Delete(&Entry{}).Error; err != nil {
		return fmt.Errorf("error deleting key %q: %w", key, err)
	}
	return nil
}

// Close closes the underlying connection.
func (m *Manager) Close() error {
	if m.SqlDB == nil {
		return nil
	}
	return m.SqlDB.Close()
}
