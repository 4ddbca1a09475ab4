package devapi

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/spsgroup/spsadmin/internal/auth"
	"github.com/spsgroup/spsadmin/internal/models"
)

// MemoryDSN keeps the whole database in process memory
const MemoryDSN = ":memory:"

// Seed account used by local development and end-to-end tests
const (
	SeedName     = "Administrador"
	SeedEmail    = "admin@spsgroup.com.br"
	SeedPassword = "1234"
)

// ErrEmailTaken is returned when another account already uses the email
var ErrEmailTaken = errors.New("email already registered")

// Account is the persisted form of a user
type Account struct {
	ID           int64       `gorm:"primaryKey;autoIncrement"`
	Name         string      `gorm:"not null"`
	Email        string      `gorm:"not null;uniqueIndex"`
	PasswordHash string      `gorm:"not null"`
	Role         models.Role `gorm:"not null;default:user"`
	Avatar       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// User converts the account to its wire form
func (a Account) User() models.User {
	created := a.CreatedAt
	return models.User{
		ID:        a.ID,
		Name:      a.Name,
		Email:     a.Email,
		Role:      a.Role,
		Avatar:    a.Avatar,
		CreatedAt: &created,
	}
}

// openDatabase opens the sqlite database and migrates the schema
func openDatabase(dsn string, zlog zerolog.Logger) (*gorm.DB, error) {
	const busyTimeout = 5000 // 5 seconds

	if dsn == "" {
		dsn = MemoryDSN
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.New(
			log.New(os.Stderr, "\r\n", log.LstdFlags),
			logger.Config{
				LogLevel:                  logger.Error,
				IgnoreRecordNotFoundError: true,
				SlowThreshold:             200 * time.Millisecond,
			},
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	// Every new connection to :memory: is a fresh empty database
	if strings.Contains(dsn, ":memory:") {
		sqlDB.SetMaxOpenConns(1)
	}

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeout),
		"PRAGMA foreign_keys=1",
	}
	for _, pragma := range pragmas {
		if err := db.Exec(pragma).Error; err != nil {
			zlog.Warn().Str("pragma", pragma).Err(err).Msg("Failed to apply pragma")
		}
	}

	if err := db.AutoMigrate(&Account{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}

// seedAdmin creates the super_admin account when the database has no accounts
func seedAdmin(db *gorm.DB, zlog zerolog.Logger) error {
	var count int64
	if err := db.Model(&Account{}).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to count accounts: %w", err)
	}
	if count > 0 {
		return nil
	}

	passwordHash, err := auth.HashPassword(SeedPassword)
	if err != nil {
		return fmt.Errorf("failed to hash seed password: %w", err)
	}

	account := &Account{
		Name:         SeedName,
		Email:        SeedEmail,
		PasswordHash: passwordHash,
		Role:         models.RoleSuperAdmin,
	}
	if err := db.Create(account).Error; err != nil {
		return fmt.Errorf("failed to create seed account: %w", err)
	}

	zlog.Info().Int64("user_id", account.ID).Str("email", account.Email).Msg("Seed account created")
	return nil
}

// emailTaken reports whether another account than exceptID uses email
func emailTaken(db *gorm.DB, email string, exceptID int64) (bool, error) {
	var count int64
	err := db.Model(&Account{}).
		Where("email = ? AND id <> ?", email, exceptID).
		Count(&count).Error
	return count > 0, err
}
