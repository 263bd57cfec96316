package db

import (
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/saathi-app/saathi-backend/internal/domain/convo"
	"github.com/saathi-app/saathi-backend/internal/domain/user"
	"github.com/saathi-app/saathi-backend/internal/pkg/envutil"
	"github.com/saathi-app/saathi-backend/internal/pkg/logger"
)

type Service struct {
	db  *gorm.DB
	log *logger.Logger
}

// New connects to Postgres when POSTGRES_HOST is set, otherwise falls back
// to a local sqlite file (the original deployment path for dev installs).
func New(log *logger.Logger) (*Service, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	svcLog := log.With("service", "DBService")

	host := envutil.String("POSTGRES_HOST", "")
	if host == "" {
		path := envutil.String("SQLITE_PATH", "saathi.db")
		svcLog.Info("Connecting to sqlite", "path", path)
		gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return &Service{db: gdb, log: svcLog}, nil
	}

	port := envutil.String("POSTGRES_PORT", "5432")
	dbUser := envutil.String("POSTGRES_USER", "postgres")
	password := envutil.String("POSTGRES_PASSWORD", "")
	name := envutil.String("POSTGRES_NAME", "saathi")

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", dbUser, password, host, port, name)

	svcLog.Info("Connecting to Postgres", "host", host, "db", name)
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to Postgres: %w", err)
	}

	if err := gdb.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
		return nil, fmt.Errorf("enable uuid-ossp extension: %w", err)
	}

	return &Service{db: gdb, log: svcLog}, nil
}

func (s *Service) AutoMigrateAll() error {
	s.log.Info("Auto migrating tables...")
	err := s.db.AutoMigrate(
		&user.User{},
		&convo.Turn{},
		&convo.CrisisIncident{},
	)
	if err != nil {
		s.log.Error("Auto migration failed", "error", err)
		return err
	}
	if s.db.Dialector.Name() == "postgres" {
		stmts := []string{
			`ALTER TABLE "turn" DROP CONSTRAINT IF EXISTS "fk_turn_user_id"`,
			`ALTER TABLE "turn" ADD CONSTRAINT "fk_turn_user_id" FOREIGN KEY ("user_id") REFERENCES "app_user"("id") ON DELETE CASCADE`,
			`ALTER TABLE "crisis_incident" DROP CONSTRAINT IF EXISTS "fk_crisis_incident_turn_id"`,
			`ALTER TABLE "crisis_incident" ADD CONSTRAINT "fk_crisis_incident_turn_id" FOREIGN KEY ("turn_id") REFERENCES "turn"("id") ON DELETE CASCADE`,
		}
		for _, stmt := range stmts {
			if err := s.db.Exec(stmt).Error; err != nil {
				return fmt.Errorf("configure foreign keys: %w", err)
			}
		}
	}
	return nil
}

func (s *Service) DB() *gorm.DB {
	return s.db
}

func (s *Service) IsPostgres() bool {
	return strings.EqualFold(s.db.Dialector.Name(), "postgres")
}
