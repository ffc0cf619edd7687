package migrate

import (
	"context"
	"database/sql"
	"embed"
	"io/fs"
	"log/slog"

	"fitcart/internal/logger"
	"github.com/go-faster/errors"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// MigrationsTable keeps the session schema's history apart from any other
// application sharing the database.
const MigrationsTable = "fitcart_schema_migrations"

//go:embed sql/*.sql
var migrationsFS embed.FS

// Apply brings the session storage schema up to date and logs the resulting
// version. A schema that is already current is not an error.
func Apply(ctx context.Context, pool *pgxpool.Pool, log *slog.Logger) error {
	log = logger.OrDiscard(log)

	srcDriver, err := iofs.New(migrationsFS, "sql")
	if err != nil {
		return errors.Wrap(err, "read session migrations")
	}

	sqlDB, err := sql.Open("pgx", pool.Config().ConnString())
	if err != nil {
		return errors.Wrap(err, "open sql db")
	}
	defer sqlDB.Close()

	if err := sqlDB.PingContext(ctx); err != nil {
		return errors.Wrap(err, "ping sql db")
	}

	dbDriver, err := postgres.WithInstance(sqlDB, &postgres.Config{MigrationsTable: MigrationsTable})
	if err != nil {
		return errors.Wrap(err, "init db driver")
	}

	m, err := migrate.NewWithInstance("iofs", srcDriver, "pgx", dbDriver)
	if err != nil {
		return errors.Wrap(err, "init migrate")
	}
	defer m.Close()

	err = m.Up()
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		version, _, _ := m.Version()
		log.Info("session schema up to date", "version", version)
		return nil
	case errors.Is(err, fs.ErrNotExist):
		return errors.Wrap(err, "migrate up (every version under internal/migrate/sql needs both .up.sql and .down.sql)")
	case err != nil:
		return errors.Wrap(err, "migrate up")
	}

	version, dirty, err := m.Version()
	if err != nil {
		return errors.Wrap(err, "read schema version")
	}
	log.Info("session schema migrated", "version", version, "dirty", dirty)
	return nil
}
