// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/poiesic/folio/storage"
	"github.com/pressly/goose/v3"
)

//go:embed migrations
var embedMigrations embed.FS

func migrationProvider(db *sql.DB, dialect Dialect) (*goose.Provider, error) {
	var (
		gooseDialect goose.Dialect
		dir          string
	)
	switch dialect {
	case DialectSQLite:
		gooseDialect, dir = goose.DialectSQLite3, "migrations/sqlite"
	case DialectPostgres:
		gooseDialect, dir = goose.DialectPostgres, "migrations/postgres"
	default:
		return nil, fmt.Errorf("no migrations for dialect %q", dialect)
	}

	fsys, err := fs.Sub(embedMigrations, dir)
	if err != nil {
		return nil, err
	}
	provider, err := goose.NewProvider(gooseDialect, db, fsys)
	if err != nil {
		return nil, fmt.Errorf("failed to create goose provider: %w", err)
	}
	return provider, nil
}

func migrate(ctx context.Context, db *sql.DB, dialect Dialect) error {
	provider, err := migrationProvider(db, dialect)
	if err != nil {
		return err
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("failed to run %s migrations: %w", dialect, err)
	}
	return nil
}

// SchemaVersion reports the applied migration version of store s.
func SchemaVersion(ctx context.Context, s storage.Store) (int64, error) {
	st, ok := s.(*Store)
	if !ok {
		return 0, fmt.Errorf("not a sql store: %T", s)
	}
	provider, err := migrationProvider(st.db, st.dialect)
	if err != nil {
		return 0, err
	}
	return provider.GetDBVersion(ctx)
}
