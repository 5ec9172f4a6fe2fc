package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/rpattn/batchwatch/internal/db"
)

type viewRepository struct {
	conn *db.Connection
}

// NewViewRepository wires a repository backed by a database connection.
func NewViewRepository(conn *db.Connection) ViewRepository {
	return &viewRepository{conn: conn}
}

// Replace swaps the view definition inside one transaction. The drop and
// create commit together, so readers never observe a missing view.
func (r *viewRepository) Replace(ctx context.Context, viewName string, viewSQL string) error {
	if err := checkIdent(viewName); err != nil {
		return err
	}

	return r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, fmt.Sprintf("DROP VIEW IF EXISTS %s", quoteIdent(viewName))); err != nil {
			return fmt.Errorf("failed to drop view %s: %w", viewName, err)
		}
		if _, err := tx.Exec(ctx, fmt.Sprintf("CREATE VIEW %s AS %s", quoteIdent(viewName), viewSQL)); err != nil {
			return fmt.Errorf("failed to create view %s: %w", viewName, err)
		}
		return nil
	})
}

func (r *viewRepository) Drop(ctx context.Context, viewName string) error {
	if err := checkIdent(viewName); err != nil {
		return err
	}
	if _, err := r.conn.Pool.Exec(ctx, fmt.Sprintf("DROP VIEW IF EXISTS %s", quoteIdent(viewName))); err != nil {
		return fmt.Errorf("failed to drop view %s: %w", viewName, err)
	}
	return nil
}
