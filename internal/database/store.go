package database

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"crm-backend/internal/remote"
)

// Store serves remote.Client directly against Postgres. Rows travel as JSON
// so the same decode path is used as with the REST adapter.
type Store struct {
	db  *sqlx.DB
	log logrus.FieldLogger
}

var _ remote.Client = (*Store)(nil)

func NewStore(db *Database, log logrus.FieldLogger) *Store {
	return &Store{
		db:  sqlx.NewDb(stdlib.OpenDBFromPool(db.Pool), "pgx"),
		log: log.WithField("component", "store"),
	}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) queryJSON(ctx context.Context, query string, args map[string]interface{}) ([]byte, error) {
	s.log.WithField("sql", query).Debug("query")

	rows, err := s.db.NamedQueryContext(ctx, query, args)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var data []byte
	if rows.Next() {
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return data, nil
}

func (s *Store) Select(ctx context.Context, table string, q remote.Query, dest interface{}) error {
	query, args, err := buildSelect(table, q)
	if err != nil {
		return err
	}
	data, err := s.queryJSON(ctx, query, args)
	if err != nil {
		return err
	}
	return remote.DecodeRows(data, dest)
}

func (s *Store) Insert(ctx context.Context, table string, row interface{}, dest interface{}) error {
	query, args, err := buildInsert(table, row)
	if err != nil {
		return err
	}
	data, err := s.queryJSON(ctx, query, args)
	if err != nil {
		return err
	}
	if dest == nil {
		return nil
	}
	return remote.DecodeRows(data, dest)
}

func (s *Store) Update(ctx context.Context, table string, filters []remote.Filter, patch interface{}, dest interface{}) error {
	query, args, err := buildUpdate(table, filters, patch)
	if err != nil {
		return err
	}
	data, err := s.queryJSON(ctx, query, args)
	if err != nil {
		return err
	}
	if dest == nil {
		return nil
	}
	return remote.DecodeRows(data, dest)
}

func (s *Store) Delete(ctx context.Context, table string, filters []remote.Filter) error {
	query, args, err := buildDelete(table, filters)
	if err != nil {
		return err
	}
	s.log.WithField("sql", query).Debug("exec")
	if _, err := s.db.NamedExecContext(ctx, query, args); err != nil {
		return mapError(err)
	}
	return nil
}

func (s *Store) RPC(ctx context.Context, fn string, args interface{}, dest interface{}) error {
	query, named, err := buildRPC(fn, args)
	if err != nil {
		return err
	}
	data, err := s.queryJSON(ctx, query, named)
	if err != nil {
		return err
	}
	if dest == nil {
		return nil
	}
	return remote.DecodeRows(data, dest)
}

// mapError turns Postgres failures into the same remote.Error shape the REST
// adapter produces.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return remote.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	status := http.StatusBadRequest
	switch pgErr.Code {
	case "23505":
		status = http.StatusConflict
	case "42501":
		status = http.StatusForbidden
	case "P0002":
		status = http.StatusNotFound
	case "42P01", "42883":
		status = http.StatusNotFound
	}
	return &remote.Error{
		Status:  status,
		Code:    pgErr.Code,
		Message: pgErr.Message,
		Details: pgErr.Detail,
		Hint:    pgErr.Hint,
	}
}
