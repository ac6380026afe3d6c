package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"co2ledger.org/internal/ledger"
)

// Store persists the ledger tables in Postgres. One row per asset carries
// owner, metadata, paused and parent columns; presence of a column value
// stands in for presence of the corresponding logical record. Emissions live
// in their own table keyed by (asset_id, seq).
type Store struct {
	db *sql.DB
	q  querier
}

// querier is satisfied by both *sql.DB and *sql.Tx, so the same accessors
// serve direct calls and calls inside WithinTx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var _ ledger.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db, q: db}, nil
}

// NewWithDB wraps an existing connection, used by tests and the migrator.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db, q: db} }

// WithinTx runs fn against a view whose writes all commit together. Nested
// calls reuse the enclosing transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(ledger.Store) error) error {
	if _, ok := s.q.(*sql.Tx); ok {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(&Store{db: s.db, q: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) NextID(ctx context.Context) (ledger.AssetID, error) {
	var next int64
	err := s.q.QueryRowContext(ctx, `select next_id from asset_counter where id=1`).Scan(&next)
	if errors.Is(err, sql.ErrNoRows) {
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return ledger.AssetID(next), nil
}

func (s *Store) SetNextID(ctx context.Context, id ledger.AssetID) error {
	_, err := s.q.ExecContext(ctx, `
		insert into asset_counter(id, next_id) values (1, $1)
		on conflict (id) do update set next_id = excluded.next_id
	`, int64(id))
	return err
}

func (s *Store) Owner(ctx context.Context, id ledger.AssetID) (ledger.Account, bool, error) {
	var owner sql.NullString
	err := s.q.QueryRowContext(ctx, `select owner from assets where id=$1`, int64(id)).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if !owner.Valid {
		return "", false, nil
	}
	return ledger.Account(owner.String), true, nil
}

func (s *Store) SetOwner(ctx context.Context, id ledger.AssetID, owner ledger.Account) error {
	_, err := s.q.ExecContext(ctx, `
		insert into assets(id, owner) values ($1, $2)
		on conflict (id) do update set owner = excluded.owner
	`, int64(id), string(owner))
	return err
}

func (s *Store) HasAsset(ctx context.Context, id ledger.AssetID) (bool, error) {
	var one int
	err := s.q.QueryRowContext(ctx, `select 1 from assets where id=$1 and owner is not null`, int64(id)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) Metadata(ctx context.Context, id ledger.AssetID) ([]byte, bool, error) {
	var metadata []byte
	var present bool
	err := s.q.QueryRowContext(ctx,
		`select metadata, metadata is not null from assets where id=$1`, int64(id)).
		Scan(&metadata, &present)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if !present {
		return nil, false, nil
	}
	if metadata == nil {
		metadata = []byte{}
	}
	return metadata, true, nil
}

func (s *Store) SetMetadata(ctx context.Context, id ledger.AssetID, metadata []byte) error {
	if metadata == nil {
		metadata = []byte{}
	}
	_, err := s.q.ExecContext(ctx, `
		insert into assets(id, metadata) values ($1, $2)
		on conflict (id) do update set metadata = excluded.metadata
	`, int64(id), metadata)
	return err
}

func (s *Store) Emissions(ctx context.Context, id ledger.AssetID) ([]ledger.CO2Emission, bool, error) {
	rows, err := s.q.QueryContext(ctx, `
		select category, data_source, balanced, value, date
		from emissions where asset_id=$1 order by seq
	`, int64(id))
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var out []ledger.CO2Emission
	for rows.Next() {
		var (
			category   int16
			dataSource []byte
			balanced   bool
			value      int64
			date       int64
		)
		if err := rows.Scan(&category, &dataSource, &balanced, &value, &date); err != nil {
			return nil, false, err
		}
		out = append(out, ledger.CO2Emission{
			Category:   ledger.EmissionsCategory(category),
			DataSource: dataSource,
			Balanced:   balanced,
			Value:      uint64(value),
			Date:       date,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	// The ledger never stores an empty sequence, so zero rows means absent.
	if len(out) == 0 {
		return nil, false, nil
	}
	return out, true, nil
}

// SetEmissions replaces the whole sequence. The delete and the inserts share
// one transaction scope, either the caller's or one of their own.
func (s *Store) SetEmissions(ctx context.Context, id ledger.AssetID, emissions []ledger.CO2Emission) error {
	return s.WithinTx(ctx, func(st ledger.Store) error {
		tx := st.(*Store).q
		if _, err := tx.ExecContext(ctx, `delete from emissions where asset_id=$1`, int64(id)); err != nil {
			return err
		}
		for seq, e := range emissions {
			if _, err := tx.ExecContext(ctx, `
				insert into emissions(asset_id, seq, category, data_source, balanced, value, date)
				values ($1,$2,$3,$4,$5,$6,$7)
			`, int64(id), seq, int16(e.Category), e.DataSource, e.Balanced, int64(e.Value), e.Date); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Paused(ctx context.Context, id ledger.AssetID) (bool, bool, error) {
	var paused sql.NullBool
	err := s.q.QueryRowContext(ctx, `select paused from assets where id=$1`, int64(id)).Scan(&paused)
	if errors.Is(err, sql.ErrNoRows) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	if !paused.Valid {
		return false, false, nil
	}
	return paused.Bool, true, nil
}

func (s *Store) SetPaused(ctx context.Context, id ledger.AssetID, paused bool) error {
	_, err := s.q.ExecContext(ctx, `
		insert into assets(id, paused) values ($1, $2)
		on conflict (id) do update set paused = excluded.paused
	`, int64(id), paused)
	return err
}

func (s *Store) Parent(ctx context.Context, id ledger.AssetID) (*ledger.ParentRef, bool, error) {
	var (
		present  bool
		parentID sql.NullInt64
		relation sql.NullInt64
	)
	err := s.q.QueryRowContext(ctx,
		`select parent_set, parent_id, parent_relation from assets where id=$1`, int64(id)).
		Scan(&present, &parentID, &relation)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if !present {
		return nil, false, nil
	}
	if !parentID.Valid {
		// Root asset: record present, no reference.
		return nil, true, nil
	}
	return &ledger.ParentRef{
		ID:       ledger.AssetID(parentID.Int64),
		Relation: uint64(relation.Int64),
	}, true, nil
}

func (s *Store) SetParent(ctx context.Context, id ledger.AssetID, parent *ledger.ParentRef) error {
	var parentID, relation any
	if parent != nil {
		parentID = int64(parent.ID)
		relation = int64(parent.Relation)
	}
	_, err := s.q.ExecContext(ctx, `
		insert into assets(id, parent_set, parent_id, parent_relation) values ($1, true, $2, $3)
		on conflict (id) do update
		set parent_set = true, parent_id = excluded.parent_id, parent_relation = excluded.parent_relation
	`, int64(id), parentID, relation)
	return err
}

func (s *Store) OwnedAssets(ctx context.Context, owner ledger.Account) ([]ledger.AssetID, error) {
	rows, err := s.q.QueryContext(ctx,
		`select asset_id from owned_assets where owner=$1 order by asset_id`, string(owner))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []ledger.AssetID{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, ledger.AssetID(id))
	}
	return ids, rows.Err()
}

func (s *Store) AddOwned(ctx context.Context, owner ledger.Account, id ledger.AssetID) error {
	_, err := s.q.ExecContext(ctx, `
		insert into owned_assets(owner, asset_id) values ($1, $2)
		on conflict do nothing
	`, string(owner), int64(id))
	return err
}

func (s *Store) RemoveOwned(ctx context.Context, owner ledger.Account, id ledger.AssetID) error {
	_, err := s.q.ExecContext(ctx,
		`delete from owned_assets where owner=$1 and asset_id=$2`, string(owner), int64(id))
	return err
}
