package indexer

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/R3E-Network/agent-registry-indexer/infrastructure/metrics"
	"github.com/R3E-Network/agent-registry-indexer/internal/platform/database"
)

// Storage is the event store: a Postgres-backed append-only event log plus per-chain sync state
// and a write-through in-memory cache (spec §4.B).
type Storage struct {
	db      *sqlx.DB
	cache   *EventCache
	metrics *metrics.Metrics
}

// SetMetrics attaches a metrics collector; nil-safe, so Storage works unmodified in tests that
// never call it.
func (s *Storage) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// NewStorage opens a connection pool against dsn and wraps it with an event cache of cacheMax
// entries.
func NewStorage(dsn string, maxOpenConns, maxIdleConns int, connMaxLifetime time.Duration, cacheMax int) (*Storage, error) {
	conn, err := database.Open(context.Background(), dsn)
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(maxOpenConns)
	conn.SetMaxIdleConns(maxIdleConns)
	conn.SetConnMaxLifetime(connMaxLifetime)
	db := sqlx.NewDb(conn, "postgres")

	cache, err := NewEventCache(cacheMax)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("build event cache: %w", err)
	}

	return &Storage{db: db, cache: cache}, nil
}

// Close closes the underlying connection pool.
func (s *Storage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// StoreEvent inserts e, tolerating duplicate (chain_id, transaction_hash, log_index) as a no-op
// (I1). Only on an actual insert does it bump total_events_indexed and the cache (spec §4.B).
func (s *Storage) StoreEvent(ctx context.Context, e Event) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO events (
			chain_id, block_number, block_timestamp, transaction_hash, log_index,
			contract_address, event_type, event_data, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (chain_id, transaction_hash, log_index) DO NOTHING
	`, e.ChainID, e.BlockNumber, e.BlockTimestamp, e.TransactionHash, e.LogIndex,
		strings.ToLower(e.ContractAddress), string(e.EventType), []byte(e.EventData), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return nil
	}

	if _, err := s.db.ExecContext(ctx, `
		UPDATE chain_sync_state SET total_events_indexed = total_events_indexed + 1, updated_at = $2
		WHERE chain_id = $1
	`, e.ChainID, time.Now().UTC()); err != nil {
		return fmt.Errorf("increment total_events_indexed: %w", err)
	}

	s.cache.Put(e)
	if s.metrics != nil {
		s.metrics.RecordEventIndexed(e.ChainID, string(e.EventType), e.ContractAddress)
	}
	return nil
}

// buildFilter renders the shared WHERE-clause pipeline for get_recent_events/count_events. It
// returns the clause (joined with AND, prefixed by the caller with "WHERE ") and its positional
// arguments, starting numbering at argOffset+1.
func buildFilter(q EventQuery, argOffset int) (string, []any) {
	var clauses []string
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", argOffset+len(args))
	}

	if len(q.ChainIDs) > 0 {
		placeholders := make([]string, len(q.ChainIDs))
		for i, id := range q.ChainIDs {
			placeholders[i] = next(id)
		}
		clauses = append(clauses, fmt.Sprintf("chain_id IN (%s)", strings.Join(placeholders, ", ")))
	}

	// hours takes precedence over blocks when both are set (§9 open question, resolved in
	// DESIGN.md).
	switch {
	case q.Hours != nil:
		cutoff := time.Now().UTC().Add(-time.Duration(*q.Hours * float64(time.Hour)))
		clauses = append(clauses, fmt.Sprintf("block_timestamp >= %s", next(cutoff)))
	case q.Blocks != nil:
		clauses = append(clauses, fmt.Sprintf(
			"block_number >= (SELECT COALESCE(MAX(block_number), 0) FROM events) - %s", next(*q.Blocks)))
	}

	if q.Contract != nil {
		clauses = append(clauses, fmt.Sprintf("contract_address = %s", next(strings.ToLower(*q.Contract))))
	}

	if q.EventType != nil {
		clauses = append(clauses, fmt.Sprintf("event_type = %s", next(string(*q.EventType))))
	}

	if q.Category != nil && *q.Category != CategoryAll {
		types := ExpandCategory(*q.Category)
		if len(types) == 0 {
			// Empty expansion (capabilities, payments, unknown category) must yield zero rows.
			clauses = append(clauses, "1 = 0")
		} else {
			placeholders := make([]string, len(types))
			for i, t := range types {
				placeholders[i] = next(string(t))
			}
			clauses = append(clauses, fmt.Sprintf("event_type IN (%s)", strings.Join(placeholders, ", ")))
		}
	}

	if q.AgentID != nil {
		clauses = append(clauses, fmt.Sprintf("event_data ->> 'agent_id' = %s", next(*q.AgentID)))
	}

	return strings.Join(clauses, " AND "), args
}

// GetRecentEvents returns events matching query, ordered by (block_number DESC, log_index DESC).
func (s *Storage) GetRecentEvents(ctx context.Context, query EventQuery) ([]Event, error) {
	filter, args := buildFilter(query, 0)
	sqlStr := "SELECT id, chain_id, block_number, block_timestamp, transaction_hash, log_index, contract_address, event_type, event_data, created_at FROM events"
	if filter != "" {
		sqlStr += " WHERE " + filter
	}
	sqlStr += " ORDER BY block_number DESC, log_index DESC"

	limit := query.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	sqlStr += fmt.Sprintf(" LIMIT $%d", len(args))
	args = append(args, query.Offset)
	sqlStr += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := s.db.QueryxContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var data []byte
		var contract string
		var eventType string
		if err := rows.Scan(&e.ID, &e.ChainID, &e.BlockNumber, &e.BlockTimestamp, &e.TransactionHash,
			&e.LogIndex, &contract, &eventType, &data, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.ContractAddress = contract
		e.EventType = EventType(eventType)
		e.EventData = data
		events = append(events, e)
	}
	return events, rows.Err()
}

// CountEvents applies the same predicates as GetRecentEvents, ignoring order/limit/offset.
func (s *Storage) CountEvents(ctx context.Context, query EventQuery) (int64, error) {
	filter, args := buildFilter(query, 0)
	sqlStr := "SELECT COUNT(*) FROM events"
	if filter != "" {
		sqlStr += " WHERE " + filter
	}
	var count int64
	if err := s.db.GetContext(ctx, &count, sqlStr, args...); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return count, nil
}

// UpdateLastSyncedBlockForChain upserts chain_sync_state.last_synced_block.
func (s *Storage) UpdateLastSyncedBlockForChain(ctx context.Context, chainID uint64, block uint64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chain_sync_state (chain_id, last_synced_block, last_sync_time, status, updated_at)
		VALUES ($1, $2, $3, $4, $3)
		ON CONFLICT (chain_id) DO UPDATE SET
			last_synced_block = EXCLUDED.last_synced_block,
			last_sync_time = EXCLUDED.last_sync_time,
			updated_at = EXCLUDED.updated_at
	`, chainID, block, time.Now().UTC(), ChainStatusActive)
	if err != nil {
		return fmt.Errorf("update last synced block: %w", err)
	}
	if s.metrics != nil {
		s.metrics.SetLastSyncedBlock(chainID, block)
	}
	return nil
}

// GetLastSyncedBlockForChain returns 0 if the chain has never synced.
func (s *Storage) GetLastSyncedBlockForChain(ctx context.Context, chainID uint64) (uint64, error) {
	var block uint64
	err := s.db.GetContext(ctx, &block, `SELECT last_synced_block FROM chain_sync_state WHERE chain_id = $1`, chainID)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get last synced block: %w", err)
	}
	return block, nil
}

// UpdateChainStatus implements ChainStatusReporter, satisfying what the supervisor needs.
func (s *Storage) UpdateChainStatus(ctx context.Context, chainID uint64, status ChainStatus, errMsg *string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chain_sync_state (chain_id, status, error_message, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (chain_id) DO UPDATE SET
			status = EXCLUDED.status,
			error_message = EXCLUDED.error_message,
			updated_at = EXCLUDED.updated_at
	`, chainID, status, errMsg, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update chain status: %w", err)
	}
	return nil
}

// ChainInfo joins the static chains directory with its live sync state, for the read API.
type ChainInfo struct {
	ChainID            uint64     `db:"chain_id"`
	Name               string     `db:"name"`
	RPCURL             string     `db:"rpc_url"`
	Enabled            bool       `db:"enabled"`
	IdentityRegistry   string     `db:"identity_registry"`
	ReputationRegistry string     `db:"reputation_registry"`
	ValidationRegistry string     `db:"validation_registry"`
	LastSyncedBlock    uint64     `db:"last_synced_block"`
	LastSyncTime       *time.Time `db:"last_sync_time"`
	Status             *string    `db:"status"`
	ErrorMessage       *string    `db:"error_message"`
	TotalEventsIndexed int64      `db:"total_events_indexed"`
	ErrorsLastHour     int64      `db:"errors_last_hour"`
}

// GetEnabledChains returns the static chain directory joined with sync state, for enabled chains.
func (s *Storage) GetEnabledChains(ctx context.Context) ([]ChainInfo, error) {
	var chains []ChainInfo
	err := s.db.SelectContext(ctx, &chains, `
		SELECT c.chain_id, c.name, c.rpc_url, c.enabled,
			c.identity_registry, c.reputation_registry, c.validation_registry,
			COALESCE(s.last_synced_block, 0) AS last_synced_block,
			s.last_sync_time, s.status, s.error_message,
			COALESCE(s.total_events_indexed, 0) AS total_events_indexed,
			COALESCE(s.errors_last_hour, 0) AS errors_last_hour
		FROM chains c
		LEFT JOIN chain_sync_state s ON s.chain_id = c.chain_id
		WHERE c.enabled = true
		ORDER BY c.chain_id
	`)
	if err != nil {
		return nil, fmt.Errorf("get enabled chains: %w", err)
	}
	return chains, nil
}

// CategoryCount is one row of get_category_stats.
type CategoryCount struct {
	Category Category
	Count    int64
}

// GetCategoryStats returns event counts grouped by category, optionally restricted to chainIDs.
func (s *Storage) GetCategoryStats(ctx context.Context, chainIDs []uint64) ([]CategoryCount, error) {
	results := make([]CategoryCount, 0, len(categoryExpansion))
	for category, types := range categoryExpansion {
		placeholders := make([]string, len(types))
		args := make([]any, 0, len(types)+len(chainIDs))
		for i, t := range types {
			args = append(args, string(t))
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		sqlStr := fmt.Sprintf("SELECT COUNT(*) FROM events WHERE event_type IN (%s)", strings.Join(placeholders, ", "))
		if len(chainIDs) > 0 {
			chainPlaceholders := make([]string, len(chainIDs))
			for i, id := range chainIDs {
				args = append(args, id)
				chainPlaceholders[i] = fmt.Sprintf("$%d", len(args))
			}
			sqlStr += fmt.Sprintf(" AND chain_id IN (%s)", strings.Join(chainPlaceholders, ", "))
		}
		var count int64
		if err := s.db.GetContext(ctx, &count, sqlStr, args...); err != nil {
			return nil, fmt.Errorf("count category %s: %w", category, err)
		}
		results = append(results, CategoryCount{Category: category, Count: count})
	}
	return results, nil
}

// CacheStats returns (size, max) of the in-memory event cache.
func (s *Storage) CacheStats() (int, int) {
	return s.cache.Stats()
}
