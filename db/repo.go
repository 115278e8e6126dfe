package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/n0rdy/qakka/common"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

const (
	busyTimeoutMs = 5000
)

type SQLiteRepo struct {
	db *sql.DB
}

// NewSQLiteRepo opens the database at dbPath and applies pending migrations.
func NewSQLiteRepo(dbPath string) (*SQLiteRepo, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", dbPath, busyTimeoutMs)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer; one connection keeps transactions from tripping over SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteRepo{
		db: db,
	}, nil
}

const queueMessageColumns = `queue_message_id, message_id, queue, region, type, shard_id, sending_region,
	content_type, delay_until, expires_at, created_at, inflight_deadline, retries`

func (sr *SQLiteRepo) InsertQueueMessage(ctx context.Context, row *QueueMessageRow) error {
	err := insertQueueMessage(ctx, sr.db, row)
	if err != nil {
		log.Error().Err(err).Str("queue", row.Queue).Str("region", row.Region).Msg("failed to insert queue message")
		return common.ErrStoreUnavailable
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertQueueMessage(ctx context.Context, ex execer, row *QueueMessageRow) error {
	query := `
		INSERT INTO queue_messages (` + queueMessageColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`

	_, err := ex.ExecContext(ctx, query,
		row.QueueMessageID,   // queue_message_id
		row.MessageID,        // message_id
		row.Queue,            // queue
		row.Region,           // region
		int(row.Type),        // type
		row.ShardID,          // shard_id
		row.SendingRegion,    // sending_region
		row.ContentType,      // content_type
		row.DelayUntil,       // delay_until
		row.ExpiresAt,        // expires_at
		row.CreatedAt,        // created_at
		row.InflightDeadline, // inflight_deadline
		row.Retries,          // retries
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQueueMessage(rs rowScanner) (*QueueMessageRow, error) {
	var row QueueMessageRow
	var msgType int
	err := rs.Scan(
		&row.QueueMessageID,
		&row.MessageID,
		&row.Queue,
		&row.Region,
		&msgType,
		&row.ShardID,
		&row.SendingRegion,
		&row.ContentType,
		&row.DelayUntil,
		&row.ExpiresAt,
		&row.CreatedAt,
		&row.InflightDeadline,
		&row.Retries,
	)
	if err != nil {
		return nil, err
	}
	row.Type = common.MessageType(msgType)
	return &row, nil
}

func (sr *SQLiteRepo) GetQueueMessage(ctx context.Context, queue string, region string, msgType common.MessageType, queueMessageID string) (*QueueMessageRow, error) {
	query := `
		SELECT ` + queueMessageColumns + `
		FROM queue_messages
		WHERE queue = ? AND region = ? AND type = ? AND queue_message_id = ?;`

	row, err := scanQueueMessage(sr.db.QueryRowContext(ctx, query, queue, region, int(msgType), queueMessageID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		log.Error().Err(err).Str("queue", queue).Str("queue_message_id", queueMessageID).Msg("failed to select queue message")
		return nil, common.ErrStoreUnavailable
	}
	return row, nil
}

func (sr *SQLiteRepo) SelectQueueMessageByMessageID(ctx context.Context, queue string, messageID string) (*QueueMessageRow, error) {
	query := `
		SELECT ` + queueMessageColumns + `
		FROM queue_messages
		WHERE message_id = ? AND queue = ?
		LIMIT 1;`

	row, err := scanQueueMessage(sr.db.QueryRowContext(ctx, query, messageID, queue))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		log.Error().Err(err).Str("queue", queue).Str("message_id", messageID).Msg("failed to select queue message by message id")
		return nil, common.ErrStoreUnavailable
	}
	return row, nil
}

func (sr *SQLiteRepo) ScanQueueMessages(ctx context.Context, filter ScanFilter) ([]QueueMessageRow, error) {
	var query strings.Builder
	query.WriteString(`
		SELECT ` + queueMessageColumns + `
		FROM queue_messages
		WHERE queue = ? AND region = ? AND type = ? AND shard_id = ?`)
	args := []any{filter.Queue, filter.Region, int(filter.Type), filter.ShardID}

	if filter.DelayUntilBefore > 0 {
		query.WriteString(` AND delay_until <= ?`)
		args = append(args, filter.DelayUntilBefore)
	}
	if filter.InflightBefore > 0 {
		query.WriteString(` AND inflight_deadline < ?`)
		args = append(args, filter.InflightBefore)
	}
	if filter.AfterQueueMessageID != "" {
		query.WriteString(` AND queue_message_id > ?`)
		args = append(args, filter.AfterQueueMessageID)
	}
	query.WriteString(` ORDER BY queue_message_id ASC`)
	if filter.Limit > 0 {
		query.WriteString(` LIMIT ?`)
		args = append(args, filter.Limit)
	}

	rows, err := sr.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		log.Error().Err(err).Str("queue", filter.Queue).Int64("shard_id", filter.ShardID).Msg("failed to scan queue messages")
		return nil, common.ErrStoreUnavailable
	}
	defer rows.Close()

	var result []QueueMessageRow
	for rows.Next() {
		row, err := scanQueueMessage(rows)
		if err != nil {
			log.Error().Err(err).Str("queue", filter.Queue).Msg("failed to read queue message row")
			return nil, common.ErrStoreUnavailable
		}
		result = append(result, *row)
	}
	if err := rows.Err(); err != nil {
		log.Error().Err(err).Str("queue", filter.Queue).Msg("failed to iterate queue message rows")
		return nil, common.ErrStoreUnavailable
	}
	return result, nil
}

func (sr *SQLiteRepo) TransitionQueueMessage(ctx context.Context, from *QueueMessageRow, to *QueueMessageRow) (bool, error) {
	tx, err := sr.db.BeginTx(ctx, nil)
	if err != nil {
		log.Error().Err(err).Str("queue", from.Queue).Msg("failed to begin transition")
		return false, common.ErrStoreUnavailable
	}
	defer tx.Rollback()

	deleted, err := deleteQueueMessage(ctx, tx, from.Queue, from.Region, from.Type, from.QueueMessageID)
	if err != nil {
		log.Error().Err(err).Str("queue", from.Queue).Str("queue_message_id", from.QueueMessageID).Msg("failed to remove row on transition")
		return false, common.ErrStoreUnavailable
	}
	if !deleted {
		// someone else has already moved the row
		return false, nil
	}

	if err := insertQueueMessage(ctx, tx, to); err != nil {
		log.Error().Err(err).Str("queue", to.Queue).Str("queue_message_id", to.QueueMessageID).Msg("failed to write row on transition")
		return false, common.ErrStoreUnavailable
	}

	if err := tx.Commit(); err != nil {
		log.Error().Err(err).Str("queue", from.Queue).Msg("failed to commit transition")
		return false, common.ErrStoreUnavailable
	}
	return true, nil
}

func (sr *SQLiteRepo) DeleteQueueMessage(ctx context.Context, queue string, region string, msgType common.MessageType, queueMessageID string) (bool, error) {
	deleted, err := deleteQueueMessage(ctx, sr.db, queue, region, msgType, queueMessageID)
	if err != nil {
		log.Error().Err(err).Str("queue", queue).Str("queue_message_id", queueMessageID).Msg("failed to delete queue message")
		return false, common.ErrStoreUnavailable
	}
	if !deleted {
		log.Debug().Str("queue", queue).Str("queue_message_id", queueMessageID).Msg("no rows deleted, message was either deleted already or does not exist")
	}
	return deleted, nil
}

func deleteQueueMessage(ctx context.Context, ex execer, queue string, region string, msgType common.MessageType, queueMessageID string) (bool, error) {
	query := `
		DELETE FROM queue_messages
		WHERE queue = ? AND region = ? AND type = ? AND queue_message_id = ?;`

	result, err := ex.ExecContext(ctx, query,
		queue,          // WHERE queue = ?
		region,         // AND region = ?
		int(msgType),   // AND type = ?
		queueMessageID, // AND queue_message_id = ?
	)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rowsAffected > 0, nil
}

func (sr *SQLiteRepo) CountMessageReferences(ctx context.Context, messageID string) (int64, error) {
	var count int64
	err := sr.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queue_messages WHERE message_id = ?;`, messageID).Scan(&count)
	if err != nil {
		log.Error().Err(err).Str("message_id", messageID).Msg("failed to count message references")
		return 0, common.ErrStoreUnavailable
	}
	return count, nil
}

func (sr *SQLiteRepo) CountQueueMessages(ctx context.Context, queue string) (int64, error) {
	var count int64
	err := sr.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queue_messages WHERE queue = ?;`, queue).Scan(&count)
	if err != nil {
		log.Error().Err(err).Str("queue", queue).Msg("failed to count queue messages")
		return 0, common.ErrStoreUnavailable
	}
	return count, nil
}

func (sr *SQLiteRepo) ShardHasMessages(ctx context.Context, key ShardKey) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM queue_messages
			WHERE queue = ? AND region = ? AND type = ? AND shard_id = ?
		);`

	var exists bool
	err := sr.db.QueryRowContext(ctx, query, key.Queue, key.Region, int(key.Type), key.ShardID).Scan(&exists)
	if err != nil {
		log.Error().Err(err).Str("queue", key.Queue).Int64("shard_id", key.ShardID).Msg("failed to check shard for messages")
		return false, common.ErrStoreUnavailable
	}
	return exists, nil
}

func (sr *SQLiteRepo) DeleteQueueMessages(ctx context.Context, queue string) ([]string, error) {
	tx, err := sr.db.BeginTx(ctx, nil)
	if err != nil {
		log.Error().Err(err).Str("queue", queue).Msg("failed to begin messages purge")
		return nil, common.ErrStoreUnavailable
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT DISTINCT message_id FROM queue_messages WHERE queue = ?;`, queue)
	if err != nil {
		log.Error().Err(err).Str("queue", queue).Msg("failed to select message ids for purge")
		return nil, common.ErrStoreUnavailable
	}

	var messageIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			log.Error().Err(err).Str("queue", queue).Msg("failed to read message id for purge")
			return nil, common.ErrStoreUnavailable
		}
		messageIDs = append(messageIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		log.Error().Err(err).Str("queue", queue).Msg("failed to iterate message ids for purge")
		return nil, common.ErrStoreUnavailable
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM queue_messages WHERE queue = ?;`, queue); err != nil {
		log.Error().Err(err).Str("queue", queue).Msg("failed to purge queue messages")
		return nil, common.ErrStoreUnavailable
	}

	if err := tx.Commit(); err != nil {
		log.Error().Err(err).Str("queue", queue).Msg("failed to commit messages purge")
		return nil, common.ErrStoreUnavailable
	}
	return messageIDs, nil
}

func (sr *SQLiteRepo) UpsertShard(ctx context.Context, shard *Shard) error {
	// last writer wins on metadata, but a deleted shard is never brought back
	query := `
		INSERT INTO shards (queue, region, type, shard_id, created_at, deleted)
		VALUES (?, ?, ?, ?, ?, FALSE)
		ON CONFLICT (queue, region, type, shard_id) DO UPDATE
		SET created_at = excluded.created_at
		WHERE shards.deleted = FALSE;`

	_, err := sr.db.ExecContext(ctx, query,
		shard.Queue,     // queue
		shard.Region,    // region
		int(shard.Type), // type
		shard.ShardID,   // shard_id
		shard.CreatedAt, // created_at
	)
	if err != nil {
		log.Error().Err(err).Str("queue", shard.Queue).Int64("shard_id", shard.ShardID).Msg("failed to upsert shard")
		return common.ErrStoreUnavailable
	}
	return nil
}

func (sr *SQLiteRepo) SelectShards(ctx context.Context, queue string, region string, msgType common.MessageType) ([]Shard, error) {
	query := `
		SELECT queue, region, type, shard_id, created_at, deleted
		FROM shards
		WHERE queue = ? AND region = ? AND type = ? AND deleted = FALSE
		ORDER BY shard_id ASC;`

	rows, err := sr.db.QueryContext(ctx, query, queue, region, int(msgType))
	if err != nil {
		log.Error().Err(err).Str("queue", queue).Str("region", region).Msg("failed to select shards")
		return nil, common.ErrStoreUnavailable
	}
	defer rows.Close()

	var shards []Shard
	for rows.Next() {
		var s Shard
		var t int
		if err := rows.Scan(&s.Queue, &s.Region, &t, &s.ShardID, &s.CreatedAt, &s.Deleted); err != nil {
			log.Error().Err(err).Str("queue", queue).Msg("failed to read shard row")
			return nil, common.ErrStoreUnavailable
		}
		s.Type = common.MessageType(t)
		shards = append(shards, s)
	}
	if err := rows.Err(); err != nil {
		log.Error().Err(err).Str("queue", queue).Msg("failed to iterate shard rows")
		return nil, common.ErrStoreUnavailable
	}
	return shards, nil
}

func (sr *SQLiteRepo) MarkShardDeleted(ctx context.Context, key ShardKey) error {
	query := `
		UPDATE shards
		SET deleted = TRUE
		WHERE queue = ? AND region = ? AND type = ? AND shard_id = ?;`

	_, err := sr.db.ExecContext(ctx, query, key.Queue, key.Region, int(key.Type), key.ShardID)
	if err != nil {
		log.Error().Err(err).Str("queue", key.Queue).Int64("shard_id", key.ShardID).Msg("failed to mark shard deleted")
		return common.ErrStoreUnavailable
	}
	return nil
}

func (sr *SQLiteRepo) DeleteShards(ctx context.Context, queue string) error {
	_, err := sr.db.ExecContext(ctx, `DELETE FROM shards WHERE queue = ?;`, queue)
	if err != nil {
		log.Error().Err(err).Str("queue", queue).Msg("failed to delete shards")
		return common.ErrStoreUnavailable
	}
	return nil
}

func (sr *SQLiteRepo) WriteCounts(ctx context.Context, deltas map[ShardKey]int64) error {
	if len(deltas) == 0 {
		return nil
	}

	tx, err := sr.db.BeginTx(ctx, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to begin counters write")
		return common.ErrStoreUnavailable
	}
	defer tx.Rollback()

	query := `
		INSERT INTO shard_counters (queue, region, type, shard_id, count)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (queue, region, type, shard_id) DO UPDATE
		SET count = shard_counters.count + excluded.count;`

	for key, delta := range deltas {
		if delta == 0 {
			continue
		}
		_, err := tx.ExecContext(ctx, query, key.Queue, key.Region, int(key.Type), key.ShardID, delta)
		if err != nil {
			log.Error().Err(err).Str("queue", key.Queue).Int64("shard_id", key.ShardID).Msg("failed to write shard counter")
			return common.ErrStoreUnavailable
		}
	}

	if err := tx.Commit(); err != nil {
		log.Error().Err(err).Msg("failed to commit counters write")
		return common.ErrStoreUnavailable
	}
	return nil
}

func (sr *SQLiteRepo) ReadCount(ctx context.Context, key ShardKey) (int64, error) {
	query := `
		SELECT count FROM shard_counters
		WHERE queue = ? AND region = ? AND type = ? AND shard_id = ?;`

	var count int64
	err := sr.db.QueryRowContext(ctx, query, key.Queue, key.Region, int(key.Type), key.ShardID).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		log.Error().Err(err).Str("queue", key.Queue).Int64("shard_id", key.ShardID).Msg("failed to read shard counter")
		return 0, common.ErrStoreUnavailable
	}
	return count, nil
}

func (sr *SQLiteRepo) DeleteShardCounters(ctx context.Context, queue string) error {
	_, err := sr.db.ExecContext(ctx, `DELETE FROM shard_counters WHERE queue = ?;`, queue)
	if err != nil {
		log.Error().Err(err).Str("queue", queue).Msg("failed to delete shard counters")
		return common.ErrStoreUnavailable
	}
	return nil
}

func (sr *SQLiteRepo) InsertQueue(ctx context.Context, queue *common.Queue) error {
	query := `
		INSERT INTO queues (name, queue_type, regions, default_destinations, default_delay_ms, retry_count,
		                    handling_timeout_ms, dead_letter_queue, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (name) DO NOTHING;`

	result, err := sr.db.ExecContext(ctx, query,
		queue.Name,                                   // name
		queue.Type,                                   // queue_type
		strings.Join(queue.Regions, ","),             // regions
		strings.Join(queue.DefaultDestinations, ","), // default_destinations
		queue.DefaultDelayMs,                         // default_delay_ms
		queue.RetryCount,                             // retry_count
		queue.HandlingTimeoutMs,                      // handling_timeout_ms
		queue.DeadLetterQueue,                        // dead_letter_queue
		queue.CreatedAt,                              // created_at
		queue.UpdatedAt,                              // updated_at
	)
	if err != nil {
		log.Error().Err(err).Str("queue", queue.Name).Msg("failed to insert queue")
		return common.ErrStoreUnavailable
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return common.ErrStoreUnavailable
	}
	if rowsAffected == 0 {
		return common.ErrQueueExists
	}
	return nil
}

func (sr *SQLiteRepo) UpdateQueue(ctx context.Context, queue *common.Queue) error {
	query := `
		UPDATE queues
		SET regions = ?, default_destinations = ?, default_delay_ms = ?, retry_count = ?,
		    handling_timeout_ms = ?, dead_letter_queue = ?, updated_at = ?
		WHERE name = ?;`

	result, err := sr.db.ExecContext(ctx, query,
		strings.Join(queue.Regions, ","),             // regions = ?
		strings.Join(queue.DefaultDestinations, ","), // default_destinations = ?
		queue.DefaultDelayMs,                         // default_delay_ms = ?
		queue.RetryCount,                             // retry_count = ?
		queue.HandlingTimeoutMs,                      // handling_timeout_ms = ?
		queue.DeadLetterQueue,                        // dead_letter_queue = ?
		queue.UpdatedAt,                              // updated_at = ?
		queue.Name,                                   // WHERE name = ?
	)
	if err != nil {
		log.Error().Err(err).Str("queue", queue.Name).Msg("failed to update queue")
		return common.ErrStoreUnavailable
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return common.ErrStoreUnavailable
	}
	if rowsAffected == 0 {
		return common.ErrUnknownQueue
	}
	return nil
}

const queueColumns = `name, queue_type, regions, default_destinations, default_delay_ms, retry_count,
	handling_timeout_ms, dead_letter_queue, created_at, updated_at`

func scanQueue(rs rowScanner) (*common.Queue, error) {
	var q common.Queue
	var regions, destinations string
	err := rs.Scan(
		&q.Name,
		&q.Type,
		&regions,
		&destinations,
		&q.DefaultDelayMs,
		&q.RetryCount,
		&q.HandlingTimeoutMs,
		&q.DeadLetterQueue,
		&q.CreatedAt,
		&q.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	q.Regions = splitList(regions)
	q.DefaultDestinations = splitList(destinations)
	return &q, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func (sr *SQLiteRepo) SelectQueue(ctx context.Context, name string) (*common.Queue, error) {
	query := `SELECT ` + queueColumns + ` FROM queues WHERE name = ?;`

	q, err := scanQueue(sr.db.QueryRowContext(ctx, query, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		log.Error().Err(err).Str("queue", name).Msg("failed to select queue")
		return nil, common.ErrStoreUnavailable
	}
	return q, nil
}

func (sr *SQLiteRepo) SelectAllQueues(ctx context.Context) ([]common.Queue, error) {
	query := `SELECT ` + queueColumns + ` FROM queues ORDER BY name ASC;`

	rows, err := sr.db.QueryContext(ctx, query)
	if err != nil {
		log.Error().Err(err).Msg("failed to select queues")
		return nil, common.ErrStoreUnavailable
	}
	defer rows.Close()

	var queues []common.Queue
	for rows.Next() {
		q, err := scanQueue(rows)
		if err != nil {
			log.Error().Err(err).Msg("failed to read queue row")
			return nil, common.ErrStoreUnavailable
		}
		queues = append(queues, *q)
	}
	if err := rows.Err(); err != nil {
		log.Error().Err(err).Msg("failed to iterate queue rows")
		return nil, common.ErrStoreUnavailable
	}
	return queues, nil
}

func (sr *SQLiteRepo) DeleteQueue(ctx context.Context, name string) error {
	_, err := sr.db.ExecContext(ctx, `DELETE FROM queues WHERE name = ?;`, name)
	if err != nil {
		log.Error().Err(err).Str("queue", name).Msg("failed to delete queue")
		return common.ErrStoreUnavailable
	}
	return nil
}

func (sr *SQLiteRepo) InsertAuditLog(ctx context.Context, row *AuditLogRow) error {
	query := `
		INSERT INTO audit_log (id, queue, region, message_id, queue_message_id, action, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?);`

	_, err := sr.db.ExecContext(ctx, query,
		row.ID,             // id
		row.Queue,          // queue
		row.Region,         // region
		row.MessageID,      // message_id
		row.QueueMessageID, // queue_message_id
		row.Action,         // action
		row.CreatedAt,      // created_at
	)
	if err != nil {
		log.Error().Err(err).Str("queue", row.Queue).Str("action", row.Action).Msg("failed to insert audit log entry")
		return common.ErrStoreUnavailable
	}
	return nil
}

func (sr *SQLiteRepo) SelectAuditLog(ctx context.Context, messageID string) ([]AuditLogRow, error) {
	query := `
		SELECT id, queue, region, message_id, queue_message_id, action, created_at
		FROM audit_log
		WHERE message_id = ?
		ORDER BY id ASC;`

	rows, err := sr.db.QueryContext(ctx, query, messageID)
	if err != nil {
		log.Error().Err(err).Str("message_id", messageID).Msg("failed to select audit log")
		return nil, common.ErrStoreUnavailable
	}
	defer rows.Close()

	var entries []AuditLogRow
	for rows.Next() {
		var e AuditLogRow
		if err := rows.Scan(&e.ID, &e.Queue, &e.Region, &e.MessageID, &e.QueueMessageID, &e.Action, &e.CreatedAt); err != nil {
			log.Error().Err(err).Str("message_id", messageID).Msg("failed to read audit log row")
			return nil, common.ErrStoreUnavailable
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, common.ErrStoreUnavailable
	}
	return entries, nil
}

func (sr *SQLiteRepo) InsertTransferLog(ctx context.Context, row *TransferLogRow) error {
	query := `
		INSERT INTO transfer_log (queue, source_region, dest_region, message_id, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING;`

	_, err := sr.db.ExecContext(ctx, query, row.Queue, row.SourceRegion, row.DestRegion, row.MessageID, row.CreatedAt)
	if err != nil {
		log.Error().Err(err).Str("queue", row.Queue).Str("dest_region", row.DestRegion).Msg("failed to insert transfer log entry")
		return common.ErrStoreUnavailable
	}
	return nil
}

// SelectTransferLog lists transfers newest first. An empty queue lists transfers of every queue.
func (sr *SQLiteRepo) SelectTransferLog(ctx context.Context, queue string, limit int) ([]TransferLogRow, error) {
	query := `
		SELECT queue, source_region, dest_region, message_id, created_at
		FROM transfer_log
		WHERE (? = '' OR queue = ?)
		ORDER BY created_at DESC, message_id DESC
		LIMIT ?;`

	rows, err := sr.db.QueryContext(ctx, query, queue, queue, limit)
	if err != nil {
		log.Error().Err(err).Str("queue", queue).Msg("failed to select transfer log")
		return nil, common.ErrStoreUnavailable
	}
	defer rows.Close()

	var transfers []TransferLogRow
	for rows.Next() {
		var t TransferLogRow
		if err := rows.Scan(&t.Queue, &t.SourceRegion, &t.DestRegion, &t.MessageID, &t.CreatedAt); err != nil {
			log.Error().Err(err).Msg("failed to read transfer log row")
			return nil, common.ErrStoreUnavailable
		}
		transfers = append(transfers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, common.ErrStoreUnavailable
	}
	return transfers, nil
}

func (sr *SQLiteRepo) Ping(ctx context.Context) error {
	if err := sr.db.PingContext(ctx); err != nil {
		log.Error().Err(err).Msg("database ping failed")
		return common.ErrStoreUnavailable
	}
	return nil
}

// Optimize refreshes the query planner statistics and truncates the WAL.
func (sr *SQLiteRepo) Optimize(ctx context.Context) {
	start := time.Now()
	if _, err := sr.db.ExecContext(ctx, `PRAGMA optimize`); err != nil {
		log.Error().Err(err).Msg("failed to optimize database")
		return
	}
	if _, err := sr.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		log.Error().Err(err).Msg("failed to checkpoint WAL")
		return
	}
	log.Info().Dur("took", time.Since(start)).Msg("database optimized")
}

func (sr *SQLiteRepo) Close() error {
	return sr.db.Close()
}
