package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/platinummonkey/versionmanager/pkg/observability"
	"github.com/platinummonkey/versionmanager/pkg/storage"
)

// DBLogger writes audit events to app_audit_log
type DBLogger struct {
	db  storage.DBTX
	log *observability.Logger
}

// NewDBLogger creates a new database-based audit logger
func NewDBLogger(db storage.DBTX, log *observability.Logger) *DBLogger {
	if log == nil {
		log = observability.NewNopLogger()
	}
	return &DBLogger{db: db, log: log}
}

// Log inserts the event. Failures are logged, never returned.
func (l *DBLogger) Log(ctx context.Context, event Event) {
	if err := l.insert(ctx, event); err != nil {
		l.log.WithError(err).WithFields(map[string]interface{}{
			"action":      string(event.Action),
			"entity_type": string(event.EntityType),
			"entity_id":   event.EntityID,
		}).Warn("audit write failed")
	}
}

func (l *DBLogger) insert(ctx context.Context, event Event) error {
	var details []byte
	if event.Details != nil {
		var err error
		details, err = json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal details: %w", err)
		}
	}

	query := `
		INSERT INTO app_audit_log (actor_email, action, entity_type, entity_id, details, instance_id)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6)
	`
	_, err := l.db.ExecContext(ctx, query,
		nullString(event.ActorEmail),
		string(event.Action),
		nullString(string(event.EntityType)),
		nullString(event.EntityID),
		nullBytes(details),
		nullString(event.InstanceID),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// List returns events newest first. A non-empty InstanceID also includes
// global events.
func (l *DBLogger) List(ctx context.Context, filter ListFilter) ([]*Event, error) {
	filter = filter.normalized()

	query := `
		SELECT id, created_at, actor_email, action, entity_type, entity_id, details, instance_id
		FROM app_audit_log
	`
	args := []interface{}{filter.Limit, filter.Offset}
	if filter.InstanceID != "" {
		query += ` WHERE instance_id = $3 OR instance_id IS NULL`
		args = append(args, filter.InstanceID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit log: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit log: %w", err)
	}
	return events, nil
}

// Count returns the number of events List would page over
func (l *DBLogger) Count(ctx context.Context, instanceID string) (int64, error) {
	query := `SELECT COUNT(*) FROM app_audit_log`
	var args []interface{}
	if instanceID != "" {
		query += ` WHERE instance_id = $1 OR instance_id IS NULL`
		args = append(args, instanceID)
	}
	var count int64
	if err := l.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count audit log: %w", err)
	}
	return count, nil
}

// Prune deletes events created before the cutoff
func (l *DBLogger) Prune(ctx context.Context, before time.Time) (int64, error) {
	result, err := l.db.ExecContext(ctx, `DELETE FROM app_audit_log WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune audit log: %w", err)
	}
	return result.RowsAffected()
}

// PruneJob adapts Prune into a retention job that keeps maxAge worth of events
func (l *DBLogger) PruneJob(maxAge time.Duration, now func() time.Time) Job {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context) (int64, error) {
		return l.Prune(ctx, now().Add(-maxAge))
	}
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row scanner) (*Event, error) {
	var (
		event                                   Event
		actor, entityType, entityID, instanceID sql.NullString
		details                                 []byte
		action                                  string
	)
	if err := row.Scan(&event.ID, &event.CreatedAt, &actor, &action, &entityType, &entityID, &details, &instanceID); err != nil {
		return nil, fmt.Errorf("failed to scan audit event: %w", err)
	}
	event.Action = Action(action)
	event.ActorEmail = actor.String
	event.EntityType = EntityType(entityType.String)
	event.EntityID = entityID.String
	event.InstanceID = instanceID.String
	if len(details) > 0 {
		if err := json.Unmarshal(details, &event.Details); err != nil {
			return nil, fmt.Errorf("failed to unmarshal details: %w", err)
		}
	}
	return &event, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullBytes(b []byte) interface{} {
	if b == nil {
		return nil
	}
	return string(b)
}
