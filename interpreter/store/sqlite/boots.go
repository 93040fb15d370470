package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/frobware/go-saiagent/interpreter"
)

// RecordBoot appends a boot to the history.
func (s *sqliteStore) RecordBoot(ctx context.Context, rec interpreter.BootRecord) error {
	start := time.Now()
	_, err := s.stmts.insertBoot.ExecContext(ctx, rec.SwitchIndex, rec.InstanceID, rec.BootType, formatTime(rec.StartedAt))
	s.logSQL("InsertBoot", start, err, "switch_index", rec.SwitchIndex, "instance_id", rec.InstanceID, "boot_type", rec.BootType)
	if err != nil {
		return fmt.Errorf("record boot: %w", err)
	}
	return nil
}

// CompleteBoot marks a boot complete and records how many warm boot
// handles were left unclaimed.
func (s *sqliteStore) CompleteBoot(ctx context.Context, instanceID string, unclaimed int) error {
	start := time.Now()
	result, err := s.stmts.completeBoot.ExecContext(ctx, formatTime(time.Now()), unclaimed, instanceID)
	s.logSQL("CompleteBoot", start, err, "instance_id", instanceID, "unclaimed", unclaimed)
	if err != nil {
		return fmt.Errorf("complete boot: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("complete boot: no boot with instance id %s", instanceID)
	}
	return nil
}

// ListBoots returns up to limit boots, newest first. A limit of zero
// or less returns them all.
func (s *sqliteStore) ListBoots(ctx context.Context, limit int) (result []interpreter.BootRecord, err error) {
	if limit <= 0 {
		limit = -1
	}
	start := time.Now()
	defer func() { s.logSQL("ListBoots", start, err, "limit", limit, "rows", len(result)) }()

	rows, err := s.stmts.listBoots.QueryContext(ctx, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var rec interpreter.BootRecord
		var startedAt string
		var completedAt sql.NullString
		if err := rows.Scan(&rec.SwitchIndex, &rec.InstanceID, &rec.BootType, &startedAt, &completedAt, &rec.Unclaimed); err != nil {
			return nil, err
		}
		rec.StartedAt = parseTime(startedAt)
		if completedAt.Valid {
			rec.CompletedAt = parseTime(completedAt.String)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}
