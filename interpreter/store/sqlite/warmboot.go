package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	saiagent "github.com/frobware/go-saiagent"
	"github.com/frobware/go-saiagent/interpreter"
	"github.com/frobware/go-saiagent/warmboot"
)

// SaveWarmbootState creates or replaces the document of a switch.
func (s *sqliteStore) SaveWarmbootState(ctx context.Context, switchIndex uint32, doc *warmboot.Document) error {
	data, err := doc.Marshal()
	if err != nil {
		return fmt.Errorf("save warm boot state: %w", err)
	}

	start := time.Now()
	_, err = s.stmts.saveWarmboot.ExecContext(ctx, switchIndex, int64(doc.SwitchID), doc.InstanceID, data, formatTime(time.Now()))
	s.logSQL("SaveWarmboot", start, err, "switch_index", switchIndex, "instance_id", doc.InstanceID, "bytes", len(data))
	if err != nil {
		return fmt.Errorf("save warm boot state: %w", err)
	}
	return nil
}

// LoadWarmbootState returns the saved document of a switch, or a
// NotFoundError when there is none.
func (s *sqliteStore) LoadWarmbootState(ctx context.Context, switchIndex uint32) (*warmboot.Document, error) {
	start := time.Now()
	var data []byte
	err := s.stmts.loadWarmboot.QueryRowContext(ctx, switchIndex).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		s.logSQL("LoadWarmboot", start, nil, "switch_index", switchIndex, "rows", 0)
		return nil, saiagent.NotFoundError{Kind: "warm boot state for switch", Key: switchIndex}
	}
	s.logSQL("LoadWarmboot", start, err, "switch_index", switchIndex)
	if err != nil {
		return nil, fmt.Errorf("load warm boot state: %w", err)
	}

	doc, err := warmboot.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("load warm boot state for switch %d: %w", switchIndex, err)
	}
	return doc, nil
}

// ClearWarmbootState removes the document of a switch. Clearing a
// switch with no document is not an error.
func (s *sqliteStore) ClearWarmbootState(ctx context.Context, switchIndex uint32) error {
	start := time.Now()
	_, err := s.stmts.deleteWarmboot.ExecContext(ctx, switchIndex)
	s.logSQL("DeleteWarmboot", start, err, "switch_index", switchIndex)
	if err != nil {
		return fmt.Errorf("clear warm boot state: %w", err)
	}
	return nil
}

// ListWarmbootStates summarises every saved document.
func (s *sqliteStore) ListWarmbootStates(ctx context.Context) (result []interpreter.WarmbootSummary, err error) {
	start := time.Now()
	defer func() { s.logSQL("ListWarmboot", start, err, "rows", len(result)) }()

	rows, err := s.stmts.listWarmboot.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var sum interpreter.WarmbootSummary
		var savedAt string
		if err := rows.Scan(&sum.SwitchIndex, &sum.InstanceID, &savedAt, &sum.Size); err != nil {
			return nil, err
		}
		sum.SavedAt = parseTime(savedAt)
		result = append(result, sum)
	}
	return result, rows.Err()
}
