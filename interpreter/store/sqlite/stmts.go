package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// statements holds every query the store runs, prepared once at open.
type statements struct {
	saveWarmboot   *sql.Stmt
	loadWarmboot   *sql.Stmt
	deleteWarmboot *sql.Stmt
	listWarmboot   *sql.Stmt

	insertBoot   *sql.Stmt
	completeBoot *sql.Stmt
	listBoots    *sql.Stmt
}

type statementDef struct {
	name  string
	query string
	slot  **sql.Stmt
}

func (st *statements) defs() []statementDef {
	return []statementDef{
		{"SaveWarmboot", `
			INSERT INTO warmboot_state (switch_index, switch_id, instance_id, document, saved_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(switch_index) DO UPDATE SET
			  switch_id = excluded.switch_id,
			  instance_id = excluded.instance_id,
			  document = excluded.document,
			  saved_at = excluded.saved_at`, &st.saveWarmboot},
		{"LoadWarmboot", `SELECT document FROM warmboot_state WHERE switch_index = ?`, &st.loadWarmboot},
		{"DeleteWarmboot", `DELETE FROM warmboot_state WHERE switch_index = ?`, &st.deleteWarmboot},
		{"ListWarmboot", `
			SELECT switch_index, instance_id, saved_at, length(document)
			FROM warmboot_state ORDER BY switch_index`, &st.listWarmboot},
		{"InsertBoot", `
			INSERT INTO boot_history (switch_index, instance_id, boot_type, started_at)
			VALUES (?, ?, ?, ?)`, &st.insertBoot},
		{"CompleteBoot", `
			UPDATE boot_history SET completed_at = ?, unclaimed = ?
			WHERE instance_id = ?`, &st.completeBoot},
		{"ListBoots", `
			SELECT switch_index, instance_id, boot_type, started_at, completed_at, unclaimed
			FROM boot_history ORDER BY id DESC LIMIT ?`, &st.listBoots},
	}
}

func prepare(ctx context.Context, db *sql.DB) (*statements, error) {
	st := &statements{}
	for _, d := range st.defs() {
		stmt, err := db.PrepareContext(ctx, d.query)
		if err != nil {
			st.close()
			return nil, fmt.Errorf("prepare %s: %w", d.name, err)
		}
		*d.slot = stmt
	}
	return st, nil
}

// bind returns transaction-specific handles of every statement. They
// are released with the transaction.
func (st *statements) bind(ctx context.Context, tx *sql.Tx) *statements {
	bound := &statements{}
	src, dst := st.defs(), bound.defs()
	for i := range src {
		*dst[i].slot = tx.StmtContext(ctx, *src[i].slot)
	}
	return bound
}

func (st *statements) close() {
	for _, d := range st.defs() {
		if *d.slot != nil {
			(*d.slot).Close()
		}
	}
}
