package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"tablebook/internal/model"
)

// AuditTableNames are the tables included in periodic exports.
var AuditTableNames = []string{
	"businesses",
	"reservations",
	"slot_closures",
	"audit_logs",
}

// WriteAudit appends an audit record.
func (db *DB) WriteAudit(ctx context.Context, entry model.AuditLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO audit_logs (business_id, actor_id, action, target, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.BusinessID, entry.ActorID, entry.Action, nullString(entry.Target), nullString(entry.Details),
		entry.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("write audit %s: %w", entry.Action, err)
	}
	return nil
}

// ListAuditLogs returns a business's audit records in [from, to), oldest first.
func (db *DB) ListAuditLogs(ctx context.Context, businessID string, from, to time.Time) ([]model.AuditLog, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, business_id, actor_id, action, COALESCE(target, ''), COALESCE(details, ''), created_at
		FROM audit_logs
		WHERE business_id = ? AND created_at >= ? AND created_at < ?
		ORDER BY created_at, id`,
		businessID, from.UTC(), to.UTC(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AuditLog
	for rows.Next() {
		var a model.AuditLog
		if err := rows.Scan(&a.ID, &a.BusinessID, &a.ActorID, &a.Action, &a.Target, &a.Details, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.CreatedAt = a.CreatedAt.UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteAuditLogsBefore removes audit records older than before.
func (db *DB) DeleteAuditLogsBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM audit_logs WHERE created_at < ?`, before.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetTableNames returns list of table names to export.
func (db *DB) GetTableNames(ctx context.Context) ([]string, error) {
	return AuditTableNames, nil
}

// GetTableData returns all rows from a whitelisted table as maps.
func (db *DB) GetTableData(ctx context.Context, tableName string) (result []map[string]interface{}, columns []string, err error) {
	valid := false
	for _, t := range AuditTableNames {
		if t == tableName {
			valid = true
			break
		}
	}
	if !valid {
		return nil, nil, fmt.Errorf("invalid table name: %s", tableName)
	}

	columns, err = db.tableColumns(ctx, tableName)
	if err != nil {
		return nil, nil, err
	}

	dataRows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s", tableName))
	if err != nil {
		return nil, nil, err
	}
	defer dataRows.Close()

	for dataRows.Next() {
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := dataRows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}

		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		result = append(result, row)
	}
	return result, columns, dataRows.Err()
}

func (db *DB) tableColumns(ctx context.Context, tableName string) ([]string, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var (
			cid         int
			name, typ   string
			notNull, pk int
			dflt        sql.NullString
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		columns = append(columns, name)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("table %s has no columns", tableName)
	}
	return columns, rows.Err()
}
