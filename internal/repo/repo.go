package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"workdesk/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullablePtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func tableFor(kind domain.EntityKind) (string, bool) {
	switch kind {
	case domain.EntityCustomer:
		return "customers", true
	case domain.EntityDeal:
		return "deals", true
	case domain.EntityQuote:
		return "quotes", true
	case domain.EntityInvoice:
		return "invoices", true
	case domain.EntityContract:
		return "contracts", true
	case domain.EntityMeeting:
		return "meetings", true
	}
	return "", false
}

func stageColumn(kind domain.EntityKind) string {
	if kind == domain.EntityDeal {
		return "stage"
	}
	return "status"
}

// updatableColumns whitelists the command parameters each kind accepts as
// direct column updates.
var updatableColumns = map[domain.EntityKind]map[string]bool{
	domain.EntityCustomer: {"name": true, "email": true, "phone": true},
	domain.EntityDeal:     {"title": true, "value": true, "currency": true, "customer_id": true},
	domain.EntityQuote:    {"title": true, "amount": true, "currency": true, "deal_id": true},
	domain.EntityInvoice:  {"amount": true, "currency": true, "due_date": true, "customer_id": true},
	domain.EntityContract: {"title": true, "start_date": true, "end_date": true, "customer_id": true},
	domain.EntityMeeting:  {"title": true, "starts_at": true, "customer_id": true},
}

// GetLifecycleState reads the current stage/status of a record, scoped to
// the tenant. Customers have no lifecycle column and report ErrNotFound
// only when the row is missing.
func (r Repo) GetLifecycleState(ctx context.Context, tenantID string, kind domain.EntityKind, id string) (string, error) {
	table, ok := tableFor(kind)
	if !ok {
		return "", fmt.Errorf("unknown entity kind %s", kind)
	}
	if kind == domain.EntityCustomer {
		var one int
		err := r.DB.QueryRowContext(ctx,
			`SELECT 1 FROM customers WHERE id=? AND tenant_id=?`, id, tenantID).Scan(&one)
		if err == sql.ErrNoRows {
			return "", ErrNotFound
		}
		return "", err
	}
	var state string
	err := r.DB.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE id=? AND tenant_id=?`, stageColumn(kind), table),
		id, tenantID).Scan(&state)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return state, err
}

// UpdateEntityFields applies a whitelisted set of field updates in tx.
func (r Repo) UpdateEntityFields(ctx context.Context, tx *sql.Tx, tenantID string, kind domain.EntityKind, id, updatedAt string, fields map[string]any) error {
	table, ok := tableFor(kind)
	if !ok {
		return fmt.Errorf("unknown entity kind %s", kind)
	}
	allowed := updatableColumns[kind]
	names := make([]string, 0, len(fields))
	for name := range fields {
		if !allowed[name] {
			return fmt.Errorf("field %s not updatable on %s", name, kind)
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return nil
	}
	sort.Strings(names)
	var (
		sets []string
		args []any
	)
	for _, name := range names {
		sets = append(sets, name+"=?")
		args = append(args, fields[name])
	}
	sets = append(sets, "updated_at=?")
	args = append(args, updatedAt, id, tenantID)
	res, err := tx.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET %s WHERE id=? AND tenant_id=?`, table, strings.Join(sets, ",")),
		args...)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetLifecycleState moves a record to a new stage/status in tx.
func (r Repo) SetLifecycleState(ctx context.Context, tx *sql.Tx, tenantID string, kind domain.EntityKind, id, state, updatedAt string) error {
	table, ok := tableFor(kind)
	if !ok {
		return fmt.Errorf("unknown entity kind %s", kind)
	}
	res, err := tx.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET %s=?, updated_at=? WHERE id=? AND tenant_id=?`, table, stageColumn(kind)),
		state, updatedAt, id, tenantID)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteEntity removes a record in tx.
func (r Repo) DeleteEntity(ctx context.Context, tx *sql.Tx, tenantID string, kind domain.EntityKind, id string) error {
	table, ok := tableFor(kind)
	if !ok {
		return fmt.Errorf("unknown entity kind %s", kind)
	}
	res, err := tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE id=? AND tenant_id=?`, table), id, tenantID)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// CountEntities returns the number of rows of one kind for a tenant.
func (r Repo) CountEntities(ctx context.Context, tenantID string, kind domain.EntityKind) (int, error) {
	table, ok := tableFor(kind)
	if !ok {
		return 0, fmt.Errorf("unknown entity kind %s", kind)
	}
	var n int
	err := r.DB.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE tenant_id=?`, table), tenantID).Scan(&n)
	return n, err
}
