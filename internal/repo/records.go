package repo

import (
	"context"
	"database/sql"

	"workdesk/internal/domain"
)

func (r Repo) InsertCustomer(ctx context.Context, tx *sql.Tx, c domain.Customer) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO customers(id,tenant_id,name,email,phone,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		c.ID, c.TenantID, c.Name, nullable(c.Email), nullable(c.Phone), c.CreatedAt, c.UpdatedAt)
	return err
}

func (r Repo) GetCustomer(ctx context.Context, tenantID, id string) (domain.Customer, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT id,tenant_id,name,COALESCE(email,''),COALESCE(phone,''),created_at,updated_at
		 FROM customers WHERE id=? AND tenant_id=?`, id, tenantID)
	var c domain.Customer
	err := row.Scan(&c.ID, &c.TenantID, &c.Name, &c.Email, &c.Phone, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return domain.Customer{}, ErrNotFound
	}
	return c, err
}

func (r Repo) InsertDeal(ctx context.Context, tx *sql.Tx, d domain.Deal) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO deals(id,tenant_id,customer_id,title,value,currency,stage,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		d.ID, d.TenantID, nullablePtr(d.CustomerID), d.Title, d.Value, nullable(d.Currency), d.Stage, d.CreatedAt, d.UpdatedAt)
	return err
}

func (r Repo) GetDeal(ctx context.Context, tenantID, id string) (domain.Deal, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT id,tenant_id,customer_id,title,value,COALESCE(currency,''),stage,created_at,updated_at
		 FROM deals WHERE id=? AND tenant_id=?`, id, tenantID)
	var d domain.Deal
	var customerID sql.NullString
	err := row.Scan(&d.ID, &d.TenantID, &customerID, &d.Title, &d.Value, &d.Currency, &d.Stage, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return domain.Deal{}, ErrNotFound
	}
	if customerID.Valid {
		d.CustomerID = &customerID.String
	}
	return d, err
}

func (r Repo) InsertQuote(ctx context.Context, tx *sql.Tx, q domain.Quote) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO quotes(id,tenant_id,deal_id,title,amount,currency,status,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		q.ID, q.TenantID, nullablePtr(q.DealID), nullable(q.Title), q.Amount, nullable(q.Currency), q.Status, q.CreatedAt, q.UpdatedAt)
	return err
}

func (r Repo) GetQuote(ctx context.Context, tenantID, id string) (domain.Quote, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT id,tenant_id,deal_id,COALESCE(title,''),amount,COALESCE(currency,''),status,created_at,updated_at
		 FROM quotes WHERE id=? AND tenant_id=?`, id, tenantID)
	var q domain.Quote
	var dealID sql.NullString
	err := row.Scan(&q.ID, &q.TenantID, &dealID, &q.Title, &q.Amount, &q.Currency, &q.Status, &q.CreatedAt, &q.UpdatedAt)
	if err == sql.ErrNoRows {
		return domain.Quote{}, ErrNotFound
	}
	if dealID.Valid {
		q.DealID = &dealID.String
	}
	return q, err
}

func (r Repo) InsertInvoice(ctx context.Context, tx *sql.Tx, inv domain.Invoice) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO invoices(id,tenant_id,customer_id,amount,currency,status,due_date,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		inv.ID, inv.TenantID, nullablePtr(inv.CustomerID), inv.Amount, nullable(inv.Currency), inv.Status, nullablePtr(inv.DueDate), inv.CreatedAt, inv.UpdatedAt)
	return err
}

func (r Repo) GetInvoice(ctx context.Context, tenantID, id string) (domain.Invoice, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT id,tenant_id,customer_id,amount,COALESCE(currency,''),status,due_date,created_at,updated_at
		 FROM invoices WHERE id=? AND tenant_id=?`, id, tenantID)
	var inv domain.Invoice
	var customerID, dueDate sql.NullString
	err := row.Scan(&inv.ID, &inv.TenantID, &customerID, &inv.Amount, &inv.Currency, &inv.Status, &dueDate, &inv.CreatedAt, &inv.UpdatedAt)
	if err == sql.ErrNoRows {
		return domain.Invoice{}, ErrNotFound
	}
	if customerID.Valid {
		inv.CustomerID = &customerID.String
	}
	if dueDate.Valid {
		inv.DueDate = &dueDate.String
	}
	return inv, err
}

func (r Repo) InsertContract(ctx context.Context, tx *sql.Tx, c domain.Contract) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO contracts(id,tenant_id,customer_id,title,status,start_date,end_date,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		c.ID, c.TenantID, nullablePtr(c.CustomerID), c.Title, c.Status, nullablePtr(c.StartDate), nullablePtr(c.EndDate), c.CreatedAt, c.UpdatedAt)
	return err
}

func (r Repo) GetContract(ctx context.Context, tenantID, id string) (domain.Contract, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT id,tenant_id,customer_id,title,status,start_date,end_date,created_at,updated_at
		 FROM contracts WHERE id=? AND tenant_id=?`, id, tenantID)
	var c domain.Contract
	var customerID, startDate, endDate sql.NullString
	err := row.Scan(&c.ID, &c.TenantID, &customerID, &c.Title, &c.Status, &startDate, &endDate, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return domain.Contract{}, ErrNotFound
	}
	if customerID.Valid {
		c.CustomerID = &customerID.String
	}
	if startDate.Valid {
		c.StartDate = &startDate.String
	}
	if endDate.Valid {
		c.EndDate = &endDate.String
	}
	return c, err
}

func (r Repo) InsertMeeting(ctx context.Context, tx *sql.Tx, m domain.Meeting) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO meetings(id,tenant_id,customer_id,title,starts_at,status,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		m.ID, m.TenantID, nullablePtr(m.CustomerID), m.Title, nullablePtr(m.StartsAt), m.Status, m.CreatedAt, m.UpdatedAt)
	return err
}

func (r Repo) GetMeeting(ctx context.Context, tenantID, id string) (domain.Meeting, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT id,tenant_id,customer_id,title,starts_at,status,created_at,updated_at
		 FROM meetings WHERE id=? AND tenant_id=?`, id, tenantID)
	var m domain.Meeting
	var customerID, startsAt sql.NullString
	err := row.Scan(&m.ID, &m.TenantID, &customerID, &m.Title, &startsAt, &m.Status, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return domain.Meeting{}, ErrNotFound
	}
	if customerID.Valid {
		m.CustomerID = &customerID.String
	}
	if startsAt.Valid {
		m.StartsAt = &startsAt.String
	}
	return m, err
}
