package tenants

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresDirectory reads tenants from the customers table.
type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

const tenantColumns = `id, business_name, business_type, ai_instructions, greeting_message,
COALESCE(assigned_number, ''), forward_to_number, notification_email, notification_phone,
notification_instructions, voice`

func scanTenant(row *sql.Row) (Tenant, error) {
	var t Tenant
	if err := row.Scan(
		&t.ID,
		&t.BusinessName,
		&t.BusinessType,
		&t.AIInstructions,
		&t.GreetingMessage,
		&t.AssignedNumber,
		&t.ForwardToNumber,
		&t.NotificationEmail,
		&t.NotificationPhone,
		&t.NotificationInstructions,
		&t.Voice,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Tenant{}, ErrTenantNotFound
		}
		return Tenant{}, fmt.Errorf("scan tenant: %w", err)
	}
	return t, nil
}

// ByAssignedNumber matches on the generated assigned_number_normalized
// column, so numbers stored with punctuation still resolve.
func (d *PostgresDirectory) ByAssignedNumber(ctx context.Context, number string) (Tenant, error) {
	n := NormalizeNumber(number)
	if n == "" {
		return Tenant{}, ErrTenantNotFound
	}
	q := `SELECT ` + tenantColumns + ` FROM customers WHERE assigned_number_normalized = $1`
	return scanTenant(d.db.QueryRowContext(ctx, q, n))
}

func (d *PostgresDirectory) Get(ctx context.Context, id string) (Tenant, error) {
	q := `SELECT ` + tenantColumns + ` FROM customers WHERE id = $1`
	return scanTenant(d.db.QueryRowContext(ctx, q, id))
}
