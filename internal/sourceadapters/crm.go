// Package sourceadapters implements the two pull operations: extract_reference
// and extract_telemetry. Reads are streamed via database/sql's row cursor to
// bound memory regardless of source size.
package sourceadapters

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bionicpro/reports-etl/internal/domain"
	"github.com/bionicpro/reports-etl/internal/errs"
)

// CRMSource reads the flattened active-prosthesis view from the live CRM
// database (source.mode = direct).
type CRMSource struct {
	db *sql.DB
}

// NewCRMSource wraps an open CRM database connection.
func NewCRMSource(db *sql.DB) *CRMSource {
	return &CRMSource{db: db}
}

const crmReferenceQuery = `
	SELECT
		c.customer_id,
		c.external_id,
		c.last_name,
		c.first_name,
		COALESCE(c.middle_name, ''),
		c.email,
		c.region,
		c.branch,
		p.prosthesis_id,
		p.serial_number,
		p.chip_id,
		pm.model_name,
		pm.category,
		GREATEST(c.updated_at, p.updated_at) AS last_updated_at
	FROM customers c
	JOIN prostheses p ON c.customer_id = p.customer_id
	JOIN prosthesis_models pm ON p.model_id = pm.model_id
	WHERE p.status = 'active'
	  AND p.chip_id IS NOT NULL
	  AND GREATEST(c.updated_at, p.updated_at) >= $1
	ORDER BY p.chip_id, last_updated_at DESC, p.prosthesis_id ASC
`

// ExtractReference streams CustomerProsthesis rows updated since the given
// instant, one row per call back, enforcing "at most one row per chip_id"
// by keeping only the first row seen per chip_id — the query orders
// candidates by (chip_id, updated_at DESC, prosthesis_id ASC) so the first
// row per chip_id is already the tie-break winner.
func (s *CRMSource) ExtractReference(ctx context.Context, since time.Time, fn func(domain.CustomerProsthesis) error) error {
	rows, err := s.db.QueryContext(ctx, crmReferenceQuery, since)
	if err != nil {
		return fmt.Errorf("%w: crm query failed: %v", errs.ErrSourceUnavailable, err)
	}
	defer rows.Close()

	seenChip := make(map[string]bool)

	for rows.Next() {
		var row domain.CustomerProsthesis
		if err := rows.Scan(
			&row.CustomerID,
			&row.ExternalID,
			&row.LastName,
			&row.FirstName,
			&row.MiddleName,
			&row.Email,
			&row.Region,
			&row.Branch,
			&row.ProsthesisID,
			&row.SerialNumber,
			&row.ChipID,
			&row.ModelName,
			&row.Category,
			&row.UpdatedAt,
		); err != nil {
			return fmt.Errorf("%w: crm row scan failed: %v", errs.ErrSchemaMismatch, err)
		}

		if seenChip[row.ChipID] {
			continue
		}
		seenChip[row.ChipID] = true

		if err := fn(row); err != nil {
			return err
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: crm row iteration failed: %v", errs.ErrSourceUnavailable, err)
	}

	return nil
}
