// CDC replica variant of extract_reference. The replica is populated by
// log-based replication and carries its own monotonic replica_version
// column; only the version-wins dedup rule differs from the direct-mode
// adapter — the logical view and downstream contract are identical.
package sourceadapters

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bionicpro/reports-etl/internal/domain"
	"github.com/bionicpro/reports-etl/internal/errs"
)

// CRMReplicaSource reads the same logical view as CRMSource from a
// log-replicated, deduplicated replica.
type CRMReplicaSource struct {
	db *sql.DB
}

// NewCRMReplicaSource wraps an open replica database connection.
func NewCRMReplicaSource(db *sql.DB) *CRMReplicaSource {
	return &CRMReplicaSource{db: db}
}

const crmReplicaReferenceQuery = `
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
		GREATEST(c.updated_at, p.updated_at) AS last_updated_at,
		GREATEST(c.replica_version, p.replica_version) AS replica_version
	FROM customers c
	JOIN prostheses p ON c.customer_id = p.customer_id
	JOIN prosthesis_models pm ON p.model_id = pm.model_id
	WHERE p.status = 'active'
	  AND p.chip_id IS NOT NULL
	  AND GREATEST(c.updated_at, p.updated_at) >= $1
	ORDER BY p.chip_id, replica_version DESC, last_updated_at DESC, p.prosthesis_id ASC
`

// ExtractReference streams CustomerProsthesis rows, first deduplicating by
// (chip_id) → max(replica_version) as the replica's own consistency rule
// requires, then applying the same one-row-per-chip_id contract as the
// direct-mode adapter.
func (s *CRMReplicaSource) ExtractReference(ctx context.Context, since time.Time, fn func(domain.CustomerProsthesis) error) error {
	rows, err := s.db.QueryContext(ctx, crmReplicaReferenceQuery, since)
	if err != nil {
		return fmt.Errorf("%w: crm replica query failed: %v", errs.ErrSourceUnavailable, err)
	}
	defer rows.Close()

	seenChip := make(map[string]bool)

	for rows.Next() {
		var row domain.CustomerProsthesis
		var replicaVersion int64
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
			&replicaVersion,
		); err != nil {
			return fmt.Errorf("%w: crm replica row scan failed: %v", errs.ErrSchemaMismatch, err)
		}

		// The query already orders by (chip_id, replica_version DESC, ...),
		// so the first row seen per chip_id is the highest replica_version.
		if seenChip[row.ChipID] {
			continue
		}
		seenChip[row.ChipID] = true

		if err := fn(row); err != nil {
			return err
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: crm replica row iteration failed: %v", errs.ErrSourceUnavailable, err)
	}

	return nil
}
