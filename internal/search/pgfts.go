package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across shipments and stage_documents
// using plainto_tsquery and ts_rank.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('simple', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultShipment {
		where := "s.fts @@ " + tsQuery
		if q.FilterShipmentID != "" {
			where += fmt.Sprintf(" AND s.id = $%d", argN)
			args = append(args, q.FilterShipmentID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'shipment'::text AS type, s.id, s.id AS title,
				ts_headline('simple', s.search_text, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				s.id AS shipment_id, s.current_stage AS stage,
				CASE WHEN s.finalized THEN 'finalized' ELSE 'active' END AS status,
				ts_rank(s.fts, %s) AS rank
			FROM shipments s
			WHERE %s`, tsQuery, tsQuery, where))
	}

	if q.FilterType == "" || q.FilterType == ResultDocument {
		where := "d.fts @@ " + tsQuery
		if q.FilterShipmentID != "" {
			where += fmt.Sprintf(" AND d.shipment_id = $%d", argN)
			args = append(args, q.FilterShipmentID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'document'::text AS type, d.id::text, d.name AS title,
				st.name AS snippet,
				d.shipment_id, d.stage_index AS stage,
				''::text AS status,
				ts_rank(d.fts, %s) AS rank
			FROM stage_documents d
			JOIN shipment_stages st ON st.shipment_id = d.shipment_id AND st.stage_index = d.stage_index
			WHERE %s`, tsQuery, where))
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, shipment_id, stage, status
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.ShipmentID, &r.Stage, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}
