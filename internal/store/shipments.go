package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"shipflow/api/internal/workflow"
)

// Create inserts the shipment with its stage templates and any runtime
// entries it already carries.
func (s *PostgresStore) Create(ctx context.Context, shipment workflow.Shipment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create shipment tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO shipments (id, lifecycle, current_stage, finalized, created_by, created_at, updated_at, version, search_text)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8)
	`, shipment.ID, string(shipment.Lifecycle), shipment.CurrentStage, shipment.Finalized,
		shipment.CreatedBy, shipment.CreatedAt, shipment.UpdatedAt, searchText(shipment))
	if err != nil {
		if isUniqueViolation(err) {
			return workflow.ShipmentExists(shipment.ID)
		}
		return fmt.Errorf("insert shipment %s: %w", shipment.ID, err)
	}

	for i, stage := range shipment.Stages {
		documents, err := json.Marshal(stage.RequiredDocuments)
		if err != nil {
			return fmt.Errorf("encode documents for stage %d: %w", i, err)
		}
		signers, err := json.Marshal(stage.Signers)
		if err != nil {
			return fmt.Errorf("encode signers for stage %d: %w", i, err)
		}
		providers, err := json.Marshal(stage.InfoProviders)
		if err != nil {
			return fmt.Errorf("encode info providers for stage %d: %w", i, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO shipment_stages (shipment_id, stage_index, name, required_documents, signers, info_providers)
			VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, $6::jsonb)
		`, shipment.ID, i, stage.Name, string(documents), string(signers), string(providers)); err != nil {
			return fmt.Errorf("insert stage %d of %s: %w", i, shipment.ID, err)
		}
	}

	empty := workflow.Shipment{Runtime: make([]workflow.StageRuntime, len(shipment.Stages))}
	if err := insertRuntime(ctx, tx, empty, shipment); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create shipment %s: %w", shipment.ID, err)
	}
	return nil
}

// Get reads the shipment and its runtime from one repeatable-read snapshot,
// so a concurrent Update is seen either entirely or not at all.
func (s *PostgresStore) Get(ctx context.Context, id string) (workflow.Shipment, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return workflow.Shipment{}, fmt.Errorf("begin read shipment tx: %w", err)
	}
	defer tx.Rollback()

	shipment, err := loadShipment(ctx, tx, id, false)
	if err != nil {
		return workflow.Shipment{}, err
	}
	if err := tx.Commit(); err != nil {
		return workflow.Shipment{}, fmt.Errorf("commit read shipment %s: %w", id, err)
	}
	return shipment, nil
}

// Update locks the shipment row for the life of the transaction, so
// concurrent writers on other processes queue behind it.
func (s *PostgresStore) Update(ctx context.Context, id string, fn func(*workflow.Shipment) error) (workflow.Shipment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return workflow.Shipment{}, fmt.Errorf("begin update shipment tx: %w", err)
	}
	defer tx.Rollback()

	current, err := loadShipment(ctx, tx, id, true)
	if err != nil {
		return workflow.Shipment{}, err
	}
	working := current.Clone()
	if err := fn(&working); err != nil {
		return workflow.Shipment{}, err
	}

	if err := insertRuntime(ctx, tx, current, working); err != nil {
		return workflow.Shipment{}, err
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE shipments
		SET current_stage=$2, finalized=$3, updated_at=$4, version=version+1, search_text=$5
		WHERE id=$1 AND version=$6
	`, id, working.CurrentStage, working.Finalized, working.UpdatedAt, searchText(working), current.Version)
	if err != nil {
		return workflow.Shipment{}, fmt.Errorf("update shipment %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return workflow.Shipment{}, fmt.Errorf("update shipment %s rows: %w", id, err)
	}
	if affected == 0 {
		return workflow.Shipment{}, workflow.ConcurrentUpdate(id)
	}

	if err := tx.Commit(); err != nil {
		return workflow.Shipment{}, fmt.Errorf("commit update shipment %s: %w", id, err)
	}
	working.Version = current.Version + 1
	return working, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]workflow.Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.lifecycle, s.current_stage, s.finalized, s.created_by, s.created_at, s.updated_at,
			(SELECT COUNT(*) FROM shipment_stages c WHERE c.shipment_id = s.id),
			COALESCE(st.name, '')
		FROM shipments s
		LEFT JOIN shipment_stages st ON st.shipment_id = s.id AND st.stage_index = s.current_stage
		ORDER BY s.created_at ASC, s.id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list shipments: %w", err)
	}
	defer rows.Close()

	items := make([]workflow.Summary, 0)
	for rows.Next() {
		var (
			item      workflow.Summary
			lifecycle string
		)
		if err := rows.Scan(&item.ID, &lifecycle, &item.CurrentStage, &item.Finalized, &item.CreatedBy,
			&item.CreatedAt, &item.UpdatedAt, &item.StageCount, &item.CurrentStageName); err != nil {
			return nil, fmt.Errorf("scan shipment summary: %w", err)
		}
		item.Lifecycle = workflow.Lifecycle(lifecycle)
		items = append(items, item)
	}
	return items, rows.Err()
}

func loadShipment(ctx context.Context, q querier, id string, forUpdate bool) (workflow.Shipment, error) {
	query := `
		SELECT id, lifecycle, current_stage, finalized, created_by, created_at, updated_at, version
		FROM shipments WHERE id=$1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var (
		shipment  workflow.Shipment
		lifecycle string
	)
	err := q.QueryRowContext(ctx, query, id).Scan(&shipment.ID, &lifecycle, &shipment.CurrentStage, &shipment.Finalized,
		&shipment.CreatedBy, &shipment.CreatedAt, &shipment.UpdatedAt, &shipment.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return workflow.Shipment{}, workflow.ShipmentNotFound(id)
	}
	if err != nil {
		return workflow.Shipment{}, fmt.Errorf("load shipment %s: %w", id, err)
	}
	shipment.Lifecycle = workflow.Lifecycle(lifecycle)

	stages, err := loadStages(ctx, q, id)
	if err != nil {
		return workflow.Shipment{}, err
	}
	shipment.Stages = stages
	shipment.Runtime = make([]workflow.StageRuntime, len(stages))
	for i := range shipment.Runtime {
		shipment.Runtime[i] = workflow.StageRuntime{Uploaded: []string{}, Approvals: []string{}}
	}

	if err := loadRuntimeColumn(ctx, q, `
		SELECT stage_index, name FROM stage_documents WHERE shipment_id=$1 ORDER BY id ASC
	`, id, func(stage int, value string) {
		shipment.Runtime[stage].Uploaded = append(shipment.Runtime[stage].Uploaded, value)
	}, len(stages)); err != nil {
		return workflow.Shipment{}, fmt.Errorf("load documents for %s: %w", id, err)
	}
	if err := loadRuntimeColumn(ctx, q, `
		SELECT stage_index, signer FROM stage_approvals WHERE shipment_id=$1 ORDER BY id ASC
	`, id, func(stage int, value string) {
		shipment.Runtime[stage].Approvals = append(shipment.Runtime[stage].Approvals, value)
	}, len(stages)); err != nil {
		return workflow.Shipment{}, fmt.Errorf("load approvals for %s: %w", id, err)
	}
	return shipment, nil
}

func loadStages(ctx context.Context, q querier, id string) ([]workflow.StageTemplate, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT name, required_documents, signers, info_providers
		FROM shipment_stages WHERE shipment_id=$1 ORDER BY stage_index ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("load stages for %s: %w", id, err)
	}
	defer rows.Close()

	stages := make([]workflow.StageTemplate, 0)
	for rows.Next() {
		var (
			stage                         workflow.StageTemplate
			documents, signers, providers []byte
		)
		if err := rows.Scan(&stage.Name, &documents, &signers, &providers); err != nil {
			return nil, fmt.Errorf("scan stage: %w", err)
		}
		if stage.RequiredDocuments, err = decodeList(documents); err != nil {
			return nil, fmt.Errorf("decode documents of stage %q: %w", stage.Name, err)
		}
		if stage.Signers, err = decodeList(signers); err != nil {
			return nil, fmt.Errorf("decode signers of stage %q: %w", stage.Name, err)
		}
		if stage.InfoProviders, err = decodeList(providers); err != nil {
			return nil, fmt.Errorf("decode info providers of stage %q: %w", stage.Name, err)
		}
		stages = append(stages, stage)
	}
	return stages, rows.Err()
}

func loadRuntimeColumn(ctx context.Context, q querier, query, id string, add func(int, string), stageCount int) error {
	rows, err := q.QueryContext(ctx, query, id)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			stage int
			value string
		)
		if err := rows.Scan(&stage, &value); err != nil {
			return err
		}
		if stage < 0 || stage >= stageCount {
			return fmt.Errorf("row references stage %d of %d", stage, stageCount)
		}
		add(stage, value)
	}
	return rows.Err()
}

// insertRuntime writes the uploads and approvals present in after but not
// in before. Runtime lists only ever grow.
func insertRuntime(ctx context.Context, q querier, before, after workflow.Shipment) error {
	for i := range after.Runtime {
		var previous workflow.StageRuntime
		if i < len(before.Runtime) {
			previous = before.Runtime[i]
		}
		uploads, err := appendedEntries(previous.Uploaded, after.Runtime[i].Uploaded)
		if err != nil {
			return fmt.Errorf("stage %d uploads: %w", i, err)
		}
		for _, name := range uploads {
			if _, err := q.ExecContext(ctx, `
				INSERT INTO stage_documents (shipment_id, stage_index, name, uploaded_at)
				VALUES ($1, $2, $3, $4)
			`, after.ID, i, name, after.UpdatedAt); err != nil {
				return fmt.Errorf("insert document %s for stage %d: %w", name, i, err)
			}
		}
		approvals, err := appendedEntries(previous.Approvals, after.Runtime[i].Approvals)
		if err != nil {
			return fmt.Errorf("stage %d approvals: %w", i, err)
		}
		for _, signer := range approvals {
			if _, err := q.ExecContext(ctx, `
				INSERT INTO stage_approvals (shipment_id, stage_index, signer, approved_at)
				VALUES ($1, $2, $3, $4)
			`, after.ID, i, signer, after.UpdatedAt); err != nil {
				return fmt.Errorf("insert approval by %s for stage %d: %w", signer, i, err)
			}
		}
	}
	return nil
}

// appendedEntries returns the tail of after beyond before. after must keep
// before as its prefix.
func appendedEntries(before, after []string) ([]string, error) {
	if len(after) < len(before) || !slices.Equal(before, after[:len(before)]) {
		return nil, errors.New("recorded entries cannot be removed or reordered")
	}
	return after[len(before):], nil
}

func decodeList(raw []byte) ([]string, error) {
	values := make([]string, 0)
	if len(raw) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, err
	}
	if values == nil {
		values = []string{}
	}
	return values, nil
}

// searchText is the text behind the shipments full-text index.
func searchText(shipment workflow.Shipment) string {
	parts := []string{shipment.ID, string(shipment.Lifecycle), shipment.CreatedBy}
	for _, stage := range shipment.Stages {
		parts = append(parts, stage.Name)
		parts = append(parts, stage.RequiredDocuments...)
		parts = append(parts, stage.Signers...)
		parts = append(parts, stage.InfoProviders...)
	}
	return strings.Join(parts, " ")
}
