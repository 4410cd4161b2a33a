package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ouvrio/dossier/model"
)

const pgUniqueViolation = "23505"

// PgStore is a PostgreSQL-backed Store using pgx/v5.
//
// Step instance creation relies on a partial unique index on
// (dossier_id, step_code) WHERE validation_status <> 'APPROVED' so two
// concurrent creations converge on one open row. Assignment claiming is a
// single conditional UPDATE guarded by assigned_to IS NULL.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a new PostgreSQL store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// HealthCheck reports store reachability for readiness checks.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateDossier inserts a new dossier.
func (s *PgStore) CreateDossier(ctx context.Context, d model.Dossier) error {
	metaJSON, err := json.Marshal(d.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO dossiers (
			id, owner_id, product_id, status, current_step_instance_id,
			metadata, is_test, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10)`,
		d.ID, d.OwnerID, d.ProductID, d.Status, d.CurrentStepInstanceID,
		metaJSON, d.IsTest, d.Version, d.CreatedAt, d.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return model.NewConflictError(fmt.Sprintf("dossier %q already exists", d.ID))
	}
	if err != nil {
		return fmt.Errorf("insert dossier: %w", err)
	}
	return nil
}

// GetDossier retrieves a dossier by ID.
func (s *PgStore) GetDossier(ctx context.Context, id string) (model.Dossier, error) {
	var d model.Dossier
	var currentStep *string
	var metaJSON []byte

	err := s.pool.QueryRow(ctx, `
		SELECT id, owner_id, product_id, status, current_step_instance_id,
		       metadata, is_test, version, created_at, updated_at
		FROM dossiers
		WHERE id = $1`,
		id,
	).Scan(
		&d.ID, &d.OwnerID, &d.ProductID, &d.Status, &currentStep,
		&metaJSON, &d.IsTest, &d.Version, &d.CreatedAt, &d.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Dossier{}, model.NewNotFoundError(fmt.Sprintf("dossier %q not found", id))
	}
	if err != nil {
		return model.Dossier{}, fmt.Errorf("query dossier: %w", err)
	}

	if currentStep != nil {
		d.CurrentStepInstanceID = *currentStep
	}
	if metaJSON != nil {
		if err := json.Unmarshal(metaJSON, &d.Metadata); err != nil {
			return model.Dossier{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return d, nil
}

// UpdateDossier persists an updated dossier with optimistic locking.
func (s *PgStore) UpdateDossier(ctx context.Context, d model.Dossier) error {
	metaJSON, err := json.Marshal(d.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE dossiers SET
			status = $1,
			current_step_instance_id = NULLIF($2, ''),
			metadata = $3,
			version = $4,
			updated_at = $5
		WHERE id = $6 AND version = $7`,
		d.Status, d.CurrentStepInstanceID, metaJSON, d.Version+1,
		time.Now().UTC(), d.ID, d.Version,
	)
	if err != nil {
		return fmt.Errorf("update dossier: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(
			fmt.Sprintf("dossier %q version conflict (expected %d)", d.ID, d.Version),
		)
	}
	return nil
}

// UpdateDossierWithHistory runs the optimistic update and the history insert
// in one transaction. A version conflict rolls both back, so the status log
// only ever records transitions that actually won.
func (s *PgStore) UpdateDossierWithHistory(ctx context.Context, d model.Dossier, h model.DossierStatusHistory) error {
	metaJSON, err := json.Marshal(d.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE dossiers SET
			status = $1,
			current_step_instance_id = NULLIF($2, ''),
			metadata = $3,
			version = $4,
			updated_at = $5
		WHERE id = $6 AND version = $7`,
		d.Status, d.CurrentStepInstanceID, metaJSON, d.Version+1,
		time.Now().UTC(), d.ID, d.Version,
	)
	if err != nil {
		return fmt.Errorf("update dossier: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(
			fmt.Sprintf("dossier %q version conflict (expected %d)", d.ID, d.Version),
		)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO dossier_status_history (
			id, dossier_id, old_status, new_status, actor_type, changed_by, reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8)`,
		h.ID, h.DossierID, h.OldStatus, h.NewStatus, h.ActorType, h.ChangedBy, h.Reason, h.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert status history: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// AppendStatusHistory adds a row to the dossier's status log.
func (s *PgStore) AppendStatusHistory(ctx context.Context, h model.DossierStatusHistory) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO dossier_status_history (
			id, dossier_id, old_status, new_status, actor_type, changed_by, reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8)`,
		h.ID, h.DossierID, h.OldStatus, h.NewStatus, h.ActorType, h.ChangedBy, h.Reason, h.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert status history: %w", err)
	}
	return nil
}

// GetStatusHistory returns all history rows for a dossier, oldest first.
func (s *PgStore) GetStatusHistory(ctx context.Context, dossierID string) ([]model.DossierStatusHistory, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, dossier_id, old_status, new_status, actor_type, changed_by,
		       COALESCE(reason, ''), created_at
		FROM dossier_status_history
		WHERE dossier_id = $1
		ORDER BY created_at ASC`,
		dossierID,
	)
	if err != nil {
		return nil, fmt.Errorf("query status history: %w", err)
	}
	defer rows.Close()

	var result []model.DossierStatusHistory
	for rows.Next() {
		var h model.DossierStatusHistory
		if err := rows.Scan(
			&h.ID, &h.DossierID, &h.OldStatus, &h.NewStatus, &h.ActorType,
			&h.ChangedBy, &h.Reason, &h.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan status history: %w", err)
		}
		result = append(result, h)
	}
	return result, rows.Err()
}

// CreateStepInstance inserts a new step instance. The partial unique index
// converts concurrent duplicate creations into a CONFLICT.
func (s *PgStore) CreateStepInstance(ctx context.Context, si model.StepInstance) error {
	fieldsJSON, err := json.Marshal(si.FieldValues)
	if err != nil {
		return fmt.Errorf("marshal field values: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO step_instances (
			id, dossier_id, step_code, step_type, validation_status,
			assigned_to, field_values, rejection_reason,
			started_at, completed_at, updated_at, version
		) VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, NULLIF($8, ''), $9, $10, $11, $12)`,
		si.ID, si.DossierID, si.StepCode, si.StepType, si.ValidationStatus,
		si.AssignedTo, fieldsJSON, si.RejectionReason,
		si.StartedAt, si.CompletedAt, si.UpdatedAt, si.Version,
	)
	if isUniqueViolation(err) {
		return model.NewConflictError(
			fmt.Sprintf("open step instance already exists for dossier %q step %q", si.DossierID, si.StepCode),
		)
	}
	if err != nil {
		return fmt.Errorf("insert step instance: %w", err)
	}
	return nil
}

const stepInstanceColumns = `
	id, dossier_id, step_code, step_type, validation_status,
	COALESCE(assigned_to, ''), field_values, COALESCE(rejection_reason, ''),
	started_at, completed_at, updated_at, version`

// GetStepInstance retrieves a step instance by ID.
func (s *PgStore) GetStepInstance(ctx context.Context, id string) (model.StepInstance, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+stepInstanceColumns+` FROM step_instances WHERE id = $1`, id)

	si, err := scanStepInstance(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.StepInstance{}, model.NewNotFoundError(fmt.Sprintf("step instance %q not found", id))
	}
	if err != nil {
		return model.StepInstance{}, fmt.Errorf("query step instance: %w", err)
	}
	return si, nil
}

// FindOpenStepInstance returns the open instance for the (dossier, step) pair.
func (s *PgStore) FindOpenStepInstance(ctx context.Context, dossierID, stepCode string) (model.StepInstance, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+stepInstanceColumns+`
		 FROM step_instances
		 WHERE dossier_id = $1 AND step_code = $2 AND validation_status <> 'APPROVED'`,
		dossierID, stepCode)

	si, err := scanStepInstance(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.StepInstance{}, model.NewNotFoundError(
			fmt.Sprintf("no open step instance for dossier %q step %q", dossierID, stepCode),
		)
	}
	if err != nil {
		return model.StepInstance{}, fmt.Errorf("query step instance: %w", err)
	}
	return si, nil
}

// ListStepInstances returns all instances of a dossier, oldest first.
func (s *PgStore) ListStepInstances(ctx context.Context, dossierID string) ([]model.StepInstance, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+stepInstanceColumns+`
		 FROM step_instances
		 WHERE dossier_id = $1
		 ORDER BY started_at ASC`,
		dossierID)
	if err != nil {
		return nil, fmt.Errorf("query step instances: %w", err)
	}
	defer rows.Close()

	return collectStepInstances(rows)
}

// UpdateStepInstance persists an updated instance with optimistic locking.
func (s *PgStore) UpdateStepInstance(ctx context.Context, si model.StepInstance) error {
	fieldsJSON, err := json.Marshal(si.FieldValues)
	if err != nil {
		return fmt.Errorf("marshal field values: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE step_instances SET
			validation_status = $1,
			assigned_to = NULLIF($2, ''),
			field_values = $3,
			rejection_reason = NULLIF($4, ''),
			completed_at = $5,
			updated_at = $6,
			version = $7
		WHERE id = $8 AND version = $9`,
		si.ValidationStatus, si.AssignedTo, fieldsJSON, si.RejectionReason,
		si.CompletedAt, time.Now().UTC(), si.Version+1,
		si.ID, si.Version,
	)
	if err != nil {
		return fmt.Errorf("update step instance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(
			fmt.Sprintf("step instance %q version conflict (expected %d)", si.ID, si.Version),
		)
	}
	return nil
}

// ClaimAssignment atomically sets assigned_to on an unclaimed instance with a
// single conditional UPDATE, removing the check-then-act race without
// external locking.
func (s *PgStore) ClaimAssignment(ctx context.Context, instanceID, agentID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE step_instances
		SET assigned_to = $1, updated_at = $2, version = version + 1
		WHERE id = $3 AND assigned_to IS NULL`,
		agentID, time.Now().UTC(), instanceID,
	)
	if err != nil {
		return false, fmt.Errorf("claim assignment: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	// Distinguish "already claimed" from "no such instance".
	var exists bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM step_instances WHERE id = $1)`, instanceID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check step instance: %w", err)
	}
	if !exists {
		return false, model.NewNotFoundError(fmt.Sprintf("step instance %q not found", instanceID))
	}
	return false, nil
}

// OpenWorkload counts open assigned instances of the given step type per
// agent, excluding test dossiers.
func (s *PgStore) OpenWorkload(ctx context.Context, stepType string) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT si.assigned_to, COUNT(*)
		FROM step_instances si
		JOIN dossiers d ON d.id = si.dossier_id
		WHERE si.step_type = $1
		  AND si.assigned_to IS NOT NULL
		  AND si.validation_status IN ('DRAFT', 'SUBMITTED', 'UNDER_REVIEW')
		  AND NOT d.is_test
		GROUP BY si.assigned_to`,
		stepType,
	)
	if err != nil {
		return nil, fmt.Errorf("query workload: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var agentID string
		var n int
		if err := rows.Scan(&agentID, &n); err != nil {
			return nil, fmt.Errorf("scan workload: %w", err)
		}
		counts[agentID] = n
	}
	return counts, rows.Err()
}

// FindUnassigned returns open instances awaiting manual pickup, oldest first.
func (s *PgStore) FindUnassigned(ctx context.Context) ([]model.StepInstance, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+stepInstanceColumns+`
		 FROM step_instances
		 WHERE assigned_to IS NULL
		   AND (validation_status IN ('SUBMITTED', 'UNDER_REVIEW')
		        OR (step_type = 'ADMIN' AND validation_status = 'DRAFT'))
		 ORDER BY started_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("query unassigned instances: %w", err)
	}
	defer rows.Close()

	return collectStepInstances(rows)
}

// ListOpenByType returns all open instances of the given step type, oldest
// first.
func (s *PgStore) ListOpenByType(ctx context.Context, stepType string) ([]model.StepInstance, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+stepInstanceColumns+`
		 FROM step_instances
		 WHERE step_type = $1 AND validation_status <> 'APPROVED'
		 ORDER BY started_at ASC`, stepType)
	if err != nil {
		return nil, fmt.Errorf("query open %s instances: %w", stepType, err)
	}
	defer rows.Close()

	return collectStepInstances(rows)
}

// GetAgent retrieves an agent by ID.
func (s *PgStore) GetAgent(ctx context.Context, id string) (model.Agent, error) {
	var a model.Agent
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, name, agent_type, active, created_at
		FROM agents
		WHERE id = $1`,
		id,
	).Scan(&a.ID, &a.Email, &a.Name, &a.AgentType, &a.Active, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Agent{}, model.NewNotFoundError(fmt.Sprintf("agent %q not found", id))
	}
	if err != nil {
		return model.Agent{}, fmt.Errorf("query agent: %w", err)
	}
	return a, nil
}

// ListActiveAgents returns active agents in stable creation order.
func (s *PgStore) ListActiveAgents(ctx context.Context) ([]model.Agent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, email, name, agent_type, active, created_at
		FROM agents
		WHERE active
		ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query agents: %w", err)
	}
	defer rows.Close()

	var result []model.Agent
	for rows.Next() {
		var a model.Agent
		if err := rows.Scan(&a.ID, &a.Email, &a.Name, &a.AgentType, &a.Active, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// UpsertAgentAssignment records an agent's role on a dossier.
func (s *PgStore) UpsertAgentAssignment(ctx context.Context, a model.DossierAgentAssignment) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO dossier_agent_assignments (id, dossier_id, agent_id, role, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (dossier_id, agent_id) DO UPDATE SET role = EXCLUDED.role`,
		a.ID, a.DossierID, a.AgentID, a.Role, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert agent assignment: %w", err)
	}
	return nil
}

// HasAgentAssignment reports whether the agent is assigned to the dossier.
func (s *PgStore) HasAgentAssignment(ctx context.Context, dossierID, agentID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM dossier_agent_assignments
			WHERE dossier_id = $1 AND agent_id = $2
		)`,
		dossierID, agentID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query agent assignment: %w", err)
	}
	return exists, nil
}

// GetDocument retrieves a document by ID.
func (s *PgStore) GetDocument(ctx context.Context, id string) (model.Document, error) {
	var d model.Document
	err := s.pool.QueryRow(ctx, `
		SELECT id, dossier_id, document_type_id, COALESCE(step_instance_id, ''),
		       COALESCE(current_version_id, ''), created_at, updated_at
		FROM documents
		WHERE id = $1`,
		id,
	).Scan(&d.ID, &d.DossierID, &d.DocumentTypeID, &d.StepInstanceID,
		&d.CurrentVersionID, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Document{}, model.NewNotFoundError(fmt.Sprintf("document %q not found", id))
	}
	if err != nil {
		return model.Document{}, fmt.Errorf("query document: %w", err)
	}
	return d, nil
}

// FindDocument returns the document for the (dossier, documentType,
// stepInstance) key.
func (s *PgStore) FindDocument(ctx context.Context, dossierID, docTypeID, stepInstanceID string) (model.Document, error) {
	var d model.Document
	err := s.pool.QueryRow(ctx, `
		SELECT id, dossier_id, document_type_id, COALESCE(step_instance_id, ''),
		       COALESCE(current_version_id, ''), created_at, updated_at
		FROM documents
		WHERE dossier_id = $1
		  AND document_type_id = $2
		  AND COALESCE(step_instance_id, '') = $3`,
		dossierID, docTypeID, stepInstanceID,
	).Scan(&d.ID, &d.DossierID, &d.DocumentTypeID, &d.StepInstanceID,
		&d.CurrentVersionID, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Document{}, model.NewNotFoundError(
			fmt.Sprintf("no document for dossier %q type %q", dossierID, docTypeID),
		)
	}
	if err != nil {
		return model.Document{}, fmt.Errorf("query document: %w", err)
	}
	return d, nil
}

// CreateDocument persists a new document slot.
func (s *PgStore) CreateDocument(ctx context.Context, d model.Document) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO documents (
			id, dossier_id, document_type_id, step_instance_id,
			current_version_id, created_at, updated_at
		) VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7)`,
		d.ID, d.DossierID, d.DocumentTypeID, d.StepInstanceID,
		d.CurrentVersionID, d.CreatedAt, d.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return model.NewConflictError(
			fmt.Sprintf("document already exists for dossier %q type %q", d.DossierID, d.DocumentTypeID),
		)
	}
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// AppendDocumentVersion inserts the next immutable version and repoints the
// document at it, in one transaction. The version number is assigned with a
// MAX+1 subselect so it stays monotonic per document.
func (s *PgStore) AppendDocumentVersion(ctx context.Context, v model.DocumentVersion) (model.DocumentVersion, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return model.DocumentVersion{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO document_versions (
			id, document_id, version_number, file_name, file_url, file_path,
			size_bytes, uploaded_by, uploaded_at
		)
		SELECT $1, $2, COALESCE(MAX(version_number), 0) + 1, $3, $4, $5, $6, $7, $8
		FROM document_versions
		WHERE document_id = $2
		RETURNING version_number`,
		v.ID, v.DocumentID, v.FileName, v.FileURL, v.FilePath,
		v.SizeBytes, v.UploadedBy, v.UploadedAt,
	).Scan(&v.VersionNumber)
	if err != nil {
		return model.DocumentVersion{}, fmt.Errorf("insert document version: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE documents SET current_version_id = $1, updated_at = $2 WHERE id = $3`,
		v.ID, time.Now().UTC(), v.DocumentID,
	)
	if err != nil {
		return model.DocumentVersion{}, fmt.Errorf("update current version: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.DocumentVersion{}, model.NewNotFoundError(
			fmt.Sprintf("document %q not found", v.DocumentID),
		)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.DocumentVersion{}, fmt.Errorf("commit: %w", err)
	}
	return v, nil
}

// ClearCurrentVersion nulls the document's current-version pointer.
func (s *PgStore) ClearCurrentVersion(ctx context.Context, documentID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE documents SET current_version_id = NULL, updated_at = $1 WHERE id = $2`,
		time.Now().UTC(), documentID,
	)
	if err != nil {
		return fmt.Errorf("clear current version: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(fmt.Sprintf("document %q not found", documentID))
	}
	return nil
}

// ListDocumentVersions returns all versions of a document, oldest first.
func (s *PgStore) ListDocumentVersions(ctx context.Context, documentID string) ([]model.DocumentVersion, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, document_id, version_number, file_name, file_url, file_path,
		       size_bytes, uploaded_by, uploaded_at
		FROM document_versions
		WHERE document_id = $1
		ORDER BY version_number ASC`,
		documentID,
	)
	if err != nil {
		return nil, fmt.Errorf("query document versions: %w", err)
	}
	defer rows.Close()

	var result []model.DocumentVersion
	for rows.Next() {
		var v model.DocumentVersion
		if err := rows.Scan(
			&v.ID, &v.DocumentID, &v.VersionNumber, &v.FileName, &v.FileURL,
			&v.FilePath, &v.SizeBytes, &v.UploadedBy, &v.UploadedAt,
		); err != nil {
			return nil, fmt.Errorf("scan document version: %w", err)
		}
		result = append(result, v)
	}
	return result, rows.Err()
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStepInstance(row rowScanner) (model.StepInstance, error) {
	var si model.StepInstance
	var fieldsJSON []byte
	err := row.Scan(
		&si.ID, &si.DossierID, &si.StepCode, &si.StepType, &si.ValidationStatus,
		&si.AssignedTo, &fieldsJSON, &si.RejectionReason,
		&si.StartedAt, &si.CompletedAt, &si.UpdatedAt, &si.Version,
	)
	if err != nil {
		return model.StepInstance{}, err
	}
	if fieldsJSON != nil {
		if err := json.Unmarshal(fieldsJSON, &si.FieldValues); err != nil {
			return model.StepInstance{}, fmt.Errorf("unmarshal field values: %w", err)
		}
	}
	return si, nil
}

func collectStepInstances(rows pgx.Rows) ([]model.StepInstance, error) {
	var result []model.StepInstance
	for rows.Next() {
		si, err := scanStepInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan step instance: %w", err)
		}
		result = append(result, si)
	}
	return result, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
