package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"whatsapp-gateway-golang/internal/models"
	"whatsapp-gateway-golang/pkg/logger"
)

const schema = `
	CREATE TABLE IF NOT EXISTS gateway_sessions (
		tenant_id      TEXT PRIMARY KEY,
		session_label  TEXT NOT NULL,
		webhook_url    TEXT NOT NULL DEFAULT '',
		status         TEXT NOT NULL,
		phone_identity TEXT NOT NULL DEFAULT '',
		created_at     DATETIME NOT NULL,
		updated_at     DATETIME NOT NULL,
		connected_at   DATETIME
	)
`

// SessionRepository keeps per-tenant session metadata in the gateway
// database so restarts can restore label and callback URL.
type SessionRepository struct {
	db     *sql.DB
	logger *logger.Logger
}

func NewSessionRepository(db *sql.DB, log *logger.Logger) *SessionRepository {
	return &SessionRepository{
		db:     db,
		logger: log,
	}
}

func (r *SessionRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("falha ao criar tabela de sessões: %w", err)
	}
	return nil
}

// Save inserts or replaces the row of session.TenantID. A restart of a
// linked tenant keeps the stored phone identity and connection time.
func (r *SessionRepository) Save(ctx context.Context, session *models.SessionMetadata) error {
	query := `
		INSERT INTO gateway_sessions (
			tenant_id, session_label, webhook_url, status,
			phone_identity, created_at, updated_at, connected_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id) DO UPDATE SET
			session_label = excluded.session_label,
			webhook_url = excluded.webhook_url,
			status = excluded.status,
			phone_identity = CASE
				WHEN excluded.phone_identity = '' THEN gateway_sessions.phone_identity
				ELSE excluded.phone_identity
			END,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			connected_at = COALESCE(excluded.connected_at, gateway_sessions.connected_at)
	`

	_, err := r.db.ExecContext(ctx, query,
		session.TenantID,
		session.SessionLabel,
		session.WebhookURL,
		session.Status,
		session.PhoneIdentity,
		session.CreatedAt,
		session.UpdatedAt,
		session.ConnectedAt,
	)
	if err != nil {
		return fmt.Errorf("falha ao salvar sessão: %w", err)
	}

	r.logger.Debugf("Sessão salva: %s (%s)", session.TenantID, session.Status)
	return nil
}

func (r *SessionRepository) UpdateStatus(ctx context.Context, tenantID, status, phoneIdentity string, connectedAt *time.Time) error {
	var query string
	var args []interface{}

	if phoneIdentity != "" {
		query = `
			UPDATE gateway_sessions
			SET status = ?, phone_identity = ?, connected_at = ?, updated_at = ?
			WHERE tenant_id = ?
		`
		args = []interface{}{status, phoneIdentity, connectedAt, time.Now(), tenantID}
	} else {
		// mantém phone_identity e connected_at existentes
		query = `
			UPDATE gateway_sessions
			SET status = ?, updated_at = ?
			WHERE tenant_id = ?
		`
		args = []interface{}{status, time.Now(), tenantID}
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("falha ao atualizar status: %w", err)
	}

	r.logger.Debugf("Status da sessão atualizado: %s -> %s", tenantID, status)
	return nil
}

// List returns every stored session ordered by tenant.
func (r *SessionRepository) List(ctx context.Context) ([]*models.SessionMetadata, error) {
	query := `
		SELECT tenant_id, session_label, webhook_url, status, phone_identity,
		       created_at, updated_at, connected_at
		FROM gateway_sessions
		ORDER BY tenant_id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("falha ao listar sessões: %w", err)
	}
	defer func(rows *sql.Rows) {
		err := rows.Close()
		if err != nil {
			r.logger.Errorf("Erro ao fechar linhas de sessão: %v", err)
		}
	}(rows)

	var sessions []*models.SessionMetadata
	for rows.Next() {
		session := &models.SessionMetadata{}
		err := rows.Scan(
			&session.TenantID,
			&session.SessionLabel,
			&session.WebhookURL,
			&session.Status,
			&session.PhoneIdentity,
			&session.CreatedAt,
			&session.UpdatedAt,
			&session.ConnectedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("falha ao escanear sessão: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("falha ao listar sessões: %w", err)
	}

	return sessions, nil
}

// Delete removes the row of tenantID. A missing row is not an error.
func (r *SessionRepository) Delete(ctx context.Context, tenantID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM gateway_sessions WHERE tenant_id = ?`, tenantID)
	if err != nil {
		return fmt.Errorf("falha ao deletar sessão: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("falha ao verificar linhas afetadas: %w", err)
	}

	if rows > 0 {
		r.logger.Infof("Sessão deletada: %s", tenantID)
	}
	return nil
}
