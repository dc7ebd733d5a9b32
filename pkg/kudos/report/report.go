// Package report implements asynchronous report generation. Requests are
// queued rows; a worker claims them one at a time, renders the report to
// a JSON file and records the outcome on the request.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kudos-app/kudos/pkg/kudos/apperr"
	"github.com/kudos-app/kudos/pkg/kudos/authz"
	"github.com/kudos-app/kudos/pkg/kudos/store"
)

// Report codes and their scope requirements.
const (
	CodeGroupActivity  = "group_activity"  // group required, admin only
	CodeBalanceSummary = "balance_summary" // group required, admin only
	CodeUserHistory    = "user_history"    // self service
)

// Request statuses.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Request is one queued report generation.
type Request struct {
	ID          string          `json:"id"`
	RequestedBy string          `json:"requested_by"`
	GroupID     *string         `json:"group_id,omitempty"`
	ReportCode  string          `json:"report_code"`
	Parameters  json.RawMessage `json:"parameters"`
	Status      string          `json:"status"`
	GeneratedAt *time.Time      `json:"generated_at,omitempty"`
	FileID      *string         `json:"file_id,omitempty"`
	LastError   *string         `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Manager queues and generates reports.
type Manager struct {
	store  *store.Store
	authz  *authz.Resolver
	dir    string
	logger *slog.Logger
}

// NewManager wires the report manager. dir is where generated files land.
func NewManager(st *store.Store, az *authz.Resolver, dir string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if dir == "" {
		dir = os.TempDir()
	}
	return &Manager{store: st, authz: az, dir: dir, logger: logger.With("component", "report")}
}

// RequestInput carries a report request.
type RequestInput struct {
	ReportCode string         `json:"report_code" validate:"required,oneof=group_activity balance_summary user_history"`
	GroupID    *string        `json:"group_id" validate:"omitempty,uuid"`
	Parameters map[string]any `json:"parameters"`
}

// Request validates and queues a report. Group-scoped codes require a
// group id and admin rights in that group.
func (m *Manager) Request(ctx context.Context, actor authz.Actor, in RequestInput) (*Request, error) {
	switch in.ReportCode {
	case CodeGroupActivity, CodeBalanceSummary:
		if in.GroupID == nil {
			return nil, apperr.Validation("error.validation").WithMeta("field", "group_id")
		}
		if err := m.authz.Can(ctx, actor, authz.Action{Name: "report.request", Scope: authz.ScopeGroupAdmin},
			authz.Target{GroupID: *in.GroupID}); err != nil {
			return nil, err
		}
	case CodeUserHistory:
		// Self service; any authenticated user.
	default:
		return nil, apperr.Validation("error.validation").WithMeta("field", "report_code")
	}

	params, err := json.Marshal(in.Parameters)
	if err != nil {
		return nil, fmt.Errorf("report: marshal parameters: %w", err)
	}
	now := time.Now().UTC()
	r := &Request{
		ID:          uuid.NewString(),
		RequestedBy: actor.UserID,
		GroupID:     in.GroupID,
		ReportCode:  in.ReportCode,
		Parameters:  params,
		Status:      StatusQueued,
		CreatedAt:   now,
	}
	err = m.store.WithinTx(ctx, func(uow *store.UnitOfWork) error {
		_, err := uow.Exec(ctx, `
			INSERT INTO report_requests (id, requested_by, group_id, report_code,
				parameters, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
			r.ID, r.RequestedBy, r.GroupID, r.ReportCode, r.Parameters, r.Status, now)
		if err != nil {
			return fmt.Errorf("report: insert request: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.logger.Info("report queued", "request_id", r.ID, "code", r.ReportCode)
	return r, nil
}

// Get returns a request visible to the actor: the requester or a
// superadmin.
func (m *Manager) Get(ctx context.Context, actor authz.Actor, requestID string) (*Request, error) {
	var r Request
	err := m.store.Pool().QueryRow(ctx, `
		SELECT id, requested_by, group_id, report_code, parameters, status,
		       generated_at, file_id, last_error, created_at
		FROM report_requests WHERE id = $1`, requestID).
		Scan(&r.ID, &r.RequestedBy, &r.GroupID, &r.ReportCode, &r.Parameters,
			&r.Status, &r.GeneratedAt, &r.FileID, &r.LastError, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("report: get request: %w", err)
	}
	if r.RequestedBy != actor.UserID && !actor.IsSuperadmin() {
		return nil, apperr.ErrNotFound
	}
	return &r, nil
}

// ProcessQueued claims and generates queued reports one by one until the
// queue is drained or limit is reached. Scheduler job; instances
// coordinate via FOR UPDATE SKIP LOCKED.
func (m *Manager) ProcessQueued(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 10
	}
	processed := 0
	for processed < limit {
		claimed, err := m.claimNext(ctx)
		if err != nil {
			return processed, err
		}
		if claimed == nil {
			return processed, nil
		}
		m.generate(ctx, claimed)
		processed++
	}
	return processed, nil
}

// claimNext moves the oldest queued request to processing and returns it,
// or nil when the queue is empty.
func (m *Manager) claimNext(ctx context.Context) (*Request, error) {
	var r *Request
	err := m.store.WithinTx(ctx, func(uow *store.UnitOfWork) error {
		var candidate Request
		err := uow.QueryRow(ctx, `
			SELECT id, requested_by, group_id, report_code, parameters, created_at
			FROM report_requests
			WHERE status = $1
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED`, StatusQueued).
			Scan(&candidate.ID, &candidate.RequestedBy, &candidate.GroupID,
				&candidate.ReportCode, &candidate.Parameters, &candidate.CreatedAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("report: claim: %w", err)
		}
		_, err = uow.Exec(ctx, `
			UPDATE report_requests SET status = $2, updated_at = $3 WHERE id = $1`,
			candidate.ID, StatusProcessing, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("report: mark processing: %w", err)
		}
		candidate.Status = StatusProcessing
		r = &candidate
		return nil
	})
	return r, err
}

// generate renders the claimed request and records the terminal status.
// Generation errors land on the request row, never on the caller.
func (m *Manager) generate(ctx context.Context, r *Request) {
	content, err := m.render(ctx, r)
	now := time.Now().UTC()
	if err == nil {
		var fileID string
		fileID, err = m.writeFile(r, content)
		if err == nil {
			_, err = m.store.Pool().Exec(ctx, `
				UPDATE report_requests
				SET status = $2, generated_at = $3, file_id = $4,
				    last_error = NULL, updated_at = $3
				WHERE id = $1`, r.ID, StatusCompleted, now, fileID)
			if err == nil {
				m.logger.Info("report completed", "request_id", r.ID, "file_id", fileID)
				return
			}
		}
	}

	m.logger.Error("report failed", "request_id", r.ID, "error", err)
	reason := err.Error()
	if _, uerr := m.store.Pool().Exec(ctx, `
		UPDATE report_requests
		SET status = $2, last_error = $3, updated_at = $4
		WHERE id = $1`, r.ID, StatusFailed, reason, now); uerr != nil {
		m.logger.Error("report status update failed", "request_id", r.ID, "error", uerr)
	}
}

func (m *Manager) writeFile(r *Request, content any) (string, error) {
	data, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return "", fmt.Errorf("report: marshal: %w", err)
	}
	name := fmt.Sprintf("%s-%s.json", r.ReportCode, r.ID)
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return "", fmt.Errorf("report: mkdir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(m.dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("report: write: %w", err)
	}
	return name, nil
}

func (m *Manager) render(ctx context.Context, r *Request) (any, error) {
	switch r.ReportCode {
	case CodeGroupActivity:
		return m.renderGroupActivity(ctx, *r.GroupID)
	case CodeBalanceSummary:
		return m.renderBalanceSummary(ctx, *r.GroupID)
	case CodeUserHistory:
		return m.renderUserHistory(ctx, r.RequestedBy)
	default:
		return nil, fmt.Errorf("report: unknown code %q", r.ReportCode)
	}
}

func (m *Manager) renderGroupActivity(ctx context.Context, groupID string) (any, error) {
	rows, err := m.store.Pool().Query(ctx, `
		SELECT t.id, t.title, d.code, t.occurrence_count, t.updated_at
		FROM tasks t
		JOIN dictionaries d ON d.id = t.status_id
		WHERE t.group_id = $1 AND NOT t.is_deleted
		ORDER BY t.updated_at DESC`, groupID)
	if err != nil {
		return nil, fmt.Errorf("report: group activity: %w", err)
	}
	defer rows.Close()

	type row struct {
		TaskID      string    `json:"task_id"`
		Title       string    `json:"title"`
		Status      string    `json:"status"`
		Occurrences int       `json:"occurrences"`
		UpdatedAt   time.Time `json:"updated_at"`
	}
	var out []row
	for rows.Next() {
		var rrow row
		if err := rows.Scan(&rrow.TaskID, &rrow.Title, &rrow.Status,
			&rrow.Occurrences, &rrow.UpdatedAt); err != nil {
			return nil, fmt.Errorf("report: scan activity: %w", err)
		}
		out = append(out, rrow)
	}
	return out, rows.Err()
}

func (m *Manager) renderBalanceSummary(ctx context.Context, groupID string) (any, error) {
	rows, err := m.store.Pool().Query(ctx, `
		SELECT a.user_id, u.email, a.balance::text
		FROM accounts a
		JOIN users u ON u.id = a.user_id
		WHERE a.group_id = $1
		ORDER BY a.balance DESC`, groupID)
	if err != nil {
		return nil, fmt.Errorf("report: balance summary: %w", err)
	}
	defer rows.Close()

	type row struct {
		UserID  string `json:"user_id"`
		Email   string `json:"email"`
		Balance string `json:"balance"`
	}
	var out []row
	for rows.Next() {
		var rrow row
		if err := rows.Scan(&rrow.UserID, &rrow.Email, &rrow.Balance); err != nil {
			return nil, fmt.Errorf("report: scan balance: %w", err)
		}
		out = append(out, rrow)
	}
	return out, rows.Err()
}

func (m *Manager) renderUserHistory(ctx context.Context, userID string) (any, error) {
	rows, err := m.store.Pool().Query(ctx, `
		SELECT tx.id, tx.amount::text, d.code, tx.description, tx.created_at
		FROM transactions tx
		JOIN accounts a ON a.id = tx.account_id
		JOIN dictionaries d ON d.id = tx.transaction_type_id
		WHERE a.user_id = $1
		ORDER BY tx.created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("report: user history: %w", err)
	}
	defer rows.Close()

	type row struct {
		TransactionID string    `json:"transaction_id"`
		Amount        string    `json:"amount"`
		Type          string    `json:"type"`
		Description   *string   `json:"description,omitempty"`
		CreatedAt     time.Time `json:"created_at"`
	}
	var out []row
	for rows.Next() {
		var rrow row
		if err := rows.Scan(&rrow.TransactionID, &rrow.Amount, &rrow.Type,
			&rrow.Description, &rrow.CreatedAt); err != nil {
			return nil, fmt.Errorf("report: scan history: %w", err)
		}
		out = append(out, rrow)
	}
	return out, rows.Err()
}
