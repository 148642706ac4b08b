package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/thew0lf/avnz-app/internal/jobs"
)

const (
	// TaskAclReconcile sweeps authorization grants whose subject or target is gone.
	TaskAclReconcile = "acl:reconcile"
)

// AclReconcilePayload contains options for the reconcile sweep.
type AclReconcilePayload struct {
	DryRun bool `json:"dry_run"`
}

// NewAclReconcileTask builds a reconcile task.
func NewAclReconcileTask(dryRun bool) (*asynq.Task, error) {
	body, err := json.Marshal(AclReconcilePayload{DryRun: dryRun})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAclReconcile, body, asynq.Queue(QueueDefault)), nil
}

// Reconciler removes role assignments and resource grants that reference
// deleted users, roles or tenants. Deleting a tenant does not cascade into the
// authorization tables; this sweep keeps them consistent instead.
type Reconciler struct {
	pool    *pgxpool.Pool
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewReconciler constructs a Reconciler.
func NewReconciler(pool *pgxpool.Pool, logger *slog.Logger) *Reconciler {
	return &Reconciler{pool: pool, logger: logger, metrics: jobmetrics.NewMetrics(nil)}
}

// HandleAclReconcileTask processes TaskAclReconcile tasks.
func (r *Reconciler) HandleAclReconcileTask(ctx context.Context, t *asynq.Task) error {
	var payload AclReconcilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := r.metrics.Track("acl_reconcile")
	if payload.DryRun {
		return tracker.End(r.report(ctx))
	}
	return tracker.End(r.Sweep(ctx))
}

// reconcileSteps enumerates the orphan classes the sweep removes: role
// assignments losing their user, role or scope target, and resource grants
// losing their user or the resource row itself. Both tables need one step per
// tenant type because scope_type and resource_type decide which table the id
// points into.
var reconcileSteps = []struct {
	name  string
	table string
	where string
}{
	{"assignments_without_user", "role_assignments a", `NOT EXISTS (SELECT 1 FROM users u WHERE u.id = a.user_id)`},
	{"assignments_without_role", "role_assignments a", `NOT EXISTS (SELECT 1 FROM roles r WHERE r.id = a.role_id)`},
	{"assignments_without_client", "role_assignments a", `a.scope_type = 'client' AND NOT EXISTS (SELECT 1 FROM clients c WHERE c.id = a.scope_id)`},
	{"assignments_without_company", "role_assignments a", `a.scope_type = 'company' AND NOT EXISTS (SELECT 1 FROM companies c WHERE c.id = a.scope_id)`},
	{"assignments_without_project", "role_assignments a", `a.scope_type = 'project' AND NOT EXISTS (SELECT 1 FROM projects p WHERE p.id = a.scope_id)`},
	{"grants_without_user", "resource_acl_grants g", `NOT EXISTS (SELECT 1 FROM users u WHERE u.id = g.user_id)`},
	{"grants_without_client", "resource_acl_grants g", `g.resource_type = 'client' AND NOT EXISTS (SELECT 1 FROM clients c WHERE c.id = g.resource_id)`},
	{"grants_without_company", "resource_acl_grants g", `g.resource_type = 'company' AND NOT EXISTS (SELECT 1 FROM companies c WHERE c.id = g.resource_id)`},
	{"grants_without_project", "resource_acl_grants g", `g.resource_type = 'project' AND NOT EXISTS (SELECT 1 FROM projects p WHERE p.id = g.resource_id)`},
}

// Sweep deletes the orphaned rows and logs per-step counts.
func (r *Reconciler) Sweep(ctx context.Context) error {
	if r.pool == nil {
		return nil
	}
	for _, step := range reconcileSteps {
		tag, err := r.pool.Exec(ctx, "DELETE FROM "+step.table+" WHERE "+step.where)
		if err != nil {
			if r.logger != nil {
				r.logger.Error("acl reconcile", slog.String("step", step.name), slog.Any("error", err))
			}
			return err
		}
		if r.logger != nil && tag.RowsAffected() > 0 {
			r.logger.Info("acl reconcile removed orphans",
				slog.String("step", step.name),
				slog.Int64("rows", tag.RowsAffected()))
		}
	}
	return nil
}

// report counts what Sweep would delete, one count per step.
func (r *Reconciler) report(ctx context.Context) error {
	if r.pool == nil {
		return nil
	}
	var total int64
	for _, step := range reconcileSteps {
		var count int64
		if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+step.table+" WHERE "+step.where).Scan(&count); err != nil {
			return err
		}
		total += count
		if r.logger != nil && count > 0 {
			r.logger.Info("acl reconcile dry run",
				slog.String("step", step.name),
				slog.Int64("rows", count))
		}
	}
	if r.logger != nil {
		r.logger.Info("acl reconcile dry run total", slog.Int64("orphans", total))
	}
	return nil
}
