package registration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/hibiken/asynq"

	"github.com/thew0lf/avnz-app/internal/rbac"
	"github.com/thew0lf/avnz-app/internal/shared"
	"github.com/thew0lf/avnz-app/jobs"
)

// MailQueue enqueues the welcome email after a committed registration.
type MailQueue interface {
	EnqueueSendEmail(ctx context.Context, payload jobs.SendEmailPayload) (*asynq.TaskInfo, error)
}

// Service runs the signup flow: create the tenant records, attach the user to
// them and bootstrap the Administrator role, all inside one transaction.
type Service struct {
	repo        Repository
	bootstrap   *rbac.Bootstrapper
	projectName string
	mail        MailQueue
	logger      *slog.Logger
}

// NewService constructs a Service. projectName is the default project new
// users are attached to, typically the application name. mail may be nil;
// registration then skips the welcome email.
func NewService(repo Repository, bootstrap *rbac.Bootstrapper, projectName string, mail MailQueue, logger *slog.Logger) *Service {
	return &Service{repo: repo, bootstrap: bootstrap, projectName: projectName, mail: mail, logger: logger}
}

// Register creates client, company and user records for the signup, attaches
// the pivots and grants the Administrator role at client and company scope.
// The very first registration also receives the role at project scope. A
// failure anywhere rolls the whole registration back.
func (s *Service) Register(ctx context.Context, reg Registration) (Result, error) {
	reg.Name = strings.TrimSpace(reg.Name)
	reg.Email = strings.ToLower(strings.TrimSpace(reg.Email))
	if reg.Name == "" || reg.Email == "" || reg.Password == "" {
		return Result{}, fmt.Errorf("registration: name, email and password are required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(reg.Password), bcrypt.DefaultCost)
	if err != nil {
		return Result{}, fmt.Errorf("hash password: %w", err)
	}

	var result Result
	err = s.repo.WithTx(ctx, func(ctx context.Context, store Store) error {
		projectID, err := store.FindProjectByName(ctx, s.projectName)
		if errors.Is(err, shared.ErrNotFound) {
			projectID, err = store.CreateProject(ctx, s.projectName)
		}
		if err != nil {
			return fmt.Errorf("resolve project: %w", err)
		}

		clientID, err := store.CreateClient(ctx, reg.Name)
		if err != nil {
			return fmt.Errorf("create client: %w", err)
		}
		companyID, err := store.CreateCompany(ctx, reg.Name)
		if err != nil {
			return fmt.Errorf("create company: %w", err)
		}
		userID, err := store.CreateUser(ctx, reg.Name, reg.Email, string(hash))
		if err != nil {
			return fmt.Errorf("create user: %w", err)
		}

		if err := store.AttachClientUser(ctx, clientID, userID); err != nil {
			return fmt.Errorf("attach client: %w", err)
		}
		if err := store.AttachCompanyUser(ctx, companyID, userID); err != nil {
			return fmt.Errorf("attach company: %w", err)
		}
		if err := store.AttachProjectUser(ctx, projectID, userID); err != nil {
			return fmt.Errorf("attach project: %w", err)
		}

		first, err := store.ClaimFirstUser(ctx)
		if err != nil {
			return fmt.Errorf("claim first user: %w", err)
		}

		scopes := []rbac.Scope{
			rbac.ScopeFor(rbac.ScopeClient, clientID),
			rbac.ScopeFor(rbac.ScopeCompany, companyID),
		}
		if first {
			scopes = append(scopes, rbac.ScopeFor(rbac.ScopeProject, projectID))
		}
		if _, err := s.bootstrap.BootstrapAdministrator(ctx, store.Rbac(), userID, rbac.AdministratorRole, rbac.CoreActions(), scopes); err != nil {
			return fmt.Errorf("bootstrap administrator: %w", err)
		}

		result = Result{
			UserID:    userID,
			ClientID:  clientID,
			CompanyID: companyID,
			ProjectID: projectID,
			FirstUser: first,
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	if s.mail != nil {
		payload := jobs.SendEmailPayload{
			To:      reg.Email,
			Subject: "Welcome to " + s.projectName,
			Body:    "Hi " + reg.Name + ", your workspace is ready.",
		}
		if _, err := s.mail.EnqueueSendEmail(ctx, payload); err != nil && s.logger != nil {
			s.logger.Warn("enqueue welcome mail", slog.Any("error", err))
		}
	}

	if s.logger != nil {
		s.logger.Info("user registered",
			slog.Int64("user_id", result.UserID),
			slog.Int64("client_id", result.ClientID),
			slog.Bool("first_user", result.FirstUser))
	}
	return result, nil
}
