// Package auth answers role questions about actors. Task-level authority
// comes from the coordinator tree (package coord); this package only covers
// registry roles such as bestuur.
package auth

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"coordline/internal/apperr"
	"coordline/internal/config"
	"coordline/internal/domain"
	"coordline/internal/repo"
)

// Service provides role helpers backed by SQL.
type Service struct {
	Repo   repo.Repo
	Config *config.Config
}

// ValidateAlias checks alias shape against the configured rules.
func (s Service) ValidateAlias(alias string) error {
	if strings.TrimSpace(alias) == "" {
		return apperr.Validationf("actor alias required")
	}
	if s.Config == nil {
		return nil
	}
	if err := s.Config.ValidateAlias(alias); err != nil {
		return apperr.Validationf("%v", err)
	}
	return nil
}

// EnsureActor registers alias on first use.
func (s Service) EnsureActor(ctx context.Context, tx *sql.Tx, alias string, now time.Time) error {
	if err := s.ValidateAlias(alias); err != nil {
		return err
	}
	return s.Repo.EnsureActor(ctx, tx, alias, now.UTC().Format(time.RFC3339))
}

// IsBestuur reports whether alias holds the bestuur role.
func (s Service) IsBestuur(ctx context.Context, tx *sql.Tx, alias string) (bool, error) {
	if alias == "" {
		return false, nil
	}
	return s.Repo.HasRole(ctx, tx, alias, domain.RoleBestuur)
}

// RequireBestuur fails with PermissionDenied unless alias is bestuur.
func (s Service) RequireBestuur(ctx context.Context, tx *sql.Tx, alias string) error {
	ok, err := s.IsBestuur(ctx, tx, alias)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.PermissionDeniedf("bestuur role required")
	}
	return nil
}

// ActorRoles lists alias's roles.
func (s Service) ActorRoles(ctx context.Context, tx *sql.Tx, alias string) ([]string, error) {
	return s.Repo.ActorRoles(ctx, tx, alias)
}
