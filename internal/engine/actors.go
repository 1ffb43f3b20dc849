package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"regexp"
	"strings"

	"coordline/internal/apperr"
	"coordline/internal/domain"
	"coordline/internal/events"
	"coordline/internal/notify"
	"coordline/internal/repo"
)

var roleRE = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// RegisterActor adds alias to the registry.
func (e Engine) RegisterActor(ctx context.Context, alias string) (domain.Actor, error) {
	alias = strings.TrimSpace(alias)
	if err := e.Auth.ValidateAlias(alias); err != nil {
		return domain.Actor{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Actor{}, err
	}
	defer tx.Rollback()

	taken, err := e.Repo.AliasTaken(ctx, tx, alias)
	if err != nil {
		return domain.Actor{}, err
	}
	if taken {
		return domain.Actor{}, apperr.Conflictf("alias %s is already in use", alias)
	}
	if err := e.Repo.InsertActor(ctx, tx, alias, e.stamp()); err != nil {
		return domain.Actor{}, storeErr(err, "actor "+alias)
	}
	a, err := e.Repo.GetActor(ctx, tx, alias)
	if err != nil {
		return domain.Actor{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Actor{}, err
	}
	e.afterCommit(ctx, events.Fact{ActionType: "actor.register", EntityType: events.EntityActor, EntityID: alias, ActorAlias: alias})
	return a, nil
}

func (e Engine) GetActor(ctx context.Context, alias string) (domain.Actor, error) {
	a, err := e.Repo.GetActor(ctx, nil, alias)
	return a, storeErr(err, "actor "+alias)
}

func (e Engine) ListActors(ctx context.Context) ([]domain.Actor, error) {
	return e.Repo.ListActors(ctx, nil)
}

// GrantRole gives alias a role. Only bestuur members can grant.
func (e Engine) GrantRole(ctx context.Context, alias, role, actor string) error {
	if !roleRE.MatchString(role) {
		return apperr.Validationf("invalid role %q", role)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Auth.RequireBestuur(ctx, tx, actor); err != nil {
		return err
	}
	if err := e.requireActors(ctx, tx, []string{alias}); err != nil {
		return err
	}
	if err := e.Repo.GrantRole(ctx, tx, alias, role, e.stamp()); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.afterCommit(ctx, events.Fact{
		ActionType: "actor.role_grant",
		EntityType: events.EntityActor,
		EntityID:   alias,
		ActorAlias: actor,
		Payload:    events.Payload{"role": role},
	}, notify.Notification{
		Kind:    notify.StateChanged,
		Aliases: []string{alias},
		Payload: map[string]any{"role": role, "granted": true},
	})
	return nil
}

// RevokeRole takes a role away. The last bestuur member keeps theirs.
func (e Engine) RevokeRole(ctx context.Context, alias, role, actor string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Auth.RequireBestuur(ctx, tx, actor); err != nil {
		return err
	}
	if role == domain.RoleBestuur {
		n, err := e.Repo.CountRole(ctx, tx, role)
		if err != nil {
			return err
		}
		held, err := e.Repo.HasRole(ctx, tx, alias, role)
		if err != nil {
			return err
		}
		if held && n <= 1 {
			return apperr.Conflictf("cannot revoke the last bestuur member")
		}
	}
	removed, err := e.Repo.RevokeRole(ctx, tx, alias, role)
	if err != nil {
		return err
	}
	if !removed {
		return apperr.NotFoundf("%s does not hold role %s", alias, role)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.afterCommit(ctx, events.Fact{
		ActionType: "actor.role_revoke",
		EntityType: events.EntityActor,
		EntityID:   alias,
		ActorAlias: actor,
		Payload:    events.Payload{"role": role},
	}, notify.Notification{
		Kind:    notify.StateChanged,
		Aliases: []string{alias},
		Payload: map[string]any{"role": role, "granted": false},
	})
	return nil
}

// BootstrapBestuur grants the bestuur role without a check, as long as
// nobody holds it yet. Meant for first setup from the CLI.
func (e Engine) BootstrapBestuur(ctx context.Context, alias string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	n, err := e.Repo.CountRole(ctx, tx, domain.RoleBestuur)
	if err != nil {
		return err
	}
	if n > 0 {
		return apperr.Conflictf("bestuur already has members; ask one of them to grant the role")
	}
	if err := e.Auth.EnsureActor(ctx, tx, alias, e.now()); err != nil {
		return err
	}
	if err := e.Repo.GrantRole(ctx, tx, alias, domain.RoleBestuur, e.stamp()); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.afterCommit(ctx, events.Fact{
		ActionType: "actor.role_bootstrap",
		EntityType: events.EntityActor,
		EntityID:   alias,
		ActorAlias: alias,
		Payload:    events.Payload{"role": domain.RoleBestuur},
	})
	return nil
}

// CreateAPIKey issues a key for actor. The plaintext is returned once and
// only its hash is stored.
func (e Engine) CreateAPIKey(ctx context.Context, actor, name string) (domain.APIKey, string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", err
	}
	secret := "cl_" + hex.EncodeToString(buf)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.APIKey{}, "", err
	}
	defer tx.Rollback()

	if err := e.Auth.EnsureActor(ctx, tx, actor, e.now()); err != nil {
		return domain.APIKey{}, "", err
	}
	key := domain.APIKey{
		ID:         newID(),
		ActorAlias: actor,
		Name:       strings.TrimSpace(name),
		KeyHash:    repo.HashAPIKey(secret),
		CreatedAt:  e.stamp(),
	}
	if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
		return domain.APIKey{}, "", storeErr(err, "api key")
	}
	if err := tx.Commit(); err != nil {
		return domain.APIKey{}, "", err
	}
	e.afterCommit(ctx, events.Fact{
		ActionType: "api_key.create",
		EntityType: events.EntityActor,
		EntityID:   actor,
		ActorAlias: actor,
		Payload:    events.Payload{"key_id": key.ID, "name": key.Name},
	})
	return key, secret, nil
}

func (e Engine) ListAPIKeys(ctx context.Context, actor string) ([]domain.APIKey, error) {
	return e.Repo.ListAPIKeys(ctx, actor)
}

func (e Engine) DeleteAPIKey(ctx context.Context, id, actor string) error {
	if err := e.Repo.DeleteAPIKey(ctx, id, actor); err != nil {
		return storeErr(err, "api key "+id)
	}
	e.afterCommit(ctx, events.Fact{
		ActionType: "api_key.delete",
		EntityType: events.EntityActor,
		EntityID:   actor,
		ActorAlias: actor,
		Payload:    events.Payload{"key_id": id},
	})
	return nil
}
