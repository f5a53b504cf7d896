package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrUnauthorized = errors.New("caller is not an administrator")
	ErrUnknownRole  = errors.New("unknown role")
	ErrInvalidActor = errors.New("actor identifier is required")
)

type Grant struct {
	Actor     string    `json:"actor"`
	Role      Role      `json:"role"`
	GrantedBy string    `json:"grantedBy"`
	GrantedAt time.Time `json:"grantedAt"`
}

// GrantStore persists role grants. Implementations must make GrantRole and
// RevokeRole idempotent.
type GrantStore interface {
	GrantRole(ctx context.Context, grant Grant) error
	RevokeRole(ctx context.Context, actor string, role Role) error
	HasRole(ctx context.Context, actor string, role Role) (bool, error)
	ListRoles(ctx context.Context, actor string) ([]Role, error)
}

// Registry holds global role grants and answers authorization queries.
type Registry struct {
	store GrantStore
	now   func() time.Time
}

func NewRegistry(store GrantStore) *Registry {
	return &Registry{store: store, now: time.Now}
}

// Bootstrap seeds administrators without an authorization check. It is meant
// for deployment-time setup only.
func (r *Registry) Bootstrap(ctx context.Context, admins ...string) error {
	for _, admin := range admins {
		admin = strings.TrimSpace(admin)
		if admin == "" {
			continue
		}
		if err := r.store.GrantRole(ctx, Grant{
			Actor:     admin,
			Role:      RoleAdministrator,
			GrantedBy: "bootstrap",
			GrantedAt: r.now().UTC(),
		}); err != nil {
			return fmt.Errorf("bootstrap admin %s: %w", admin, err)
		}
	}
	return nil
}

// Grant records role for actor. Only administrators may grant, including
// the administrator role itself.
func (r *Registry) Grant(ctx context.Context, granter string, role Role, actor string) error {
	if err := r.RequireAdministrator(ctx, granter); err != nil {
		return err
	}
	if err := r.validate(role, actor); err != nil {
		return err
	}
	return r.store.GrantRole(ctx, Grant{
		Actor:     strings.TrimSpace(actor),
		Role:      role,
		GrantedBy: granter,
		GrantedAt: r.now().UTC(),
	})
}

// Revoke removes a grant. Uploads and approvals already recorded by actor
// are left as they are.
func (r *Registry) Revoke(ctx context.Context, granter string, role Role, actor string) error {
	if err := r.RequireAdministrator(ctx, granter); err != nil {
		return err
	}
	if err := r.validate(role, actor); err != nil {
		return err
	}
	return r.store.RevokeRole(ctx, strings.TrimSpace(actor), role)
}

func (r *Registry) HasRole(ctx context.Context, actor string, role Role) (bool, error) {
	if strings.TrimSpace(actor) == "" {
		return false, nil
	}
	return r.store.HasRole(ctx, actor, role)
}

func (r *Registry) Roles(ctx context.Context, actor string) ([]Role, error) {
	if strings.TrimSpace(actor) == "" {
		return []Role{}, nil
	}
	return r.store.ListRoles(ctx, actor)
}

func (r *Registry) RequireAdministrator(ctx context.Context, actor string) error {
	ok, err := r.HasRole(ctx, actor, RoleAdministrator)
	if err != nil {
		return fmt.Errorf("check administrator role: %w", err)
	}
	if !ok {
		return ErrUnauthorized
	}
	return nil
}

func (r *Registry) validate(role Role, actor string) error {
	if _, ok := Parse(string(role)); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	if strings.TrimSpace(actor) == "" {
		return ErrInvalidActor
	}
	return nil
}
