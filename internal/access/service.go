package access

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/compasshq/compass/internal/observability"
	"github.com/compasshq/compass/internal/permission"
	"github.com/compasshq/compass/internal/shared"
)

// RepositoryPort defines data access methods for the three permission
// sources and their administration.
type RepositoryPort interface {
	RoleForUser(ctx context.Context, userID int64) (RoleGrants, error)
	GroupsForUser(ctx context.Context, userID int64) ([]GroupGrants, error)
	OverrideForUser(ctx context.Context, userID int64) (*OverrideRecord, error)

	ListRoles(ctx context.Context) ([]Role, error)
	CreateRole(ctx context.Context, name, description string) (Role, error)
	SetRoleGrants(ctx context.Context, roleID int64, grants map[permission.Capability]bool) error
	AssignRole(ctx context.Context, userID, roleID int64) error

	ListGroups(ctx context.Context) ([]Group, error)
	CreateGroup(ctx context.Context, name, description string) (Group, error)
	SetGroupGrants(ctx context.Context, groupID int64, grants map[permission.Capability]bool) error
	AddGroupMember(ctx context.Context, groupID, userID int64) error
	RemoveGroupMember(ctx context.Context, groupID, userID int64) error

	PutOverride(ctx context.Context, userID int64, grants map[permission.Capability]bool, updatedBy int64) (OverrideRecord, error)
	ClearOverride(ctx context.Context, userID int64) error
	CountOverrides(ctx context.Context) (int64, error)
}

// AuditPort records administrative mutations.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Invalidator fans a cache invalidation out to every process. The default
// implementation bumps the cache version directly; the jobs package
// provides a queue-backed one so the bump survives process loss.
type Invalidator interface {
	Invalidate(ctx context.Context, reason string) error
}

// Service orchestrates permission resolution and administration.
type Service struct {
	repo        RepositoryPort
	cache       *Cache
	audit       AuditPort
	invalidator Invalidator
	metrics     *observability.Metrics
	logger      *slog.Logger
}

// NewService constructs a Service. Cache, audit, invalidator, and metrics
// may be nil; the service degrades to direct computation without them.
func NewService(repo RepositoryPort, cache *Cache, audit AuditPort, invalidator Invalidator, metrics *observability.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, audit: audit, invalidator: invalidator, metrics: metrics, logger: logger}
}

// ResolveForUser computes the user's effective permission set with
// provenance, consulting the cache first. Each call works on a best-effort
// snapshot of the three stores; read skew between them is accepted.
func (s *Service) ResolveForUser(ctx context.Context, userID int64) (*permission.Resolution, error) {
	_, res, err := s.resolveSnapshot(ctx, userID)
	return res, err
}

// SummaryForUser returns the auditable security summary for a user.
func (s *Service) SummaryForUser(ctx context.Context, userID int64) (SecuritySummary, error) {
	snap, res, err := s.resolveSnapshot(ctx, userID)
	if err != nil {
		return SecuritySummary{}, err
	}
	summary := SecuritySummary{
		UserID:          userID,
		RoleID:          snap.Role.RoleID,
		GroupIDs:        snap.GroupIDs(),
		OverrideVersion: snap.OverrideVersion(),
		Resolved:        res.Resolved.Map(),
		Provenance:      make(map[permission.Capability]string, len(res.Provenance)),
	}
	for capability, source := range res.Provenance {
		summary.Provenance[capability] = string(source)
	}
	for _, d := range res.Degraded {
		summary.Degraded = append(summary.Degraded, string(d.Source))
	}
	return summary, nil
}

func (s *Service) resolveSnapshot(ctx context.Context, userID int64) (Snapshot, *permission.Resolution, error) {
	snap, err := s.snapshot(ctx, userID)
	if err != nil {
		if errors.Is(err, shared.ErrMissingRole) {
			s.metrics.Resolution("error")
			return Snapshot{}, nil, &permission.ResolutionError{Fault: permission.FaultMissingRole, Err: err}
		}
		s.metrics.Resolution("error")
		return Snapshot{}, nil, err
	}

	key, err := s.cache.Key(ctx, snap.Role.RoleID, snap.GroupIDs(), snap.OverrideVersion())
	if err == nil {
		if cached, ok, cerr := s.cache.Get(ctx, key); cerr == nil && ok {
			s.metrics.Resolution("cache_hit")
			return snap, cached, nil
		}
	} else {
		s.logger.Warn("access cache key", slog.Any("error", err))
	}

	groups := make([]permission.GroupGrant, 0, len(snap.Groups))
	for _, g := range snap.Groups {
		groups = append(groups, permission.GroupGrant{
			GroupID: strconv.FormatInt(g.GroupID, 10),
			Grants:  g.Grants,
		})
	}
	var override map[permission.Capability]bool
	if snap.Override != nil {
		override = snap.Override.Grants
		if override == nil {
			override = map[permission.Capability]bool{}
		}
	}

	res, err := permission.Resolve(snap.Role.Grants, groups, override)
	if err != nil {
		s.metrics.Resolution("error")
		return Snapshot{}, nil, err
	}

	outcome := "ok"
	for _, d := range res.Degraded {
		outcome = "degraded"
		s.logger.Warn("permission source degraded fail-closed",
			slog.Int64("user_id", userID),
			slog.String("source", string(d.Source)),
			slog.Any("error", d.Err),
		)
	}
	s.metrics.Resolution(outcome)

	if key != "" {
		if err := s.cache.Store(ctx, key, res); err != nil {
			s.logger.Warn("access cache store", slog.Any("error", err))
		}
	}
	return snap, res, nil
}

// snapshot fetches the three sources concurrently.
func (s *Service) snapshot(ctx context.Context, userID int64) (Snapshot, error) {
	snap := Snapshot{UserID: userID}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		role, err := s.repo.RoleForUser(ctx, userID)
		if err != nil {
			return err
		}
		snap.Role = role
		return nil
	})
	g.Go(func() error {
		groups, err := s.repo.GroupsForUser(ctx, userID)
		if err != nil {
			return err
		}
		snap.Groups = groups
		return nil
	})
	g.Go(func() error {
		override, err := s.repo.OverrideForUser(ctx, userID)
		if err != nil {
			return err
		}
		snap.Override = override
		return nil
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// ListRoles returns all roles.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

// ListGroups returns all groups.
func (s *Service) ListGroups(ctx context.Context) ([]Group, error) {
	return s.repo.ListGroups(ctx)
}

// CreateRole creates a role with a validated total grant map.
func (s *Service) CreateRole(ctx context.Context, actorID int64, name, description string, grants map[permission.Capability]bool) (Role, error) {
	if _, err := permission.NewSet(grants); err != nil {
		return Role{}, err
	}
	role, err := s.repo.CreateRole(ctx, name, description)
	if err != nil {
		return Role{}, err
	}
	if err := s.repo.SetRoleGrants(ctx, role.ID, grants); err != nil {
		return Role{}, err
	}
	s.recordAudit(ctx, actorID, "access.role.create", "role", strconv.FormatInt(role.ID, 10), map[string]any{"name": role.Name})
	s.invalidate(ctx, "role created")
	return role, nil
}

// SetRoleGrants replaces a role's grant map. The map must be total.
func (s *Service) SetRoleGrants(ctx context.Context, actorID, roleID int64, grants map[permission.Capability]bool) error {
	if _, err := permission.NewSet(grants); err != nil {
		return err
	}
	if err := s.repo.SetRoleGrants(ctx, roleID, grants); err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "access.role.grants", "role", strconv.FormatInt(roleID, 10), nil)
	s.invalidate(ctx, "role grants changed")
	return nil
}

// AssignRole points a user at a role.
func (s *Service) AssignRole(ctx context.Context, actorID, userID, roleID int64) error {
	if err := s.repo.AssignRole(ctx, userID, roleID); err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "access.role.assign", "user", strconv.FormatInt(userID, 10), map[string]any{"role_id": roleID})
	s.invalidate(ctx, "role assigned")
	return nil
}

// CreateGroup creates a group with a validated total grant map.
func (s *Service) CreateGroup(ctx context.Context, actorID int64, name, description string, grants map[permission.Capability]bool) (Group, error) {
	if _, err := permission.NewSet(grants); err != nil {
		return Group{}, err
	}
	group, err := s.repo.CreateGroup(ctx, name, description)
	if err != nil {
		return Group{}, err
	}
	if err := s.repo.SetGroupGrants(ctx, group.ID, grants); err != nil {
		return Group{}, err
	}
	s.recordAudit(ctx, actorID, "access.group.create", "group", strconv.FormatInt(group.ID, 10), map[string]any{"name": group.Name})
	s.invalidate(ctx, "group created")
	return group, nil
}

// SetGroupGrants replaces a group's grant map. The map must be total.
func (s *Service) SetGroupGrants(ctx context.Context, actorID, groupID int64, grants map[permission.Capability]bool) error {
	if _, err := permission.NewSet(grants); err != nil {
		return err
	}
	if err := s.repo.SetGroupGrants(ctx, groupID, grants); err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "access.group.grants", "group", strconv.FormatInt(groupID, 10), nil)
	s.invalidate(ctx, "group grants changed")
	return nil
}

// AddGroupMember creates a membership.
func (s *Service) AddGroupMember(ctx context.Context, actorID, groupID, userID int64) error {
	if err := s.repo.AddGroupMember(ctx, groupID, userID); err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "access.group.member.add", "group", strconv.FormatInt(groupID, 10), map[string]any{"user_id": userID})
	s.invalidate(ctx, "membership added")
	return nil
}

// RemoveGroupMember removes a membership.
func (s *Service) RemoveGroupMember(ctx context.Context, actorID, groupID, userID int64) error {
	if err := s.repo.RemoveGroupMember(ctx, groupID, userID); err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "access.group.member.remove", "group", strconv.FormatInt(groupID, 10), map[string]any{"user_id": userID})
	s.invalidate(ctx, "membership removed")
	return nil
}

// SetOverride writes a user's individual override. The grant map may be
// partial but every key must be a recognized capability.
func (s *Service) SetOverride(ctx context.Context, actorID, userID int64, grants map[permission.Capability]bool) (OverrideRecord, error) {
	if _, err := permission.NewOverride(grants); err != nil {
		return OverrideRecord{}, err
	}
	record, err := s.repo.PutOverride(ctx, userID, grants, actorID)
	if err != nil {
		return OverrideRecord{}, err
	}
	s.recordAudit(ctx, actorID, "access.override.set", "user", strconv.FormatInt(userID, 10), map[string]any{"version": record.Version, "capabilities": len(grants)})
	s.invalidate(ctx, "override set")
	return record, nil
}

// ClearOverride removes a user's individual override.
func (s *Service) ClearOverride(ctx context.Context, actorID, userID int64) error {
	if err := s.repo.ClearOverride(ctx, userID); err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "access.override.clear", "user", strconv.FormatInt(userID, 10), nil)
	s.invalidate(ctx, "override cleared")
	return nil
}

// CountOverrides reports how many users carry an active override.
func (s *Service) CountOverrides(ctx context.Context) (int64, error) {
	return s.repo.CountOverrides(ctx)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, entity, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: entity, EntityID: entityID, Meta: meta}); err != nil {
		s.logger.Error("record audit log", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *Service) invalidate(ctx context.Context, reason string) {
	if s.invalidator != nil {
		err := s.invalidator.Invalidate(ctx, reason)
		if err == nil {
			return
		}
		s.logger.Warn("queue cache invalidation", slog.String("reason", reason), slog.Any("error", err))
	}
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("bump access cache", slog.String("reason", reason), slog.Any("error", err))
	}
}
