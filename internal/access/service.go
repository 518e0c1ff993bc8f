package access

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/channeladmin/channeladmin/internal/audit"
	"github.com/channeladmin/channeladmin/internal/roles"
	"github.com/channeladmin/channeladmin/internal/users"
)

// DefaultCacheTTL bounds how long a cached role set is served.
const DefaultCacheTTL = 5 * time.Minute

// Options tunes a Service.
type Options struct {
	CacheTTL time.Duration
	Logger   *slog.Logger
	Metrics  Metrics
}

// Service is the access-control facade: role changes, role and permission
// lookups and the audit trail. Reads go through the cache; writes invalidate
// the affected user before they return.
type Service struct {
	store   Store
	cache   Cache
	catalog *roles.Catalog
	ttl     time.Duration
	logger  *slog.Logger
	metrics Metrics

	locks keyedMutex
	loads singleflight.Group

	// cacheMu orders cache fills against invalidation. gen counts
	// invalidations; a fill is dropped when its user was invalidated after the
	// load began. Users only have a mark while a load is in flight.
	cacheMu sync.Mutex
	gen     uint64
	marks   map[int64]*loadMark
}

type loadMark struct {
	loads       int
	invalidated uint64
}

// NewService wires a Service. A nil cache selects a MemoryCache.
func NewService(store Store, cache Cache, catalog *roles.Catalog, opts Options) *Service {
	if cache == nil {
		cache = NewMemoryCache()
	}
	if catalog == nil {
		catalog = roles.DefaultCatalog()
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}
	return &Service{
		store:   store,
		cache:   cache,
		catalog: catalog,
		ttl:     opts.CacheTTL,
		logger:  opts.Logger.With(slog.String("component", "access")),
		metrics: opts.Metrics,
		marks:   make(map[int64]*loadMark),
	}
}

// Catalog exposes the role catalog the service evaluates against.
func (s *Service) Catalog() *roles.Catalog { return s.catalog }

// AvailableRoles lists the catalog.
func (s *Service) AvailableRoles() []roles.Role { return s.catalog.Roles() }

// AddRole grants roleType to userID on behalf of actorID, who must be an
// admin. It reports false when the user already holds the role under any
// equivalent name.
func (s *Service) AddRole(ctx context.Context, userID int64, roleType string, actorID int64) (bool, error) {
	roleType = roles.Normalize(roleType)
	if !s.catalog.Has(roleType) {
		return false, invalidRole(roleType)
	}
	if userID <= 0 {
		return false, invalidArgument("user_id", strconv.FormatInt(userID, 10))
	}
	if err := s.Require(ctx, actorID, HasRole(roles.Admin)); err != nil {
		s.metrics.Mutation(string(audit.ActionAdd), outcomeFor(err))
		return false, err
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	for _, alias := range s.catalog.Equivalents(roleType)[1:] {
		held, err := s.store.CheckRole(ctx, userID, alias)
		if err != nil {
			s.metrics.Mutation(string(audit.ActionAdd), OutcomeError)
			return false, err
		}
		if held {
			s.logger.Info("role already held", slog.Int64("user_id", userID), slog.String("role_type", roleType), slog.String("stored_as", alias))
			s.metrics.Mutation(string(audit.ActionAdd), OutcomeNoop)
			return false, nil
		}
	}

	added, err := s.store.AddRole(ctx, userID, roleType, actorID)
	s.invalidate(ctx, userID)
	if err != nil {
		s.metrics.Mutation(string(audit.ActionAdd), OutcomeError)
		return false, err
	}
	if !added {
		s.logger.Info("role already held", slog.Int64("user_id", userID), slog.String("role_type", roleType))
		s.metrics.Mutation(string(audit.ActionAdd), OutcomeNoop)
		return false, nil
	}
	s.logger.Info("role granted", slog.Int64("user_id", userID), slog.String("role_type", roleType), slog.Int64("actor_id", actorID))
	s.metrics.Mutation(string(audit.ActionAdd), OutcomeApplied)
	return true, nil
}

// RemoveRole revokes roleType, or the stored spelling of an equivalent, from
// userID on behalf of actorID, who must be an admin.
func (s *Service) RemoveRole(ctx context.Context, userID int64, roleType string, actorID int64) (bool, error) {
	if err := s.Require(ctx, actorID, HasRole(roles.Admin)); err != nil {
		s.metrics.Mutation(string(audit.ActionRemove), outcomeFor(err))
		return false, err
	}
	roleType = roles.Normalize(roleType)
	if roleType == "" {
		return false, invalidRole(roleType)
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	exists, err := s.store.UserExists(ctx, userID)
	if err != nil {
		s.metrics.Mutation(string(audit.ActionRemove), OutcomeError)
		return false, err
	}
	if !exists {
		s.metrics.Mutation(string(audit.ActionRemove), OutcomeNoop)
		return false, &NotFoundError{Err: ErrUserNotFound, UserID: userID}
	}

	stored := ""
	for _, name := range s.catalog.Equivalents(roleType) {
		held, err := s.store.CheckRole(ctx, userID, name)
		if err != nil {
			s.metrics.Mutation(string(audit.ActionRemove), OutcomeError)
			return false, err
		}
		if held {
			stored = name
			break
		}
	}
	if stored == "" {
		s.metrics.Mutation(string(audit.ActionRemove), OutcomeNoop)
		return false, &NotFoundError{Err: ErrRoleNotFound, UserID: userID, RoleType: roleType}
	}

	removed, err := s.store.RemoveRole(ctx, userID, stored, actorID)
	s.invalidate(ctx, userID)
	if err != nil {
		s.metrics.Mutation(string(audit.ActionRemove), OutcomeError)
		return false, err
	}
	if !removed {
		s.metrics.Mutation(string(audit.ActionRemove), OutcomeNoop)
		return false, &NotFoundError{Err: ErrRoleNotFound, UserID: userID, RoleType: roleType}
	}
	s.logger.Info("role revoked", slog.Int64("user_id", userID), slog.String("role_type", stored), slog.Int64("actor_id", actorID))
	s.metrics.Mutation(string(audit.ActionRemove), OutcomeApplied)
	return true, nil
}

// CheckUserRole reports whether userID holds roleType or an equivalent.
// Storage failures read as false.
func (s *Service) CheckUserRole(ctx context.Context, userID int64, roleType string) bool {
	held, err := s.loadRoles(ctx, userID)
	if err != nil {
		s.logger.Error("check user role", slog.Int64("user_id", userID), slog.Any("error", err))
		return false
	}
	return s.holds(held, roleType)
}

// GetUserRoles returns the sorted role types userID holds. Storage failures
// read as no roles.
func (s *Service) GetUserRoles(ctx context.Context, userID int64) []string {
	held, err := s.loadRoles(ctx, userID)
	if err != nil {
		s.logger.Error("get user roles", slog.Int64("user_id", userID), slog.Any("error", err))
		return []string{}
	}
	sort.Strings(held)
	return held
}

// GetUserPermissions returns the sorted union of permissions granted by the
// roles userID holds.
func (s *Service) GetUserPermissions(ctx context.Context, userID int64) []string {
	perms := s.catalog.Permissions(s.GetUserRoles(ctx, userID))
	out := make([]string, 0, len(perms))
	for p := range perms {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// HasPermission reports whether userID is granted perm through any role.
func (s *Service) HasPermission(ctx context.Context, userID int64, perm string) bool {
	_, ok := s.catalog.Permissions(s.GetUserRoles(ctx, userID))[roles.Normalize(perm)]
	return ok
}

// GetRoleDetails returns the stored assignment of roleType, following
// equivalents, with the permissions it grants.
func (s *Service) GetRoleDetails(ctx context.Context, userID int64, roleType string) (RoleDetails, error) {
	for _, name := range s.catalog.Equivalents(roleType) {
		a, err := s.store.GetRoleDetails(ctx, userID, name)
		if errors.Is(err, ErrRoleNotFound) {
			continue
		}
		if err != nil {
			return RoleDetails{}, err
		}
		details := RoleDetails{RoleAssignment: a, Grants: []string{}}
		if r, ok := s.catalog.Lookup(name); ok {
			details.Grants = r.Permissions
		}
		return details, nil
	}
	return RoleDetails{}, &NotFoundError{Err: ErrRoleNotFound, UserID: userID, RoleType: roles.Normalize(roleType)}
}

// GetRoleHistory returns audit entries newest first. A nil userID spans all users.
func (s *Service) GetRoleHistory(ctx context.Context, userID *int64, limit int) ([]audit.Entry, error) {
	return s.store.GetRoleHistory(ctx, userID, audit.ClampLimit(limit))
}

// ClearHistory deletes the audit log on behalf of an admin.
func (s *Service) ClearHistory(ctx context.Context, actorID int64) (int64, error) {
	if err := s.Require(ctx, actorID, HasRole(roles.Admin)); err != nil {
		return 0, err
	}
	n, err := s.store.ClearHistory(ctx)
	if err != nil {
		return 0, err
	}
	s.logger.Info("role history cleared", slog.Int64("actor_id", actorID), slog.Int64("entries", n))
	return n, nil
}

// GetUsersWithRole lists users holding roleType under any equivalent name.
func (s *Service) GetUsersWithRole(ctx context.Context, roleType string) ([]users.User, error) {
	return s.store.GetUsersByRole(ctx, s.catalog.Equivalents(roleType))
}

// CreateUserIfNotExists registers userID and reports whether it was new. A
// blank username is stored as unknown.
func (s *Service) CreateUserIfNotExists(ctx context.Context, userID int64, username *string) (bool, error) {
	if userID <= 0 {
		return false, invalidArgument("user_id", strconv.FormatInt(userID, 10))
	}
	if username != nil {
		name := strings.TrimSpace(*username)
		if name == "" {
			username = nil
		} else {
			username = &name
		}
	}
	return s.store.EnsureUser(ctx, userID, username)
}

// SeedBootstrapAdmin makes adminID an admin without an acting admin. The
// grant is recorded as performed by adminID itself.
func (s *Service) SeedBootstrapAdmin(ctx context.Context, adminID int64, username *string) (bool, error) {
	if _, err := s.CreateUserIfNotExists(ctx, adminID, username); err != nil {
		return false, err
	}
	unlock := s.locks.Lock(adminID)
	defer unlock()

	added, err := s.store.AddRole(ctx, adminID, roles.Admin, adminID)
	s.invalidate(ctx, adminID)
	if err != nil {
		return false, err
	}
	if added {
		s.logger.Info("bootstrap admin seeded", slog.Int64("user_id", adminID))
	}
	return added, nil
}

// RenameRole migrates every assignment and audit entry from one role type to
// another on behalf of an admin. A dry run only reports affected users.
func (s *Service) RenameRole(ctx context.Context, actorID int64, from, to string, dryRun bool) (RenameResult, error) {
	if err := s.Require(ctx, actorID, HasRole(roles.Admin)); err != nil {
		return RenameResult{}, err
	}
	from, to = roles.Normalize(from), roles.Normalize(to)
	if from == "" || to == "" {
		return RenameResult{}, invalidArgument("role_type", from+" -> "+to)
	}
	if from == to {
		return RenameResult{}, invalidArgument("role_type", from+" -> "+to)
	}
	res, err := s.store.RenameRole(ctx, from, to, dryRun)
	if err != nil {
		return RenameResult{}, err
	}
	if !dryRun {
		for _, id := range res.Users {
			s.invalidate(ctx, id)
		}
		s.logger.Info("role renamed", slog.String("from", from), slog.String("to", to),
			slog.Int64("renamed", res.Renamed), slog.Int64("merged", res.Merged), slog.Int64("actor_id", actorID))
	}
	return res, nil
}

func (s *Service) loadRoles(ctx context.Context, userID int64) ([]string, error) {
	if held, ok := s.cache.Get(ctx, userID); ok {
		s.metrics.CacheLookup(true)
		return held, nil
	}
	s.metrics.CacheLookup(false)

	ch := s.loads.DoChan(strconv.FormatInt(userID, 10), func() (any, error) {
		loadCtx := context.WithoutCancel(ctx)
		mark, started := s.beginLoad(userID)
		held, err := s.store.GetUserRoles(loadCtx, userID)
		if err == nil && held == nil {
			held = []string{}
		}
		s.endLoad(loadCtx, userID, mark, started, held, err == nil)
		if err != nil {
			return nil, err
		}
		return held, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return append([]string{}, res.Val.([]string)...), nil
	}
}

func (s *Service) beginLoad(userID int64) (*loadMark, uint64) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	mark, ok := s.marks[userID]
	if !ok {
		mark = &loadMark{}
		s.marks[userID] = mark
	}
	mark.loads++
	return mark, s.gen
}

func (s *Service) endLoad(ctx context.Context, userID int64, mark *loadMark, started uint64, held []string, fill bool) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if fill && mark.invalidated <= started {
		s.cache.Put(ctx, userID, held, s.ttl)
	}
	mark.loads--
	if mark.loads == 0 {
		delete(s.marks, userID)
	}
}

func (s *Service) invalidate(ctx context.Context, userID int64) {
	s.cacheMu.Lock()
	s.gen++
	if mark, ok := s.marks[userID]; ok {
		mark.invalidated = s.gen
	}
	s.cache.Invalidate(ctx, userID)
	s.cacheMu.Unlock()
	s.loads.Forget(strconv.FormatInt(userID, 10))
}

func outcomeFor(err error) string {
	if errors.Is(err, ErrPermissionDenied) {
		return OutcomeDenied
	}
	return OutcomeError
}
