package access

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/channeladmin/channeladmin/internal/audit"
	"github.com/channeladmin/channeladmin/internal/users"
)

var errBoom = errors.New("connection refused")

// fakeStore is an in-memory Store mirroring the repository's semantics.
type fakeStore struct {
	mu          sync.Mutex
	users       map[int64]users.User
	assignments map[int64]map[string]RoleAssignment
	history     []audit.Entry
	nextID      int64
	now         time.Time

	roleReads  int
	writes     int
	failReads  error
	failWrites error
}

var _ Store = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:       make(map[int64]users.User),
		assignments: make(map[int64]map[string]RoleAssignment),
		now:         time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

// seed stores an assignment without touching the audit log.
func (f *fakeStore) seed(userID int64, roleType string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensureLocked(userID, nil)
	if f.assignments[userID] == nil {
		f.assignments[userID] = make(map[string]RoleAssignment)
	}
	f.assignments[userID][roleType] = RoleAssignment{UserID: userID, RoleType: roleType, CreatedAt: f.now}
}

func (f *fakeStore) tick() time.Time {
	f.now = f.now.Add(time.Second)
	return f.now
}

func (f *fakeStore) ensureLocked(userID int64, username *string) bool {
	if u, ok := f.users[userID]; ok {
		if u.Username == nil && username != nil {
			u.Username = username
			f.users[userID] = u
		}
		return false
	}
	f.users[userID] = users.User{ID: userID, Username: username, CreatedAt: f.now, UpdatedAt: f.now}
	return true
}

func (f *fakeStore) record(userID int64, roleType string, action audit.Action, actorID int64) {
	f.nextID++
	f.history = append(f.history, audit.Entry{
		ID: f.nextID, UserID: userID, RoleType: roleType, Action: action, PerformedBy: actorID, PerformedAt: f.tick(),
	})
}

func (f *fakeStore) AddRole(_ context.Context, userID int64, roleType string, actorID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	if f.failWrites != nil {
		return false, storageErr("add role", f.failWrites)
	}
	if _, ok := f.assignments[userID][roleType]; ok {
		return false, nil
	}
	f.ensureLocked(userID, nil)
	if f.assignments[userID] == nil {
		f.assignments[userID] = make(map[string]RoleAssignment)
	}
	by := actorID
	f.assignments[userID][roleType] = RoleAssignment{UserID: userID, RoleType: roleType, CreatedAt: f.now, CreatedBy: &by}
	f.record(userID, roleType, audit.ActionAdd, actorID)
	return true, nil
}

func (f *fakeStore) RemoveRole(_ context.Context, userID int64, roleType string, actorID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	if f.failWrites != nil {
		return false, storageErr("remove role", f.failWrites)
	}
	if _, ok := f.assignments[userID][roleType]; !ok {
		return false, nil
	}
	delete(f.assignments[userID], roleType)
	f.record(userID, roleType, audit.ActionRemove, actorID)
	return true, nil
}

func (f *fakeStore) CheckRole(_ context.Context, userID int64, roleType string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReads != nil {
		return false, storageErr("check role", f.failReads)
	}
	_, ok := f.assignments[userID][roleType]
	return ok, nil
}

func (f *fakeStore) GetUserRoles(_ context.Context, userID int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roleReads++
	if f.failReads != nil {
		return nil, storageErr("get user roles", f.failReads)
	}
	out := make([]string, 0, len(f.assignments[userID]))
	for name := range f.assignments[userID] {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeStore) GetRoleDetails(_ context.Context, userID int64, roleType string) (RoleAssignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.assignments[userID][roleType]
	if !ok {
		return RoleAssignment{}, &NotFoundError{Err: ErrRoleNotFound, UserID: userID, RoleType: roleType}
	}
	return a, nil
}

func (f *fakeStore) GetRoleHistory(_ context.Context, userID *int64, limit int) ([]audit.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReads != nil {
		return nil, storageErr("get role history", f.failReads)
	}
	out := []audit.Entry{}
	for i := len(f.history) - 1; i >= 0 && len(out) < audit.ClampLimit(limit); i-- {
		if userID != nil && f.history[i].UserID != *userID {
			continue
		}
		out = append(out, f.history[i])
	}
	return out, nil
}

func (f *fakeStore) ClearHistory(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := int64(len(f.history))
	f.history = nil
	return n, nil
}

func (f *fakeStore) GetUsersByRole(_ context.Context, roleTypes []string) ([]users.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []users.User{}
	for id, held := range f.assignments {
		for _, r := range roleTypes {
			if _, ok := held[r]; ok {
				out = append(out, f.users[id])
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) UserExists(_ context.Context, userID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReads != nil {
		return false, storageErr("user exists", f.failReads)
	}
	_, ok := f.users[userID]
	return ok, nil
}

func (f *fakeStore) EnsureUser(_ context.Context, userID int64, username *string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ensureLocked(userID, username), nil
}

func (f *fakeStore) RenameRole(_ context.Context, from, to string, dryRun bool) (RenameResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	res := RenameResult{From: from, To: to, DryRun: dryRun, Users: []int64{}}
	for id, held := range f.assignments {
		if _, ok := held[from]; ok {
			res.Users = append(res.Users, id)
		}
	}
	sort.Slice(res.Users, func(i, j int) bool { return res.Users[i] < res.Users[j] })
	if dryRun {
		return res, nil
	}
	for _, id := range res.Users {
		a := f.assignments[id][from]
		delete(f.assignments[id], from)
		if _, ok := f.assignments[id][to]; ok {
			res.Merged++
			continue
		}
		a.RoleType = to
		f.assignments[id][to] = a
		res.Renamed++
	}
	for i := range f.history {
		if f.history[i].RoleType == from {
			f.history[i].RoleType = to
			res.AuditEntries++
		}
	}
	return res, nil
}

func (f *fakeStore) historyLen() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.history)
}

type countingMetrics struct {
	mu        sync.Mutex
	hits      int
	misses    int
	allowed   int
	denied    int
	mutations map[string]int
}

func (m *countingMetrics) CacheLookup(hit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hit {
		m.hits++
	} else {
		m.misses++
	}
}

func (m *countingMetrics) Decision(allowed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if allowed {
		m.allowed++
	} else {
		m.denied++
	}
}

func (m *countingMetrics) Mutation(action, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mutations == nil {
		m.mutations = make(map[string]int)
	}
	m.mutations[action+"/"+outcome]++
}
