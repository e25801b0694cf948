package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Strob0t/ForgeTrack/internal/domain"
	"github.com/Strob0t/ForgeTrack/internal/domain/connection"
	"github.com/Strob0t/ForgeTrack/internal/domain/issue"
	"github.com/Strob0t/ForgeTrack/internal/domain/project"
	"github.com/Strob0t/ForgeTrack/internal/domain/syncop"
	"github.com/Strob0t/ForgeTrack/internal/domain/user"
	"github.com/Strob0t/ForgeTrack/internal/domain/workflow"
	"github.com/Strob0t/ForgeTrack/internal/port/database"
)

// Ensure mockStore implements database.Store at compile time.
var _ database.Store = (*mockStore)(nil)

// mockStore is an in-memory database.Store. It is safe for the concurrent
// use sync jobs make of it.
type mockStore struct {
	mu          sync.Mutex
	projects    map[string]project.Project
	issues      []issue.Issue
	workflows   map[string]*workflow.Workflow
	connections map[string]*connection.Connection
	syncOps     map[string]syncop.Operation
	users       []user.User
	liveness    map[string]connection.Liveness
	seq         int

	// Error hooks, set to inject failures.
	listIssuesErr   error
	createIssueErr  error
	updateIssueErr  error
	getWorkflowErr  error
	systemActorErr  error
	createSyncErr   error
	conflictsLeft   int // UpdateIssue returns ErrConflict this many times
	issueWrites     int
	workflowLookups int
	syncUpdates     int
}

func newMockStore() *mockStore {
	return &mockStore{
		projects:    make(map[string]project.Project),
		workflows:   make(map[string]*workflow.Workflow),
		connections: make(map[string]*connection.Connection),
		syncOps:     make(map[string]syncop.Operation),
		liveness:    make(map[string]connection.Liveness),
	}
}

func (m *mockStore) ListProjects(_ context.Context) ([]project.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]project.Project, 0, len(m.projects))
	for _, p := range m.projects {
		out = append(out, p)
	}
	return out, nil
}

func (m *mockStore) GetProject(_ context.Context, id string) (*project.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.projects[id]; ok {
		return &p, nil
	}
	return nil, fmt.Errorf("project %s: %w", id, domain.ErrNotFound)
}

func (m *mockStore) CreateProject(_ context.Context, req project.CreateRequest) (*project.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.projects {
		if p.Key == req.Key {
			return nil, fmt.Errorf("project key %s: %w", req.Key, domain.ErrConflict)
		}
	}
	p := project.Project{ID: fmt.Sprintf("proj-%d", len(m.projects)+1), Key: req.Key, Name: req.Name, RepoURL: req.RepoURL, Version: 1}
	m.projects[p.ID] = p
	return &p, nil
}

func (m *mockStore) ListIssues(_ context.Context, projectID string, f issue.Filter) ([]issue.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listIssuesErr != nil {
		return nil, m.listIssuesErr
	}
	var out []issue.Issue
	for i := range m.issues {
		is := m.issues[i]
		if is.ProjectID != projectID {
			continue
		}
		if f.Type != "" && is.Type != f.Type {
			continue
		}
		if f.ExternalID != "" && is.CustomFields.ExternalID() != f.ExternalID {
			continue
		}
		is.CustomFields = is.CustomFields.Clone()
		out = append(out, is)
	}
	return out, nil
}

func (m *mockStore) GetIssueByKey(_ context.Context, projectID, key string) (*issue.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.issues {
		if m.issues[i].ProjectID == projectID && m.issues[i].Key == key {
			is := m.issues[i]
			is.CustomFields = is.CustomFields.Clone()
			return &is, nil
		}
	}
	return nil, fmt.Errorf("issue %s: %w", key, domain.ErrNotFound)
}

func (m *mockStore) CreateIssue(_ context.Context, is *issue.Issue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createIssueErr != nil {
		return m.createIssueErr
	}
	m.seq++
	is.ID = fmt.Sprintf("issue-%d", m.seq)
	is.Key = project.IssueKey("FT", m.seq)
	is.Version = 1
	is.CreatedAt = time.Now()
	is.UpdatedAt = is.CreatedAt
	stored := *is
	stored.CustomFields = is.CustomFields.Clone()
	m.issues = append(m.issues, stored)
	m.issueWrites++
	return nil
}

func (m *mockStore) UpdateIssue(_ context.Context, is *issue.Issue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateIssueErr != nil {
		return m.updateIssueErr
	}
	for i := range m.issues {
		if m.issues[i].ID != is.ID {
			continue
		}
		if m.conflictsLeft > 0 {
			m.conflictsLeft--
			m.issues[i].Version++
			return fmt.Errorf("update issue %s: %w", is.ID, domain.ErrConflict)
		}
		if m.issues[i].Version != is.Version {
			return fmt.Errorf("update issue %s: %w", is.ID, domain.ErrConflict)
		}
		is.Version++
		is.UpdatedAt = time.Now()
		stored := *is
		stored.CustomFields = is.CustomFields.Clone()
		m.issues[i] = stored
		m.issueWrites++
		return nil
	}
	return fmt.Errorf("update issue %s: %w", is.ID, domain.ErrNotFound)
}

func (m *mockStore) GetWorkflow(_ context.Context, projectID string) (*workflow.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workflowLookups++
	if m.getWorkflowErr != nil {
		return nil, m.getWorkflowErr
	}
	if w, ok := m.workflows[projectID]; ok {
		return w, nil
	}
	return workflow.Default(projectID), nil
}

func (m *mockStore) SaveWorkflow(_ context.Context, w *workflow.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workflows[w.ProjectID] = w
	return nil
}

func (m *mockStore) ListConnections(_ context.Context, projectID string) ([]connection.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []connection.Connection
	for _, c := range m.connections {
		if projectID == "" || c.ProjectID == projectID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *mockStore) GetConnection(_ context.Context, id string) (*connection.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.connections[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, fmt.Errorf("connection %s: %w", id, domain.ErrNotFound)
}

func (m *mockStore) CreateConnection(_ context.Context, c *connection.Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		c.ID = fmt.Sprintf("conn-%d", len(m.connections)+1)
	}
	cp := *c
	m.connections[c.ID] = &cp
	return nil
}

func (m *mockStore) UpdateConnectionSecret(_ context.Context, id string, secret []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.connections[id]
	if !ok {
		return domain.ErrNotFound
	}
	c.EncryptedSecret = secret
	return nil
}

func (m *mockStore) SetWebhookActive(_ context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.connections[id]
	if !ok {
		return domain.ErrNotFound
	}
	c.WebhookActive = active
	return nil
}

func (m *mockStore) RecordWebhookLiveness(_ context.Context, id string, l connection.Liveness) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.liveness[id] = l
	return nil
}

func (m *mockStore) CreateSyncOperation(_ context.Context, op *syncop.Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createSyncErr != nil {
		return m.createSyncErr
	}
	op.Version = 1
	m.syncOps[op.ID] = *op
	return nil
}

func (m *mockStore) GetSyncOperation(_ context.Context, id string) (*syncop.Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, ok := m.syncOps[id]
	if !ok {
		return nil, fmt.Errorf("sync operation %s: %w", id, domain.ErrNotFound)
	}
	return &op, nil
}

func (m *mockStore) UpdateSyncOperation(_ context.Context, op *syncop.Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncUpdates++
	stored, ok := m.syncOps[op.ID]
	if !ok || stored.Version != op.Version || stored.Status.IsTerminal() {
		return fmt.Errorf("update sync operation %s: %w", op.ID, domain.ErrConflict)
	}
	op.Version++
	m.syncOps[op.ID] = *op
	return nil
}

func (m *mockStore) FailStaleSyncOperations(_ context.Context, cutoff time.Time, reason string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, op := range m.syncOps {
		if op.Status.IsTerminal() || !op.UpdatedAt.Before(cutoff) {
			continue
		}
		op.Status = syncop.StatusFailed
		op.Error = reason
		op.Version++
		m.syncOps[id] = op
		n++
	}
	return n, nil
}

func (m *mockStore) CreateUser(_ context.Context, req user.CreateRequest) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := user.User{ID: fmt.Sprintf("user-%d", len(m.users)+1), Email: req.Email, Name: req.Name, Role: req.Role}
	m.users = append(m.users, u)
	return &u, nil
}

func (m *mockStore) SystemActor(_ context.Context) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.systemActorErr != nil {
		return nil, m.systemActorErr
	}
	for i := range m.users {
		if m.users[i].Role == user.RoleAdmin {
			return &m.users[i], nil
		}
	}
	if len(m.users) > 0 {
		return &m.users[0], nil
	}
	return nil, domain.ErrNotFound
}

// addIssue stores an issue directly and returns its stored copy.
func (m *mockStore) addIssue(is issue.Issue) issue.Issue {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	if is.ID == "" {
		is.ID = fmt.Sprintf("issue-%d", m.seq)
	}
	if is.Key == "" {
		is.Key = project.IssueKey("FT", m.seq)
	}
	if is.Version == 0 {
		is.Version = 1
	}
	m.issues = append(m.issues, is)
	return is
}

func (m *mockStore) issueCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.issues)
}

func (m *mockStore) writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.issueWrites
}

// mockBroadcaster records broadcast events.
type mockBroadcaster struct {
	mu     sync.Mutex
	events []mockEvent
}

type mockEvent struct {
	eventType string
	payload   any
}

func (b *mockBroadcaster) BroadcastEvent(_ context.Context, eventType string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, mockEvent{eventType, payload})
}

func (b *mockBroadcaster) count(eventType string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e.eventType == eventType {
			n++
		}
	}
	return n
}
