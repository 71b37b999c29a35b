package mock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/YoshitsuguKoike/deeplay/internal/domain/model"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model/playbook"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model/run"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model/scenario"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/repository"
)

type playbookKey struct {
	tenant string
	id     model.PlaybookID
}

// MockPlaybookRepository is an in-memory implementation of PlaybookRepository
type MockPlaybookRepository struct {
	mu       sync.RWMutex
	versions map[playbookKey][]*playbook.Template
	order    []playbookKey
}

// NewMockPlaybookRepository creates a new mock playbook repository
func NewMockPlaybookRepository() *MockPlaybookRepository {
	return &MockPlaybookRepository{
		versions: make(map[playbookKey][]*playbook.Template),
	}
}

func (m *MockPlaybookRepository) FindLatest(ctx context.Context, tenant model.TenantID, id model.PlaybookID) (*playbook.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	vs := m.versions[playbookKey{tenant.String(), id}]
	if len(vs) == 0 {
		return nil, model.NewNotFoundError("playbook", id.String())
	}
	return vs[len(vs)-1].Clone(), nil
}

func (m *MockPlaybookRepository) FindVersion(ctx context.Context, tenant model.TenantID, id model.PlaybookID, version int) (*playbook.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, t := range m.versions[playbookKey{tenant.String(), id}] {
		if t.Version() == version {
			return t.Clone(), nil
		}
	}
	return nil, model.NewNotFoundError("playbook version", id.String())
}

func (m *MockPlaybookRepository) Insert(ctx context.Context, t *playbook.Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := playbookKey{t.TenantID().String(), t.ID()}
	vs := m.versions[key]
	for _, existing := range vs {
		if existing.Version() == t.Version() {
			return model.NewConcurrencyError(t.Version()-1, vs[len(vs)-1].Version())
		}
	}
	if len(vs) == 0 {
		m.order = append(m.order, key)
	}
	vs = append(vs, t.Clone())
	sort.Slice(vs, func(i, j int) bool { return vs[i].Version() < vs[j].Version() })
	m.versions[key] = vs
	return nil
}

func (m *MockPlaybookRepository) UpdateStatus(ctx context.Context, t *playbook.Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	vs := m.versions[playbookKey{t.TenantID().String(), t.ID()}]
	for i, existing := range vs {
		if existing.Version() == t.Version() {
			vs[i] = t.Clone()
			return nil
		}
	}
	return model.NewNotFoundError("playbook version", t.ID().String())
}

func (m *MockPlaybookRepository) Archive(ctx context.Context, tenant model.TenantID, id model.PlaybookID, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	vs := m.versions[playbookKey{tenant.String(), id}]
	if len(vs) == 0 {
		return model.NewNotFoundError("playbook", id.String())
	}
	for i, t := range vs {
		cp := t.Clone()
		cp.Archive(now)
		vs[i] = cp
	}
	return nil
}

func (m *MockPlaybookRepository) List(ctx context.Context, tenant model.TenantID, filter repository.PlaybookFilter) ([]*playbook.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*playbook.Template
	for _, key := range m.order {
		vs := m.versions[key]
		if key.tenant != tenant.String() || len(vs) == 0 {
			continue
		}
		latest := vs[len(vs)-1]
		if filter.Status != nil && latest.Status() != *filter.Status {
			continue
		}
		if filter.Category != "" && latest.Metadata().Category != filter.Category {
			continue
		}
		result = append(result, latest.Clone())
	}
	return page(result, filter.Limit, filter.Offset), nil
}

func (m *MockPlaybookRepository) Delete(ctx context.Context, tenant model.TenantID, id model.PlaybookID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := playbookKey{tenant.String(), id}
	if _, ok := m.versions[key]; !ok {
		return model.NewNotFoundError("playbook", id.String())
	}
	delete(m.versions, key)
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// MockScenarioRepository is an in-memory implementation of ScenarioRepository
type MockScenarioRepository struct {
	mu        sync.RWMutex
	scenarios map[model.ScenarioID]*scenario.Scenario
	order     []model.ScenarioID
}

// NewMockScenarioRepository creates a new mock scenario repository
func NewMockScenarioRepository() *MockScenarioRepository {
	return &MockScenarioRepository{
		scenarios: make(map[model.ScenarioID]*scenario.Scenario),
	}
}

func (m *MockScenarioRepository) Save(ctx context.Context, s *scenario.Scenario) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.scenarios[s.ID()]; !ok {
		m.order = append(m.order, s.ID())
	}
	m.scenarios[s.ID()] = cloneScenario(s)
	return nil
}

func (m *MockScenarioRepository) Find(ctx context.Context, tenant model.TenantID, id model.ScenarioID) (*scenario.Scenario, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.scenarios[id]
	if !ok || s.TenantID() != tenant {
		return nil, model.NewNotFoundError("scenario", id.String())
	}
	return cloneScenario(s), nil
}

func (m *MockScenarioRepository) List(ctx context.Context, tenant model.TenantID, filter repository.ScenarioFilter) ([]*scenario.Scenario, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*scenario.Scenario
	for _, id := range m.order {
		s := m.scenarios[id]
		if s.TenantID() != tenant {
			continue
		}
		if filter.PlaybookID != nil && s.Binding().PlaybookID != *filter.PlaybookID {
			continue
		}
		result = append(result, cloneScenario(s))
	}
	return page(result, filter.Limit, filter.Offset), nil
}

func (m *MockScenarioRepository) Delete(ctx context.Context, tenant model.TenantID, id model.ScenarioID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.scenarios[id]
	if !ok || s.TenantID() != tenant {
		return model.NewNotFoundError("scenario", id.String())
	}
	delete(m.scenarios, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func cloneScenario(s *scenario.Scenario) *scenario.Scenario {
	return scenario.ReconstructScenario(s.ID(), s.TenantID(), s.Name(), s.ScenarioType(), s.Binding(),
		s.Context(), s.Baseline(), s.HorizonDays(), s.CreatedAt())
}

// MockRunRepository is an in-memory implementation of RunRepository
type MockRunRepository struct {
	mu   sync.RWMutex
	runs map[model.RunID]*run.ScenarioRun

	saveErr error
	saves   int
}

// NewMockRunRepository creates a new mock run repository
func NewMockRunRepository() *MockRunRepository {
	return &MockRunRepository{
		runs: make(map[model.RunID]*run.ScenarioRun),
	}
}

// SetSaveError makes Save fail with err until it is reset with nil
func (m *MockRunRepository) SetSaveError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveErr = err
}

// Saves returns how many times Save stored a run
func (m *MockRunRepository) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}

func (m *MockRunRepository) Save(ctx context.Context, r *run.ScenarioRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.saveErr != nil {
		return m.saveErr
	}
	stored, ok := m.runs[r.ID]
	switch {
	case r.Revision == 0 && ok:
		return model.NewConcurrencyError(0, int(stored.Revision))
	case r.Revision != 0 && !ok:
		return model.NewNotFoundError("run", r.ID.String())
	case ok && stored.Revision != r.Revision:
		return model.NewConcurrencyError(int(r.Revision), int(stored.Revision))
	}
	r.Revision++
	m.runs[r.ID] = r.Clone()
	m.saves++
	return nil
}

func (m *MockRunRepository) Find(ctx context.Context, tenant model.TenantID, id model.RunID) (*run.ScenarioRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.runs[id]
	if !ok || r.TenantID != tenant {
		return nil, model.NewNotFoundError("run", id.String())
	}
	return r.Clone(), nil
}

func (m *MockRunRepository) FindRunIDByStepID(ctx context.Context, tenant model.TenantID, stepID model.RunStepID) (model.RunID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.runs {
		if r.TenantID == tenant && r.StepByID(stepID) != nil {
			return r.ID, nil
		}
	}
	return "", model.NewNotFoundError("run step", stepID.String())
}

func (m *MockRunRepository) List(ctx context.Context, tenant model.TenantID, filter repository.RunFilter) ([]*run.ScenarioRun, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*run.ScenarioRun
	for _, r := range m.runs {
		if r.TenantID != tenant {
			continue
		}
		if filter.ScenarioID != nil && r.ScenarioID != *filter.ScenarioID {
			continue
		}
		if filter.PlaybookID != nil && r.PlaybookID != *filter.PlaybookID {
			continue
		}
		if filter.Status != nil && r.Status != *filter.Status {
			continue
		}
		result = append(result, r.Clone())
	}

	sortRuns(result, filter.SortBy, filter.SortOrder)
	total := len(result)
	return page(result, filter.Limit, filter.Offset), total, nil
}

func (m *MockRunRepository) ListNonTerminal(ctx context.Context) ([]*run.ScenarioRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*run.ScenarioRun
	for _, r := range m.runs {
		if !r.Status.IsTerminal() {
			result = append(result, r.Clone())
		}
	}
	sortRuns(result, repository.SortByStartedAt, repository.SortAsc)
	return result, nil
}

func (m *MockRunRepository) CountNonTerminal(ctx context.Context, tenant model.TenantID, ref repository.RunReference) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, r := range m.runs {
		if r.TenantID != tenant || r.Status.IsTerminal() {
			continue
		}
		if ref.PlaybookID != nil && r.PlaybookID != *ref.PlaybookID {
			continue
		}
		if ref.ScenarioID != nil && r.ScenarioID != *ref.ScenarioID {
			continue
		}
		count++
	}
	return count, nil
}

func sortRuns(runs []*run.ScenarioRun, by repository.RunSortField, order repository.SortOrder) {
	key := func(r *run.ScenarioRun) time.Time {
		if by == repository.SortByCompletedAt {
			if r.CompletedAt == nil {
				return time.Time{}
			}
			return *r.CompletedAt
		}
		return r.StartedAt
	}
	sort.SliceStable(runs, func(i, j int) bool {
		ki, kj := key(runs[i]), key(runs[j])
		if ki.Equal(kj) {
			if order == repository.SortAsc {
				return runs[i].ID < runs[j].ID
			}
			return runs[i].ID > runs[j].ID
		}
		if order == repository.SortAsc {
			return ki.Before(kj)
		}
		return ki.After(kj)
	})
}

func page[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
