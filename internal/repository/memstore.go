package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arcway/chronicle/internal/domain"
)

// MemoryStore implements Store with in-process maps. It enforces the same
// invariants as the Postgres store (single open version, append-only
// audit, leaf-only branch deletes) and gives WithinTx real rollback by
// snapshotting state, so service and merge tests observe transactional
// behavior without a database.
type MemoryStore struct {
	mu    sync.Mutex
	state *memoryState
	inTx  bool
}

type memoryState struct {
	versions map[uuid.UUID]domain.Version
	branches map[uuid.UUID]domain.Branch
	merges   []domain.MergeRecord
	audit    []domain.AuditEntry
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &memoryState{
		versions: map[uuid.UUID]domain.Version{},
		branches: map[uuid.UUID]domain.Branch{},
	}}
}

// Versions returns the version store.
func (s *MemoryStore) Versions() VersionStore { return (*memVersions)(s) }

// Branches returns the branch store.
func (s *MemoryStore) Branches() BranchStore { return (*memBranches)(s) }

// Merges returns the merge-record store.
func (s *MemoryStore) Merges() MergeStore { return (*memMerges)(s) }

// Audit returns the audit store.
func (s *MemoryStore) Audit() AuditStore { return (*memAudit)(s) }

// WithinTx snapshots the state, runs fn, and restores the snapshot when fn
// fails. Nested calls join the outer transaction.
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, stores Stores) error) error {
	s.mu.Lock()
	if s.inTx {
		s.mu.Unlock()
		return fn(ctx, s)
	}
	s.inTx = true
	snapshot := s.state.clone()
	s.mu.Unlock()

	err := fn(ctx, s)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inTx = false
	if err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

func (st *memoryState) clone() *memoryState {
	out := &memoryState{
		versions: make(map[uuid.UUID]domain.Version, len(st.versions)),
		branches: make(map[uuid.UUID]domain.Branch, len(st.branches)),
		merges:   append([]domain.MergeRecord(nil), st.merges...),
		audit:    append([]domain.AuditEntry(nil), st.audit...),
	}
	for id, v := range st.versions {
		out.versions[id] = v
	}
	for id, b := range st.branches {
		out.branches[id] = b
	}
	return out
}

type memVersions MemoryStore

func (m *memVersions) Create(ctx context.Context, version domain.Version) (domain.Version, error) {
	s := (*MemoryStore)(m)
	s.mu.Lock()
	defer s.mu.Unlock()

	if version.ID == uuid.Nil {
		version.ID = uuid.New()
	}
	if version.CreatedAt.IsZero() {
		version.CreatedAt = time.Now()
	}
	version.ValidTo = nil
	version.Payload = domain.ClonePayload(version.Payload)

	s.state.versions[version.ID] = version
	return version, nil
}

func (m *memVersions) Close(ctx context.Context, versionID uuid.UUID, validTo domain.WorldTime) error {
	s := (*MemoryStore)(m)
	s.mu.Lock()
	defer s.mu.Unlock()

	version, ok := s.state.versions[versionID]
	if !ok {
		return domain.ErrVersionNotFound
	}
	if version.ValidTo != nil {
		return &domain.AlreadyClosedError{VersionID: versionID}
	}
	version.ValidTo = &validTo
	s.state.versions[versionID] = version
	return nil
}

func (m *memVersions) GetByID(ctx context.Context, versionID uuid.UUID) (domain.Version, error) {
	s := (*MemoryStore)(m)
	s.mu.Lock()
	defer s.mu.Unlock()

	version, ok := s.state.versions[versionID]
	if !ok {
		return domain.Version{}, domain.ErrVersionNotFound
	}
	version.Payload = domain.ClonePayload(version.Payload)
	return version, nil
}

func (m *memVersions) History(ctx context.Context, entityType string, entityID, branchID uuid.UUID) ([]domain.Version, error) {
	s := (*MemoryStore)(m)
	s.mu.Lock()
	defer s.mu.Unlock()

	var versions []domain.Version
	for _, version := range s.state.versions {
		if version.EntityType == entityType && version.EntityID == entityID && version.BranchID == branchID {
			version.Payload = domain.ClonePayload(version.Payload)
			versions = append(versions, version)
		}
	}
	sort.Slice(versions, func(i, j int) bool {
		if versions[i].ValidFrom != versions[j].ValidFrom {
			return versions[i].ValidFrom < versions[j].ValidFrom
		}
		return versions[i].SequenceNumber < versions[j].SequenceNumber
	})
	return versions, nil
}

func (m *memVersions) OpenVersion(ctx context.Context, entityType string, entityID, branchID uuid.UUID) (domain.Version, error) {
	s := (*MemoryStore)(m)
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, version := range s.state.versions {
		if version.EntityType == entityType && version.EntityID == entityID &&
			version.BranchID == branchID && version.ValidTo == nil {
			version.Payload = domain.ClonePayload(version.Payload)
			return version, nil
		}
	}
	return domain.Version{}, domain.ErrVersionNotFound
}

func (m *memVersions) ResolveLocal(ctx context.Context, entityType string, entityID, branchID uuid.UUID, asOf domain.WorldTime) (domain.Version, error) {
	s := (*MemoryStore)(m)
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		best  domain.Version
		found bool
	)
	for _, version := range s.state.versions {
		if version.EntityType != entityType || version.EntityID != entityID || version.BranchID != branchID {
			continue
		}
		if version.ValidFrom > asOf {
			continue
		}
		if version.ValidTo != nil && *version.ValidTo <= asOf {
			continue
		}
		if !found || version.ValidFrom > best.ValidFrom {
			best = version
			found = true
		}
	}
	if !found {
		return domain.Version{}, domain.ErrVersionNotFound
	}
	best.Payload = domain.ClonePayload(best.Payload)
	return best, nil
}

func (m *memVersions) LatestSequence(ctx context.Context, entityType string, entityID uuid.UUID) (int64, error) {
	s := (*MemoryStore)(m)
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest int64
	for _, version := range s.state.versions {
		if version.EntityType == entityType && version.EntityID == entityID && version.SequenceNumber > latest {
			latest = version.SequenceNumber
		}
	}
	return latest, nil
}

func (m *memVersions) ChangedEntities(ctx context.Context, branchID uuid.UUID, since domain.WorldTime) ([]domain.EntityRef, error) {
	s := (*MemoryStore)(m)
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := map[string]domain.EntityRef{}
	for _, version := range s.state.versions {
		if version.BranchID == branchID && version.ValidFrom >= since {
			ref := domain.EntityRef{EntityType: version.EntityType, EntityID: version.EntityID}
			seen[ref.Key()] = ref
		}
	}

	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	refs := make([]domain.EntityRef, len(keys))
	for i, key := range keys {
		refs[i] = seen[key]
	}
	return refs, nil
}

type memBranches MemoryStore

func (m *memBranches) Create(ctx context.Context, branch domain.Branch) (domain.Branch, error) {
	s := (*MemoryStore)(m)
	s.mu.Lock()
	defer s.mu.Unlock()

	if branch.ID == uuid.Nil {
		branch.ID = uuid.New()
	}
	if branch.CreatedAt.IsZero() {
		branch.CreatedAt = time.Now()
	}
	s.state.branches[branch.ID] = branch
	return branch, nil
}

func (m *memBranches) GetByID(ctx context.Context, branchID uuid.UUID) (domain.Branch, error) {
	s := (*MemoryStore)(m)
	s.mu.Lock()
	defer s.mu.Unlock()

	branch, ok := s.state.branches[branchID]
	if !ok {
		return domain.Branch{}, domain.ErrBranchNotFound
	}
	return branch, nil
}

func (m *memBranches) List(ctx context.Context) ([]domain.Branch, error) {
	s := (*MemoryStore)(m)
	s.mu.Lock()
	defer s.mu.Unlock()

	branches := make([]domain.Branch, 0, len(s.state.branches))
	for _, branch := range s.state.branches {
		branches = append(branches, branch)
	}
	sort.Slice(branches, func(i, j int) bool {
		return branches[i].CreatedAt.Before(branches[j].CreatedAt)
	})
	return branches, nil
}

func (m *memBranches) HasChildren(ctx context.Context, branchID uuid.UUID) (bool, error) {
	s := (*MemoryStore)(m)
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, branch := range s.state.branches {
		if branch.ParentBranchID != nil && *branch.ParentBranchID == branchID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memBranches) Delete(ctx context.Context, branchID uuid.UUID) error {
	s := (*MemoryStore)(m)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.state.branches[branchID]; !ok {
		return domain.ErrBranchNotFound
	}
	delete(s.state.branches, branchID)
	return nil
}

type memMerges MemoryStore

func (m *memMerges) Create(ctx context.Context, record domain.MergeRecord) (domain.MergeRecord, error) {
	s := (*MemoryStore)(m)
	s.mu.Lock()
	defer s.mu.Unlock()

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	s.state.merges = append(s.state.merges, record)
	return record, nil
}

func (m *memMerges) List(ctx context.Context, sourceBranchID, targetBranchID uuid.UUID) ([]domain.MergeRecord, error) {
	s := (*MemoryStore)(m)
	s.mu.Lock()
	defer s.mu.Unlock()

	var records []domain.MergeRecord
	for _, record := range s.state.merges {
		if record.SourceBranchID == sourceBranchID && record.TargetBranchID == targetBranchID {
			records = append(records, record)
		}
	}
	return records, nil
}

type memAudit MemoryStore

func (m *memAudit) Record(ctx context.Context, entry domain.AuditEntry) (domain.AuditEntry, error) {
	s := (*MemoryStore)(m)
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	s.state.audit = append(s.state.audit, entry)
	return entry, nil
}

func (m *memAudit) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, error) {
	s := (*MemoryStore)(m)
	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []domain.AuditEntry
	for _, entry := range s.state.audit {
		if filter.EntityType != "" && entry.EntityType != filter.EntityType {
			continue
		}
		if filter.EntityID != uuid.Nil && entry.EntityID != filter.EntityID {
			continue
		}
		if filter.BranchID != uuid.Nil && entry.BranchID != filter.BranchID {
			continue
		}
		if filter.Operation != "" && entry.Operation != filter.Operation {
			continue
		}
		entries = append(entries, entry)
		if filter.Limit > 0 && len(entries) == filter.Limit {
			break
		}
	}
	return entries, nil
}
