package ledger

import (
	"context"
	"sort"
)

// Store is the persistence boundary of the ledger: typed accessors over the
// six logical tables (owner, metadata, emissions, paused, parent, owned-set)
// plus the id counter. Gets report absence via the bool; puts overwrite
// unconditionally. Implementations do not validate anything; all invariant
// checking happens in the Ledger before any write.
type Store interface {
	// NextID returns the current counter value. The counter starts at 1.
	NextID(ctx context.Context) (AssetID, error)
	SetNextID(ctx context.Context, id AssetID) error

	Owner(ctx context.Context, id AssetID) (Account, bool, error)
	SetOwner(ctx context.Context, id AssetID, owner Account) error
	// HasAsset is a presence check on the owner table without loading the value.
	HasAsset(ctx context.Context, id AssetID) (bool, error)

	Metadata(ctx context.Context, id AssetID) ([]byte, bool, error)
	SetMetadata(ctx context.Context, id AssetID, metadata []byte) error

	Emissions(ctx context.Context, id AssetID) ([]CO2Emission, bool, error)
	SetEmissions(ctx context.Context, id AssetID, emissions []CO2Emission) error

	Paused(ctx context.Context, id AssetID) (paused, ok bool, err error)
	SetPaused(ctx context.Context, id AssetID, paused bool) error

	// Parent reports the parent link. ok distinguishes "asset has no parent
	// row" from "asset is a root" (row present, nil ref).
	Parent(ctx context.Context, id AssetID) (*ParentRef, bool, error)
	SetParent(ctx context.Context, id AssetID, parent *ParentRef) error

	// OwnedAssets lists the ids in an account's bucket, ascending. Unknown
	// accounts yield an empty slice, never an error.
	OwnedAssets(ctx context.Context, owner Account) ([]AssetID, error)
	// AddOwned inserts into the bucket, creating it lazily.
	AddOwned(ctx context.Context, owner Account, id AssetID) error
	// RemoveOwned tolerates an id that is not currently a member.
	RemoveOwned(ctx context.Context, owner Account, id AssetID) error

	// WithinTx runs fn against a transactional view of the store: either
	// every write fn issues is kept, or none of them is. Multi-write
	// operations commit through this; a failure mid-operation must not
	// leave partial rows behind.
	WithinTx(ctx context.Context, fn func(Store) error) error

	// Ping reports backend liveness for readiness probes.
	Ping(ctx context.Context) error
}

// MemStore keeps all tables in process memory. It is not safe for concurrent
// use on its own; the Ledger serializes access.
type MemStore struct {
	nextID    AssetID
	owner     map[AssetID]Account
	metadata  map[AssetID][]byte
	emissions map[AssetID][]CO2Emission
	paused    map[AssetID]bool
	parent    map[AssetID]*ParentRef
	owned     map[Account]map[AssetID]struct{}
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{
		nextID:    1,
		owner:     make(map[AssetID]Account),
		metadata:  make(map[AssetID][]byte),
		emissions: make(map[AssetID][]CO2Emission),
		paused:    make(map[AssetID]bool),
		parent:    make(map[AssetID]*ParentRef),
		owned:     make(map[Account]map[AssetID]struct{}),
	}
}

func (s *MemStore) NextID(ctx context.Context) (AssetID, error) { return s.nextID, nil }

func (s *MemStore) SetNextID(ctx context.Context, id AssetID) error {
	s.nextID = id
	return nil
}

func (s *MemStore) Owner(ctx context.Context, id AssetID) (Account, bool, error) {
	owner, ok := s.owner[id]
	return owner, ok, nil
}

func (s *MemStore) SetOwner(ctx context.Context, id AssetID, owner Account) error {
	s.owner[id] = owner
	return nil
}

func (s *MemStore) HasAsset(ctx context.Context, id AssetID) (bool, error) {
	_, ok := s.owner[id]
	return ok, nil
}

func (s *MemStore) Metadata(ctx context.Context, id AssetID) ([]byte, bool, error) {
	m, ok := s.metadata[id]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(m))
	copy(out, m)
	return out, true, nil
}

func (s *MemStore) SetMetadata(ctx context.Context, id AssetID, metadata []byte) error {
	m := make([]byte, len(metadata))
	copy(m, metadata)
	s.metadata[id] = m
	return nil
}

func (s *MemStore) Emissions(ctx context.Context, id AssetID) ([]CO2Emission, bool, error) {
	e, ok := s.emissions[id]
	if !ok {
		return nil, false, nil
	}
	out := make([]CO2Emission, len(e))
	copy(out, e)
	return out, true, nil
}

func (s *MemStore) SetEmissions(ctx context.Context, id AssetID, emissions []CO2Emission) error {
	e := make([]CO2Emission, len(emissions))
	copy(e, emissions)
	s.emissions[id] = e
	return nil
}

func (s *MemStore) Paused(ctx context.Context, id AssetID) (bool, bool, error) {
	p, ok := s.paused[id]
	return p, ok, nil
}

func (s *MemStore) SetPaused(ctx context.Context, id AssetID, paused bool) error {
	s.paused[id] = paused
	return nil
}

func (s *MemStore) Parent(ctx context.Context, id AssetID) (*ParentRef, bool, error) {
	p, ok := s.parent[id]
	if !ok {
		return nil, false, nil
	}
	if p == nil {
		return nil, true, nil
	}
	ref := *p
	return &ref, true, nil
}

func (s *MemStore) SetParent(ctx context.Context, id AssetID, parent *ParentRef) error {
	if parent == nil {
		s.parent[id] = nil
		return nil
	}
	ref := *parent
	s.parent[id] = &ref
	return nil
}

func (s *MemStore) OwnedAssets(ctx context.Context, owner Account) ([]AssetID, error) {
	bucket := s.owned[owner]
	ids := make([]AssetID, 0, len(bucket))
	for id := range bucket {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *MemStore) AddOwned(ctx context.Context, owner Account, id AssetID) error {
	bucket, ok := s.owned[owner]
	if !ok {
		bucket = make(map[AssetID]struct{})
		s.owned[owner] = bucket
	}
	bucket[id] = struct{}{}
	return nil
}

func (s *MemStore) RemoveOwned(ctx context.Context, owner Account, id AssetID) error {
	if bucket, ok := s.owned[owner]; ok {
		delete(bucket, id)
	}
	return nil
}

// WithinTx snapshots the maps, runs fn, and restores the snapshot when fn
// fails. Setters always replace values instead of mutating them in place,
// so a shallow copy per map is a complete snapshot; the owned buckets are
// the exception and are copied per bucket.
func (s *MemStore) WithinTx(ctx context.Context, fn func(Store) error) error {
	snap := s.snapshot()
	if err := fn(s); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type memSnapshot struct {
	nextID    AssetID
	owner     map[AssetID]Account
	metadata  map[AssetID][]byte
	emissions map[AssetID][]CO2Emission
	paused    map[AssetID]bool
	parent    map[AssetID]*ParentRef
	owned     map[Account]map[AssetID]struct{}
}

func (s *MemStore) snapshot() memSnapshot {
	snap := memSnapshot{
		nextID:    s.nextID,
		owner:     make(map[AssetID]Account, len(s.owner)),
		metadata:  make(map[AssetID][]byte, len(s.metadata)),
		emissions: make(map[AssetID][]CO2Emission, len(s.emissions)),
		paused:    make(map[AssetID]bool, len(s.paused)),
		parent:    make(map[AssetID]*ParentRef, len(s.parent)),
		owned:     make(map[Account]map[AssetID]struct{}, len(s.owned)),
	}
	for k, v := range s.owner {
		snap.owner[k] = v
	}
	for k, v := range s.metadata {
		snap.metadata[k] = v
	}
	for k, v := range s.emissions {
		snap.emissions[k] = v
	}
	for k, v := range s.paused {
		snap.paused[k] = v
	}
	for k, v := range s.parent {
		snap.parent[k] = v
	}
	for owner, bucket := range s.owned {
		cp := make(map[AssetID]struct{}, len(bucket))
		for id := range bucket {
			cp[id] = struct{}{}
		}
		snap.owned[owner] = cp
	}
	return snap
}

func (s *MemStore) restore(snap memSnapshot) {
	s.nextID = snap.nextID
	s.owner = snap.owner
	s.metadata = snap.metadata
	s.emissions = snap.emissions
	s.paused = snap.paused
	s.parent = snap.parent
	s.owned = snap.owned
}

func (s *MemStore) Ping(ctx context.Context) error { return nil }
