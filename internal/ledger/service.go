package ledger

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

// Service defines the public ledger operations. State-changing operations
// take the caller identity resolved by the host; read-only ones never do.
type Service interface {
	Create(ctx context.Context, caller, owner Account, metadata []byte, emissions []CO2Emission, parent *ParentRef) (AssetID, error)
	Transfer(ctx context.Context, caller, to Account, id AssetID, emissions []CO2Emission) error
	Pause(ctx context.Context, caller Account, id AssetID) error
	AddEmissions(ctx context.Context, caller Account, id AssetID, item CO2Emission) error

	OwnerOf(ctx context.Context, id AssetID) (Account, bool, error)
	HasPaused(ctx context.Context, id AssetID) (bool, bool, error)
	GetAssetEmissions(ctx context.Context, id AssetID) ([]CO2Emission, bool, error)
	GetMetadata(ctx context.Context, id AssetID) ([]byte, bool, error)
	GetParentDetails(ctx context.Context, id AssetID) (*ParentRef, bool, error)
	GetAsset(ctx context.Context, id AssetID) (AssetDetails, bool, error)
	ListAssets(ctx context.Context, owner Account) ([]AssetID, error)
	QueryEmissions(ctx context.Context, id AssetID) ([]AssetDetails, bool, error)
}

// Ledger implements Service over any Store. A mutex serializes operations so
// each runs to completion before the next begins; validation fully precedes
// mutation, so a failed operation leaves no trace.
type Ledger struct {
	mu    sync.RWMutex
	cfg   Config
	store Store
	sink  Sink
}

var _ Service = (*Ledger)(nil)

// New creates a ledger over the given store. sink may be nil. Each limit
// left unset (or non-positive) falls back to its default independently.
func New(store Store, sink Sink, cfg Config) *Ledger {
	def := DefaultConfig()
	if cfg.MaxMetadataBytes <= 0 {
		cfg.MaxMetadataBytes = def.MaxMetadataBytes
	}
	if cfg.MaxEmissionsPerAsset <= 0 {
		cfg.MaxEmissionsPerAsset = def.MaxEmissionsPerAsset
	}
	if cfg.MaxDataSourceBytes <= 0 {
		cfg.MaxDataSourceBytes = def.MaxDataSourceBytes
	}
	return &Ledger{cfg: cfg, store: store, sink: sink}
}

// Config returns the limits the ledger was initialized with.
func (l *Ledger) Config() Config { return l.cfg }

// Store exposes the backing store for readiness probes.
func (l *Ledger) Store() Store { return l.store }

func (l *Ledger) Create(ctx context.Context, caller, owner Account, metadata []byte, emissions []CO2Emission, parent *ParentRef) (AssetID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.ensureMetadata(metadata); err != nil {
		return 0, err
	}
	if err := l.ensureEmissionsNotEmpty(emissions); err != nil {
		return 0, err
	}
	if err := l.ensureEmissionsBound(len(emissions)); err != nil {
		return 0, err
	}
	for i := range emissions {
		if err := l.ensureEmissionsItem(emissions[i]); err != nil {
			return 0, err
		}
	}
	if err := l.ensureParent(ctx, parent, caller); err != nil {
		return 0, err
	}

	id, next, err := l.allocateID(ctx)
	if err != nil {
		return 0, err
	}
	if err := l.ensureNotExists(ctx, id); err != nil {
		return 0, err
	}
	if parent != nil && parent.ID >= id {
		// Parents are always created before children, so this cannot happen
		// unless the counter regressed. The walk's termination depends on it.
		panic(fmt.Sprintf("ledger: parent id %d not below new id %d", parent.ID, id))
	}

	// All checks passed; commit every row in one transactional scope so a
	// store failure cannot leave a half-created asset behind.
	err = l.store.WithinTx(ctx, func(st Store) error {
		if err := st.SetNextID(ctx, next); err != nil {
			return err
		}
		if err := st.AddOwned(ctx, owner, id); err != nil {
			return err
		}
		if err := st.SetOwner(ctx, id, owner); err != nil {
			return err
		}
		if err := st.SetMetadata(ctx, id, metadata); err != nil {
			return err
		}
		if err := st.SetPaused(ctx, id, false); err != nil {
			return err
		}
		if err := st.SetParent(ctx, id, parent); err != nil {
			return err
		}
		return st.SetEmissions(ctx, id, emissions)
	})
	if err != nil {
		return 0, err
	}

	l.publish(Event{Kind: EventCreated, ID: id, Owner: owner, Metadata: metadata, Parent: parent})
	l.publishEmissions(id, emissions)
	return id, nil
}

func (l *Ledger) Transfer(ctx context.Context, caller, to Account, id AssetID, emissions []CO2Emission) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.ensureExists(ctx, id); err != nil {
		return err
	}
	if err := l.ensureOwner(ctx, id, caller); err != nil {
		return err
	}
	if err := l.ensureNotPaused(ctx, id); err != nil {
		return err
	}
	if err := l.ensureEmissionsNotEmpty(emissions); err != nil {
		return err
	}
	existing, _, err := l.store.Emissions(ctx, id)
	if err != nil {
		return err
	}
	if err := l.ensureEmissionsBound(len(existing) + len(emissions)); err != nil {
		return err
	}
	for i := range emissions {
		if err := l.ensureEmissionsItem(emissions[i]); err != nil {
			return err
		}
	}

	combined := combineEmissions(existing, emissions)
	err = l.store.WithinTx(ctx, func(st Store) error {
		if err := st.RemoveOwned(ctx, caller, id); err != nil {
			return err
		}
		if err := st.AddOwned(ctx, to, id); err != nil {
			return err
		}
		if err := st.SetOwner(ctx, id, to); err != nil {
			return err
		}
		return st.SetEmissions(ctx, id, combined)
	})
	if err != nil {
		return err
	}

	l.publish(Event{Kind: EventTransferred, ID: id, From: caller, To: to})
	l.publishEmissions(id, emissions)
	return nil
}

func (l *Ledger) Pause(ctx context.Context, caller Account, id AssetID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.ensureOwner(ctx, id, caller); err != nil {
		return err
	}
	if err := l.ensureNotPaused(ctx, id); err != nil {
		return err
	}

	if err := l.store.SetPaused(ctx, id, true); err != nil {
		return err
	}
	l.publish(Event{Kind: EventPaused, ID: id})
	return nil
}

func (l *Ledger) AddEmissions(ctx context.Context, caller Account, id AssetID, item CO2Emission) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.ensureExists(ctx, id); err != nil {
		return err
	}
	if err := l.ensureOwner(ctx, id, caller); err != nil {
		return err
	}
	if err := l.ensureNotPaused(ctx, id); err != nil {
		return err
	}
	if err := l.ensureEmissionsItem(item); err != nil {
		return err
	}
	existing, _, err := l.store.Emissions(ctx, id)
	if err != nil {
		return err
	}
	if err := l.ensureEmissionsBound(len(existing) + 1); err != nil {
		return err
	}

	// Single logical write; the store keeps the sequence replacement atomic.
	if err := l.store.SetEmissions(ctx, id, combineEmissions(existing, []CO2Emission{item})); err != nil {
		return err
	}
	l.publishEmissions(id, []CO2Emission{item})
	return nil
}

func (l *Ledger) OwnerOf(ctx context.Context, id AssetID) (Account, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.store.Owner(ctx, id)
}

func (l *Ledger) HasPaused(ctx context.Context, id AssetID) (bool, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.store.Paused(ctx, id)
}

func (l *Ledger) GetAssetEmissions(ctx context.Context, id AssetID) ([]CO2Emission, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.store.Emissions(ctx, id)
}

func (l *Ledger) GetMetadata(ctx context.Context, id AssetID) ([]byte, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.store.Metadata(ctx, id)
}

func (l *Ledger) GetParentDetails(ctx context.Context, id AssetID) (*ParentRef, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.store.Parent(ctx, id)
}

func (l *Ledger) GetAsset(ctx context.Context, id AssetID) (AssetDetails, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.getAsset(ctx, id)
}

func (l *Ledger) ListAssets(ctx context.Context, owner Account) ([]AssetID, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.store.OwnedAssets(ctx, owner)
}

// QueryEmissions reconstructs the full history of an asset by walking the
// parent chain from the queried asset back to its rootless ancestor. The
// second return is false when the asset does not exist.
func (l *Ledger) QueryEmissions(ctx context.Context, id AssetID) ([]AssetDetails, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	exists, err := l.store.HasAsset(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if !exists {
		return nil, false, nil
	}

	// Terminates because a parent id is always strictly below its child's,
	// asserted at creation.
	var tree []AssetDetails
	cursor := id
	for {
		details, ok, err := l.getAsset(ctx, cursor)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			panic(fmt.Sprintf("ledger: store corrupted: asset %d referenced as parent but missing", cursor))
		}
		tree = append(tree, details)
		if details.Parent == nil {
			return tree, true, nil
		}
		cursor = details.Parent.ID
	}
}

// --- internals ---

// getAsset composes the full projection. Metadata absence is the sole
// "does not exist" signal; once metadata is present, a missing emissions or
// parent row means the atomic-creation invariant is broken and we abort.
func (l *Ledger) getAsset(ctx context.Context, id AssetID) (AssetDetails, bool, error) {
	metadata, ok, err := l.store.Metadata(ctx, id)
	if err != nil {
		return AssetDetails{}, false, err
	}
	if !ok {
		return AssetDetails{}, false, nil
	}
	emissions, ok, err := l.store.Emissions(ctx, id)
	if err != nil {
		return AssetDetails{}, false, err
	}
	if !ok {
		panic(fmt.Sprintf("ledger: store corrupted: asset %d has metadata but no emissions", id))
	}
	parent, ok, err := l.store.Parent(ctx, id)
	if err != nil {
		return AssetDetails{}, false, err
	}
	if !ok {
		panic(fmt.Sprintf("ledger: store corrupted: asset %d has metadata but no parent record", id))
	}
	return AssetDetails{AssetID: id, Metadata: metadata, Emissions: emissions, Parent: parent}, true, nil
}

// allocateID returns the id to issue and the next counter value without
// persisting either. The caller commits the counter only after every check
// has passed, so a failed operation never consumes an identifier.
func (l *Ledger) allocateID(ctx context.Context) (AssetID, AssetID, error) {
	cur, err := l.store.NextID(ctx)
	if err != nil {
		return 0, 0, err
	}
	if cur == math.MaxUint64 {
		return 0, 0, ErrAssetIDOverflow
	}
	return cur, cur + 1, nil
}

func combineEmissions(existing, items []CO2Emission) []CO2Emission {
	combined := make([]CO2Emission, 0, len(existing)+len(items))
	combined = append(combined, existing...)
	return append(combined, items...)
}

// publishEmissions emits one event per appended item in input order, after
// the mutation has committed.
func (l *Ledger) publishEmissions(id AssetID, items []CO2Emission) {
	for i := range items {
		item := items[i]
		l.publish(Event{Kind: EventEmission, ID: id, Emission: &item})
	}
}

func (l *Ledger) publish(evt Event) {
	if l.sink == nil {
		return
	}
	evt.Timestamp = time.Now().UTC()
	l.sink.Publish(evt)
}

// --- validators ---
// Pure checks over current state plus input. Each operation runs its set in
// a fixed order and the first violated check wins.

func (l *Ledger) ensureMetadata(metadata []byte) error {
	if len(metadata) > l.cfg.MaxMetadataBytes {
		return ErrMetadataOverflow
	}
	return nil
}

func (l *Ledger) ensureEmissionsNotEmpty(emissions []CO2Emission) error {
	if len(emissions) == 0 {
		return ErrEmissionsEmpty
	}
	return nil
}

// ensureEmissionsBound checks the prospective per-asset total, so repeated
// small appends are bounded cumulatively.
func (l *Ledger) ensureEmissionsBound(total int) error {
	if total > l.cfg.MaxEmissionsPerAsset {
		return ErrEmissionsOverflow
	}
	return nil
}

func (l *Ledger) ensureEmissionsItem(item CO2Emission) error {
	if len(item.DataSource) > l.cfg.MaxDataSourceBytes {
		return ErrDataSourceOverflow
	}
	if item.Value == 0 {
		return ErrZeroEmissionsItem
	}
	return nil
}

func (l *Ledger) ensureExists(ctx context.Context, id AssetID) error {
	ok, err := l.store.HasAsset(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAssetNotFound
	}
	return nil
}

// ensureNotExists guards against allocator bugs right after allocation.
func (l *Ledger) ensureNotExists(ctx context.Context, id AssetID) error {
	ok, err := l.store.HasAsset(ctx, id)
	if err != nil {
		return err
	}
	if ok {
		return ErrAssetAlreadyExists
	}
	return nil
}

// ensureOwner reports ErrAssetNotFound for unknown assets; ErrNotOwner only
// when the asset exists under someone else.
func (l *Ledger) ensureOwner(ctx context.Context, id AssetID, caller Account) error {
	owner, ok, err := l.store.Owner(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAssetNotFound
	}
	if owner != caller {
		return ErrNotOwner
	}
	return nil
}

func (l *Ledger) ensurePaused(ctx context.Context, id AssetID) error {
	paused, ok, err := l.store.Paused(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAssetNotFound
	}
	if !paused {
		return ErrNotPaused
	}
	return nil
}

func (l *Ledger) ensureNotPaused(ctx context.Context, id AssetID) error {
	paused, ok, err := l.store.Paused(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAssetNotFound
	}
	if paused {
		return ErrAlreadyPaused
	}
	return nil
}

// ensureParent validates a parent reference: trivially ok when absent;
// otherwise the caller must own it, the relation must be non-zero and the
// parent must already be paused, checked in that order.
func (l *Ledger) ensureParent(ctx context.Context, parent *ParentRef, caller Account) error {
	if parent == nil {
		return nil
	}
	if err := l.ensureOwner(ctx, parent.ID, caller); err != nil {
		return err
	}
	if parent.Relation == 0 {
		return ErrInvalidAssetRelation
	}
	return l.ensurePaused(ctx, parent.ID)
}
