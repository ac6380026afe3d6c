package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// AssetID identifies a tracked asset. IDs are issued by a monotonically
// increasing counter starting at 1 and are never reused.
type AssetID uint64

// Account is the identity that owns assets and invokes operations.
type Account string

// EmissionsCategory buckets a CO2 emissions record.
type EmissionsCategory uint8

const (
	CategoryProcess EmissionsCategory = iota
	CategoryTransport
	CategoryUpstream
)

var categoryNames = [...]string{"Process", "Transport", "Upstream"}

func (c EmissionsCategory) String() string {
	if int(c) < len(categoryNames) {
		return categoryNames[c]
	}
	return fmt.Sprintf("EmissionsCategory(%d)", uint8(c))
}

// MarshalJSON encodes the category as its discriminant name so stored and
// emitted payloads stay wire-compatible.
func (c EmissionsCategory) MarshalJSON() ([]byte, error) {
	if int(c) >= len(categoryNames) {
		return nil, fmt.Errorf("unknown emissions category %d", uint8(c))
	}
	return json.Marshal(categoryNames[c])
}

func (c *EmissionsCategory) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for i, n := range categoryNames {
		if n == name {
			*c = EmissionsCategory(i)
			return nil
		}
	}
	return fmt.Errorf("unknown emissions category %q", name)
}

// CO2Emission is one immutable record of emissions attributed to an asset.
// Value is whole kg CO2 and must be non-zero. Date is the real-world UNIX
// timestamp of the event, not the time the operation was processed.
type CO2Emission struct {
	Category   EmissionsCategory `json:"category"`
	DataSource []byte            `json:"data_source"`
	Balanced   bool              `json:"balanced"`
	Value      uint64            `json:"value"`
	Date       int64             `json:"date"`
}

// ParentRef links a child asset to the asset it was split from.
// Relation is the parent quantity consumed and must be non-zero.
type ParentRef struct {
	ID       AssetID `json:"id"`
	Relation uint64  `json:"relation"`
}

// AssetDetails is the full projection of a single asset.
type AssetDetails struct {
	AssetID   AssetID       `json:"asset_id"`
	Metadata  []byte        `json:"metadata"`
	Emissions []CO2Emission `json:"emissions"`
	Parent    *ParentRef    `json:"parent"`
}

// Config carries the ledger limits. Fixed at initialization.
type Config struct {
	MaxMetadataBytes     int
	MaxEmissionsPerAsset int
	MaxDataSourceBytes   int
}

// DefaultConfig mirrors the historical deployment constants.
func DefaultConfig() Config {
	return Config{
		MaxMetadataBytes:     1024,
		MaxEmissionsPerAsset: 100,
		MaxDataSourceBytes:   128,
	}
}

// EventKind discriminates ledger notifications.
type EventKind string

const (
	EventCreated     EventKind = "asset.created"
	EventTransferred EventKind = "asset.transferred"
	EventPaused      EventKind = "asset.paused"
	EventEmission    EventKind = "asset.emission"
)

// Event is a structured notification emitted as a side effect of a
// state-changing operation. Only the fields relevant to Kind are set.
type Event struct {
	Kind      EventKind    `json:"kind"`
	ID        AssetID      `json:"id"`
	Owner     Account      `json:"owner,omitempty"`
	From      Account      `json:"from,omitempty"`
	To        Account      `json:"to,omitempty"`
	Metadata  []byte       `json:"metadata,omitempty"`
	Parent    *ParentRef   `json:"parent,omitempty"`
	Emission  *CO2Emission `json:"emission,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// Sink receives ledger events. Delivery is fire-and-forget; the ledger never
// waits on acknowledgment.
type Sink interface {
	Publish(Event)
}

// Ledger errors. The set is closed; every fallible operation returns one of
// these (or a store error) and handlers propagate the first failing check.
var (
	ErrAssetIDOverflow      = errors.New("asset id overflow")
	ErrAssetNotFound        = errors.New("asset not found")
	ErrAssetAlreadyExists   = errors.New("asset already exists")
	ErrAlreadyPaused        = errors.New("asset already paused")
	ErrNotOwner             = errors.New("caller is not the asset owner")
	ErrNotPaused            = errors.New("asset is not paused")
	ErrEmissionsEmpty       = errors.New("emissions list is empty")
	ErrEmissionsOverflow    = errors.New("too many emissions for asset")
	ErrZeroEmissionsItem    = errors.New("emissions item has zero value")
	ErrMetadataOverflow     = errors.New("metadata too long")
	ErrDataSourceOverflow   = errors.New("data source too long")
	ErrInvalidAssetRelation = errors.New("invalid parent relation")
)

// ErrorCode returns the stable discriminant name for a ledger error, or ""
// for errors outside the closed set. External consumers assert on these.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrAssetIDOverflow):
		return "AssetIdOverflow"
	case errors.Is(err, ErrAssetNotFound):
		return "AssetNotFound"
	case errors.Is(err, ErrAssetAlreadyExists):
		return "AssetAlreadyExists"
	case errors.Is(err, ErrAlreadyPaused):
		return "AlreadyPaused"
	case errors.Is(err, ErrNotOwner):
		return "NotOwner"
	case errors.Is(err, ErrNotPaused):
		return "NotPaused"
	case errors.Is(err, ErrEmissionsEmpty):
		return "EmissionsEmpty"
	case errors.Is(err, ErrEmissionsOverflow):
		return "EmissionsOverflow"
	case errors.Is(err, ErrZeroEmissionsItem):
		return "ZeroEmissionsItem"
	case errors.Is(err, ErrMetadataOverflow):
		return "MetadataOverflow"
	case errors.Is(err, ErrDataSourceOverflow):
		return "DataSourceOverflow"
	case errors.Is(err, ErrInvalidAssetRelation):
		return "InvalidAssetRelation"
	}
	return ""
}
