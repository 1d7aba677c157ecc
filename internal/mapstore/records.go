package mapstore

import (
	"math/big"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Name is the human readable identity of a map. It is unique across the store.
type Name struct {
	Machine  string `json:"machine"`
	Material string `json:"material"`
	Tool     string `json:"tool"`
}

// Map groups all points sharing one homomorphic key.
type Map struct {
	ID            uint64   `json:"map_id"`
	Name          Name     `json:"name"`
	PublicKeyN    *big.Int `json:"public_key_n"`
	FirstProvider string   `json:"first_provider"`
	// PastRequests lists the producers who have seen real values of this map.
	PastRequests Set `json:"past_requests,omitempty"`
}

// Coordinate locates a point inside a map.
type Coordinate struct {
	AP int64 `json:"ap"`
	AE int64 `json:"ae"`
}

// Slot is one of the three competing values of a point. Value is masked by the
// point's current offset while the slot is Set.
type Slot struct {
	Set      bool     `json:"set"`
	Value    *big.Int `json:"value,omitempty"`
	Provider string   `json:"provider,omitempty"`
}

// Filled returns a set slot.
func Filled(value *big.Int, provider string) Slot {
	return Slot{Set: true, Value: value, Provider: provider}
}

// Empty is the absent slot.
var Empty = Slot{}

// Point is the contested value of one coordinate of a map.
type Point struct {
	ID    uint64 `json:"id"`
	MapID uint64 `json:"map_id"`
	Coordinate

	// UsageTotal accumulates the usage of every provider, nil until first used.
	UsageTotal *big.Int `json:"usage_total,omitempty"`

	Optimal Slot `json:"optimal"`
	Pending Slot `json:"pending"`
	Unknown Slot `json:"unknown"`

	CurrentOffset  int64  `json:"current_offset"`
	LastComparator string `json:"last_comparator,omitempty"`

	OpenRequests       Set `json:"open_requests,omitempty"`
	CurrentComparators Set `json:"current_comparators,omitempty"`
	Vendees            Set `json:"vendees,omitempty"`
}

// MapUsage is the usage a single provider contributed to a map.
type MapUsage struct {
	MapID    uint64   `json:"map_id"`
	Provider string   `json:"provider"`
	Usage    *big.Int `json:"usage,omitempty"`
}

// ReverseQuerist is the voucher of an in flight preview.
type ReverseQuerist struct {
	MapID      uint64 `json:"map_id"`
	Producer   string `json:"producer"`
	PointCount int    `json:"point_count"`
	Offset     int64  `json:"offset"`
	Tool       string `json:"tool"`
}

// BillingKind tells what a billing record accounts for.
type BillingKind string

// Billing kinds.
const (
	BillingRetrieval BillingKind = "retrieval"
	BillingPreview   BillingKind = "preview"
	BillingOffset    BillingKind = "offset"
)

// Billing is one audit entry.
type Billing struct {
	ID         uuid.UUID   `json:"id"`
	Kind       BillingKind `json:"kind"`
	Client     string      `json:"client"`
	MapID      uint64      `json:"map_id,omitempty"`
	PointCount int         `json:"point_count"`
	// Providers counts the points sold per contributing provider.
	Providers map[string]int `json:"providers,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Set is a sorted set of producer identifiers.
type Set []string

// Contains reports whether p is in s.
func (s Set) Contains(p string) bool {
	i := sort.SearchStrings(s, p)
	return i < len(s) && s[i] == p
}

// Add inserts p, keeping s sorted. Adding an existing member is a no-op.
func (s Set) Add(p string) Set {
	i := sort.SearchStrings(s, p)
	if i < len(s) && s[i] == p {
		return s
	}
	s = append(s, "")
	copy(s[i+1:], s[i:])
	s[i] = p
	return s
}

// Remove deletes p from s.
func (s Set) Remove(p string) Set {
	i := sort.SearchStrings(s, p)
	if i == len(s) || s[i] != p {
		return s
	}
	return append(s[:i], s[i+1:]...)
}

// Clone copies a point deep enough that mutating the copy leaves p untouched.
func (p *Point) Clone() *Point {
	c := *p
	c.UsageTotal = cloneInt(p.UsageTotal)
	c.Optimal.Value = cloneInt(p.Optimal.Value)
	c.Pending.Value = cloneInt(p.Pending.Value)
	c.Unknown.Value = cloneInt(p.Unknown.Value)
	c.OpenRequests = append(Set(nil), p.OpenRequests...)
	c.CurrentComparators = append(Set(nil), p.CurrentComparators...)
	c.Vendees = append(Set(nil), p.Vendees...)
	return &c
}

// Clone copies a map record.
func (m *Map) Clone() *Map {
	c := *m
	c.PublicKeyN = cloneInt(m.PublicKeyN)
	c.PastRequests = append(Set(nil), m.PastRequests...)
	return &c
}

// Clone copies a usage record.
func (u *MapUsage) Clone() *MapUsage {
	c := *u
	c.Usage = cloneInt(u.Usage)
	return &c
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
