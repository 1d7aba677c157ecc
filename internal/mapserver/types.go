package mapserver

import (
	"math/big"

	"github.com/fzmap/mapserver/internal/mapstore"
)

// Comparison is what a producer must compare for one point. Nil values are
// absent slots; all three are nil when the producer already confirmed the
// current state of the point.
type Comparison struct {
	PointID uint64   `json:"point_id"`
	Optimal *big.Int `json:"fz_optimal"`
	Pending *big.Int `json:"fz_pending"`
	Unknown *big.Int `json:"fz_unknown"`
}

// ComparisonResult is a producer's answer to a Comparison: for each pair it
// was asked about, the ciphertext holding the larger value.
type ComparisonResult struct {
	PointID        uint64   `json:"point_id"`
	OptimalPending *big.Int `json:"result_optimal_pending"`
	OptimalUnknown *big.Int `json:"result_optimal_unknown"`
}

// Record is a comparison answer carrying a contribution. FZ and Usage are
// ciphertexts under the map key, nil when not contributed.
type Record struct {
	ComparisonResult
	FZ    *big.Int `json:"fz"`
	Usage *big.Int `json:"usage"`
}

// RetrievedPoint is a point value handed to a client. FZ decrypts to the true
// value, or to the value shifted by the preview offset inside a Preview.
type RetrievedPoint struct {
	mapstore.Coordinate
	FZ    *big.Int `json:"fz"`
	Usage *big.Int `json:"usage"`
}

// Preview is a masked snapshot of a whole map.
type Preview struct {
	MapID  uint64           `json:"map_id"`
	Points []RetrievedPoint `json:"points"`
}

// PreviewInfo discloses the offset of a preview.
type PreviewInfo struct {
	Offset int64  `json:"offset"`
	Tool   string `json:"tool"`
}

// PlainRecord is a plaintext contribution. Zero values are not contributed.
type PlainRecord struct {
	mapstore.Coordinate
	FZ    int64 `json:"fz"`
	Usage int64 `json:"usage"`
}

// PlainPoint is a plaintext point value.
type PlainPoint struct {
	mapstore.Coordinate
	FZ    int64 `json:"fz"`
	Usage int64 `json:"usage"`
}

// PlainPreview is a plaintext snapshot of a whole map.
type PlainPreview struct {
	MapID  uint64       `json:"map_id"`
	Points []PlainPoint `json:"points"`
}
