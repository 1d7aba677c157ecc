package boltdb

import (
	"encoding/binary"
	"sort"

	"github.com/fzmap/mapserver/internal/mapstore"
)

func idKey(id uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, id)
	return k
}

// orderedInt flips the sign bit so that signed values sort bytewise.
func orderedInt(v int64) uint64 {
	return uint64(v) ^ (1 << 63)
}

func coordKey(mapID uint64, c mapstore.Coordinate) []byte {
	k := make([]byte, 24)
	binary.BigEndian.PutUint64(k, mapID)
	binary.BigEndian.PutUint64(k[8:], orderedInt(c.AP))
	binary.BigEndian.PutUint64(k[16:], orderedInt(c.AE))
	return k
}

// producerKey keys per (map, producer) records.
func producerKey(mapID uint64, producer string) []byte {
	return append(idKey(mapID), producer...)
}

// nameKey length prefixes every part so that no two names share a key.
func nameKey(n mapstore.Name) []byte {
	var k []byte
	for _, part := range []string{n.Machine, n.Material, n.Tool} {
		k = binary.BigEndian.AppendUint32(k, uint32(len(part)))
		k = append(k, part...)
	}
	return k
}

func sortPoints(points []*mapstore.Point) {
	sort.Slice(points, func(i, j int) bool { return points[i].ID < points[j].ID })
}
