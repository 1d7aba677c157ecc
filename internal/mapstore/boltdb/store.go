// Package boltdb implements the map store on top of bbolt. bbolt allows a
// single writer at a time, which gives every Update serializable isolation.
package boltdb

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path"

	json "github.com/nikkolasg/hexjson"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/fzmap/mapserver/common/log"
	"github.com/fzmap/mapserver/internal/mapstore"
)

// BoltFileName is the name of the database file inside the store folder.
const BoltFileName = "mapserver.db"

// BoltStoreOpenPerm is the permission of the database file.
const BoltStoreOpenPerm = 0660

// DirPerm is the permission of a store folder created by NewStore.
const DirPerm = 0755

var (
	mapBucket     = []byte("maps")
	mapNameBucket = []byte("map_names")
	pointBucket   = []byte("points")
	coordBucket   = []byte("point_coordinates")
	usageBucket   = []byte("map_usage")
	queristBucket = []byte("reverse_querists")
	billingBucket = []byte("billing")
	allBuckets    = [][]byte{mapBucket, mapNameBucket, pointBucket, coordBucket, usageBucket, queristBucket, billingBucket}
)

const (
	errNilBucket   = "%s bucket was nil - this should never happen"
	errCorruptData = "corrupt %s record"
)

// Store is a mapstore.Store backed by a bbolt file.
type Store struct {
	db  *bolt.DB
	log log.Logger
}

// NewStore opens, creating if needed, the database in folder.
func NewStore(ctx context.Context, l log.Logger, folder string, opts *bolt.Options) (*Store, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if err := os.MkdirAll(folder, DirPerm); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path.Join(folder, BoltFileName), BoltStoreOpenPerm, opts)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, log: l}, nil
}

// View implements mapstore.Store.
func (s *Store) View(ctx context.Context, fn func(mapstore.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(tx *bolt.Tx) error {
		return fn(&boltTx{tx: tx})
	})
}

// Update implements mapstore.Store.
func (s *Store) Update(ctx context.Context, fn func(mapstore.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(&boltTx{tx: tx})
	})
}

// Close closes the database file.
func (s *Store) Close() error {
	err := s.db.Close()
	if err != nil {
		s.log.Errorw("", "boltdb", "close", "err", err)
	}
	return err
}

type boltTx struct {
	tx *bolt.Tx
}

func (b *boltTx) bucket(name []byte) (*bolt.Bucket, error) {
	bucket := b.tx.Bucket(name)
	if bucket == nil {
		return nil, errors.Errorf(errNilBucket, name)
	}
	return bucket, nil
}

func (b *boltTx) get(name, key []byte, v interface{}) error {
	bucket, err := b.bucket(name)
	if err != nil {
		return err
	}
	raw := bucket.Get(key)
	if raw == nil {
		return mapstore.ErrNotFound
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.Wrapf(err, errCorruptData, name)
	}
	return nil
}

func (b *boltTx) put(name, key []byte, v interface{}) error {
	bucket, err := b.bucket(name)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return bucket.Put(key, raw)
}

func (b *boltTx) exists(name, key []byte) (bool, error) {
	bucket, err := b.bucket(name)
	if err != nil {
		return false, err
	}
	return bucket.Get(key) != nil, nil
}

func (b *boltTx) Map(id uint64) (*mapstore.Map, error) {
	m := new(mapstore.Map)
	if err := b.get(mapBucket, idKey(id), m); err != nil {
		return nil, err
	}
	return m, nil
}

func (b *boltTx) MapByName(name mapstore.Name) (*mapstore.Map, error) {
	bucket, err := b.bucket(mapNameBucket)
	if err != nil {
		return nil, err
	}
	id := bucket.Get(nameKey(name))
	if id == nil {
		return nil, mapstore.ErrNotFound
	}
	return b.Map(binary.BigEndian.Uint64(id))
}

func (b *boltTx) CreateMap(m *mapstore.Map) error {
	if ok, err := b.exists(mapBucket, idKey(m.ID)); err != nil {
		return err
	} else if ok {
		return mapstore.ErrConflict
	}
	if ok, err := b.exists(mapNameBucket, nameKey(m.Name)); err != nil {
		return err
	} else if ok {
		return mapstore.ErrConflict
	}
	names, err := b.bucket(mapNameBucket)
	if err != nil {
		return err
	}
	if err := names.Put(nameKey(m.Name), idKey(m.ID)); err != nil {
		return err
	}
	return b.put(mapBucket, idKey(m.ID), m)
}

func (b *boltTx) PutMap(m *mapstore.Map) error {
	old, err := b.Map(m.ID)
	if err != nil {
		return err
	}
	if old.Name != m.Name {
		return errors.Errorf("map %d cannot be renamed", m.ID)
	}
	return b.put(mapBucket, idKey(m.ID), m)
}

func (b *boltTx) Point(id uint64) (*mapstore.Point, error) {
	p := new(mapstore.Point)
	if err := b.get(pointBucket, idKey(id), p); err != nil {
		return nil, err
	}
	return p, nil
}

func (b *boltTx) PointAt(mapID uint64, c mapstore.Coordinate) (*mapstore.Point, error) {
	coords, err := b.bucket(coordBucket)
	if err != nil {
		return nil, err
	}
	id := coords.Get(coordKey(mapID, c))
	if id == nil {
		return nil, mapstore.ErrNotFound
	}
	return b.Point(binary.BigEndian.Uint64(id))
}

func (b *boltTx) CreatePoint(p *mapstore.Point) error {
	coords, err := b.bucket(coordBucket)
	if err != nil {
		return err
	}
	key := coordKey(p.MapID, p.Coordinate)
	if coords.Get(key) != nil {
		return mapstore.ErrConflict
	}
	points, err := b.bucket(pointBucket)
	if err != nil {
		return err
	}
	seq, err := points.NextSequence()
	if err != nil {
		return err
	}
	p.ID = seq
	if err := coords.Put(key, idKey(p.ID)); err != nil {
		return err
	}
	return b.put(pointBucket, idKey(p.ID), p)
}

func (b *boltTx) PutPoint(p *mapstore.Point) error {
	if ok, err := b.exists(pointBucket, idKey(p.ID)); err != nil {
		return err
	} else if !ok {
		return mapstore.ErrNotFound
	}
	return b.put(pointBucket, idKey(p.ID), p)
}

func (b *boltTx) Points(mapID uint64) ([]*mapstore.Point, error) {
	coords, err := b.bucket(coordBucket)
	if err != nil {
		return nil, err
	}
	var points []*mapstore.Point
	prefix := idKey(mapID)
	c := coords.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		p, err := b.Point(binary.BigEndian.Uint64(v))
		if err != nil {
			return nil, errors.Wrapf(err, "point index of map %d", mapID)
		}
		points = append(points, p)
	}
	sortPoints(points)
	return points, nil
}

func (b *boltTx) MapUsage(mapID uint64, provider string) (*mapstore.MapUsage, error) {
	u := new(mapstore.MapUsage)
	if err := b.get(usageBucket, producerKey(mapID, provider), u); err != nil {
		return nil, err
	}
	return u, nil
}

func (b *boltTx) PutMapUsage(u *mapstore.MapUsage) error {
	return b.put(usageBucket, producerKey(u.MapID, u.Provider), u)
}

func (b *boltTx) ReverseQuerist(mapID uint64, producer string) (*mapstore.ReverseQuerist, error) {
	r := new(mapstore.ReverseQuerist)
	if err := b.get(queristBucket, producerKey(mapID, producer), r); err != nil {
		return nil, err
	}
	return r, nil
}

func (b *boltTx) CreateReverseQuerist(r *mapstore.ReverseQuerist) error {
	key := producerKey(r.MapID, r.Producer)
	if ok, err := b.exists(queristBucket, key); err != nil {
		return err
	} else if ok {
		return mapstore.ErrConflict
	}
	return b.put(queristBucket, key, r)
}

func (b *boltTx) DeleteReverseQuerist(mapID uint64, producer string) error {
	key := producerKey(mapID, producer)
	bucket, err := b.bucket(queristBucket)
	if err != nil {
		return err
	}
	if bucket.Get(key) == nil {
		return mapstore.ErrNotFound
	}
	return bucket.Delete(key)
}

func (b *boltTx) AddBilling(bill *mapstore.Billing) error {
	bucket, err := b.bucket(billingBucket)
	if err != nil {
		return err
	}
	seq, err := bucket.NextSequence()
	if err != nil {
		return err
	}
	return b.put(billingBucket, idKey(seq), bill)
}

func (b *boltTx) Billings(client string) ([]*mapstore.Billing, error) {
	bucket, err := b.bucket(billingBucket)
	if err != nil {
		return nil, err
	}
	var out []*mapstore.Billing
	err = bucket.ForEach(func(_, v []byte) error {
		bill := new(mapstore.Billing)
		if err := json.Unmarshal(v, bill); err != nil {
			return errors.Wrapf(err, errCorruptData, billingBucket)
		}
		if client == "" || bill.Client == client {
			out = append(out, bill)
		}
		return nil
	})
	return out, err
}
