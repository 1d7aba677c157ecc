package paillier

import (
	"math/big"

	lru "github.com/hashicorp/golang-lru"
)

// KeyCache keeps parsed public keys by map identifier. A map's modulus never
// changes once registered, so entries are never invalidated.
type KeyCache struct {
	cache *lru.ARCCache
}

// NewKeyCache returns a cache holding up to size keys.
func NewKeyCache(size int) (*KeyCache, error) {
	c, err := lru.NewARC(size)
	if err != nil {
		return nil, err
	}
	return &KeyCache{cache: c}, nil
}

// Get returns the key of mapID, parsing and caching n on a miss. A cached key
// with a different modulus is replaced.
func (k *KeyCache) Get(mapID uint64, n *big.Int) (*PublicKey, error) {
	if v, ok := k.cache.Get(mapID); ok {
		if pk := v.(*PublicKey); pk.N.Cmp(n) == 0 {
			return pk, nil
		}
	}
	pk, err := NewPublicKey(n)
	if err != nil {
		return nil, err
	}
	k.cache.Add(mapID, pk)
	return pk, nil
}
