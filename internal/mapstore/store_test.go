package mapstore_test

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/fzmap/mapserver/common/testlogger"
	"github.com/fzmap/mapserver/internal/mapstore"
	"github.com/fzmap/mapserver/internal/mapstore/boltdb"
	"github.com/fzmap/mapserver/internal/mapstore/memdb"
)

func backends(t *testing.T) map[string]mapstore.Store {
	t.Helper()
	bolt, err := boltdb.NewStore(context.Background(), testlogger.New(t), t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, bolt.Close()) })
	return map[string]mapstore.Store{
		"boltdb": bolt,
		"memdb":  memdb.NewStore(),
	}
}

func testMap(id uint64, tool string) *mapstore.Map {
	return &mapstore.Map{
		ID:            id,
		Name:          mapstore.Name{Machine: "mill", Material: "steel", Tool: tool},
		PublicKeyN:    big.NewInt(1000036000099),
		FirstProvider: "alice",
	}
}

func TestMapUniqueness(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			err := store.Update(ctx, func(tx mapstore.Tx) error {
				return tx.CreateMap(testMap(1, "drill"))
			})
			require.NoError(t, err)

			err = store.Update(ctx, func(tx mapstore.Tx) error {
				return tx.CreateMap(testMap(1, "lathe"))
			})
			require.ErrorIs(t, err, mapstore.ErrConflict)

			err = store.Update(ctx, func(tx mapstore.Tx) error {
				return tx.CreateMap(testMap(2, "drill"))
			})
			require.ErrorIs(t, err, mapstore.ErrConflict)

			err = store.View(ctx, func(tx mapstore.Tx) error {
				m, err := tx.MapByName(mapstore.Name{Machine: "mill", Material: "steel", Tool: "drill"})
				require.NoError(t, err)
				require.Equal(t, uint64(1), m.ID)
				require.Equal(t, big.NewInt(1000036000099), m.PublicKeyN)

				_, err = tx.Map(2)
				require.ErrorIs(t, err, mapstore.ErrNotFound)
				return nil
			})
			require.NoError(t, err)
		})
	}
}

func TestPointsRollback(t *testing.T) {
	errAbort := errors.New("abort")
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var first *mapstore.Point
			err := store.Update(ctx, func(tx mapstore.Tx) error {
				if err := tx.CreateMap(testMap(7, "drill")); err != nil {
					return err
				}
				first = &mapstore.Point{MapID: 7, Coordinate: mapstore.Coordinate{AP: -1, AE: 2}, CurrentOffset: 5}
				if err := tx.CreatePoint(first); err != nil {
					return err
				}
				return tx.CreatePoint(&mapstore.Point{MapID: 7, Coordinate: mapstore.Coordinate{AP: 3, AE: 4}})
			})
			require.NoError(t, err)
			require.NotZero(t, first.ID)

			err = store.Update(ctx, func(tx mapstore.Tx) error {
				return tx.CreatePoint(&mapstore.Point{MapID: 7, Coordinate: mapstore.Coordinate{AP: -1, AE: 2}})
			})
			require.ErrorIs(t, err, mapstore.ErrConflict)

			err = store.Update(ctx, func(tx mapstore.Tx) error {
				p, err := tx.Point(first.ID)
				if err != nil {
					return err
				}
				p.Optimal = mapstore.Filled(big.NewInt(123), "bob")
				p.OpenRequests = p.OpenRequests.Add("bob")
				if err := tx.PutPoint(p); err != nil {
					return err
				}
				return errAbort
			})
			require.ErrorIs(t, err, errAbort)

			err = store.View(ctx, func(tx mapstore.Tx) error {
				p, err := tx.PointAt(7, mapstore.Coordinate{AP: -1, AE: 2})
				require.NoError(t, err)
				require.False(t, p.Optimal.Set)
				require.Empty(t, p.OpenRequests)
				require.Equal(t, int64(5), p.CurrentOffset)

				points, err := tx.Points(7)
				require.NoError(t, err)
				require.Len(t, points, 2)
				require.Less(t, points[0].ID, points[1].ID)

				points, err = tx.Points(8)
				require.NoError(t, err)
				require.Empty(t, points)
				return nil
			})
			require.NoError(t, err)
		})
	}
}

func TestPutPointCommits(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			p := &mapstore.Point{MapID: 1, Coordinate: mapstore.Coordinate{AP: 1, AE: 1}}
			require.NoError(t, store.Update(ctx, func(tx mapstore.Tx) error {
				return tx.CreatePoint(p)
			}))

			require.NoError(t, store.Update(ctx, func(tx mapstore.Tx) error {
				got, err := tx.Point(p.ID)
				if err != nil {
					return err
				}
				got.Optimal = mapstore.Filled(big.NewInt(50), "alice")
				got.Vendees = got.Vendees.Add("carol")
				return tx.PutPoint(got)
			}))

			require.NoError(t, store.View(ctx, func(tx mapstore.Tx) error {
				got, err := tx.Point(p.ID)
				require.NoError(t, err)
				require.True(t, got.Optimal.Set)
				require.Equal(t, "alice", got.Optimal.Provider)
				require.Equal(t, 0, got.Optimal.Value.Cmp(big.NewInt(50)))
				require.True(t, got.Vendees.Contains("carol"))

				require.Error(t, tx.PutPoint(got), "view transactions are read-only")
				return nil
			}))
		})
	}
}

func TestReverseQuerists(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			r := &mapstore.ReverseQuerist{MapID: 3, Producer: "carol", PointCount: 3, Offset: -17, Tool: "drill"}
			require.NoError(t, store.Update(ctx, func(tx mapstore.Tx) error {
				return tx.CreateReverseQuerist(r)
			}))
			err := store.Update(ctx, func(tx mapstore.Tx) error {
				return tx.CreateReverseQuerist(r)
			})
			require.ErrorIs(t, err, mapstore.ErrConflict)

			require.NoError(t, store.Update(ctx, func(tx mapstore.Tx) error {
				got, err := tx.ReverseQuerist(3, "carol")
				require.NoError(t, err)
				require.Equal(t, r, got)
				return tx.DeleteReverseQuerist(3, "carol")
			}))
			err = store.Update(ctx, func(tx mapstore.Tx) error {
				return tx.DeleteReverseQuerist(3, "carol")
			})
			require.ErrorIs(t, err, mapstore.ErrNotFound)
		})
	}
}

func TestUsageAndBilling(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
			require.NoError(t, store.Update(ctx, func(tx mapstore.Tx) error {
				_, err := tx.MapUsage(1, "alice")
				require.ErrorIs(t, err, mapstore.ErrNotFound)
				if err := tx.PutMapUsage(&mapstore.MapUsage{MapID: 1, Provider: "alice", Usage: big.NewInt(9)}); err != nil {
					return err
				}
				if err := tx.AddBilling(&mapstore.Billing{
					ID: uuid.New(), Kind: mapstore.BillingRetrieval, Client: "carol",
					PointCount: 2, Providers: map[string]int{"alice": 2}, Timestamp: now,
				}); err != nil {
					return err
				}
				return tx.AddBilling(&mapstore.Billing{
					ID: uuid.New(), Kind: mapstore.BillingPreview, Client: "dave", MapID: 1, Timestamp: now,
				})
			}))

			require.NoError(t, store.View(ctx, func(tx mapstore.Tx) error {
				u, err := tx.MapUsage(1, "alice")
				require.NoError(t, err)
				require.Equal(t, int64(9), u.Usage.Int64())

				all, err := tx.Billings("")
				require.NoError(t, err)
				require.Len(t, all, 2)
				require.Equal(t, mapstore.BillingRetrieval, all[0].Kind)

				carol, err := tx.Billings("carol")
				require.NoError(t, err)
				require.Len(t, carol, 1)
				require.Equal(t, map[string]int{"alice": 2}, carol[0].Providers)
				require.True(t, now.Equal(carol[0].Timestamp))
				return nil
			}))
		})
	}
}

func TestCanceledContext(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			err := store.Update(ctx, func(tx mapstore.Tx) error { return nil })
			require.ErrorIs(t, err, context.Canceled)
		})
	}
}
