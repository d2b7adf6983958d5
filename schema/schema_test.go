package schema

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablecore/data/orm"
	"tablecore/errors"
)

func TestRegistry_RegisterAndLookup(t *testing.T) {
	ctx := context.Background()
	r, err := NewRegistry(&orm.Table{ID: "t1", Name: "orders", Columns: []*orm.Column{
		{ID: "c1", Name: "id", PrimaryKey: true},
		{ID: "c2", Title: "Items", Type: orm.TypeLink, Link: &orm.LinkOptions{Kind: orm.HasMany}},
	}})
	require.NoError(t, err)

	tbl, err := r.GetTable(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "orders", tbl.Name)

	col, err := r.GetColumn(ctx, "c2")
	require.NoError(t, err)
	assert.Equal(t, "t1", col.TableID)

	_, err = r.GetTable(ctx, "nope")
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeTableNotFound))
	_, err = r.GetColumn(ctx, "nope")
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeColumnNotFound))

	require.NoError(t, r.Register(&orm.Table{ID: "t1", Name: "orders", Columns: []*orm.Column{{ID: "c9", Name: "id"}}}))
	_, err = r.GetColumn(ctx, "c2")
	assert.Error(t, err, "replaced table drops old columns")
}

func TestRegistry_RejectsUnsafeNames(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)
	assert.Error(t, r.Register(&orm.Table{ID: "t", Name: "a;b"}))
	assert.Error(t, r.Register(&orm.Table{ID: "t", Name: "a", Columns: []*orm.Column{{ID: "c", Name: "x y"}}}))
	assert.Error(t, r.Register(&orm.Table{ID: "t", Name: "a", Columns: []*orm.Column{{ID: "c", Type: orm.TypeLink}}}))
	assert.NoError(t, r.Register(&orm.Table{ID: "t", Name: "public.a", Columns: []*orm.Column{{ID: "f", Type: orm.TypeFormula}}}))
}

func TestResolveLookupTarget(t *testing.T) {
	ctx := context.Background()
	r, err := NewRegistry(
		&orm.Table{ID: "a", Name: "a", Columns: []*orm.Column{
			{ID: "a_lk", Type: orm.TypeLookup, Lookup: &orm.LookupOptions{TargetColumnID: "b_lk"}},
		}},
		&orm.Table{ID: "b", Name: "b", Columns: []*orm.Column{
			{ID: "b_lk", Type: orm.TypeLookup, Lookup: &orm.LookupOptions{TargetColumnID: "c_dt"}},
		}},
		&orm.Table{ID: "c", Name: "c", Columns: []*orm.Column{
			{ID: "c_dt", Name: "due", Type: orm.TypeDateTime},
			{ID: "c_loop", Type: orm.TypeLookup, Lookup: &orm.LookupOptions{TargetColumnID: "c_loop"}},
		}},
	)
	require.NoError(t, err)

	a, _ := r.GetColumn(ctx, "a_lk")
	target, err := ResolveLookupTarget(ctx, r, a)
	require.NoError(t, err)
	assert.Equal(t, "c_dt", target.ID)

	loop, _ := r.GetColumn(ctx, "c_loop")
	_, err = ResolveLookupTarget(ctx, r, loop)
	assert.Error(t, err)
}

type countingAccessor struct {
	Accessor
	tableLoads atomic.Int32
}

func (c *countingAccessor) GetTable(ctx context.Context, id string) (*orm.Table, error) {
	c.tableLoads.Add(1)
	time.Sleep(10 * time.Millisecond)
	return c.Accessor.GetTable(ctx, id)
}

func TestCached_SingleLoadUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	r, err := NewRegistry(&orm.Table{ID: "t1", Name: "orders", Columns: []*orm.Column{{ID: "c1", Name: "id"}}})
	require.NoError(t, err)
	counting := &countingAccessor{Accessor: r}
	cached := NewCached(counting, 16, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tbl, err := cached.GetTable(ctx, "t1")
			assert.NoError(t, err)
			assert.Equal(t, "orders", tbl.Name)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, counting.tableLoads.Load())

	col, err := cached.GetColumn(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "id", col.Name)

	cached.Invalidate("t1")
	_, err = cached.GetTable(ctx, "t1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, counting.tableLoads.Load())

	_, err = cached.GetTable(ctx, "missing")
	assert.Error(t, err)
}
