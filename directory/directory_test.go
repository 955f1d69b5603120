package directory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/points-ledger/ledger"
)

type countingSource struct {
	names     map[ledger.UserID]string
	err       error
	requested [][]ledger.UserID
}

func (s *countingSource) DisplayNames(_ context.Context, ids []ledger.UserID) (map[ledger.UserID]string, error) {
	s.requested = append(s.requested, append([]ledger.UserID(nil), ids...))
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[ledger.UserID]string)
	for _, id := range ids {
		if n, ok := s.names[id]; ok {
			out[id] = n
		}
	}
	return out, nil
}

func TestCached_SecondLookupServedFromCache(t *testing.T) {
	src := &countingSource{names: map[ledger.UserID]string{"u-1": "alice", "u-2": "bob"}}
	c := NewCached(src, time.Minute)
	ctx := context.Background()

	names, err := c.DisplayNames(ctx, []ledger.UserID{"u-1", "u-2"})
	require.NoError(t, err)
	assert.Equal(t, map[ledger.UserID]string{"u-1": "alice", "u-2": "bob"}, names)

	names, err = c.DisplayNames(ctx, []ledger.UserID{"u-1"})
	require.NoError(t, err)
	assert.Equal(t, "alice", names["u-1"])
	assert.Len(t, src.requested, 1, "second lookup must not reach the source")
}

func TestCached_OnlyMissingIDsFetched(t *testing.T) {
	src := &countingSource{names: map[ledger.UserID]string{"u-1": "alice", "u-2": "bob"}}
	c := NewCached(src, time.Minute)
	ctx := context.Background()

	_, err := c.DisplayNames(ctx, []ledger.UserID{"u-1"})
	require.NoError(t, err)
	_, err = c.DisplayNames(ctx, []ledger.UserID{"u-1", "u-2"})
	require.NoError(t, err)

	require.Len(t, src.requested, 2)
	assert.Equal(t, []ledger.UserID{"u-2"}, src.requested[1])
}

func TestCached_UnknownIDsNotCached(t *testing.T) {
	src := &countingSource{names: map[ledger.UserID]string{}}
	c := NewCached(src, time.Minute)
	ctx := context.Background()

	_, err := c.DisplayNames(ctx, []ledger.UserID{"u-new"})
	require.NoError(t, err)

	src.names["u-new"] = "newbie"
	names, err := c.DisplayNames(ctx, []ledger.UserID{"u-new"})
	require.NoError(t, err)
	assert.Equal(t, "newbie", names["u-new"])
}

func TestCached_ForgetAfterRename(t *testing.T) {
	src := &countingSource{names: map[ledger.UserID]string{"u-1": "alice"}}
	c := NewCached(src, time.Minute)
	ctx := context.Background()

	_, err := c.DisplayNames(ctx, []ledger.UserID{"u-1"})
	require.NoError(t, err)

	src.names["u-1"] = "alicia"
	c.Forget("u-1")

	names, err := c.DisplayNames(ctx, []ledger.UserID{"u-1"})
	require.NoError(t, err)
	assert.Equal(t, "alicia", names["u-1"])
}

func TestCached_SourceErrorReturnsCachedPart(t *testing.T) {
	src := &countingSource{names: map[ledger.UserID]string{"u-1": "alice"}}
	c := NewCached(src, time.Minute)
	ctx := context.Background()

	_, err := c.DisplayNames(ctx, []ledger.UserID{"u-1"})
	require.NoError(t, err)

	src.err = errors.New("down")
	names, err := c.DisplayNames(ctx, []ledger.UserID{"u-1", "u-2"})
	assert.Error(t, err)
	assert.Equal(t, map[ledger.UserID]string{"u-1": "alice"}, names)
}

func TestNewCached_DefaultTTL(t *testing.T) {
	c := NewCached(&countingSource{}, 0)
	assert.Equal(t, DefaultTTL, c.ttl)
}
