package seed_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/points-ledger/ledger"
	"github.com/warp/points-ledger/seed"
	"github.com/warp/points-ledger/store/sqlite"
)

const doc = `
users:
  - id: u-alice
    username: alice
  - id: u-bob
    username: bob
grants:
  - user: u-alice
    amount: 500
    description: Welcome bonus
    type: ADMIN-BONUS
  - user: u-bob
    amount: 200
    description: Welcome bonus
    type: ADMIN-BONUS
  - user: u-alice
    amount: -50
    description: Correction
    type: ADMIN-ADJUST
`

func TestParse(t *testing.T) {
	f, err := seed.Parse([]byte(doc))
	require.NoError(t, err)

	assert.Len(t, f.Users, 2)
	require.Len(t, f.Grants, 3)
	assert.Equal(t, int64(-50), f.Grants[2].Amount)
	assert.Equal(t, "ADMIN-ADJUST", f.Grants[2].Type)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not yaml", "users: [\n"},
		{"missing username", "users:\n  - id: u-1\n"},
		{"duplicate user", "users:\n  - {id: u-1, username: a}\n  - {id: u-1, username: b}\n"},
		{"zero grant", "grants:\n  - {user: u-1, amount: 0, description: x, type: ADMIN-BONUS}\n"},
		{"unknown type", "grants:\n  - {user: u-1, amount: 5, description: x, type: GIFT}\n"},
		{"missing description", "grants:\n  - {user: u-1, amount: 5, type: ADMIN-BONUS}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := seed.Parse([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestApply_TwiceIsNoOp(t *testing.T) {
	// GIVEN: A fresh store and a seed file
	// WHEN: The file is applied twice
	// THEN: Balances and history reflect a single application

	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	l := ledger.New(store, ledger.WithUserDirectory(store))
	f, err := seed.Parse([]byte(doc))
	require.NoError(t, err)
	ctx := context.Background()

	res, err := seed.Apply(ctx, f, store, l)
	require.NoError(t, err)
	assert.Equal(t, seed.Result{Users: 2, Grants: 3}, res)

	_, err = seed.Apply(ctx, f, store, l)
	require.NoError(t, err)

	alice, err := l.GetBalance(ctx, "u-alice")
	require.NoError(t, err)
	assert.Equal(t, int64(450), alice.Balance)

	history, err := l.GetHistory(ctx, "u-alice", ledger.Page{})
	require.NoError(t, err)
	assert.Equal(t, 2, history.Meta.TotalItems)
	assert.Equal(t, "alice", history.Items[0].Username)

	bob, err := l.GetBalance(ctx, "u-bob")
	require.NoError(t, err)
	assert.Equal(t, int64(200), bob.Balance)
}

func TestApply_IdenticalGrantsAtDifferentPositionsBothApply(t *testing.T) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	l := ledger.New(store)
	f := seed.File{Grants: []seed.Grant{
		{User: "u-1", Amount: 10, Description: "Daily spin", Type: "WHEEL"},
		{User: "u-1", Amount: 10, Description: "Daily spin", Type: "WHEEL"},
	}}

	_, err = seed.Apply(context.Background(), f, store, l)
	require.NoError(t, err)

	b, err := l.GetBalance(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, int64(20), b.Balance)
}
