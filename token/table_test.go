package token_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentcore/runtime/token"
)

func TestMemTablePutLookupRevoke(t *testing.T) {
	tbl := token.NewMemTable()
	ctx := context.Background()

	require.NoError(t, tbl.Put(ctx, "human-bearer", token.Human()))
	require.NoError(t, tbl.Put(ctx, "agent-bearer", token.Agent("agent-1")))

	got, err := tbl.Lookup(ctx, "human-bearer")
	require.NoError(t, err)
	require.Equal(t, token.KindHuman, got.Kind())

	got, err = tbl.Lookup(ctx, "agent-bearer")
	require.NoError(t, err)
	require.Equal(t, token.KindAgent, got.Kind())
	require.Equal(t, "agent-1", got.AgentID())

	require.NoError(t, tbl.Revoke(ctx, "agent-bearer"))
	_, err = tbl.Lookup(ctx, "agent-bearer")
	require.ErrorIs(t, err, token.ErrUnknownToken)
}

func TestMemTableLookupUnknownBearer(t *testing.T) {
	tbl := token.NewMemTable()
	_, err := tbl.Lookup(context.Background(), "nope")
	require.ErrorIs(t, err, token.ErrUnknownToken)
}

func TestMemTablePutRejectsInvalidToken(t *testing.T) {
	tbl := token.NewMemTable()
	err := tbl.Put(context.Background(), "bad", token.Agent(""))
	require.Error(t, err)
}

func TestMemTableRevokeUnknownIsNoop(t *testing.T) {
	tbl := token.NewMemTable()
	require.NoError(t, tbl.Revoke(context.Background(), "nope"))
}
