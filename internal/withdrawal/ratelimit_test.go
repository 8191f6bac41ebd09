package withdrawal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/better-wallet/custody-core/pkg/types"
)

func TestNewRateLimitedAdapter_Disabled(t *testing.T) {
	inner := &fakeAdapter{assets: []types.Asset{types.AssetETH}}
	assert.Same(t, inner, NewRateLimitedAdapter(inner, 0, 1))
}

func TestRateLimitedAdapter_Delegates(t *testing.T) {
	inner := &fakeAdapter{assets: []types.Asset{types.AssetETH}, txid: "0xabc"}
	limited := NewRateLimitedAdapter(inner, 100, 1)

	assert.True(t, limited.Supports(types.AssetETH))
	assert.False(t, limited.Supports(types.AssetBTC))

	res, err := limited.Execute(context.Background(), Context{Request: btcRequest()})
	require.NoError(t, err)
	assert.Equal(t, "0xabc", res.TxID)
	assert.Len(t, inner.calls, 1)
}

func TestRateLimitedAdapter_CancelledWait(t *testing.T) {
	inner := &fakeAdapter{assets: []types.Asset{types.AssetETH}, txid: "0xabc"}
	limited := NewRateLimitedAdapter(inner, 0.001, 1)

	_, err := limited.Execute(context.Background(), Context{Request: btcRequest()})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = limited.Execute(ctx, Context{Request: btcRequest()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit wait")
	assert.Len(t, inner.calls, 1)
}
