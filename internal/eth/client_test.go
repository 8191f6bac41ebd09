package eth

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	chainID  *big.Int
	chainErr error
	baseFee  *big.Int
	sendErr  error
	estimate uint64

	estimated ethereum.CallMsg
	called    ethereum.CallMsg
	closed    bool
}

func (b *fakeBackend) ChainID(ctx context.Context) (*big.Int, error) { return b.chainID, b.chainErr }

func (b *fakeBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: b.baseFee}, nil
}

func (b *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 3, nil
}

func (b *fakeBackend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(2_000_000_000), nil
}

func (b *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(30_000_000_000), nil
}

func (b *fakeBackend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	b.estimated = msg
	return b.estimate, nil
}

func (b *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return b.sendErr
}

func (b *fakeBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	b.called = msg
	return []byte{0x06}, nil
}

func (b *fakeBackend) Close() { b.closed = true }

func newTestClient(t *testing.T, b *fakeBackend) *Client {
	t.Helper()
	if b.chainID == nil {
		b.chainID = big.NewInt(1)
	}
	c, err := newClient(context.Background(), b)
	require.NoError(t, err)
	return c
}

func TestNewClient_ChainIDError(t *testing.T) {
	_, err := newClient(context.Background(), &fakeBackend{chainErr: errors.New("dial tcp: refused")})
	assert.ErrorContains(t, err, "chain ID")

	_, err = NewClient(context.Background(), "")
	assert.Error(t, err)
}

func TestClient_ChainIDIsCopy(t *testing.T) {
	c := newTestClient(t, &fakeBackend{chainID: big.NewInt(11155111)})
	id := c.ChainID()
	id.SetInt64(0)
	assert.Equal(t, int64(11155111), c.ChainID().Int64())
}

func TestClient_FeeCaps(t *testing.T) {
	t.Run("london", func(t *testing.T) {
		c := newTestClient(t, &fakeBackend{baseFee: big.NewInt(10_000_000_000)})
		fees, err := c.FeeCaps(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "2000000000", fees.Tip.String())
		assert.Equal(t, "22000000000", fees.Max.String())
	})

	t.Run("legacy fallback", func(t *testing.T) {
		c := newTestClient(t, &fakeBackend{})
		fees, err := c.FeeCaps(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "30000000000", fees.Tip.String())
		assert.Equal(t, "30000000000", fees.Max.String())
	})
}

func TestClient_EstimateGasAddsBuffer(t *testing.T) {
	b := &fakeBackend{estimate: 21_000}
	c := newTestClient(t, b)
	to := common.HexToAddress("0x9858EfFD232B4033E47d90003D41EC34EcaEda94")

	gas, err := c.EstimateGas(context.Background(), ethereum.CallMsg{To: &to, Value: big.NewInt(1)})
	require.NoError(t, err)
	assert.Equal(t, uint64(25_200), gas)
	assert.Equal(t, to, *b.estimated.To)
}

func TestClient_Send(t *testing.T) {
	tx := types.NewTx(&types.DynamicFeeTx{ChainID: big.NewInt(1), Nonce: 1})

	hash, err := newTestClient(t, &fakeBackend{}).Send(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, tx.Hash().Hex(), hash)

	_, err = newTestClient(t, &fakeBackend{sendErr: errors.New("nonce too low")}).Send(context.Background(), tx)
	assert.ErrorContains(t, err, "nonce too low")
}

func TestClient_CallContractAndClose(t *testing.T) {
	b := &fakeBackend{}
	c := newTestClient(t, b)
	contract := common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7")

	out, err := c.CallContract(context.Background(), contract, []byte{0x31, 0x3c, 0xe5, 0x67})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x06}, out)
	assert.Equal(t, contract, *b.called.To)

	nonce, err := c.PendingNonce(context.Background(), contract)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), nonce)

	c.Close()
	assert.True(t, b.closed)
}
