// Package chain wraps the contract RPC client: typed read views for position
// verification, liquidation write calls, transaction signing, and nonce/fee
// estimation primitives.
package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// poolABIJSON covers the two pool-contract entry points the liquidator uses:
// the position read view and the liquidation call.
const poolABIJSON = `[
  {"name":"positionState","type":"function","stateMutability":"view",
   "inputs":[
     {"name":"poolId","type":"bytes32"},
     {"name":"collateralAsset","type":"address"},
     {"name":"debtAsset","type":"address"},
     {"name":"user","type":"address"}],
   "outputs":[
     {"name":"collateral","type":"uint256"},
     {"name":"debt","type":"uint256"}]},
  {"name":"liquidatePosition","type":"function","stateMutability":"nonpayable",
   "inputs":[
     {"name":"poolId","type":"bytes32"},
     {"name":"collateralAsset","type":"address"},
     {"name":"debtAsset","type":"address"},
     {"name":"user","type":"address"},
     {"name":"maxRepay","type":"uint256"},
     {"name":"minCollateral","type":"uint256"}],
   "outputs":[]}
]`

const erc20ABIJSON = `[
  {"name":"allowance","type":"function","stateMutability":"view",
   "inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"name":"approve","type":"function","stateMutability":"nonpayable",
   "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]}
]`

// Client talks to the chain RPC node on behalf of the liquidator account.
type Client struct {
	eth      *ethclient.Client
	chainID  *big.Int
	pool     common.Address
	poolABI  abi.ABI
	erc20ABI abi.ABI

	key    *ecdsa.PrivateKey
	sender common.Address
	signer types.Signer

	receiptInterval time.Duration
	receiptRetries  int

	logger *slog.Logger
}

// New dials the RPC endpoint and prepares the signing primitives.
func New(ctx context.Context, rpcURL string, chainID int64, pool common.Address, key *ecdsa.PrivateKey, receiptInterval time.Duration, receiptRetries int, logger *slog.Logger) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", rpcURL, err)
	}

	poolABI, err := abi.JSON(strings.NewReader(poolABIJSON))
	if err != nil {
		return nil, fmt.Errorf("chain: parse pool abi: %w", err)
	}
	erc20ABI, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		return nil, fmt.Errorf("chain: parse erc20 abi: %w", err)
	}

	id := big.NewInt(chainID)
	return &Client{
		eth:             eth,
		chainID:         id,
		pool:            pool,
		poolABI:         poolABI,
		erc20ABI:        erc20ABI,
		key:             key,
		sender:          ethcrypto.PubkeyToAddress(key.PublicKey),
		signer:          types.LatestSignerForChainID(id),
		receiptInterval: receiptInterval,
		receiptRetries:  receiptRetries,
		logger:          logger.With(slog.String("component", "chain")),
	}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// Sender returns the liquidator account address.
func (c *Client) Sender() common.Address {
	return c.sender
}

// PendingNonce returns the account's next nonce including pending txs.
func (c *Client) PendingNonce(ctx context.Context) (uint64, error) {
	n, err := c.eth.PendingNonceAt(ctx, c.sender)
	if err != nil {
		return 0, fmt.Errorf("chain: pending nonce: %w", err)
	}
	return n, nil
}

// PositionState reads the live collateral and debt balances of a position
// directly from the pool contract, for secondary verification before
// submitting a liquidation.
func (c *Client) PositionState(ctx context.Context, poolID common.Hash, collateral, debt, owner common.Address) (*big.Int, *big.Int, error) {
	data, err := c.poolABI.Pack("positionState", poolID, collateral, debt, owner)
	if err != nil {
		return nil, nil, fmt.Errorf("chain: pack positionState: %w", err)
	}

	raw, err := c.eth.CallContract(ctx, callMsg(c.pool, data), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("chain: call positionState: %w", err)
	}

	out, err := c.poolABI.Unpack("positionState", raw)
	if err != nil || len(out) != 2 {
		return nil, nil, fmt.Errorf("chain: unpack positionState: %w", err)
	}
	collAmt, ok1 := out[0].(*big.Int)
	debtAmt, ok2 := out[1].(*big.Int)
	if !ok1 || !ok2 {
		return nil, nil, fmt.Errorf("chain: unexpected positionState result types")
	}
	return collAmt, debtAmt, nil
}

// LiquidateParams are the arguments of one liquidation call.
type LiquidateParams struct {
	PoolID          common.Hash
	CollateralAsset common.Address
	DebtAsset       common.Address
	Owner           common.Address
	MaxRepay        *big.Int
	MinCollateral   *big.Int
}

// Liquidate builds, signs and submits a liquidation transaction with the given
// nonce. It returns the transaction hash; confirmation is tracked separately
// through WaitReceipt.
func (c *Client) Liquidate(ctx context.Context, nonce uint64, p LiquidateParams) (common.Hash, error) {
	data, err := c.poolABI.Pack("liquidatePosition",
		p.PoolID, p.CollateralAsset, p.DebtAsset, p.Owner, p.MaxRepay, p.MinCollateral)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: pack liquidatePosition: %w", err)
	}
	return c.sendTx(ctx, nonce, c.pool, data)
}

// EnsureAllowance checks the pool contract's allowance over the given token
// and submits an approval when it is below min. Called once at startup for
// every configured debt asset so liquidation txs never fail on allowance.
func (c *Client) EnsureAllowance(ctx context.Context, token common.Address, min *big.Int) error {
	data, err := c.erc20ABI.Pack("allowance", c.sender, c.pool)
	if err != nil {
		return fmt.Errorf("chain: pack allowance: %w", err)
	}
	raw, err := c.eth.CallContract(ctx, callMsg(token, data), nil)
	if err != nil {
		return fmt.Errorf("chain: call allowance: %w", err)
	}
	out, err := c.erc20ABI.Unpack("allowance", raw)
	if err != nil || len(out) != 1 {
		return fmt.Errorf("chain: unpack allowance: %w", err)
	}
	current, ok := out[0].(*big.Int)
	if !ok {
		return fmt.Errorf("chain: unexpected allowance result type")
	}
	if current.Cmp(min) >= 0 {
		return nil
	}

	// Approve the maximum so this is a one-time setup cost.
	maxUint256 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	approveData, err := c.erc20ABI.Pack("approve", c.pool, maxUint256)
	if err != nil {
		return fmt.Errorf("chain: pack approve: %w", err)
	}

	nonce, err := c.PendingNonce(ctx)
	if err != nil {
		return err
	}
	txHash, err := c.sendTx(ctx, nonce, token, approveData)
	if err != nil {
		return fmt.Errorf("chain: approve %s: %w", token.Hex(), err)
	}
	c.logger.Info("submitted allowance approval",
		slog.String("token", token.Hex()),
		slog.String("tx", txHash.Hex()),
	)
	return c.WaitReceipt(ctx, txHash)
}

// sendTx estimates fees and gas, signs a dynamic-fee transaction, and submits
// it.
func (c *Client) sendTx(ctx context.Context, nonce uint64, to common.Address, data []byte) (common.Hash, error) {
	tipCap, err := c.eth.SuggestGasTipCap(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: suggest tip cap: %w", err)
	}
	head, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: fetch head: %w", err)
	}
	// feeCap = 2*baseFee + tip leaves headroom for base-fee growth while the
	// tx is pending.
	feeCap := new(big.Int).Add(new(big.Int).Mul(head.BaseFee, big.NewInt(2)), tipCap)

	gas, err := c.eth.EstimateGas(ctx, callMsgFrom(c.sender, to, data))
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: estimate gas: %w", err)
	}

	tx, err := types.SignNewTx(c.key, c.signer, &types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gas + gas/5,
		To:        &to,
		Data:      data,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: sign tx: %w", err)
	}

	if err := c.eth.SendTransaction(ctx, tx); err != nil {
		return common.Hash{}, fmt.Errorf("chain: send tx: %w", err)
	}
	return tx.Hash(), nil
}

// WaitReceipt polls for the transaction receipt with a bounded number of
// attempts. A missing receipt after all attempts or a reverted status is an
// error; classification is the executor's concern.
func (c *Client) WaitReceipt(ctx context.Context, txHash common.Hash) error {
	for attempt := 0; attempt < c.receiptRetries; attempt++ {
		receipt, err := c.eth.TransactionReceipt(ctx, txHash)
		if err == nil {
			if receipt.Status == types.ReceiptStatusSuccessful {
				return nil
			}
			return fmt.Errorf("chain: tx %s reverted", txHash.Hex())
		}

		c.logger.Debug("waiting for receipt", slog.String("tx", txHash.Hex()))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.receiptInterval):
		}
	}
	return fmt.Errorf("chain: timeout waiting for receipt of %s", txHash.Hex())
}
