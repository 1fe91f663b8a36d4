package venue

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ctfABI is the minimal Conditional Tokens Framework ABI fragment this
// adapter needs: redeemPositions(collateralToken, parentCollectionId,
// conditionId, indexSets[]), plus the two read-only payout accessors used
// to attribute proceeds to the correct side of a binary resolution.
// Grounded on the Python original's direct contract call
// (src/client/polymarket.py: redeem_positions_direct) and on the public
// CTF ABI (Gnosis ConditionalTokens.sol) for payoutNumerators/
// payoutDenominator, which redeem_positions_direct itself never reads —
// see DESIGN.md for why this adapter needs more than the original did.
const ctfABI = `[{
	"constant": false,
	"inputs": [
		{"name": "collateralToken", "type": "address"},
		{"name": "parentCollectionId", "type": "bytes32"},
		{"name": "conditionId", "type": "bytes32"},
		{"name": "indexSets", "type": "uint256[]"}
	],
	"name": "redeemPositions",
	"outputs": [],
	"payable": false,
	"stateMutability": "nonpayable",
	"type": "function"
}, {
	"constant": true,
	"inputs": [
		{"name": "conditionId", "type": "bytes32"},
		{"name": "index", "type": "uint256"}
	],
	"name": "payoutNumerators",
	"outputs": [{"name": "", "type": "uint256"}],
	"payable": false,
	"stateMutability": "view",
	"type": "function"
}, {
	"constant": true,
	"inputs": [{"name": "conditionId", "type": "bytes32"}],
	"name": "payoutDenominator",
	"outputs": [{"name": "", "type": "uint256"}],
	"payable": false,
	"stateMutability": "view",
	"type": "function"
}]`

// RedeemResult is the outcome of an on-chain redemption attempt.
type RedeemResult struct {
	Success bool
	TxHash  string
	GasUsed uint64
	Error   string
}

// Redeemer wraps an ethclient connection and signs redeemPositions calls
// against the Conditional Tokens contract. A status == 1 receipt is
// success; anything else is a retryable failure.
type Redeemer struct {
	auth           *Auth
	client         *ethclient.Client
	ctfAddress     common.Address
	collateralAddr common.Address
	parsedABI      abi.ABI
}

// NewRedeemer dials the configured RPC endpoint and parses the CTF ABI.
func NewRedeemer(rpcURL, ctfAddress, collateralAddress string, auth *Auth) (*Redeemer, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	parsed, err := abi.JSON(strings.NewReader(ctfABI))
	if err != nil {
		return nil, fmt.Errorf("parse ctf abi: %w", err)
	}
	return &Redeemer{
		auth:           auth,
		client:         client,
		ctfAddress:     common.HexToAddress(ctfAddress),
		collateralAddr: common.HexToAddress(collateralAddress),
		parsedABI:      parsed,
	}, nil
}

// RedeemPositions calls redeemPositions on-chain for a resolved condition.
// indexSets = [1, 2] redeems both outcome slots of a binary market;
// parentCollectionId is the zero bytes32 (top-level collection).
func (r *Redeemer) RedeemPositions(ctx context.Context, conditionID string) (*RedeemResult, error) {
	conditionBytes, err := decodeConditionID(conditionID)
	if err != nil {
		return nil, fmt.Errorf("decode condition id: %w", err)
	}

	var parentCollectionID [32]byte
	indexSets := []*big.Int{big.NewInt(1), big.NewInt(2)}

	input, err := r.parsedABI.Pack("redeemPositions", r.collateralAddr, parentCollectionID, conditionBytes, indexSets)
	if err != nil {
		return nil, fmt.Errorf("pack redeemPositions: %w", err)
	}

	fromAddr := r.auth.Address()
	nonce, err := r.client.PendingNonceAt(ctx, fromAddr)
	if err != nil {
		return nil, fmt.Errorf("get nonce: %w", err)
	}
	gasPrice, err := r.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}
	bumped := new(big.Int).Mul(gasPrice, big.NewInt(12))
	bumped.Div(bumped, big.NewInt(10))

	msg := ethereum.CallMsg{From: fromAddr, To: &r.ctfAddress, Data: input}
	gasLimit, err := r.client.EstimateGas(ctx, msg)
	if err != nil {
		gasLimit = 300000
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &r.ctfAddress,
		Gas:      gasLimit,
		GasPrice: bumped,
		Data:     input,
	})

	signer := types.NewEIP155Signer(r.auth.ChainID())
	signedTx, err := types.SignTx(tx, signer, r.auth.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}

	if err := r.client.SendTransaction(ctx, signedTx); err != nil {
		return nil, fmt.Errorf("send tx: %w", err)
	}

	receipt, err := bind.WaitMined(ctx, r.client, signedTx)
	if err != nil {
		return &RedeemResult{Success: false, TxHash: signedTx.Hash().Hex(), Error: err.Error()}, nil
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return &RedeemResult{Success: false, TxHash: signedTx.Hash().Hex(), GasUsed: receipt.GasUsed, Error: "transaction reverted"}, nil
	}

	return &RedeemResult{Success: true, TxHash: signedTx.Hash().Hex(), GasUsed: receipt.GasUsed}, nil
}

// PayoutFraction reads the CTF contract's resolved payout for one side of
// a binary condition and returns the fraction of a share's $1 face value
// that side actually pays out (1.0 for the winning outcome, 0.0 for the
// losing one). outcomeIndex is 0 for YES (indexSet 1) and 1 for NO
// (indexSet 2), matching the indexSets ordering used in RedeemPositions.
// Returns an error if the condition has not yet been reported (denominator
// still zero) — callers should treat that as "not resolved yet" and retry.
func (r *Redeemer) PayoutFraction(ctx context.Context, conditionID string, outcomeIndex int) (float64, error) {
	conditionBytes, err := decodeConditionID(conditionID)
	if err != nil {
		return 0, fmt.Errorf("decode condition id: %w", err)
	}

	denomInput, err := r.parsedABI.Pack("payoutDenominator", conditionBytes)
	if err != nil {
		return 0, fmt.Errorf("pack payoutDenominator: %w", err)
	}
	denomOut, err := r.client.CallContract(ctx, ethereum.CallMsg{To: &r.ctfAddress, Data: denomInput}, nil)
	if err != nil {
		return 0, fmt.Errorf("call payoutDenominator: %w", err)
	}
	var denom *big.Int
	if err := r.parsedABI.UnpackIntoInterface(&denom, "payoutDenominator", denomOut); err != nil {
		return 0, fmt.Errorf("unpack payoutDenominator: %w", err)
	}
	if denom == nil || denom.Sign() == 0 {
		return 0, fmt.Errorf("condition %s not yet reported", conditionID)
	}

	numInput, err := r.parsedABI.Pack("payoutNumerators", conditionBytes, big.NewInt(int64(outcomeIndex)))
	if err != nil {
		return 0, fmt.Errorf("pack payoutNumerators: %w", err)
	}
	numOut, err := r.client.CallContract(ctx, ethereum.CallMsg{To: &r.ctfAddress, Data: numInput}, nil)
	if err != nil {
		return 0, fmt.Errorf("call payoutNumerators: %w", err)
	}
	var numerator *big.Int
	if err := r.parsedABI.UnpackIntoInterface(&numerator, "payoutNumerators", numOut); err != nil {
		return 0, fmt.Errorf("unpack payoutNumerators: %w", err)
	}

	num := new(big.Float).SetInt(numerator)
	den := new(big.Float).SetInt(denom)
	fraction, _ := new(big.Float).Quo(num, den).Float64()
	return fraction, nil
}

func decodeConditionID(conditionID string) ([32]byte, error) {
	var out [32]byte
	hexStr := strings.TrimPrefix(conditionID, "0x")
	b := common.Hex2Bytes(hexStr)
	if len(b) != 32 {
		return out, fmt.Errorf("condition id must decode to 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}
