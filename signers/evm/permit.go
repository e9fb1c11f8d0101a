package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	t402evm "github.com/trx402/engine/mechanisms/evm"
)

// PermitSigner implements t402evm.ClientAllowanceSigner: it signs permit
// digests directly and, when the engine contract doesn't already hold
// enough spending allowance, submits an on-chain ERC-20 approve() before
// the facilitator redeems the permit. Grounded on the same ecdsa/ethclient
// plumbing ClientSigner and cmd/facilitator's facilitatorEvmSigner use.
type PermitSigner struct {
	*ClientSigner
	client *ethclient.Client
}

// NewPermitSignerFromPrivateKey creates a permit-scheme client signer.
func NewPermitSignerFromPrivateKey(privateKeyHex string, rpcURL string) (*PermitSigner, error) {
	signer, err := NewClientSignerFromPrivateKey(privateKeyHex)
	if err != nil {
		return nil, err
	}
	cs, ok := signer.(*ClientSigner)
	if !ok {
		return nil, fmt.Errorf("unexpected signer type %T", signer)
	}

	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}

	return &PermitSigner{ClientSigner: cs, client: client}, nil
}

func (s *PermitSigner) GetAllowance(ctx context.Context, token, owner, spender string) (*big.Int, error) {
	contractABI, err := abi.JSON(strings.NewReader(string(t402evm.ERC20AllowanceABI)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse allowance ABI: %w", err)
	}

	data, err := contractABI.Pack("allowance", common.HexToAddress(owner), common.HexToAddress(spender))
	if err != nil {
		return nil, fmt.Errorf("failed to pack allowance call: %w", err)
	}

	to := common.HexToAddress(token)
	result, err := s.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call allowance: %w", err)
	}
	if len(result) == 0 {
		return big.NewInt(0), nil
	}

	output, err := contractABI.Methods["allowance"].Outputs.Unpack(result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack allowance result: %w", err)
	}
	amount, ok := output[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected allowance result type %T", output[0])
	}
	return amount, nil
}

func (s *PermitSigner) Approve(ctx context.Context, token, spender string, amount *big.Int) (string, error) {
	contractABI, err := abi.JSON(strings.NewReader(string(t402evm.ERC20ApproveABI)))
	if err != nil {
		return "", fmt.Errorf("failed to parse approve ABI: %w", err)
	}

	data, err := contractABI.Pack("approve", common.HexToAddress(spender), amount)
	if err != nil {
		return "", fmt.Errorf("failed to pack approve call: %w", err)
	}

	chainID, err := s.client.ChainID(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get chain ID: %w", err)
	}
	nonce, err := s.client.PendingNonceAt(ctx, s.address)
	if err != nil {
		return "", fmt.Errorf("failed to get nonce: %w", err)
	}
	gasPrice, err := s.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get gas price: %w", err)
	}

	tokenAddr := common.HexToAddress(token)
	tx := types.NewTransaction(nonce, tokenAddr, big.NewInt(0), 100000, gasPrice, data)
	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign approve transaction: %w", err)
	}
	if err := s.client.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("failed to send approve transaction: %w", err)
	}
	return signedTx.Hash().Hex(), nil
}

func (s *PermitSigner) WaitForTransactionReceipt(ctx context.Context, txHash string) (*t402evm.TransactionReceipt, error) {
	hash := common.HexToHash(txHash)
	for i := 0; i < 30; i++ {
		receipt, err := s.client.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return &t402evm.TransactionReceipt{
				Status:      uint64(receipt.Status),
				BlockNumber: receipt.BlockNumber.Uint64(),
				TxHash:      receipt.TxHash.Hex(),
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return nil, fmt.Errorf("transaction receipt not found after 30 seconds")
}
