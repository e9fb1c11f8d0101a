package main

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	x402 "github.com/trx402/engine"
	evmmech "github.com/trx402/engine/mechanisms/evm"
	evm "github.com/trx402/engine/mechanisms/evm/exact/facilitator"
	evmpermitfac "github.com/trx402/engine/mechanisms/evm/permit/facilitator"
	"github.com/trx402/engine/mechanisms/tron"
	tronfac "github.com/trx402/engine/mechanisms/tron/exact/facilitator"
	tronpermitfac "github.com/trx402/engine/mechanisms/tron/permit/facilitator"
	"github.com/trx402/engine/internal/cache"
	"github.com/trx402/engine/internal/config"
	"github.com/trx402/engine/internal/logging"
	"github.com/trx402/engine/internal/server"
)

func main() {
	// Load configuration
	cfg := config.Load()
	log := logging.New(cfg.Environment)
	defer log.Sync()

	log.Info("starting x402 facilitator service")
	log.Infow("environment", "environment", cfg.Environment)
	log.Infow("port", "port", cfg.Port)

	// Initialize Redis
	redisClient, err := cache.NewClient(cfg.RedisURL)
	if err != nil {
		log.Warnw("redis connection failed, continuing without rate limiting", "error", err)
		redisClient = nil
	} else {
		log.Infow("redis connected", "url", cfg.RedisURL)
	}

	// Create facilitator
	facilitator, err := setupFacilitator(cfg, log)
	if err != nil {
		log.Fatalw("failed to setup facilitator", "error", err)
	}

	// Create and start server
	srv := server.New(facilitator, redisClient, cfg)
	srv.Start()
}

// setupFacilitator creates and configures the x402 facilitator
func setupFacilitator(cfg *config.Config, log *zap.SugaredLogger) (server.Facilitator, error) {
	facilitator := x402.NewFacilitator()

	// Track configured networks
	var configuredNetworks []string

	// Setup EVM chains if private key is provided
	if cfg.EvmPrivateKey != "" {
		// Networks to register with their RPC endpoints
		type networkInfo struct {
			network x402.Network
			rpc     string
			name    string
		}

		networks := []networkInfo{
			{x402.Network("eip155:1"), cfg.EthRPC, "Ethereum"},
			{x402.Network("eip155:42161"), cfg.ArbitrumRPC, "Arbitrum"},
			{x402.Network("eip155:8453"), cfg.BaseRPC, "Base"},
			{x402.Network("eip155:10"), cfg.OptimismRPC, "Optimism"},
		}

		// Use Base RPC as default if available, otherwise Ethereum, then Arbitrum
		defaultRPC := cfg.BaseRPC
		if defaultRPC == "" {
			defaultRPC = cfg.EthRPC
		}
		if defaultRPC == "" {
			defaultRPC = cfg.ArbitrumRPC
		}
		if defaultRPC == "" {
			log.Warn("no RPC endpoint configured for EVM chains")
		} else {
			// Create EVM signer with default RPC
			signer, err := newFacilitatorEvmSigner(cfg.EvmPrivateKey, defaultRPC)
			if err != nil {
				return nil, fmt.Errorf("failed to create EVM signer: %w", err)
			}

			var networkList []x402.Network
			for _, n := range networks {
				if n.rpc != "" {
					networkList = append(networkList, n.network)
					configuredNetworks = append(configuredNetworks, n.name)
				}
			}

			if len(networkList) > 0 {
				facilitator.Register(networkList, evm.NewExactEvmScheme(signer, &evm.ExactEvmSchemeConfig{}))
				if cfg.MerchantContractAddress != "" {
					facilitator.Register(networkList, evmpermitfac.NewPermitEvmScheme(signer, evmpermitfac.PermitEvmSchemeConfig{
						EngineContract: cfg.MerchantContractAddress,
					}))
				} else {
					log.Warn("MERCHANT_CONTRACT_ADDRESS not set, EVM permit scheme disabled")
				}
				log.Infow("evm facilitator address configured", "address", signer.GetAddresses()[0])
			}
		}
	} else {
		log.Warn("EVM_PRIVATE_KEY not set, EVM chains disabled")
	}

	// Setup TRON chains if private key is provided
	if cfg.TronPrivateKey != "" {
		tronSigner, err := newFacilitatorTronSigner(cfg.TronPrivateKey, cfg.TronRPC, cfg.TronGridAPIKey)
		if err != nil {
			log.Warnw("failed to create TRON signer", "error", err)
		} else {
			tronNetworks := []x402.Network{
				x402.Network(tron.TronMainnetCAIP2),
				x402.Network(tron.TronNileCAIP2),
				x402.Network(tron.TronShastaCAIP2),
			}
			configuredNetworks = append(configuredNetworks, "TRON Mainnet", "TRON Nile", "TRON Shasta")

			facilitator.Register(tronNetworks, tronfac.NewExactTronScheme(tronSigner))
			if cfg.MerchantContractAddress != "" {
				facilitator.Register(tronNetworks, tronpermitfac.NewPermitTronScheme(tronSigner, tronpermitfac.PermitTronSchemeConfig{
					EngineContract: cfg.MerchantContractAddress,
				}))
			} else {
				log.Warn("MERCHANT_CONTRACT_ADDRESS not set, TRON permit scheme disabled")
			}
			addrs := tronSigner.GetAddresses(context.Background(), tron.TronMainnetCAIP2)
			if len(addrs) > 0 {
				log.Infow("tron facilitator address configured", "address", addrs[0])
			}
		}
	} else {
		log.Warn("TRON_PRIVATE_KEY not set, TRON chains disabled")
	}

	if len(configuredNetworks) == 0 {
		return nil, fmt.Errorf("no networks configured - at least one private key is required")
	}

	log.Infow("configured networks", "networks", configuredNetworks)

	// Setup lifecycle hooks
	facilitator.OnAfterVerify(func(ctx x402.FacilitatorVerifyResultContext) error {
		log.Infow("payment verified", "payer", ctx.Result.Payer, "valid", ctx.Result.IsValid)
		return nil
	})

	facilitator.OnAfterSettle(func(ctx x402.FacilitatorSettleResultContext) error {
		log.Infow("payment settled", "tx", ctx.Result.Transaction, "payer", ctx.Result.Payer)
		return nil
	})

	facilitator.OnVerifyFailure(func(ctx x402.FacilitatorVerifyFailureContext) (*x402.FacilitatorVerifyFailureHookResult, error) {
		log.Warnw("verify failed", "error", ctx.Error)
		return nil, nil
	})

	facilitator.OnSettleFailure(func(ctx x402.FacilitatorSettleFailureContext) (*x402.FacilitatorSettleFailureHookResult, error) {
		log.Warnw("settle failed", "error", ctx.Error)
		return nil, nil
	})

	return facilitator, nil
}

// printUsage prints configuration help and exits.
func printUsage() {
	fmt.Println("x402 Facilitator Service")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  PORT                      - Server port (default: 8080)")
	fmt.Println("  ENVIRONMENT               - Environment (development/production)")
	fmt.Println("  REDIS_URL                 - Redis connection URL")
	fmt.Println("  RATE_LIMIT_REQUESTS       - Max requests per window (default: 1000)")
	fmt.Println("  RATE_LIMIT_WINDOW         - Rate limit window in seconds (default: 60)")
	fmt.Println()
	fmt.Println("  EVM_PRIVATE_KEY           - Private key for EVM chains")
	fmt.Println("  ETH_RPC                   - Ethereum RPC endpoint")
	fmt.Println("  ARBITRUM_RPC              - Arbitrum RPC endpoint")
	fmt.Println("  BASE_RPC                  - Base RPC endpoint")
	fmt.Println()
	fmt.Println("  TRON_PRIVATE_KEY          - Private key for TRON chains")
	fmt.Println("  TRON_RPC                  - TRON mainnet RPC endpoint (default: api.trongrid.io)")
	fmt.Println("  TRON_GRID_API_KEY         - TronGrid API key (raises rate limits)")
	fmt.Println("  MERCHANT_CONTRACT_ADDRESS - Engine contract address for permit-scheme settlement (shared across EVM and TRON deployments)")
	fmt.Println()
	fmt.Println("  FACILITATOR_URL           - This service's externally reachable URL")
	fmt.Println("  SERVER_URL                - Default resource server URL for example clients")
	fmt.Println()
	os.Exit(0)
}

// ============================================================================
// EVM Facilitator Signer
// ============================================================================

// facilitatorEvmSigner implements the evm.FacilitatorEvmSigner interface
type facilitatorEvmSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	client     *ethclient.Client
	chainID    *big.Int
}

// newFacilitatorEvmSigner creates a new EVM facilitator signer
func newFacilitatorEvmSigner(privateKeyHex string, rpcURL string) (*facilitatorEvmSigner, error) {
	// Remove 0x prefix if present
	privateKeyHex = strings.TrimPrefix(privateKeyHex, "0x")

	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	address := crypto.PubkeyToAddress(privateKey.PublicKey)

	// Connect to blockchain
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}

	// Get chain ID
	ctx := context.Background()
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}

	return &facilitatorEvmSigner{
		privateKey: privateKey,
		address:    address,
		client:     client,
		chainID:    chainID,
	}, nil
}

func (s *facilitatorEvmSigner) GetAddresses() []string {
	return []string{s.address.Hex()}
}

func (s *facilitatorEvmSigner) GetChainID(ctx context.Context) (*big.Int, error) {
	return s.chainID, nil
}

func (s *facilitatorEvmSigner) ReadContract(
	ctx context.Context,
	contractAddress string,
	abiJSON []byte,
	method string,
	args ...interface{},
) (interface{}, error) {
	// Parse ABI
	contractABI, err := abi.JSON(strings.NewReader(string(abiJSON)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}

	// Pack the method call
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack method call: %w", err)
	}

	// Make the call
	to := common.HexToAddress(contractAddress)

	msg := ethereum.CallMsg{
		To:   &to,
		Data: data,
	}

	result, err := s.client.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call contract: %w", err)
	}

	// Handle empty result
	if len(result) == 0 {
		if method == "authorizationState" {
			return false, nil
		}
		if method == "balanceOf" || method == "allowance" {
			return big.NewInt(0), nil
		}
		return nil, fmt.Errorf("empty result from contract call")
	}

	// Unpack the result
	methodObj, exists := contractABI.Methods[method]
	if !exists {
		return nil, fmt.Errorf("method %s not found in ABI", method)
	}

	output, err := methodObj.Outputs.Unpack(result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack result: %w", err)
	}

	if len(output) > 0 {
		return output[0], nil
	}

	return nil, nil
}

func (s *facilitatorEvmSigner) WriteContract(
	ctx context.Context,
	contractAddress string,
	abiJSON []byte,
	method string,
	args ...interface{},
) (string, error) {
	// Parse ABI
	contractABI, err := abi.JSON(strings.NewReader(string(abiJSON)))
	if err != nil {
		return "", fmt.Errorf("failed to parse ABI: %w", err)
	}

	// Pack the method call
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return "", fmt.Errorf("failed to pack method call: %w", err)
	}

	// Get nonce
	nonce, err := s.client.PendingNonceAt(ctx, s.address)
	if err != nil {
		return "", fmt.Errorf("failed to get nonce: %w", err)
	}

	// Get gas price
	gasPrice, err := s.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get gas price: %w", err)
	}

	// Create transaction
	to := common.HexToAddress(contractAddress)
	tx := types.NewTransaction(
		nonce,
		to,
		big.NewInt(0), // value
		300000,        // gas limit
		gasPrice,
		data,
	)

	// Sign transaction
	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	// Send transaction
	err = s.client.SendTransaction(ctx, signedTx)
	if err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}

	return signedTx.Hash().Hex(), nil
}

func (s *facilitatorEvmSigner) SendTransaction(
	ctx context.Context,
	to string,
	data []byte,
) (string, error) {
	// Get nonce
	nonce, err := s.client.PendingNonceAt(ctx, s.address)
	if err != nil {
		return "", fmt.Errorf("failed to get nonce: %w", err)
	}

	// Get gas price
	gasPrice, err := s.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get gas price: %w", err)
	}

	// Create transaction with raw data
	toAddr := common.HexToAddress(to)
	tx := types.NewTransaction(
		nonce,
		toAddr,
		big.NewInt(0), // value
		300000,        // gas limit
		gasPrice,
		data,
	)

	// Sign transaction
	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	// Send transaction
	err = s.client.SendTransaction(ctx, signedTx)
	if err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}

	return signedTx.Hash().Hex(), nil
}

func (s *facilitatorEvmSigner) WaitForTransactionReceipt(ctx context.Context, txHash string) (*evmmech.TransactionReceipt, error) {
	hash := common.HexToHash(txHash)

	// Poll for receipt
	for i := 0; i < 30; i++ { // 30 seconds timeout
		receipt, err := s.client.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return &evmmech.TransactionReceipt{
				Status:      uint64(receipt.Status),
				BlockNumber: receipt.BlockNumber.Uint64(),
				TxHash:      receipt.TxHash.Hex(),
			}, nil
		}
		time.Sleep(1 * time.Second)
	}

	return nil, fmt.Errorf("transaction receipt not found after 30 seconds")
}

func (s *facilitatorEvmSigner) GetBalance(ctx context.Context, address string, tokenAddress string) (*big.Int, error) {
	if tokenAddress == "" || tokenAddress == "0x0000000000000000000000000000000000000000" {
		// Native balance
		balance, err := s.client.BalanceAt(ctx, common.HexToAddress(address), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to get balance: %w", err)
		}
		return balance, nil
	}

	// ERC20 balance
	const erc20ABI = `[{"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"}]`

	result, err := s.ReadContract(ctx, tokenAddress, []byte(erc20ABI), "balanceOf", common.HexToAddress(address))
	if err != nil {
		return nil, err
	}

	if balance, ok := result.(*big.Int); ok {
		return balance, nil
	}

	return nil, fmt.Errorf("unexpected balance type: %T", result)
}

func (s *facilitatorEvmSigner) GetCode(ctx context.Context, address string) ([]byte, error) {
	addr := common.HexToAddress(address)
	code, err := s.client.CodeAt(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get code: %w", err)
	}
	return code, nil
}
