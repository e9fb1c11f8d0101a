package main

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mr-tron/base58"
	"github.com/trx402/engine/mechanisms/tron"
)

// facilitatorTronSigner implements tron.FacilitatorTronSigner. Unlike an
// EVM facilitator signer (which hands a transaction to ethclient to sign
// and broadcast), TRON's REST API splits contract calls into three
// round-trips: build the unsigned transaction via triggersmartcontract,
// sign its raw_data hash locally, and broadcast the assembled
// transaction — so this signer keeps the derived private key rather than
// discarding it after deriving the address.
type facilitatorTronSigner struct {
	privateKey *ecdsa.PrivateKey
	addresses  map[string]string // network -> address
	endpoints  map[string]string // network -> API endpoint
	apiKey     string
}

// newFacilitatorTronSigner creates a new TRON facilitator signer from a private key
func newFacilitatorTronSigner(privateKeyHex string, mainnetRPC string, apiKey string) (*facilitatorTronSigner, error) {
	if privateKeyHex == "" {
		return nil, fmt.Errorf("private key is required")
	}

	privateKeyHex = strings.TrimPrefix(privateKeyHex, "0x")

	privateKeyBytes, err := hex.DecodeString(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("failed to decode private key: %w", err)
	}

	privateKey, err := crypto.ToECDSA(privateKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	tronAddress := publicKeyToTronAddress(&privateKey.PublicKey)

	signer := &facilitatorTronSigner{
		privateKey: privateKey,
		addresses:  make(map[string]string),
		endpoints:  make(map[string]string),
		apiKey:     apiKey,
	}

	if mainnetRPC != "" {
		signer.endpoints[tron.TronMainnetCAIP2] = mainnetRPC
	} else {
		signer.endpoints[tron.TronMainnetCAIP2] = "https://api.trongrid.io"
	}
	signer.addresses[tron.TronMainnetCAIP2] = tronAddress

	signer.endpoints[tron.TronNileCAIP2] = "https://api.nileex.io"
	signer.addresses[tron.TronNileCAIP2] = tronAddress

	signer.endpoints[tron.TronShastaCAIP2] = "https://api.shasta.trongrid.io"
	signer.addresses[tron.TronShastaCAIP2] = tronAddress

	return signer, nil
}

// publicKeyToTronAddress converts an ECDSA public key to a TRON address
func publicKeyToTronAddress(pub *ecdsa.PublicKey) string {
	ethAddr := crypto.PubkeyToAddress(*pub).Bytes()
	tronBytes := append([]byte{0x41}, ethAddr...)
	return base58CheckEncode(tronBytes)
}

// base58CheckEncode encodes bytes to TRON's base58check format
func base58CheckEncode(data []byte) string {
	hash1 := sha256.Sum256(data)
	hash2 := sha256.Sum256(hash1[:])
	checksum := hash2[:4]
	fullData := append(data, checksum...)
	return base58.Encode(fullData)
}

func (s *facilitatorTronSigner) GetAddresses(ctx context.Context, network string) []string {
	if addr, ok := s.addresses[network]; ok {
		return []string{addr}
	}
	addrs := make([]string, 0, len(s.addresses))
	for _, addr := range s.addresses {
		addrs = append(addrs, addr)
	}
	return addrs
}

func (s *facilitatorTronSigner) getEndpoint(network string) (string, error) {
	if endpoint, ok := s.endpoints[network]; ok {
		return endpoint, nil
	}
	config, err := tron.GetNetworkConfig(network)
	if err != nil {
		return "", err
	}
	return config.Endpoint, nil
}

// tronAPIRequest makes a REST API request to TronGrid
func (s *facilitatorTronSigner) tronAPIRequest(ctx context.Context, network string, path string, body interface{}) (json.RawMessage, error) {
	endpoint, err := s.getEndpoint(network)
	if err != nil {
		return nil, err
	}

	url := endpoint + path

	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("TRON-PRO-API-KEY", s.apiKey)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return respBody, nil
}

func (s *facilitatorTronSigner) GetBalance(ctx context.Context, params tron.GetBalanceParams) (string, error) {
	result, err := s.triggerContract(ctx, params.Network, params.OwnerAddress, params.ContractAddress, "balanceOf(address)", 0, encodeTronAddressParam(params.OwnerAddress))
	if err != nil {
		return "0", nil
	}
	if len(result.ConstantResult) == 0 {
		return "0", nil
	}
	balance := new(big.Int)
	balance.SetString(result.ConstantResult[0], 16)
	return balance.String(), nil
}

// triggerContractResult is the common shape of TronGrid's
// triggersmartcontract/triggerconstantcontract responses.
type triggerContractResult struct {
	Result struct {
		Result  bool   `json:"result"`
		Message string `json:"message"`
	} `json:"result"`
	ConstantResult []string        `json:"constant_result"`
	Transaction    json.RawMessage `json:"transaction"`
}

func (s *facilitatorTronSigner) triggerContract(ctx context.Context, network, ownerAddress, contractAddress, functionSelector string, callValue int64, parameterHex string) (*triggerContractResult, error) {
	raw, err := s.tronAPIRequest(ctx, network, "/wallet/triggersmartcontract", map[string]interface{}{
		"owner_address":     ownerAddress,
		"contract_address":  contractAddress,
		"function_selector": functionSelector,
		"parameter":         parameterHex,
		"call_value":        callValue,
		"visible":           true,
	})
	if err != nil {
		return nil, err
	}
	var result triggerContractResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to parse triggersmartcontract response: %w", err)
	}
	if !result.Result.Result {
		msg := result.Result.Message
		return nil, fmt.Errorf("triggersmartcontract failed: %s", msg)
	}
	return &result, nil
}

// encodeTronAddressParam encodes a TRON address as a 32-byte left-padded
// ABI parameter from its bare 20-byte payload.
func encodeTronAddressParam(tronAddress string) string {
	decoded, err := base58.Decode(tronAddress)
	if err != nil || len(decoded) < 25 {
		return strings.Repeat("0", 64)
	}
	payload := decoded[1:21] // skip version byte, checksum already excluded by length
	return fmt.Sprintf("%064s", hex.EncodeToString(payload))
}

// ReadContract triggers a constant (view) call and decodes its single
// return value via the method's ABI definition.
func (s *facilitatorTronSigner) ReadContract(ctx context.Context, network, contractAddress string, abiJSON []byte, method string, args ...interface{}) (interface{}, error) {
	parsed, err := abi.JSON(bytes.NewReader(abiJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}
	m, ok := parsed.Methods[method]
	if !ok {
		return nil, fmt.Errorf("method %q not found in ABI", method)
	}
	packed, err := m.Inputs.Pack(args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack arguments: %w", err)
	}

	ownerAddress := s.addresses[network]
	raw, err := s.tronAPIRequest(ctx, network, "/wallet/triggerconstantcontract", map[string]interface{}{
		"owner_address":     ownerAddress,
		"contract_address":  contractAddress,
		"function_selector": m.Sig,
		"parameter":         hex.EncodeToString(packed),
		"visible":           true,
	})
	if err != nil {
		return nil, err
	}
	var result triggerContractResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to parse triggerconstantcontract response: %w", err)
	}
	if !result.Result.Result {
		return nil, fmt.Errorf("triggerconstantcontract failed: %s", result.Result.Message)
	}
	if len(result.ConstantResult) == 0 {
		return nil, fmt.Errorf("empty constant_result")
	}
	returnData, err := hex.DecodeString(result.ConstantResult[0])
	if err != nil {
		return nil, fmt.Errorf("invalid constant_result hex: %w", err)
	}
	outputs, err := m.Outputs.Unpack(returnData)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack result: %w", err)
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("no return values")
	}
	return outputs[0], nil
}

// CallContract builds an unsigned smart-contract write via
// triggersmartcontract, signs its raw transaction hash, and broadcasts
// the assembled transaction.
func (s *facilitatorTronSigner) CallContract(ctx context.Context, network, contractAddress string, abiJSON []byte, method string, feeLimit int64, args ...interface{}) (string, error) {
	parsed, err := abi.JSON(bytes.NewReader(abiJSON))
	if err != nil {
		return "", fmt.Errorf("failed to parse ABI: %w", err)
	}
	m, ok := parsed.Methods[method]
	if !ok {
		return "", fmt.Errorf("method %q not found in ABI", method)
	}
	packed, err := m.Inputs.Pack(args...)
	if err != nil {
		return "", fmt.Errorf("failed to pack arguments: %w", err)
	}

	ownerAddress := s.addresses[network]
	raw, err := s.tronAPIRequest(ctx, network, "/wallet/triggersmartcontract", map[string]interface{}{
		"owner_address":     ownerAddress,
		"contract_address":  contractAddress,
		"function_selector": m.Sig,
		"parameter":         hex.EncodeToString(packed),
		"fee_limit":         feeLimit,
		"call_value":        0,
		"visible":           true,
	})
	if err != nil {
		return "", err
	}
	var built struct {
		Result struct {
			Result  bool   `json:"result"`
			Message string `json:"message"`
		} `json:"result"`
		Transaction map[string]interface{} `json:"transaction"`
	}
	if err := json.Unmarshal(raw, &built); err != nil {
		return "", fmt.Errorf("failed to parse triggersmartcontract response: %w", err)
	}
	if !built.Result.Result {
		return "", fmt.Errorf("triggersmartcontract failed: %s", built.Result.Message)
	}
	if built.Transaction == nil {
		return "", fmt.Errorf("triggersmartcontract returned no transaction")
	}

	txIDHex, _ := built.Transaction["txID"].(string)
	if txIDHex == "" {
		return "", fmt.Errorf("triggersmartcontract response missing txID")
	}
	digest, err := hex.DecodeString(txIDHex)
	if err != nil || len(digest) != 32 {
		return "", fmt.Errorf("invalid txID: %s", txIDHex)
	}

	signature, err := crypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}
	built.Transaction["signature"] = []string{hex.EncodeToString(signature)}

	broadcastRaw, err := s.tronAPIRequest(ctx, network, "/wallet/broadcasttransaction", built.Transaction)
	if err != nil {
		return "", fmt.Errorf("failed to broadcast: %w", err)
	}
	var broadcastResult struct {
		Result  bool   `json:"result"`
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(broadcastRaw, &broadcastResult); err != nil {
		return "", fmt.Errorf("failed to parse broadcast result: %w", err)
	}
	if !broadcastResult.Result {
		msg := broadcastResult.Message
		if msg == "" {
			msg = broadcastResult.Code
		}
		return "", fmt.Errorf("broadcast failed: %s", msg)
	}

	return txIDHex, nil
}

func (s *facilitatorTronSigner) WaitForTransaction(ctx context.Context, params tron.WaitForTransactionParams) (*tron.TransactionConfirmation, error) {
	timeout := params.Timeout
	if timeout == 0 {
		timeout = 60000 // 60 seconds default
	}

	deadline := time.Now().Add(time.Duration(timeout) * time.Millisecond)
	interval := 2 * time.Second

	for time.Now().Before(deadline) {
		result, err := s.tronAPIRequest(ctx, params.Network, "/walletsolidity/gettransactionbyid", map[string]interface{}{
			"value": params.TxId,
		})
		if err == nil {
			var txInfo struct {
				TxId string `json:"txID"`
				Ret  []struct {
					ContractRet string `json:"contractRet"`
				} `json:"ret"`
			}
			if err := json.Unmarshal(result, &txInfo); err == nil && txInfo.TxId != "" {
				success := true
				if len(txInfo.Ret) > 0 && txInfo.Ret[0].ContractRet != "SUCCESS" {
					success = false
				}
				return &tron.TransactionConfirmation{
					Success: success,
					TxId:    txInfo.TxId,
				}, nil
			}
		}

		select {
		case <-ctx.Done():
			return &tron.TransactionConfirmation{
				Success: false,
				Error:   "context cancelled",
			}, nil
		case <-time.After(interval):
			continue
		}
	}

	return &tron.TransactionConfirmation{
		Success: false,
		Error:   "timeout waiting for transaction",
	}, nil
}

func (s *facilitatorTronSigner) IsActivated(ctx context.Context, address string, network string) (bool, error) {
	result, err := s.tronAPIRequest(ctx, network, "/wallet/getaccount", map[string]interface{}{
		"address": address,
		"visible": true,
	})
	if err != nil {
		return false, nil
	}

	var accountInfo struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(result, &accountInfo); err != nil {
		return false, nil
	}

	return accountInfo.Address != "", nil
}
