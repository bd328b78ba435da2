package safety

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/GoPolymarket/polypilot/internal/config"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// USDC (bridged) on Polygon, the collateral token for the CTF exchange.
const usdcContractAddress = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"

// balanceOf(address) selector.
var balanceOfSelector = []byte{0x70, 0xa0, 0x82, 0x31}

// WalletDiagnoser checks RPC reachability, the wallet's USDC balance and
// the presence of CLOB API credentials before live mode may engage.
type WalletDiagnoser struct {
	rpcURL  string
	clobURL string
	wallet  string
	creds   config.PolymarketConfig
	httpc   *http.Client
}

func NewWalletDiagnoser(rpcURL, clobURL, wallet string, creds config.PolymarketConfig) *WalletDiagnoser {
	return &WalletDiagnoser{
		rpcURL:  rpcURL,
		clobURL: clobURL,
		wallet:  wallet,
		creds:   creds,
		httpc:   &http.Client{Timeout: 5 * time.Second},
	}
}

func (d *WalletDiagnoser) Check(ctx context.Context) Diagnostics {
	diag := Diagnostics{
		WalletAddress: d.wallet,
		CheckedAt:     time.Now().UTC(),
	}

	if d.wallet == "" || !common.IsHexAddress(d.wallet) {
		diag.Err = "wallet address missing or invalid"
		return diag
	}

	if d.creds.ApiKey == "" || d.creds.ApiSecret == "" || d.creds.ApiPassphrase == "" {
		diag.Err = "missing CLOB L2 api credentials"
		return diag
	}
	diag.APIKeysOK = true

	client, err := ethclient.DialContext(ctx, d.rpcURL)
	if err != nil {
		diag.Err = fmt.Sprintf("rpc dial failed: %v", err)
		return diag
	}
	defer client.Close()

	if _, err := client.ChainID(ctx); err != nil {
		diag.Err = fmt.Sprintf("rpc unreachable: %v", err)
		return diag
	}
	diag.NetworkOK = true

	balance, err := d.usdcBalance(ctx, client)
	if err != nil {
		diag.Err = fmt.Sprintf("balance check failed: %v", err)
		diag.NetworkOK = false
		return diag
	}
	diag.BalanceUSDC = balance

	if d.clobURL != "" {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.clobURL+"/time", nil)
		if err == nil {
			resp, err := d.httpc.Do(req)
			if err != nil {
				diag.Err = fmt.Sprintf("clob api unreachable: %v", err)
				diag.NetworkOK = false
				return diag
			}
			resp.Body.Close()
		}
	}

	return diag
}

func (d *WalletDiagnoser) usdcBalance(ctx context.Context, client *ethclient.Client) (float64, error) {
	token := common.HexToAddress(usdcContractAddress)
	wallet := common.HexToAddress(d.wallet)

	data := make([]byte, 0, 36)
	data = append(data, balanceOfSelector...)
	data = append(data, common.LeftPadBytes(wallet.Bytes(), 32)...)

	out, err := client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return 0, err
	}
	if len(out) == 0 {
		return 0, fmt.Errorf("empty balanceOf response")
	}

	raw := new(big.Int).SetBytes(out)
	// USDC has 6 decimals.
	usdc := new(big.Float).Quo(new(big.Float).SetInt(raw), big.NewFloat(1e6))
	val, _ := usdc.Float64()
	return val, nil
}
