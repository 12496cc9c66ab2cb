package chains

import "github.com/vitwit/x402kit/types"

// Well known CAIP-2 identifiers.
const (
	Ethereum       = "eip155:1"
	Base           = "eip155:8453"
	BaseSepolia    = "eip155:84532"
	Arbitrum       = "eip155:42161"
	Optimism       = "eip155:10"
	Polygon        = "eip155:137"
	PolygonAmoy    = "eip155:80002"
	Avalanche      = "eip155:43114"
	AvalancheFuji  = "eip155:43113"
	SolanaMainnet  = "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp"
	SolanaDevnet   = "solana:EtWTRABZaYq6iMfeYKouRu166VoUHMPW"
	DefaultDecimal = 6
)

const defaultFacilitatorURL = "https://x402.org/facilitator"

func usdc(address, name string) PaymentTokenConfig {
	return PaymentTokenConfig{
		Address:         address,
		Symbol:          "USDC",
		Decimals:        DefaultDecimal,
		Name:            name,
		Version:         "2",
		SupportsEIP3009: true,
	}
}

func splUSDC(mint string) PaymentTokenConfig {
	return PaymentTokenConfig{Address: mint, Symbol: "USDC", Decimals: DefaultDecimal}
}

// DefaultChains is the built-in network table.
func DefaultChains() []ChainConfig {
	return []ChainConfig{
		{
			ID: Base, Name: "Base", Type: types.ChainEVM, NativeCurrency: "ETH",
			Tokens:             []PaymentTokenConfig{usdc("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", "USD Coin")},
			RPCURL:             "https://mainnet.base.org",
			ExplorerTxURL:      "https://basescan.org/tx/{tx}",
			ExplorerAddressURL: "https://basescan.org/address/{address}",
			FacilitatorURL:     defaultFacilitatorURL,
			Aliases:            []string{"base", "base-mainnet"},
		},
		{
			ID: BaseSepolia, Name: "Base Sepolia", Type: types.ChainEVM, NativeCurrency: "ETH",
			Tokens:             []PaymentTokenConfig{usdc("0x036CbD53842c5426634e7929541eC2318f3dCF7e", "USDC")},
			RPCURL:             "https://sepolia.base.org",
			ExplorerTxURL:      "https://sepolia.basescan.org/tx/{tx}",
			ExplorerAddressURL: "https://sepolia.basescan.org/address/{address}",
			FacilitatorURL:     defaultFacilitatorURL,
			Testnet:            true,
			Aliases:            []string{"base-sepolia"},
		},
		{
			ID: Ethereum, Name: "Ethereum", Type: types.ChainEVM, NativeCurrency: "ETH",
			Tokens:             []PaymentTokenConfig{usdc("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", "USD Coin")},
			RPCURL:             "https://eth.llamarpc.com",
			ExplorerTxURL:      "https://etherscan.io/tx/{tx}",
			ExplorerAddressURL: "https://etherscan.io/address/{address}",
			Aliases:            []string{"ethereum", "mainnet"},
		},
		{
			ID: Arbitrum, Name: "Arbitrum One", Type: types.ChainEVM, NativeCurrency: "ETH",
			Tokens:             []PaymentTokenConfig{usdc("0xaf88d065e77c8cC2239327C5EDb3A432268e5831", "USD Coin")},
			RPCURL:             "https://arb1.arbitrum.io/rpc",
			ExplorerTxURL:      "https://arbiscan.io/tx/{tx}",
			ExplorerAddressURL: "https://arbiscan.io/address/{address}",
			Aliases:            []string{"arbitrum"},
		},
		{
			ID: Optimism, Name: "OP Mainnet", Type: types.ChainEVM, NativeCurrency: "ETH",
			Tokens:             []PaymentTokenConfig{usdc("0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85", "USD Coin")},
			RPCURL:             "https://mainnet.optimism.io",
			ExplorerTxURL:      "https://optimistic.etherscan.io/tx/{tx}",
			ExplorerAddressURL: "https://optimistic.etherscan.io/address/{address}",
			Aliases:            []string{"optimism"},
		},
		{
			ID: Polygon, Name: "Polygon", Type: types.ChainEVM, NativeCurrency: "POL",
			Tokens:             []PaymentTokenConfig{usdc("0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359", "USD Coin")},
			RPCURL:             "https://polygon-rpc.com",
			ExplorerTxURL:      "https://polygonscan.com/tx/{tx}",
			ExplorerAddressURL: "https://polygonscan.com/address/{address}",
			Aliases:            []string{"polygon"},
		},
		{
			ID: PolygonAmoy, Name: "Polygon Amoy", Type: types.ChainEVM, NativeCurrency: "POL",
			Tokens:             []PaymentTokenConfig{usdc("0x41E94Eb019C0762f9Bfcf9Fb1E58725BfB0e7582", "USDC")},
			RPCURL:             "https://rpc-amoy.polygon.technology",
			ExplorerTxURL:      "https://amoy.polygonscan.com/tx/{tx}",
			ExplorerAddressURL: "https://amoy.polygonscan.com/address/{address}",
			Testnet:            true,
			Aliases:            []string{"polygon-amoy"},
		},
		{
			ID: Avalanche, Name: "Avalanche C-Chain", Type: types.ChainEVM, NativeCurrency: "AVAX",
			Tokens:             []PaymentTokenConfig{usdc("0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E", "USD Coin")},
			RPCURL:             "https://api.avax.network/ext/bc/C/rpc",
			ExplorerTxURL:      "https://snowtrace.io/tx/{tx}",
			ExplorerAddressURL: "https://snowtrace.io/address/{address}",
			Aliases:            []string{"avalanche"},
		},
		{
			ID: AvalancheFuji, Name: "Avalanche Fuji", Type: types.ChainEVM, NativeCurrency: "AVAX",
			Tokens:             []PaymentTokenConfig{usdc("0x5425890298aed601595a70AB815c96711a31Bc65", "USD Coin")},
			RPCURL:             "https://api.avax-test.network/ext/bc/C/rpc",
			ExplorerTxURL:      "https://testnet.snowtrace.io/tx/{tx}",
			ExplorerAddressURL: "https://testnet.snowtrace.io/address/{address}",
			Testnet:            true,
			Aliases:            []string{"avalanche-fuji"},
		},
		{
			ID: SolanaMainnet, Name: "Solana", Type: types.ChainSVM, NativeCurrency: "SOL",
			Tokens:             []PaymentTokenConfig{splUSDC("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")},
			RPCURL:             "https://api.mainnet-beta.solana.com",
			ExplorerTxURL:      "https://explorer.solana.com/tx/{tx}",
			ExplorerAddressURL: "https://explorer.solana.com/address/{address}",
			FacilitatorURL:     defaultFacilitatorURL,
			Aliases:            []string{"solana", "solana-mainnet"},
		},
		{
			ID: SolanaDevnet, Name: "Solana Devnet", Type: types.ChainSVM, NativeCurrency: "SOL",
			Tokens:             []PaymentTokenConfig{splUSDC("4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU")},
			RPCURL:             "https://api.devnet.solana.com",
			ExplorerTxURL:      "https://explorer.solana.com/tx/{tx}?cluster=devnet",
			ExplorerAddressURL: "https://explorer.solana.com/address/{address}?cluster=devnet",
			FacilitatorURL:     defaultFacilitatorURL,
			Testnet:            true,
			Aliases:            []string{"solana-devnet"},
		},
	}
}

// NewDefault builds a registry over DefaultChains.
func NewDefault(opts ...Option) (*Registry, error) {
	return New(DefaultChains(), opts...)
}
