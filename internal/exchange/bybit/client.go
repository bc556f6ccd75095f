// Package bybit implements the exchange.Gateway contract against the Bybit
// v5 unified trading API for USDT-margined linear perpetuals.
package bybit

import (
	bybit_api "github.com/bybit-exchange/bybit.go.api"
)

const exchangeName = "bybit"

// Config holds the configuration for the Bybit gateway
type Config struct {
	APIKey    string
	APISecret string
	Testnet   bool
	Demo      bool // Demo trading environment
	Category  string
}

// Gateway wraps the Bybit API client behind the exchange.Gateway contract
type Gateway struct {
	httpClient *bybit_api.Client
	category   string
	testnet    bool
	demo       bool
}

// NewGateway creates a new Bybit gateway
func NewGateway(config Config) *Gateway {
	var baseURL string
	if config.Demo {
		// Demo trading environment (paper trading)
		baseURL = "https://api-demo.bybit.com"
	} else if config.Testnet {
		baseURL = bybit_api.TESTNET
	} else {
		baseURL = bybit_api.MAINNET
	}

	httpClient := bybit_api.NewBybitHttpClient(
		config.APIKey,
		config.APISecret,
		bybit_api.WithBaseURL(baseURL),
	)

	category := config.Category
	if category == "" {
		category = "linear"
	}

	return &Gateway{
		httpClient: httpClient,
		category:   category,
		testnet:    config.Testnet,
		demo:       config.Demo,
	}
}

// Name returns the exchange name
func (g *Gateway) Name() string {
	return exchangeName
}

// Environment returns a string describing the current environment
func (g *Gateway) Environment() string {
	if g.demo {
		return "demo"
	} else if g.testnet {
		return "testnet"
	}
	return "mainnet"
}

// Close releases gateway resources. The HTTP client holds no persistent
// connections that need explicit teardown.
func (g *Gateway) Close() error {
	return nil
}
