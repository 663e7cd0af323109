package indexer

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ChainsConfig is the top-level shape of the chains configuration file (spec §6): one entry per
// chain plus process-wide defaults under "global".
type ChainsConfig struct {
	Chains []ChainConfig `yaml:"chains"`
	Global GlobalConfig  `yaml:"global"`
}

// ChainConfig describes one chain's indexer instance.
type ChainConfig struct {
	Name            string              `yaml:"name"`
	ChainID         uint64              `yaml:"chain_id"`
	Enabled         bool                `yaml:"enabled"`
	RPCURL          string              `yaml:"rpc_url"` // legacy single-URL form
	RPCProviders    []RPCProviderYAML   `yaml:"rpc_providers"`
	Contracts       ContractsConfig     `yaml:"contracts"`
	StartingBlock   string              `yaml:"starting_block"` // "latest" or a decimal block number
	PollIntervalMs  int                 `yaml:"poll_interval_ms"`
	BatchSize       int                 `yaml:"batch_size"`
	AdaptivePolling *bool               `yaml:"adaptive_polling"`
}

// RPCProviderYAML is the file-level shape of one RPC endpoint entry.
type RPCProviderYAML struct {
	URL                  string `yaml:"url"`
	Weight               int    `yaml:"weight"`
	Priority             int    `yaml:"priority"`
	MaxRequestsPerMinute int    `yaml:"max_requests_per_minute"`
	CooldownOnErrorMs    int    `yaml:"cooldown_on_error_ms"`
}

// ContractsConfig names the three contract addresses the decoder dispatches on.
type ContractsConfig struct {
	IdentityRegistry   string `yaml:"identity_registry"`
	ReputationRegistry string `yaml:"reputation_registry"`
	ValidationRegistry string `yaml:"validation_registry"`
}

// GlobalConfig holds process-wide defaults shared by every chain's supervisor and syncer.
type GlobalConfig struct {
	MaxIndexerRetries        int  `yaml:"max_indexer_retries"`
	RetryBaseDelayMs         int  `yaml:"retry_base_delay_ms"`
	RetryMaxDelayMs          int  `yaml:"retry_max_delay_ms"`
	AdaptivePollingEnabled   bool `yaml:"adaptive_polling_enabled"`
	MaxParallelBlocks        int  `yaml:"max_parallel_blocks"`
	BatchProcessingDelayMs   int  `yaml:"batch_processing_delay_ms"`
}

// defaultGlobalConfig mirrors spec §6's documented defaults.
func defaultGlobalConfig() GlobalConfig {
	return GlobalConfig{
		MaxIndexerRetries:      5,
		RetryBaseDelayMs:       1000,
		RetryMaxDelayMs:        60000,
		AdaptivePollingEnabled: true,
		MaxParallelBlocks:      10,
		BatchProcessingDelayMs: 50,
	}
}

// LoadChainsConfig reads and validates a chains configuration file from path.
func LoadChainsConfig(path string) (*ChainsConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read chains config %s: %w", path, err)
	}

	cfg := &ChainsConfig{Global: defaultGlobalConfig()}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse chains config %s: %w", path, err)
	}

	for i := range cfg.Chains {
		promoteLegacyRPCURL(&cfg.Chains[i])
		applyChainDefaults(&cfg.Chains[i])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// promoteLegacyRPCURL auto-promotes a single-URL "rpc_url" entry to a one-element
// rpc_providers list (spec §6).
func promoteLegacyRPCURL(c *ChainConfig) {
	if c.RPCURL == "" || len(c.RPCProviders) > 0 {
		return
	}
	c.RPCProviders = []RPCProviderYAML{{URL: c.RPCURL}}
}

func applyChainDefaults(c *ChainConfig) {
	if c.StartingBlock == "" {
		c.StartingBlock = "latest"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 1
	}
	if c.PollIntervalMs <= 0 {
		c.PollIntervalMs = 15000
	}
	if c.AdaptivePolling == nil {
		enabled := true
		c.AdaptivePolling = &enabled
	}
	for i := range c.RPCProviders {
		p := &c.RPCProviders[i]
		if p.Weight <= 0 {
			p.Weight = 30
		}
		if p.Priority <= 0 {
			p.Priority = 1
		}
		if p.MaxRequestsPerMinute <= 0 {
			p.MaxRequestsPerMinute = 100
		}
		if p.CooldownOnErrorMs <= 0 {
			p.CooldownOnErrorMs = 60000
		}
	}
}

// Validate applies spec §7's "Configuration" error class to every enabled chain: a missing
// chain_id, a duplicate chain_id, an empty provider list or no contract address at all returns an
// error for the whole file, so LoadChainsConfig fails and no chain is loaded. Disabled chains are
// not checked.
func (c *ChainsConfig) Validate() error {
	seen := make(map[uint64]struct{}, len(c.Chains))
	for _, chain := range c.Chains {
		if !chain.Enabled {
			continue
		}
		if chain.ChainID == 0 {
			return fmt.Errorf("chain %q: chain_id is required", chain.Name)
		}
		if _, dup := seen[chain.ChainID]; dup {
			return fmt.Errorf("chain_id %d configured more than once", chain.ChainID)
		}
		seen[chain.ChainID] = struct{}{}
		if len(chain.RPCProviders) == 0 {
			return fmt.Errorf("chain %q: at least one rpc provider is required", chain.Name)
		}
		if chain.Contracts.IdentityRegistry == "" && chain.Contracts.ReputationRegistry == "" && chain.Contracts.ValidationRegistry == "" {
			return fmt.Errorf("chain %q: at least one contract address is required", chain.Name)
		}
	}
	return nil
}

// ToIndexerConfig and ToProviderConfigs translate the file-level shape into the runtime types
// syncer.go and provider.go consume.
func (c ChainConfig) ToProviderConfigs() []RPCProviderConfig {
	configs := make([]RPCProviderConfig, len(c.RPCProviders))
	for i, p := range c.RPCProviders {
		configs[i] = RPCProviderConfig{
			URL:                  p.URL,
			Weight:               p.Weight,
			Priority:             p.Priority,
			MaxRequestsPerMinute: p.MaxRequestsPerMinute,
			CooldownOnError:      time.Duration(p.CooldownOnErrorMs) * time.Millisecond,
		}
	}
	return configs
}

func (c ChainConfig) ToIndexerConfig() IndexerConfig {
	var startingBlock uint64
	if c.StartingBlock != "" && c.StartingBlock != "latest" {
		if n, err := strconv.ParseUint(c.StartingBlock, 10, 64); err == nil {
			startingBlock = n
		}
	}
	adaptive := c.AdaptivePolling == nil || *c.AdaptivePolling
	return IndexerConfig{
		ChainID:            c.ChainID,
		ChainName:          c.Name,
		IdentityRegistry:   c.Contracts.IdentityRegistry,
		ReputationRegistry: c.Contracts.ReputationRegistry,
		ValidationRegistry: c.Contracts.ValidationRegistry,
		StartingBlock:      startingBlock,
		PollInterval:       time.Duration(c.PollIntervalMs) * time.Millisecond,
		BatchSize:          c.BatchSize,
		AdaptivePolling:    adaptive,
	}
}

func (g GlobalConfig) ToRestartPolicy() RestartPolicy {
	return RestartPolicy{
		Kind:       RestartExponential,
		MaxRetries: g.MaxIndexerRetries,
		BaseDelay:  time.Duration(g.RetryBaseDelayMs) * time.Millisecond,
		MaxDelay:   time.Duration(g.RetryMaxDelayMs) * time.Millisecond,
	}
}
