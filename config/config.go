package config

import "time"

type StorageType string

const STORAGE_TYPE_REDIS StorageType = "redis"
const STORAGE_TYPE_INMEM StorageType = "memory"

type StrategyType string

const STRATEGY_NOOP StrategyType = "noop"
const STRATEGY_P2P StrategyType = "p2p"
const STRATEGY_REPLOG StrategyType = "replog"
const STRATEGY_LEDGER StrategyType = "ledger"
const STRATEGY_REPLOG_LEDGER StrategyType = "replog-ledger"

type Config struct {
	OrganizationID string
	HttpPort       int
	StorageType    StorageType
	StrategyType   StrategyType
	RedisConfig    RedisConfig
	P2PConfig      P2PConfig
	ReplogConfig   ReplogConfig
	NoopDelay      time.Duration
	ClusterConfig  ClusterConfig
	RuleExpr       []string
	LogLevel       string
}

type RedisConfig struct {
	Addrs     []string
	Namespace string
}

type P2PConfig struct {
	PeerURLs []string
}

type ReplogConfig struct {
	// How long an on-demand connection to a counterpart's log scope is
	// kept open after its last use.
	ConnectionGracePeriod time.Duration
}

type ClusterConfig struct {
	Enabled        bool
	NodeName       string
	BindAddr       string
	StartJoinAddrs []string
	AdvertiseURL   string
}
