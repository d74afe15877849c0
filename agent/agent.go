// Package agent wires the node together: storage, rule gate, consistency
// strategy, cluster membership and the HTTP surface.
package agent

import (
	"context"
	"fmt"
	"sync"

	rd "github.com/go-redis/redis/v9"

	"github.com/crossflow/crossflow/cluster"
	"github.com/crossflow/crossflow/config"
	"github.com/crossflow/crossflow/consistency"
	"github.com/crossflow/crossflow/consistency/ledger"
	"github.com/crossflow/crossflow/consistency/replicatedlog"
	"github.com/crossflow/crossflow/logger"
	"github.com/crossflow/crossflow/persistence"
	"github.com/crossflow/crossflow/persistence/memory"
	"github.com/crossflow/crossflow/persistence/redis"
	"github.com/crossflow/crossflow/rest"
	"github.com/crossflow/crossflow/rules"
	"github.com/crossflow/crossflow/workflow"
)

type Agent struct {
	Config config.Config

	store              persistence.EventStore
	persistenceService *persistence.Service
	workflowService    *workflow.Service
	gate               *rules.Gate
	strategy           consistency.Strategy
	consistencyService *consistency.Service
	membership         *cluster.Membership
	httpServer         *rest.Server

	redisClient rd.UniversalClient

	shutdown     bool
	shutdownLock sync.Mutex
}

func New(conf config.Config) (*Agent, error) {
	a := &Agent{Config: conf}
	setup := []func() error{
		a.setupLogger,
		a.setupStorage,
		a.setupWorkflowService,
		a.setupCluster,
		a.setupStrategy,
		a.setupGate,
		a.setupConsistencyService,
		a.setupHttpServer,
	}
	for _, fn := range setup {
		if err := fn(); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *Agent) setupLogger() error {
	return logger.Configure(a.Config.LogLevel)
}

func (a *Agent) setupStorage() error {
	switch a.Config.StorageType {
	case config.STORAGE_TYPE_INMEM:
		a.store = memory.NewStore()
	case config.STORAGE_TYPE_REDIS, "":
		a.store = redis.NewStoreWithClient(a.redis(), a.Config.RedisConfig.Namespace)
	default:
		return fmt.Errorf("unknown storage type %q", a.Config.StorageType)
	}
	a.persistenceService = persistence.NewService(a.store)
	return nil
}

func (a *Agent) setupWorkflowService() error {
	a.workflowService = workflow.NewService(a.Config.OrganizationID, a.persistenceService)
	return nil
}

func (a *Agent) setupCluster() error {
	if !a.Config.ClusterConfig.Enabled {
		return nil
	}
	membership, err := cluster.New(nil, cluster.Config{
		NodeName:       a.Config.ClusterConfig.NodeName,
		BindAddr:       a.Config.ClusterConfig.BindAddr,
		AdvertiseURL:   a.Config.ClusterConfig.AdvertiseURL,
		StartJoinAddrs: a.Config.ClusterConfig.StartJoinAddrs,
	})
	if err != nil {
		return err
	}
	a.membership = membership
	return nil
}

func (a *Agent) setupStrategy() error {
	org := a.Config.OrganizationID
	namespace := a.Config.RedisConfig.Namespace

	switch a.Config.StrategyType {
	case config.STRATEGY_NOOP, "":
		a.strategy = consistency.NewNoopStrategy(org, a.Config.NoopDelay)
	case config.STRATEGY_P2P:
		a.strategy = consistency.NewPointToPointStrategy(org, a.peers(), "p2p")
	case config.STRATEGY_REPLOG:
		connector := replicatedlog.NewRedisConnector(a.redis(), namespace)
		strategy, err := consistency.NewReplicatedLogStrategy(org, connector, a.Config.ReplogConfig.ConnectionGracePeriod)
		if err != nil {
			return err
		}
		a.strategy = strategy
	case config.STRATEGY_LEDGER:
		inner := consistency.NewPointToPointStrategy(org, a.peers(), "ledger")
		anchor := ledger.NewRedisLedger(a.redis(), namespace)
		a.strategy = consistency.NewLedgerStrategy(inner, anchor, "ledger")
	case config.STRATEGY_REPLOG_LEDGER:
		connector := replicatedlog.NewRedisConnector(a.redis(), namespace)
		inner, err := consistency.NewReplicatedLogStrategy(org, connector, a.Config.ReplogConfig.ConnectionGracePeriod)
		if err != nil {
			return err
		}
		anchor := ledger.NewRedisLedger(a.redis(), namespace)
		a.strategy = consistency.NewLedgerStrategy(inner, anchor, "replog-ledger")
	default:
		return fmt.Errorf("unknown consistency strategy %q", a.Config.StrategyType)
	}
	return nil
}

func (a *Agent) setupGate() error {
	embedded := make([]rules.Validator, 0, len(a.Config.RuleExpr))
	for _, source := range a.Config.RuleExpr {
		validator, err := rules.NewExprValidator(source)
		if err != nil {
			return err
		}
		embedded = append(embedded, validator)
	}
	a.gate = rules.NewGate(a.persistenceService, embedded...)
	return a.gate.Start(context.Background())
}

func (a *Agent) setupConsistencyService() error {
	a.consistencyService = consistency.NewService(a.Config.OrganizationID, a.persistenceService, a.strategy)
	return a.consistencyService.Start(context.Background())
}

func (a *Agent) setupHttpServer() error {
	var err error
	a.httpServer, err = rest.NewServer(a.Config.HttpPort, a.workflowService, a.persistenceService, a.consistencyService)
	return err
}

// peers resolves the counterpart endpoints, preferring gossip membership
// over the static list.
func (a *Agent) peers() consistency.PeerProvider {
	if a.membership != nil {
		return a.membership
	}
	return consistency.StaticPeers(a.Config.P2PConfig.PeerURLs)
}

// redis returns the shared client, creating it on first use.
func (a *Agent) redis() rd.UniversalClient {
	if a.redisClient == nil {
		a.redisClient = rd.NewUniversalClient(&rd.UniversalOptions{
			Addrs: a.Config.RedisConfig.Addrs,
		})
	}
	return a.redisClient
}

func (a *Agent) Start() error {
	go func() {
		if err := a.httpServer.Start(); err != nil {
			_ = a.Shutdown()
			panic(err)
		}
	}()
	return nil
}

func (a *Agent) Shutdown() error {
	logger.Info("shutting down node")
	a.shutdownLock.Lock()
	defer a.shutdownLock.Unlock()
	if a.shutdown {
		return nil
	}
	a.shutdown = true

	shutdown := []func() error{
		a.httpServer.Stop,
		a.consistencyService.Close,
		a.persistenceService.Close,
		a.store.Close,
	}
	if a.membership != nil {
		shutdown = append(shutdown, a.membership.Leave)
	}
	if a.redisClient != nil {
		shutdown = append(shutdown, a.redisClient.Close)
	}
	for _, fn := range shutdown {
		if err := fn(); err != nil {
			return err
		}
	}
	return logger.Sync()
}
