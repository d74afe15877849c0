package main

import (
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/crossflow/crossflow/agent"
	"github.com/crossflow/crossflow/config"
)

type cli struct {
	cfg config.Config
}

func setupFlags(cmd *cobra.Command) error {
	cmd.Flags().String("config-file", "", "Path to config file.")
	cmd.Flags().String("organization-id", "", "uuid identifying this organization")
	cmd.Flags().Int("http-port", 8080, "http port for rest endpoints")
	cmd.Flags().String("storage-impl", "redis", "implementation of the event store")
	cmd.Flags().String("strategy", "noop", "consistency strategy (noop|p2p|replog|ledger|replog-ledger)")
	cmd.Flags().String("redis-addr", "localhost:6379", "comma separated list of redis host:port")
	cmd.Flags().String("namespace", "crossflow", "namespace used in storage keys")
	cmd.Flags().String("peer-urls", "", "comma separated list of counterpart base urls")
	cmd.Flags().Duration("replog-grace-period", 30*time.Second, "idle time before a counterpart log scope is released")
	cmd.Flags().Duration("noop-delay", 500*time.Millisecond, "artificial delay of the noop strategy")
	cmd.Flags().Bool("cluster", false, "discover peers over serf gossip")
	cmd.Flags().String("node-name", "", "unique serf node name")
	cmd.Flags().String("bind-addr", "127.0.0.1:8401", "serf bind address")
	cmd.Flags().String("advertise-url", "", "base url peers use to reach this node")
	cmd.Flags().String("join-addrs", "", "comma separated serf addresses to join")
	cmd.Flags().StringSlice("rule-expr", nil, "embedded rule expressions")
	cmd.Flags().String("log-level", "info", "log level")
	return viper.BindPFlags(cmd.Flags())
}

func (c *cli) setupConfig(cmd *cobra.Command, args []string) error {
	configFile, err := cmd.Flags().GetString("config-file")
	if err != nil {
		return err
	}
	viper.SetConfigFile(configFile)

	if err = viper.ReadInConfig(); err != nil {
		// it's ok if config file doesn't exist
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}

	c.cfg.OrganizationID = viper.GetString("organization-id")
	c.cfg.HttpPort = viper.GetInt("http-port")
	c.cfg.StorageType = config.StorageType(viper.GetString("storage-impl"))
	c.cfg.StrategyType = config.StrategyType(viper.GetString("strategy"))
	c.cfg.RedisConfig.Addrs = strings.Split(viper.GetString("redis-addr"), ",")
	c.cfg.RedisConfig.Namespace = viper.GetString("namespace")
	if peers := viper.GetString("peer-urls"); peers != "" {
		c.cfg.P2PConfig.PeerURLs = strings.Split(peers, ",")
	}
	c.cfg.ReplogConfig.ConnectionGracePeriod = viper.GetDuration("replog-grace-period")
	c.cfg.NoopDelay = viper.GetDuration("noop-delay")
	c.cfg.ClusterConfig.Enabled = viper.GetBool("cluster")
	c.cfg.ClusterConfig.NodeName = viper.GetString("node-name")
	c.cfg.ClusterConfig.BindAddr = viper.GetString("bind-addr")
	c.cfg.ClusterConfig.AdvertiseURL = viper.GetString("advertise-url")
	if joins := viper.GetString("join-addrs"); joins != "" {
		c.cfg.ClusterConfig.StartJoinAddrs = strings.Split(joins, ",")
	}
	c.cfg.RuleExpr = viper.GetStringSlice("rule-expr")
	c.cfg.LogLevel = viper.GetString("log-level")
	return nil
}

func (c *cli) run(cmd *cobra.Command, args []string) error {
	a, err := agent.New(c.cfg)
	if err != nil {
		return err
	}
	if err := a.Start(); err != nil {
		return err
	}
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	return a.Shutdown()
}

func main() {
	cli := &cli{}

	cmd := &cobra.Command{
		Use:     "crossflow",
		PreRunE: cli.setupConfig,
		RunE:    cli.run,
	}

	if err := setupFlags(cmd); err != nil {
		log.Fatal(err)
	}

	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
