package commands

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mosaicnetworks/snowdag/src/ledger"
	"github.com/mosaicnetworks/snowdag/src/net"
	"github.com/mosaicnetworks/snowdag/src/node"
	"github.com/mosaicnetworks/snowdag/src/service"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// shutdownTimeout bounds the graceful shutdown of the HTTP service.
const shutdownTimeout = 5 * time.Second

//NewRunCmd returns the command that starts a snowdag node
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run node",
		PreRunE: loadConfig,
		RunE:    runNode,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runNode(cmd *cobra.Command, args []string) error {
	logger := _config.Logger()

	store, err := ledger.NewStore(_config.Store, _config.DatabasePath(), _config.CacheSize, logger)
	if err != nil {
		logger.WithError(err).Error("Cannot open store")
		return err
	}

	client := net.NewHTTPClient(&http.Client{}, logger)
	n := node.NewNode(_config, store, client)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// peers reach back to this node while it initialises
	serveErr := make(chan error, 1)
	var svc *service.Service
	if !_config.NoService {
		svc = service.NewService(_config.BindAddr, n, logger)
		go func() {
			serveErr <- svc.Serve()
		}()
	}

	if err := n.Init(ctx); err != nil {
		logger.WithError(err).Error("Cannot initialize node")
		shutdown(n, svc, logger)
		return err
	}

	logger.WithField("url", n.URL()).Info("Node running")

	select {
	case <-ctx.Done():
		logger.Info("Received signal")
	case err = <-serveErr:
		if err != nil {
			logger.WithError(err).Error("Service stopped")
		}
	}

	shutdown(n, svc, logger)

	return err
}

func shutdown(n *node.Node, svc *service.Service, logger *logrus.Entry) {
	if svc != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := svc.Shutdown(ctx); err != nil {
			logger.WithError(err).Warn("Stopping service")
		}
	}

	if err := n.Shutdown(); err != nil {
		logger.WithError(err).Warn("Stopping node")
	}
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

//AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {
	cmd.Flags().String("datadir", _config.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("log-file", _config.LogFile, "Also write logs to this file")
	cmd.Flags().String("moniker", _config.Moniker, "Optional name")

	// Network
	cmd.Flags().StringP("listen", "l", _config.BindAddr, "Listen IP:Port for the HTTP service")
	cmd.Flags().StringP("advertise", "a", _config.AdvertiseAddr, "URL advertised to other nodes")
	cmd.Flags().String("seed", _config.Seed, "URL of a node to discover the network from")
	cmd.Flags().Bool("no-service", _config.NoService, "Do not serve the HTTP API")
	cmd.Flags().DurationP("timeout", "t", _config.Timeout, "Timeout of calls to peers")
	cmd.Flags().Int("fanout", _config.Fanout, "Number of neighbours blocks are broadcast to")
	cmd.Flags().Bool("metrics", _config.EnableMetrics, "Expose Prometheus metrics on /metrics")

	// Store
	cmd.Flags().String("store", _config.Store, "Storage engine: inmem, badger or sqlite")
	cmd.Flags().String("db", _config.DatabaseDir, "Database directory")
	cmd.Flags().Int("cache-size", _config.CacheSize, "Number of items in LRU caches")

	// Consensus
	cmd.Flags().String("genesis", _config.Genesis, "Address credited by the genesis block")
	cmd.Flags().Int("sample-size", _config.SampleSize, "Max number of peers polled per round")
	cmd.Flags().Float64("quorum", _config.QuorumRatio, "Share of the sample that must agree in a round")
	cmd.Flags().Int("beta", _config.Beta, "Consecutive successful rounds to finalize")
	cmd.Flags().Int("max-rounds", _config.MaxRounds, "Round budget of a consensus session, 0 for none")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	// If --datadir was explicitely set, but not --db, this will update the
	// default database dir to be inside the new datadir
	_config.SetDataDir(_config.DataDir)

	_config.Logger().WithFields(logrus.Fields{
		"DataDir":       _config.DataDir,
		"BindAddr":      _config.BindAddr,
		"AdvertiseAddr": _config.AdvertiseAddr,
		"URL":           _config.URL(),
		"Seed":          _config.Seed,
		"NoService":     _config.NoService,
		"Timeout":       _config.Timeout,
		"Store":         _config.Store,
		"DatabasePath":  _config.DatabasePath(),
		"CacheSize":     _config.CacheSize,
		"Genesis":       _config.Genesis,
		"SampleSize":    _config.SampleSize,
		"QuorumRatio":   _config.QuorumRatio,
		"Beta":          _config.Beta,
		"MaxRounds":     _config.MaxRounds,
		"Fanout":        _config.Fanout,
		"LogLevel":      _config.LogLevel,
		"Moniker":       _config.Moniker,
	}).Debug("RUN")

	return nil
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/snowdag.toml (.json, .yaml also work)
	viper.SetConfigName("snowdag")       // name of config file (without extension)
	viper.AddConfigPath(_config.DataDir) // search root directory

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		_config.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.Logger().Debugf("No config file found in: %s", _config.DataDir)
	} else {
		return err
	}

	// second unmarshal to read from config file
	return viper.Unmarshal(_config)
}
