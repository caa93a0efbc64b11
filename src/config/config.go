package config

import (
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/mosaicnetworks/snowdag/src/common"
	"github.com/mosaicnetworks/snowdag/src/consensus"
	"github.com/mosaicnetworks/snowdag/src/ledger"
	"github.com/mosaicnetworks/snowdag/src/net"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Default filenames.
const (
	// DefaultKeyfile is the default name of the file containing the private
	// key of the account used by the send command.
	DefaultKeyfile = "priv_key"

	// DefaultBadgerFile is the default name of the folder containing the
	// Badger database
	DefaultBadgerFile = "badger_db"

	// DefaultSQLFile is the default name of the sqlite database file.
	DefaultSQLFile = "ledger.db"
)

// Default configuration values.
const (
	DefaultLogLevel      = "debug"
	DefaultBindAddr      = "127.0.0.1:8000"
	DefaultTimeout       = 1000 * time.Millisecond
	DefaultCacheSize     = 10000
	DefaultStore         = ledger.InmemStoreType
	DefaultGenesis       = ledger.DefaultGenesisAddress
	DefaultSampleSize    = consensus.DefaultMaxSampleSize
	DefaultQuorumRatio   = consensus.DefaultQuorumRatio
	DefaultBeta          = consensus.DefaultBeta
	DefaultMaxRounds     = consensus.DefaultMaxRounds
	DefaultFanout        = net.DefaultFanout
	DefaultNoService     = false
	DefaultEnableMetrics = true
)

// Config contains all the configuration properties of a snowdag node.
type Config struct {
	// DataDir is the top-level directory containing the configuration and
	// data of the node.
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// LogFile, when set, receives a copy of every log entry.
	LogFile string `mapstructure:"log-file"`

	// BindAddr is the local address:port of the HTTP service, which serves
	// both peers and clients.
	BindAddr string `mapstructure:"listen"`

	// AdvertiseAddr is the URL other nodes use to reach this one. It defaults
	// to http://BindAddr. A node's address on the network is the hash of this
	// URL, so it should not change between restarts.
	AdvertiseAddr string `mapstructure:"advertise"`

	// Seed is the URL of a node used to discover the network on startup.
	// Without a seed, the node only knows the peers saved in peers.json.
	Seed string `mapstructure:"seed"`

	// NoService disables the HTTP listener. Such a node can still sample its
	// peers but nobody can reach it.
	NoService bool `mapstructure:"no-service"`

	// Timeout bounds every call to a peer.
	Timeout time.Duration `mapstructure:"timeout"`

	// Store is the storage engine: inmem, badger or sqlite.
	Store string `mapstructure:"store"`

	// DatabaseDir is the location of the database files of persistent
	// engines.
	DatabaseDir string `mapstructure:"db"`

	// CacheSize is the max number of items in in-memory caches.
	CacheSize int `mapstructure:"cache-size"`

	// Genesis is the address credited by the genesis block. All the nodes of
	// a network must agree on it.
	Genesis string `mapstructure:"genesis"`

	// SampleSize is the maximum number of peers polled per round (k).
	SampleSize int `mapstructure:"sample-size"`

	// QuorumRatio is the share of the sample that must agree in a round
	// (alpha / k).
	QuorumRatio float64 `mapstructure:"quorum"`

	// Beta is the number of consecutive successful rounds beyond which a
	// preference is final.
	Beta int `mapstructure:"beta"`

	// MaxRounds is the round budget of a consensus session. 0 disables it.
	MaxRounds int `mapstructure:"max-rounds"`

	// Fanout is the number of ring neighbours a block is broadcast to.
	Fanout int `mapstructure:"fanout"`

	// EnableMetrics exposes Prometheus metrics on /metrics.
	EnableMetrics bool `mapstructure:"metrics"`

	// Moniker defines the friendly name of this node
	Moniker string `mapstructure:"moniker"`

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:       DefaultDataDir(),
		LogLevel:      DefaultLogLevel,
		BindAddr:      DefaultBindAddr,
		NoService:     DefaultNoService,
		Timeout:       DefaultTimeout,
		Store:         DefaultStore,
		DatabaseDir:   DefaultDatabaseDir(),
		CacheSize:     DefaultCacheSize,
		Genesis:       DefaultGenesis,
		SampleSize:    DefaultSampleSize,
		QuorumRatio:   DefaultQuorumRatio,
		Beta:          DefaultBeta,
		MaxRounds:     DefaultMaxRounds,
		Fanout:        DefaultFanout,
		EnableMetrics: DefaultEnableMetrics,
	}

	return config
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests.
func NewTestConfig(t testing.TB, level logrus.Level) *Config {
	config := NewDefaultConfig()
	config.Timeout = 200 * time.Millisecond
	config.logger = common.NewTestLogger(t, level)
	return config
}

// SetDataDir sets the top-level directory, and updates the database directory
// if it is currently set to the default value. If the database directory is
// not the default, the user has explicitly set it to something else, so avoid
// changing it again here.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
	if c.DatabaseDir == DefaultDatabaseDir() {
		c.DatabaseDir = dataDir
	}
}

// Keyfile returns the full path of the file containing the private key.
func (c *Config) Keyfile() string {
	return filepath.Join(c.DataDir, DefaultKeyfile)
}

// DatabasePath returns the location of the database of the configured
// engine: a directory for badger, a file for sqlite, nothing for inmem.
func (c *Config) DatabasePath() string {
	switch c.Store {
	case ledger.BadgerStoreType:
		return filepath.Join(c.DatabaseDir, DefaultBadgerFile)
	case ledger.SQLStoreType:
		return filepath.Join(c.DatabaseDir, DefaultSQLFile)
	default:
		return ""
	}
}

// URL returns the URL advertised to other nodes.
func (c *Config) URL() string {
	if c.AdvertiseAddr != "" {
		return c.AdvertiseAddr
	}
	if strings.Contains(c.BindAddr, "://") {
		return c.BindAddr
	}
	return "http://" + c.BindAddr
}

// Params returns the consensus parameters.
func (c *Config) Params() consensus.Params {
	return consensus.Params{
		MaxSampleSize: c.SampleSize,
		QuorumRatio:   c.QuorumRatio,
		Beta:          c.Beta,
		MaxRounds:     c.MaxRounds,
	}
}

// Logger returns a formatted logrus Entry, with prefix set to "snowdag". When
// LogFile is set, entries are also written to that file.
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)

		if c.LogFile != "" {
			pathMap := lfshook.PathMap{}
			for _, level := range logrus.AllLevels {
				pathMap[level] = c.LogFile
			}
			c.logger.Hooks.Add(lfshook.NewHook(
				pathMap,
				&logrus.JSONFormatter{},
			))
		}
	}
	return c.logger.WithField("prefix", "snowdag")
}

// DefaultDatabaseDir returns the default directory of the database files.
func DefaultDatabaseDir() string {
	return DefaultDataDir()
}

// DefaultDataDir return the default directory name for top-level snowdag
// config based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".Snowdag")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "Snowdag")
		} else {
			return filepath.Join(home, ".snowdag")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
