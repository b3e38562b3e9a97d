package config

import (
	"path/filepath"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"

	"github.com/folionet/foliod/logger"
)

const (
	logFilename        = "foliod.log"
	defaultLogDir      = "logs"
	defaultHTTPListen  = "0.0.0.0:8080"
	defaultLogLevel    = "info"
	defaultDBName      = "foliod"
	defaultMigrations  = "dbaccess/migrations"
	defaultRPCTimeout  = 30
	defaultRPCPoolSize = 10
	defaultPoolSize    = 8
	defaultPollSecs    = 20
	defaultDeadlineMin = 10
)

var activeConfig *Config

// ActiveConfig returns the active configuration struct
func ActiveConfig() *Config {
	return activeConfig
}

// Config defines the configuration options for the foliod server.
type Config struct {
	HTTPListen string `long:"listen" description:"HTTP address to listen on (default: 0.0.0.0:8080)"`
	LogDir     string `long:"logdir" description:"Directory to log output"`
	DebugLevel string `long:"debuglevel" short:"d" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems"`

	DBUser         string `long:"dbuser" description:"Database user" required:"true"`
	DBPassword     string `long:"dbpass" description:"Database password" required:"true"`
	DBAddress      string `long:"dbaddress" description:"Database address (default: localhost:3306)"`
	DBName         string `long:"dbname" description:"Database name"`
	Migrate        bool   `long:"migrate" description:"Migrate the database to the latest version. The server will not start when using this flag."`
	MigrationsPath string `long:"migrations-path" description:"Path to the migration files directory"`

	RPCTimeoutSecs      uint64 `long:"rpctimeout" description:"Timeout in seconds for each external API request (default: 30)"`
	RPCPoolSizePerHost  int    `long:"rpcpoolsize" description:"Max idle HTTP connections kept per provider host (default: 10)"`
	SchedulerPoolSize   int64  `long:"schedulerpoolsize" description:"Max concurrent ingestion tasks (default: 8)"`
	PollIntervalSecs    uint64 `long:"pollinterval" description:"Seconds between background job wake-ups (default: 20)"`
	JobDeadlineMins     uint64 `long:"jobdeadline" description:"Global per-job deadline in minutes (default: 10)"`
	DecoderSchemaVer    int    `long:"decoderschemaversion" description:"Override the decoder schema version to force a full re-decode"`
	InitialLookbackSecs uint64 `long:"initiallookback" description:"Bound in seconds on the first backfill of a new address (default: unbounded, back to genesis)"`

	EtherscanAPIKey   string `long:"etherscan-api-key" description:"API key for the etherscan-family EVM explorers"`
	BlockcypherAPIKey string `long:"blockcypher-api-key" description:"API key for blockcypher.com"`
	PremiumAPIKey     string `long:"premium-api-key" description:"API key for the premium services"`
	PremiumAPISecret  string `long:"premium-api-secret" description:"API secret for the premium services"`
}

// Parse parses the CLI arguments and returns a config struct.
func Parse() (*Config, error) {
	activeConfig = &Config{
		HTTPListen:         defaultHTTPListen,
		LogDir:             defaultLogDir,
		DebugLevel:         defaultLogLevel,
		DBAddress:          "localhost:3306",
		DBName:             defaultDBName,
		MigrationsPath:     defaultMigrations,
		RPCTimeoutSecs:     defaultRPCTimeout,
		RPCPoolSizePerHost: defaultRPCPoolSize,
		SchedulerPoolSize:  defaultPoolSize,
		PollIntervalSecs:   defaultPollSecs,
		JobDeadlineMins:    defaultDeadlineMin,
	}
	parser := flags.NewParser(activeConfig, flags.PrintErrors|flags.HelpFlag)
	_, err := parser.Parse()
	if err != nil {
		return nil, err
	}

	if err := logger.InitLogRotator(filepath.Join(activeConfig.LogDir, logFilename)); err != nil {
		return nil, errors.Wrap(err, "error initializing the log rotator")
	}
	if err := logger.ParseAndSetDebugLevels(activeConfig.DebugLevel); err != nil {
		return nil, errors.Wrap(err, "error setting the log levels")
	}

	return activeConfig, nil
}
