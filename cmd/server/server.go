package server

import (
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/timerhsenso/sentinela/audit"
	"github.com/timerhsenso/sentinela/authorize"
	"github.com/timerhsenso/sentinela/config"
	"github.com/timerhsenso/sentinela/guard"
	"github.com/timerhsenso/sentinela/helper"
	sentinelahttp "github.com/timerhsenso/sentinela/http"
	"github.com/timerhsenso/sentinela/listener/api"
	log "github.com/timerhsenso/sentinela/logger"
	"github.com/timerhsenso/sentinela/session"
	"github.com/timerhsenso/sentinela/storage"
	"github.com/timerhsenso/sentinela/token"
)

var (
	configPath string
	flagDev    bool

	ServerCmd = &cobra.Command{
		Use:   "server",
		Short: "This command starts a sentinela server that responds to API requests",
		Long: `
Usage: sentinela server [options]

  This command starts a sentinela server that responds to API requests.

  Start a server with a configuration file:

      $ sentinela server --config=/etc/sentinela/config.hcl

  Start a throwaway dev server with seeded demo data:

      $ sentinela server --dev
`,
		RunE: run,
	}
)

func init() {
	ServerCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (e.g., path/to/sentinela.hcl)")
	ServerCmd.Flags().BoolVar(&flagDev, "dev", false, "Run in dev mode with an in-memory store and seeded demo data")
}

func run(cmd *cobra.Command, args []string) error {
	var conf *config.Config
	if flagDev && configPath == "" {
		conf = devConfig()
	} else {
		if configPath == "" {
			return fmt.Errorf("config file path is required. Use -c or --config flag")
		}
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return fmt.Errorf("config file not found: %s", configPath)
		}

		var err error
		conf, err = config.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	}

	logger := buildLogger(conf)
	defer logger.Close()

	// Storage backend
	backend := storage.NewMemoryStorage()
	if err := backend.Init(cmd.Context()); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer backend.Stop()

	entities := storage.NewEntityStore(backend)
	users := storage.NewUserStore(backend)

	// Token codec
	key, err := protectionKey(conf, logger)
	if err != nil {
		return err
	}
	tokenTTL, err := conf.TokenTTL(token.DefaultCodecConfig().DefaultTTL)
	if err != nil {
		return err
	}
	codec, err := token.NewCodec(logger.WithSubsystem("token"), key, &token.CodecConfig{
		DefaultTTL:    tokenTTL,
		EnableMetrics: true,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize token codec: %w", err)
	}

	// Session store
	sessionConfig := session.DefaultStoreConfig()
	sessionConfig.TTL, err = conf.SessionTTL(sessionConfig.TTL)
	if err != nil {
		return err
	}
	if conf.Session != nil && conf.Session.AggregateBudget > 0 {
		sessionConfig.AggregateBudget = conf.Session.AggregateBudget
	}
	sessions, err := session.NewStore(logger.WithSubsystem("session"), sessionConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize session store: %w", err)
	}
	defer sessions.Close()

	// Row mutation guard
	guardConfig := guard.DefaultGuardConfig()
	guardConfig.MinInterval, err = conf.GuardMinInterval(guardConfig.MinInterval)
	if err != nil {
		return err
	}
	rowGuard := guard.NewRowGuard(logger.WithSubsystem("guard"), guardConfig)

	// Authorization gate
	gate := authorize.NewGate(sessions, logger.WithSubsystem("authorize"))

	// Audit device
	auditor, err := buildAuditor(conf, logger)
	if err != nil {
		return err
	}
	defer auditor.Close()

	if flagDev {
		if err := seedDevData(cmd.Context(), entities, users, logger); err != nil {
			return fmt.Errorf("failed to seed dev data: %w", err)
		}
	}

	props := &sentinelahttp.HandlerProperties{
		Codec:    codec,
		Gate:     gate,
		Guard:    rowGuard,
		Sessions: sessions,
		Entities: entities,
		Users:    users,
		Auditor:  auditor,
		Logger:   logger.WithSubsystem("http"),
		TokenTTL: tokenTTL,
	}

	listenerConf, err := conf.GetApiListener()
	if err != nil {
		return err
	}

	listener, err := api.NewApiListener(api.ApiListenerConfig{
		Logger:      logger.WithSubsystem("listener"),
		Address:     listenerConf.Address,
		TLSCertFile: listenerConf.TLSCertFile,
		TLSKeyFile:  listenerConf.TLSKeyFile,
		TLSEnabled:  listenerConf.TLSEnabled,
	}, props.Handler())
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("sentinela server ready",
		log.String("address", listener.Addr()),
		log.String("token_ttl", helper.FormatTTL(tokenTTL)),
		log.Bool("dev_mode", flagDev))

	return listener.Start(ctx)
}

func devConfig() *config.Config {
	return &config.Config{
		LogLevel:  "trace",
		LogFormat: "default",
		Listeners: []config.ListenerBlock{
			{Name: "api", Address: "127.0.0.1:8600"},
		},
		Guard: &config.GuardBlock{MinInterval: "2s"},
	}
}

func buildLogger(conf *config.Config) log.Logger {
	logConfig := log.DefaultConfig()
	logConfig.Level = log.ParseLogLevel(conf.LogLevel)
	logConfig.Format = log.ParseOutputFormat(conf.LogFormat)
	logConfig.Subsystem = "core"

	if conf.LogFile != "" {
		fileConfig := log.DefaultFileConfig(conf.LogFile)
		if conf.LogRotateMegabytes > 0 {
			fileConfig.MaxSize = conf.LogRotateMegabytes
		}
		if conf.LogRotateMaxFiles > 0 {
			fileConfig.MaxBackups = conf.LogRotateMaxFiles
		}
		logConfig.FileConfig = fileConfig
		logConfig.Environment = "production"
	}

	return log.NewZerologLogger(logConfig)
}

// protectionKey loads the token codec key from the configured key file, or
// generates an ephemeral one. An ephemeral key invalidates outstanding
// tokens on restart, which is acceptable for dev and single-instance use.
func protectionKey(conf *config.Config, logger log.Logger) ([]byte, error) {
	if conf.Token != nil && conf.Token.KeyFile != "" {
		raw, err := os.ReadFile(conf.Token.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read protection key file: %w", err)
		}
		key, err := hex.DecodeString(strings.TrimSpace(string(raw)))
		if err != nil {
			return nil, fmt.Errorf("protection key file must contain a hex-encoded key: %w", err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("protection key must be 32 bytes, got %d", len(key))
		}
		return key, nil
	}

	logger.Warn("no protection key file configured, generating an ephemeral key")
	return helper.GenerateProtectionKey(), nil
}

func buildAuditor(conf *config.Config, logger log.Logger) (audit.Auditor, error) {
	if conf.Audit == nil {
		logger.Warn("no audit block configured, security events will not be recorded")
		return audit.NopAuditor{}, nil
	}

	hmacKey := conf.Audit.HMACKey
	if hmacKey == "" {
		hmacKey = helper.GenerateRandomString(32)
	}

	auditConfig := audit.FileConfig{
		Path:       conf.Audit.Path,
		HMACKey:    hmacKey,
		MaxSizeMB:  conf.Audit.MaxSizeMB,
		MaxBackups: conf.Audit.MaxBackups,
	}
	if auditConfig.MaxSizeMB == 0 {
		auditConfig.MaxSizeMB = 100
	}
	if auditConfig.MaxBackups == 0 {
		auditConfig.MaxBackups = 10
	}

	return audit.NewFileAuditor(logger.WithSubsystem("audit"), auditConfig)
}
