package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/soft-stech/cluster-harness/contrib/restclient"
	"github.com/soft-stech/cluster-harness/harness"
	"github.com/soft-stech/cluster-harness/nodeapi"
	"github.com/soft-stech/cluster-harness/pkg/webapi"
)

var rootCmd = &cobra.Command{
	Use:   "cluster-harness",
	Short: "An orchestrator for driving a cluster under test",

	Run: func(cmd *cobra.Command, args []string) {
		startHarness()
	},
}

var cfgFile string
var watchCfgFile bool

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "specifies a config file to load")
	rootCmd.Flags().BoolVar(&watchCfgFile, "watch-config", false, "indicates whether to watch the config file for changes")

	configFlags := pflag.NewFlagSet("", pflag.ContinueOnError)
	configFlags.String("log-level", "info", "the log level to run at")
	configFlags.String("manager-addr", "http://localhost:8000", "the base URL of the cluster manager control plane")
	configFlags.Int("node-api-port", nodeapi.DefaultPort, "the admin REST port of the cluster nodes")
	configFlags.String("bind-address", "0.0.0.0", "the local address to bind to")
	configFlags.Int("web-port", 9091, "the web metrics/health port")
	configFlags.Duration("wait-timeout", time.Minute, "how long to wait for the manager and cluster to come up")
	configFlags.Duration("status-interval", 30*time.Second, "how often to log the cluster status")
	rootCmd.Flags().AddFlagSet(configFlags)

	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.SetEnvPrefix("ch")
	viper.AutomaticEnv()

	_ = viper.BindPFlags(configFlags)
}

func getLogger() (zap.AtomicLevel, *zap.Logger) {
	logLevel := zap.NewAtomicLevel()
	logConfig := zap.NewProductionEncoderConfig()
	logConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	jsonEncoder := zapcore.NewJSONEncoder(logConfig)
	core := zapcore.NewTee(
		zapcore.NewCore(jsonEncoder, zapcore.AddSync(os.Stdout), logLevel),
	)
	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	return logLevel, logger
}

type config struct {
	logLevelStr    string
	managerAddr    string
	nodeAPIPort    int
	bindAddress    string
	webPort        int
	waitTimeout    time.Duration
	statusInterval time.Duration
}

func readConfig(logger *zap.Logger) *config {
	config := &config{
		logLevelStr:    viper.GetString("log-level"),
		managerAddr:    viper.GetString("manager-addr"),
		nodeAPIPort:    viper.GetInt("node-api-port"),
		bindAddress:    viper.GetString("bind-address"),
		webPort:        viper.GetInt("web-port"),
		waitTimeout:    viper.GetDuration("wait-timeout"),
		statusInterval: viper.GetDuration("status-interval"),
	}

	logger.Info("parsed harness configuration",
		zap.String("logLevelStr", config.logLevelStr),
		zap.String("managerAddr", config.managerAddr),
		zap.Int("nodeAPIPort", config.nodeAPIPort),
		zap.String("bindAddress", config.bindAddress),
		zap.Int("webPort", config.webPort),
		zap.Duration("waitTimeout", config.waitTimeout),
		zap.Duration("statusInterval", config.statusInterval))

	return config
}

func startHarness() {
	logLevel, logger := getLogger()

	logger.Info("starting cluster-harness")

	logger.Info("parsed launch configuration",
		zap.String("config", cfgFile),
		zap.Bool("watch-config", watchCfgFile))

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		err := viper.ReadInConfig()
		if err != nil {
			logger.Panic("failed to load specified config file", zap.Error(err))
		}
	}

	config := readConfig(logger)

	parsedLogLevel, err := zapcore.ParseLevel(config.logLevelStr)
	if err != nil {
		logger.Warn("invalid log level specified, using INFO instead")
		parsedLogLevel = zapcore.InfoLevel
	}
	logLevel.SetLevel(parsedLogLevel)

	webListenAddress := fmt.Sprintf("%s:%v", config.bindAddress, config.webPort)
	webapi.InitializeWebServer(webapi.WebServerOptions{
		Logger:        logger,
		LogLevel:      &logLevel,
		ListenAddress: webListenAddress,
	})

	manager, err := harness.NewManager(&harness.Options{
		ControlPlane: restclient.NewClient(&restclient.Options{
			BaseURL: config.managerAddr,
			Logger:  logger.Named("controlplane"),
		}),
		NodeAPI: nodeapi.NewClient(&nodeapi.Options{
			Port:   config.nodeAPIPort,
			Logger: logger.Named("nodeapi"),
		}),
		Logger: logger.Named("harness"),
	})
	if err != nil {
		logger.Error("failed to initialize the harness", zap.Error(err))
		os.Exit(1)
	}

	var configLock sync.Mutex
	reloadConfiguration := func() {
		configLock.Lock()
		defer configLock.Unlock()

		err := viper.ReadInConfig()
		if err != nil {
			logger.Warn("failed to parse configuration file",
				zap.Error(err))
		}

		newConfig := readConfig(logger)

		if newConfig.managerAddr != config.managerAddr ||
			newConfig.nodeAPIPort != config.nodeAPIPort {
			logger.Warn("config changes for managerAddr or nodeAPIPort require a restart")
		}

		if newConfig.bindAddress != config.bindAddress ||
			newConfig.webPort != config.webPort {
			logger.Warn("config changes for bindAddress or webPort require a restart")
		}

		if newConfig.logLevelStr != config.logLevelStr {
			newParsedLogLevel, err := zapcore.ParseLevel(newConfig.logLevelStr)
			if err != nil {
				logger.Warn("invalid log level specified, using INFO instead")
				newParsedLogLevel = zapcore.InfoLevel
			}

			logLevel.SetLevel(newParsedLogLevel)

			logger.Info("updated log level",
				zap.String("newLevel", newParsedLogLevel.String()))
		}

		config = newConfig
	}

	if watchCfgFile {
		viper.OnConfigChange(func(in fsnotify.Event) {
			logger.Info("configuration file change detected")
			reloadConfiguration()
		})

		go viper.WatchConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		sigCh := make(chan os.Signal, 10)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

		hasReceivedSigInt := false
		for sig := range sigCh {
			if sig == syscall.SIGINT {
				if hasReceivedSigInt {
					logger.Info("Received SIGINT a second time, terminating...")
					os.Exit(1)
				} else {
					logger.Info("Received SIGINT, attempting graceful shutdown...")
					hasReceivedSigInt = true
					cancel()
				}
			} else if sig == syscall.SIGTERM {
				logger.Info("Received SIGTERM, attempting graceful shutdown...")
				cancel()
			} else if sig == syscall.SIGHUP {
				logger.Info("Received SIGHUP, reloading configuration...")
				reloadConfiguration()
			}
		}
	}()

	logger.Info("waiting for the cluster to come up",
		zap.Duration("timeout", config.waitTimeout))

	if err := manager.WaitUntilReady(ctx, config.waitTimeout); err != nil {
		logger.Error("cluster did not come up in time", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("cluster is up, watching status")

	ticker := time.NewTicker(config.statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			manager.DriverClose()
			logger.Info("harness shutdown gracefully")
			return
		case <-ticker.C:
			logStatus(ctx, logger, manager)
		}
	}
}

func logStatus(ctx context.Context, logger *zap.Logger, manager *harness.Manager) {
	servers, err := manager.RunningServers(ctx)
	if err != nil {
		logger.Warn("failed to fetch running servers", zap.Error(err))
		return
	}

	dirty, err := manager.IsDirty(ctx)
	if err != nil {
		logger.Warn("failed to fetch cluster dirty flag", zap.Error(err))
		return
	}

	names := make([]string, 0, len(servers))
	for _, info := range servers {
		names = append(names, info.String())
	}

	logger.Info("cluster status",
		zap.Strings("servers", names),
		zap.Bool("dirty", dirty))
}

func main() {
	cobra.CheckErr(rootCmd.Execute())
}
