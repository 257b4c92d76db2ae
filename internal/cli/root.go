// Package cli implements the blobctl command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/imilosk/blobstore/configuration"
	iredis "github.com/imilosk/blobstore/internal/redis"
	"github.com/imilosk/blobstore/log"
	"github.com/imilosk/blobstore/metrics"
	"github.com/imilosk/blobstore/storage"
	"github.com/imilosk/blobstore/storage/s3"
	"github.com/imilosk/blobstore/storage/urlcache"
	"github.com/imilosk/blobstore/version"
)

const (
	envPrefix = "blobctl"
	configKey = "config"

	shutdownTimeout = 5 * time.Second
)

func init() {
	RootCmd.AddCommand(ParseCmd)
	RootCmd.AddCommand(SignCmd)
	RootCmd.AddCommand(GetCmd)
	RootCmd.AddCommand(StatCmd)
	RootCmd.AddCommand(PutCmd)
	RootCmd.AddCommand(PresignCmd)
	RootCmd.AddCommand(MakeBucketCmd)
	RootCmd.AddCommand(VersionCmd)

	RootCmd.Flags().BoolVarP(&showVersion, "version", "v", false, "show the version and exit")
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the configuration file, also read from BLOBCTL_CONFIG")

	SignCmd.Flags().StringVarP(&method, "method", "X", http.MethodGet, "HTTP method to sign")
	SignCmd.Flags().StringVarP(&versionID, "version-id", "", "", "sign a request for this object version")
	SignCmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "additional header to sign, as `name:value`")
	SignCmd.Flags().StringVarP(&signTime, "time", "t", "", "signing time in RFC 3339 format (now by default)")

	GetCmd.Flags().StringVarP(&versionID, "version-id", "", "", "download this object version")
	GetCmd.Flags().BoolVarP(&decompress, "decompress", "d", false, "decompress the object if it is in a known compression format")
	GetCmd.Flags().StringVarP(&verifyDigest, "verify", "", "", "fail unless the object content matches this digest, e.g. sha256:<hex>")
	GetCmd.Flags().BoolVarP(&showProgress, "progress", "p", false, "show a progress bar on stderr")

	StatCmd.Flags().StringVarP(&versionID, "version-id", "", "", "stat this object version")

	PutCmd.Flags().StringVarP(&contentType, "content-type", "", "", "content type of the object (guessed from the file extension by default)")
	PutCmd.Flags().BoolVarP(&showProgress, "progress", "p", false, "show a progress bar on stderr")

	PresignCmd.Flags().StringVarP(&contentType, "content-type", "", "", "content type served with the object")

	MakeBucketCmd.Flags().BoolVarP(&versioning, "versioning", "", false, "enable versioning on the bucket")

	RootCmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return fmt.Errorf("%w\n\n%s", err, c.UsageString())
	})

	viper.SetEnvPrefix(envPrefix)
	viper.AutomaticEnv()
	if err := viper.BindPFlag(configKey, RootCmd.PersistentFlags().Lookup("config")); err != nil {
		panic(err)
	}
}

// Command flag vars
var (
	configPath   string
	contentType  string
	decompress   bool
	headers      []string
	method       string
	showProgress bool
	showVersion  bool
	signTime     string
	verifyDigest string
	versionID    string
	versioning   bool
)

// RootCmd is the main command for the 'blobctl' binary.
var RootCmd = &cobra.Command{
	Use:           "blobctl",
	Short:         "`blobctl` reads and writes objects in S3-compatible storage",
	Long:          "`blobctl` reads and writes objects in S3-compatible storage",
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if showVersion {
			version.FprintVersion(cmd.OutOrStdout())
			return nil
		}
		return cmd.Usage()
	},
}

func resolveConfiguration(opts ...configuration.ParseOption) (*configuration.Configuration, error) {
	configurationPath := viper.GetString(configKey)
	if configurationPath == "" {
		return nil, errors.New("configuration path unspecified")
	}

	// nolint: gosec
	fp, err := os.Open(configurationPath)
	if err != nil {
		return nil, err
	}
	defer fp.Close()

	config, err := configuration.Parse(fp, opts...)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", configurationPath, err)
	}

	return config, nil
}

// environment is the state shared by the commands talking to storage.
type environment struct {
	ctx     context.Context
	config  *configuration.Configuration
	logger  log.Logger
	metrics *http.Server
}

// setup resolves the configuration, configures logging and starts the
// metrics server when enabled. Logs configured for stdout go to the
// command's stderr, stdout carries command output.
func setup(cmd *cobra.Command) (*environment, error) {
	config, err := resolveConfiguration()
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}

	output := config.Log.Output.Descriptor()
	if output == os.Stdout {
		output = cmd.ErrOrStderr()
	}

	logger, err := log.Configure(log.Options{
		Level:     config.Log.Level.String(),
		Formatter: config.Log.Formatter.String(),
		Output:    output,
		Fields:    config.Log.Fields,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to configure logging with config: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = log.WithLogger(ctx, logger)

	env := &environment{
		ctx:    ctx,
		config: config,
		logger: logger.WithField("component", "cmd"),
	}

	resolveCredentials(ctx, &config.Storage)

	if config.Metrics.Enabled {
		env.metrics = metrics.NewServer(config.Metrics.Addr, config.Metrics.Path, prometheus.DefaultGatherer, log.Writer(logger))
		go func() {
			env.logger.WithField("address", config.Metrics.Addr).Info("metrics server listening")
			if err := env.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				env.logger.WithError(err).Error("metrics server stopped")
			}
		}()
	}

	return env, nil
}

func (env *environment) close() {
	if env.metrics == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := env.metrics.Shutdown(ctx); err != nil {
		env.logger.WithError(err).Warn("shutting down metrics server")
	}
}

func (env *environment) storage() (*s3.Storage, error) {
	opts := []s3.Option{s3.WithDoer(s3.NewExecutor(env.config.HTTP))}
	if env.config.Log.Level == configuration.LogLevelTrace {
		opts = append(opts, s3.WithTrace(log.Writer(env.logger)))
	}

	st, err := s3.New(env.config.Storage, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to construct storage: %w", err)
	}
	return st, nil
}

// sharer returns the backend serving shared file URIs, cached in Redis when
// the URL cache is enabled. The returned func releases the Redis client.
func (env *environment) sharer(st *s3.Storage) (storage.BlobStorage, func(), error) {
	if !env.config.URLCache.Enabled {
		return st, func() {}, nil
	}

	client := iredis.NewClient(env.config.Redis)
	cache := iredis.NewCache(client)

	uc, err := urlcache.New(st, cache, env.config.URLCache, st.PresignExpiry())
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to construct URL cache: %w", err)
	}

	return uc, func() { _ = client.Close() }, nil
}
