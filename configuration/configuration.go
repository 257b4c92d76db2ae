package configuration

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Configuration is a versioned blobstore configuration, intended to be provided by a yaml file, and
// optionally modified by environment variables.
//
// Note that yaml field names should never include _ characters, since this is the separator used
// in environment variable names.
type Configuration struct {
	// Version is the version which defines the format of the rest of the configuration
	Version Version `yaml:"version"`

	// Log supports setting various parameters related to the logging
	// subsystem.
	Log Log `yaml:"log"`

	// Storage is the object storage endpoint all operations run against.
	Storage BlobStorage `yaml:"storage"`

	// HTTP configures the client executing signed requests.
	HTTP HTTP `yaml:"http,omitempty"`

	// Redis configures the redis pool backing the presigned URI cache.
	Redis Redis `yaml:"redis,omitempty"`

	// URLCache configures caching of presigned URIs.
	URLCache URLCache `yaml:"urlcache,omitempty"`

	// Metrics configures the prometheus endpoint.
	Metrics Metrics `yaml:"metrics,omitempty"`
}

// Log configures the application logger.
type Log struct {
	// Level is the granularity at which operations are logged.
	// Options include "error", "warn", "info", "debug" and "trace". The
	// default is "info".
	Level Loglevel `yaml:"level,omitempty"`

	// Formatter overrides the default formatter with another. Options
	// include "text" and "json". The default is "json".
	Formatter logFormat `yaml:"formatter,omitempty"`

	// Output sets the output destination. Options include "stderr" and
	// "stdout". The default is "stdout".
	Output logOutput `yaml:"output,omitempty"`

	// Fields allows users to specify static string fields to include in
	// the logger context.
	Fields map[string]any `yaml:"fields,omitempty"`
}

// BlobStorage describes an S3-compatible endpoint and the credentials used
// to sign requests against it.
type BlobStorage struct {
	// Endpoint is the host, optionally with a port, of the object storage
	// service. Amazon endpoints such as s3.amazonaws.com switch requests to
	// virtual-hosted-style addressing.
	Endpoint string `yaml:"endpoint"`

	// Region is required for Amazon endpoints. Requests to other endpoints
	// are signed for us-east-1 when empty.
	Region string `yaml:"region,omitempty"`

	// UseSSL selects https on port 443.
	UseSSL bool `yaml:"usessl,omitempty"`

	AccessKeyID     string `yaml:"accesskeyid"`
	SecretAccessKey string `yaml:"secretaccesskey"`

	// PresignExpiry is the validity of shared file URIs. Defaults to one hour.
	PresignExpiry time.Duration `yaml:"presignexpiry,omitempty"`
}

// HTTP configures request execution.
type HTTP struct {
	// Timeout bounds a single attempt.
	Timeout time.Duration `yaml:"timeout,omitempty"`
	// MaxRetries is the number of retries after the first attempt for
	// transport errors and 5xx responses.
	MaxRetries uint64 `yaml:"maxretries,omitempty"`
	// Backoff is the initial interval between attempts.
	Backoff time.Duration `yaml:"backoff,omitempty"`
	// RateLimit caps signed requests per second. Zero disables limiting.
	RateLimit float64 `yaml:"ratelimit,omitempty"`
	// Burst is the number of requests allowed above RateLimit at once.
	Burst int `yaml:"burst,omitempty"`
}

// Redis configures the redis connection.
type Redis struct {
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// URLCache configures the presigned URI cache.
type URLCache struct {
	Enabled bool `yaml:"enabled,omitempty"`
	// MinURLValidity is the minimum remaining validity a cached URI must
	// have to be served.
	MinURLValidity time.Duration `yaml:"minurlvalidity,omitempty"`
	// DryRun computes and logs cache results but always serves fresh URIs.
	DryRun bool `yaml:"dryrun,omitempty"`
}

// Metrics configures the prometheus handler.
type Metrics struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Addr    string `yaml:"addr,omitempty"`
	Path    string `yaml:"path,omitempty"`
}

// Loglevel is the level at which operations are logged. This can be "error", "warn", "info", "debug" or "trace".
type Loglevel string

const (
	LogLevelError   Loglevel = "error"
	LogLevelWarn    Loglevel = "warn"
	LogLevelInfo    Loglevel = "info"
	LogLevelDebug   Loglevel = "debug"
	LogLevelTrace   Loglevel = "trace"
	defaultLogLevel          = LogLevelInfo
)

var logLevels = []Loglevel{
	LogLevelError,
	LogLevelWarn,
	LogLevelInfo,
	LogLevelDebug,
	LogLevelTrace,
}

// String implements the Stringer interface for Loglevel.
func (l Loglevel) String() string {
	return string(l)
}

func (l Loglevel) isValid() bool {
	for _, lvl := range logLevels {
		if l == lvl {
			return true
		}
	}
	return false
}

// UnmarshalYAML implements the yaml.Umarshaler interface for Loglevel, parsing it and validating that it represents a
// valid log level.
func (l *Loglevel) UnmarshalYAML(unmarshal func(any) error) error {
	var val string
	if err := unmarshal(&val); err != nil {
		return err
	}

	lvl := Loglevel(strings.ToLower(val))
	if !lvl.isValid() {
		return fmt.Errorf("invalid log level %q, must be one of %q", val, logLevels)
	}

	*l = lvl
	return nil
}

// logOutput is the output destination for logs. This can be either "stdout" or "stderr".
type logOutput string

const (
	LogOutputStdout  logOutput = "stdout"
	LogOutputStderr  logOutput = "stderr"
	LogOutputDiscard logOutput = "discard"
	defaultLogOutput           = LogOutputStdout
)

var logOutputs = []logOutput{LogOutputStdout, LogOutputStderr}

// String implements the Stringer interface for logOutput.
func (out logOutput) String() string {
	return string(out)
}

// Descriptor returns the writer of a log output.
func (out logOutput) Descriptor() io.Writer {
	switch out {
	case LogOutputStderr:
		return os.Stderr
	case LogOutputDiscard:
		return io.Discard
	default:
		return os.Stdout
	}
}

func (out logOutput) isValid() bool {
	for _, output := range logOutputs {
		if out == output {
			return true
		}
	}
	return false
}

// UnmarshalYAML implements the yaml.Umarshaler interface for logOutput.
func (out *logOutput) UnmarshalYAML(unmarshal func(any) error) error {
	var val string
	if err := unmarshal(&val); err != nil {
		return err
	}

	lo := logOutput(strings.ToLower(val))
	if !lo.isValid() {
		return fmt.Errorf("invalid log output %q, must be one of %q", lo, logOutputs)
	}

	*out = lo
	return nil
}

// logFormat is the format of the application logs output. This can be either "text" or "json".
type logFormat string

const (
	LogFormatText    logFormat = "text"
	LogFormatJSON    logFormat = "json"
	defaultLogFormat           = LogFormatJSON
)

var logFormats = []logFormat{
	LogFormatText,
	LogFormatJSON,
}

// String implements the Stringer interface for logFormat.
func (ft logFormat) String() string {
	return string(ft)
}

func (ft logFormat) isValid() bool {
	for _, formatter := range logFormats {
		if ft == formatter {
			return true
		}
	}
	return false
}

// UnmarshalYAML implements the yaml.Umarshaler interface for logFormat.
func (ft *logFormat) UnmarshalYAML(unmarshal func(any) error) error {
	var val string
	if err := unmarshal(&val); err != nil {
		return err
	}

	format := logFormat(strings.ToLower(val))
	if !format.isValid() {
		return fmt.Errorf("invalid log format %q, must be one of %q", format, logFormats)
	}

	*ft = format
	return nil
}

type parseOpts struct {
	noStorageRequired bool
}

// ParseOption is used to pass options to Parse.
type ParseOption func(*parseOpts)

// WithoutStorageValidation configures Parse to disable the storage parameters validation.
func WithoutStorageValidation() ParseOption {
	return func(opts *parseOpts) {
		opts.noStorageRequired = true
	}
}

// Parse parses an input configuration yaml document into a Configuration struct.
//
// Environment variables may be used to override configuration parameters other than version,
// following the scheme below:
// Configuration.Abc may be replaced by the value of BLOBSTORE_ABC,
// Configuration.Abc.Xyz may be replaced by the value of BLOBSTORE_ABC_XYZ, and so forth
func Parse(rd io.Reader, opts ...ParseOption) (*Configuration, error) {
	options := parseOpts{}
	for _, v := range opts {
		v(&options)
	}

	in, err := io.ReadAll(rd)
	if err != nil {
		return nil, err
	}

	p := newParser(envPrefix)

	config := new(Configuration)
	if err := p.parse(in, config); err != nil {
		return nil, err
	}

	ApplyDefaults(config)

	if err := config.validate(options); err != nil {
		return nil, err
	}

	return config, nil
}

const (
	envPrefix                = "blobstore"
	defaultPresignExpiry     = time.Hour
	defaultHTTPTimeout       = 30 * time.Second
	defaultHTTPMaxRetries    = 3
	defaultHTTPBackoff       = 100 * time.Millisecond
	defaultMetricsPath       = "/metrics"
	defaultMetricsAddr       = ":9090"
	defaultMinURLValidity    = 10 * time.Minute
	defaultRedisAddr         = "localhost:6379"
	maxPresignExpiry         = 7 * 24 * time.Hour
	errNoStorageEndpointText = "no storage configuration provided"
)

// ApplyDefaults fills in every unset optional parameter.
func ApplyDefaults(config *Configuration) {
	if config.Log.Level == "" {
		config.Log.Level = defaultLogLevel
	}
	if config.Log.Output == "" {
		config.Log.Output = defaultLogOutput
	}
	if config.Log.Formatter == "" {
		config.Log.Formatter = defaultLogFormat
	}
	if config.Storage.PresignExpiry == 0 {
		config.Storage.PresignExpiry = defaultPresignExpiry
	}
	if config.HTTP.Timeout == 0 {
		config.HTTP.Timeout = defaultHTTPTimeout
	}
	if config.HTTP.MaxRetries == 0 {
		config.HTTP.MaxRetries = defaultHTTPMaxRetries
	}
	if config.HTTP.Backoff == 0 {
		config.HTTP.Backoff = defaultHTTPBackoff
	}
	if config.HTTP.RateLimit > 0 && config.HTTP.Burst == 0 {
		config.HTTP.Burst = 1
	}
	if config.Metrics.Enabled {
		if config.Metrics.Path == "" {
			config.Metrics.Path = defaultMetricsPath
		}
		if config.Metrics.Addr == "" {
			config.Metrics.Addr = defaultMetricsAddr
		}
	}
	if config.URLCache.Enabled {
		if config.URLCache.MinURLValidity == 0 {
			config.URLCache.MinURLValidity = defaultMinURLValidity
		}
		if config.Redis.Addr == "" {
			config.Redis.Addr = defaultRedisAddr
		}
	}
}

func (config *Configuration) validate(opts parseOpts) error {
	var errs *multierror.Error

	if !opts.noStorageRequired && config.Storage.Endpoint == "" {
		errs = multierror.Append(errs, errors.New(errNoStorageEndpointText))
	}
	if config.Storage.PresignExpiry < 0 || config.Storage.PresignExpiry > maxPresignExpiry {
		errs = multierror.Append(errs, fmt.Errorf("storage presign expiry %s must be between 0 and %s", config.Storage.PresignExpiry, maxPresignExpiry))
	}
	if config.HTTP.Timeout < 0 {
		errs = multierror.Append(errs, fmt.Errorf("http timeout %s must not be negative", config.HTTP.Timeout))
	}
	if config.HTTP.RateLimit < 0 || config.HTTP.Burst < 0 {
		errs = multierror.Append(errs, fmt.Errorf("http ratelimit %g and burst %d must not be negative", config.HTTP.RateLimit, config.HTTP.Burst))
	}
	if config.URLCache.Enabled && config.URLCache.MinURLValidity >= config.Storage.PresignExpiry {
		errs = multierror.Append(errs, fmt.Errorf(
			"urlcache minimum URL validity %s must be lower than the storage presign expiry %s",
			config.URLCache.MinURLValidity, config.Storage.PresignExpiry,
		))
	}
	if config.Redis.DB < 0 {
		errs = multierror.Append(errs, fmt.Errorf("redis db %d must not be negative", config.Redis.DB))
	}

	return errs.ErrorOrNil()
}
