// Package options contains the CLI flags and helpers shared by the
// coordinator's commands: config file selection and logging.
package options

import (
	"fmt"
	"net/url"
	"os"
	"runtime"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/commerceblock/guardnode-coordinator/pkg/config"
)

// ConfigFile is a flag for commands that load the coordinator's
// configuration file.
var ConfigFile = &cli.StringFlag{
	Name:     "config-file",
	Aliases:  []string{"c"},
	Usage:    "Path to the coordinator configuration file",
	Required: true,
}

// Debug is a flag that overrides the configured log level to debug.
var Debug = &cli.BoolFlag{
	Name:    "debug",
	Aliases: []string{"d"},
	Usage:   "Enable debug logging, overrides configuration",
}

// ForceTimestampLogs enables timestamped log entries even when stdout is
// not a terminal.
var ForceTimestampLogs = &cli.BoolFlag{
	Name:  "force-timestamp-logs",
	Usage: "Enable timestamps for log entries",
}

// GetConfigFromContext loads and validates the configuration file named by
// --config-file.
func GetConfigFromContext(ctx *cli.Context) (config.Config, error) {
	return config.LoadFile(ctx.String(ConfigFile.Name))
}

var (
	_winfileSinkRegistered bool
	_winfileSinkCloser     func() error
)

// HandleLoggingParams builds the process logger: zap's production config with caller/stacktrace disabled, the
// encoding from cfg.LogEncoding ("console" when unset), ISO8601 timestamps
// only when attached to a TTY (or forced), and a live AtomicLevel so SIGHUP
// can change verbosity without a restart.
func HandleLoggingParams(ctx *cli.Context, cfg config.Logging) (*zap.Logger, *zap.AtomicLevel, func() error, error) {
	var (
		level    = zapcore.InfoLevel
		encoding = "console"
		err      error
	)
	if len(cfg.LogLevel) > 0 {
		level, err = zapcore.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("log setting: %w", err)
		}
	}
	if len(cfg.LogEncoding) > 0 {
		encoding = cfg.LogEncoding
	}
	if ctx != nil && ctx.Bool(Debug.Name) {
		level = zapcore.DebugLevel
	}

	cc := zap.NewProductionConfig()
	cc.DisableCaller = true
	cc.DisableStacktrace = true
	cc.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	cc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	if term.IsTerminal(int(os.Stdout.Fd())) || (ctx != nil && ctx.Bool(ForceTimestampLogs.Name)) {
		cc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		cc.EncoderConfig.EncodeTime = func(t time.Time, encoder zapcore.PrimitiveArrayEncoder) {}
	}
	cc.Encoding = encoding
	cc.Level = zap.NewAtomicLevelAt(level)
	cc.Sampling = nil

	if logPath := cfg.LogPath; logPath != "" {
		if err := os.MkdirAll(dirOf(logPath), 0o755); err != nil {
			return nil, nil, nil, fmt.Errorf("create log directory: %w", err)
		}

		if runtime.GOOS == "windows" {
			if !_winfileSinkRegistered {
				err := zap.RegisterSink("winfile", func(u *url.URL) (zap.Sink, error) {
					if u.User != nil {
						return nil, fmt.Errorf("user and password not allowed with file URLs: got %v", u)
					}
					switch u.Path {
					case "stdout":
						return os.Stdout, nil
					case "stderr":
						return os.Stderr, nil
					}
					f, err := os.OpenFile(u.Path[1:], os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
					_winfileSinkCloser = func() error {
						_winfileSinkCloser = nil
						return f.Close()
					}
					return f, err
				})
				if err != nil {
					return nil, nil, nil, fmt.Errorf("failed to register windows-specific sink: %w", err)
				}
				_winfileSinkRegistered = true
			}
			logPath = "winfile:///" + logPath
		}

		cc.OutputPaths = []string{logPath}
	}

	log, err := cc.Build()
	return log, &cc.Level, _winfileSinkCloser, err
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
