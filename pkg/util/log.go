package util

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is shared by every package in the daemon and the CLI.
var Logger = logrus.New()

var textFormatter = &logrus.TextFormatter{
	FullTimestamp:   true,
	TimestampFormat: "2006-01-02 15:04:05",
}

var jsonFormatter = &logrus.JSONFormatter{
	TimestampFormat: "2006-01-02T15:04:05Z07:00",
}

func init() {
	Logger.SetOutput(os.Stderr)
	Logger.SetLevel(logrus.InfoLevel)
	Logger.SetFormatter(textFormatter)
}

// SetLogLevel accepts any level name logrus understands.
func SetLogLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	Logger.SetLevel(lvl)
	return nil
}

// Configure applies a level and a format ("text" or "json") in one step.
// An empty level leaves the current one in place; a nil out keeps stderr.
func Configure(level, format string, out io.Writer) error {
	if level != "" {
		if err := SetLogLevel(level); err != nil {
			return fmt.Errorf("log level: %w", err)
		}
	}
	switch format {
	case "", "text":
		Logger.SetFormatter(textFormatter)
	case "json":
		Logger.SetFormatter(jsonFormatter)
	default:
		return fmt.Errorf("log format %q: expected text or json", format)
	}
	if out != nil {
		Logger.SetOutput(out)
	}
	return nil
}

// WithField returns an entry carrying one field.
func WithField(key string, value interface{}) *logrus.Entry {
	return Logger.WithField(key, value)
}

// WithFields returns an entry carrying several fields.
func WithFields(fields map[string]interface{}) *logrus.Entry {
	return Logger.WithFields(fields)
}

// WithCircuit tags log lines with a circuit id.
func WithCircuit(circuitID string) *logrus.Entry {
	return Logger.WithField("circuit", circuitID)
}

// WithSwitch tags log lines with a datapath id.
func WithSwitch(dpid string) *logrus.Entry {
	return Logger.WithField("dpid", dpid)
}

func Debugf(format string, args ...interface{}) { Logger.Debugf(format, args...) }
func Infof(format string, args ...interface{})  { Logger.Infof(format, args...) }
func Warnf(format string, args ...interface{})  { Logger.Warnf(format, args...) }
