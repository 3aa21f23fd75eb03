package logsvc

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/trezcool/masomo-dash/core"
)

// exitFunc is called after a Fatal entry has been written.
var exitFunc = os.Exit

type ConsoleLogger struct {
	zl zerolog.Logger
}

var _ core.Logger = (*ConsoleLogger)(nil)

// NewConsoleLogger writes to w: human readable lines in debug mode, JSON lines otherwise.
func NewConsoleLogger(w io.Writer, conf *core.Config, component string) *ConsoleLogger {
	level := zerolog.InfoLevel
	if conf.Debug {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
		level = zerolog.DebugLevel
	}
	zl := zerolog.New(w).Level(level).With().
		Timestamp().
		Str("app", conf.AppName).
		Str("component", component).
		Logger()
	return &ConsoleLogger{zl: zl}
}

// expected args: error, map[string]interface{} or any printable value
func (l ConsoleLogger) log(evt *zerolog.Event, msg string, args []interface{}) {
	for i, arg := range args {
		switch a := arg.(type) {
		case error:
			evt = evt.AnErr(fmt.Sprintf("error%s", suffix(i)), a)
		case map[string]interface{}:
			evt = evt.Fields(a)
		default:
			evt = evt.Interface(fmt.Sprintf("arg%d", i), a)
		}
	}
	evt.Msg(msg)
}

func suffix(i int) string {
	if i == 0 {
		return ""
	}
	return fmt.Sprint(i)
}

func (l ConsoleLogger) Debug(msg string, args ...interface{}) {
	l.log(l.zl.Debug(), msg, args)
}

func (l ConsoleLogger) Info(msg string, args ...interface{}) {
	l.log(l.zl.Info(), msg, args)
}

func (l ConsoleLogger) Warn(msg string, args ...interface{}) {
	l.log(l.zl.Warn(), msg, args)
}

func (l ConsoleLogger) Error(msg string, args ...interface{}) {
	l.log(l.zl.Error(), msg, args)
}

func (l ConsoleLogger) Fatal(msg string, args ...interface{}) {
	l.log(l.zl.WithLevel(zerolog.FatalLevel), msg, args)
	exitFunc(1)
}
