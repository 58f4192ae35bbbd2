// Package logger пишет логи асинхронно с префиксом сервиса, чтобы не блокировать
// обработчики соединений. Бэкенд: logrus; уровень берётся из LOG_LEVEL.
package logger

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

const asyncBufferSize = 8192

type entry struct {
	level  logrus.Level
	msg    string
	fields logrus.Fields
	prefix string
}

var (
	prefix atomic.Value // string
	base   = logrus.New()
	ch     chan entry
	once   sync.Once
)

func initWorker() {
	base.SetOutput(os.Stdout)
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	applyLevel(os.Getenv("LOG_LEVEL"))
	ch = make(chan entry, asyncBufferSize)
	go func() {
		for e := range ch {
			l := base.WithFields(e.fields)
			if e.prefix != "" {
				l = l.WithField("service", e.prefix)
			}
			l.Log(e.level, e.msg)
		}
	}()
}

func enqueue(level logrus.Level, msg string, fields logrus.Fields) {
	once.Do(initWorker)
	if !base.IsLevelEnabled(level) {
		return
	}
	select {
	case ch <- newEntry(level, msg, fields):
	default:
		// buffer full: drop rather than block a connection handler
	}
}

// newEntry фиксирует префикс в момент вызова, воркер читает только entry.
func newEntry(level logrus.Level, msg string, fields logrus.Fields) entry {
	p, _ := prefix.Load().(string)
	return entry{level: level, msg: msg, fields: fields, prefix: p}
}

// SetPrefix задаёт имя сервиса для всех последующих записей.
func SetPrefix(p string) {
	prefix.Store(p)
}

// SetLevel accepts logrus level names; "trace" and unknown values fall back to debug and info.
func SetLevel(lvl string) {
	once.Do(initWorker)
	applyLevel(lvl)
}

func applyLevel(lvl string) {
	switch lvl {
	case "debug", "trace":
		base.SetLevel(logrus.DebugLevel)
	case "warn", "warning":
		base.SetLevel(logrus.WarnLevel)
	case "error":
		base.SetLevel(logrus.ErrorLevel)
	default:
		base.SetLevel(logrus.InfoLevel)
	}
}

func Info(v ...any) { enqueue(logrus.InfoLevel, fmt.Sprint(v...), nil) }

func Infof(format string, v ...any) { enqueue(logrus.InfoLevel, fmt.Sprintf(format, v...), nil) }

func Debugf(format string, v ...any) { enqueue(logrus.DebugLevel, fmt.Sprintf(format, v...), nil) }

func Warnf(format string, v ...any) { enqueue(logrus.WarnLevel, fmt.Sprintf(format, v...), nil) }

func Error(v ...any) { enqueue(logrus.ErrorLevel, fmt.Sprint(v...), nil) }

func Errorf(format string, v ...any) { enqueue(logrus.ErrorLevel, fmt.Sprintf(format, v...), nil) }

// Event logs msg with structured fields at info level.
func Event(msg string, fields map[string]any) {
	enqueue(logrus.InfoLevel, msg, logrus.Fields(fields))
}

// LogDuration логирует время выполнения fn. На уровне info: только вызовы дольше 100ms.
func LogDuration(fn string, start time.Time) {
	elapsed := time.Since(start)
	if base.IsLevelEnabled(logrus.DebugLevel) || elapsed >= 100*time.Millisecond {
		enqueue(logrus.InfoLevel, "timing", logrus.Fields{"fn": fn, "duration_ms": elapsed.Milliseconds()})
	}
}

// DeferLogDuration: defer logger.DeferLogDuration("hub.Dispatch", time.Now())().
func DeferLogDuration(fn string, start time.Time) func() {
	return func() { LogDuration(fn, start) }
}
