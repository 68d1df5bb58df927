package logger

import (
	"encoding/json"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Format selects how a log record is rendered.
type Format int32

const (
	FormatText Format = iota
	FormatJSON
)

var (
	currentLevel  atomic.Int32
	currentFormat atomic.Int32

	mu     sync.Mutex
	logger = stdlog.New(os.Stdout, "", 0)
	closer io.Closer
)

func init() {
	currentLevel.Store(int32(LevelInfo))
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// SetLevel sets the minimum level by name. Unknown names are ignored.
func SetLevel(level string) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		currentLevel.Store(int32(LevelDebug))
	case "INFO":
		currentLevel.Store(int32(LevelInfo))
	case "WARN":
		currentLevel.Store(int32(LevelWarn))
	case "ERROR":
		currentLevel.Store(int32(LevelError))
	}
}

// GetLevel returns the active minimum level.
func GetLevel() Level {
	return Level(currentLevel.Load())
}

// SetFormat switches between "text" and "json" output. Unknown names are ignored.
func SetFormat(format string) {
	switch strings.ToLower(format) {
	case "text":
		currentFormat.Store(int32(FormatText))
	case "json":
		currentFormat.Store(int32(FormatJSON))
	}
}

// SetOutput redirects log output to "stdout", "stderr" or a file path.
// A previously opened log file is closed.
func SetOutput(output string) error {
	var (
		w io.Writer
		c io.Closer
	)

	switch strings.ToLower(output) {
	case "", "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", output, err)
		}
		w, c = f, f
	}

	SetWriter(w)

	mu.Lock()
	prev := closer
	closer = c
	mu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}
	return nil
}

// SetWriter redirects log output to w. Mostly useful in tests.
func SetWriter(w io.Writer) {
	mu.Lock()
	logger = stdlog.New(w, "", 0)
	mu.Unlock()
}

type record struct {
	Time    string `json:"time"`
	Level   string `json:"level"`
	Message string `json:"msg"`
}

func log(level Level, format string, v ...any) {
	if level < GetLevel() {
		return
	}

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	message := fmt.Sprintf(format, v...)

	var line string
	if Format(currentFormat.Load()) == FormatJSON {
		b, err := json.Marshal(record{Time: timestamp, Level: level.String(), Message: message})
		if err != nil {
			return
		}
		line = string(b)
	} else {
		line = fmt.Sprintf("[%s] [%s] %s", timestamp, level.String(), message)
	}

	mu.Lock()
	l := logger
	mu.Unlock()
	l.Println(line)
}

func Debug(format string, v ...any) {
	log(LevelDebug, format, v...)
}

func Info(format string, v ...any) {
	log(LevelInfo, format, v...)
}

func Warn(format string, v ...any) {
	log(LevelWarn, format, v...)
}

func Error(format string, v ...any) {
	log(LevelError, format, v...)
}
