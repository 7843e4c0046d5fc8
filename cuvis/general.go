package cuvis

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/charmbracelet/log"
)

// LogFileName is the file OpenLogFile creates inside its folder
const LogFileName = "cuvisSDK_go.log"

var pkgLogger atomic.Pointer[log.Logger]

func init() {
	pkgLogger.Store(log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "cuvis",
		Level:           log.InfoLevel,
	}))
}

// Logger returns the logger used by background loops and error reporting
func Logger() *log.Logger {
	return pkgLogger.Load()
}

// SetLogger replaces the package logger.  nil is ignored.
func SetLogger(l *log.Logger) {
	if l != nil {
		pkgLogger.Store(l)
	}
}

// goLevels maps native log levels onto the Go logger
var goLevels = [...]log.Level{
	LogFatal:   log.FatalLevel,
	LogError:   log.ErrorLevel,
	LogWarning: log.WarnLevel,
	LogInfo:    log.InfoLevel,
	LogDebug:   log.DebugLevel,
}

var _ = [1]struct{}{}[len(goLevels)-int(logLevelCount)]

// DefaultLogDir is ~/.cuvis, or the working directory if there is no home
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".cuvis")
}

// OpenLogFile creates dir if needed and points the package logger at
// dir/LogFileName in addition to stderr.  The returned closer closes the file
// and restores stderr-only logging.
func OpenLogFile(dir string) (io.Closer, error) {
	if dir == "" {
		dir = DefaultLogDir()
	}
	if err := os.MkdirAll(dir, 0777); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(dir, LogFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, err
	}
	prev := Logger()
	l := prev.With()
	l.SetOutput(io.MultiWriter(os.Stderr, f))
	SetLogger(l)
	return closerFunc(func() error {
		SetLogger(prev)
		return f.Close()
	}), nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// Library is an initialized native SDK.  It is the factory for every other
// wrapper in this package.
type Library struct {
	core
}

// Init initializes the native library with the settings folder holding the
// SDK's configuration and returns the Library bound to it
func Init(n Native, settingsPath string) (*Library, error) {
	if n == nil {
		return nil, errors.New("cuvis: nil native library")
	}
	c := core{n}
	if err := c.check(n.Init(settingsPath), "init"); err != nil {
		return nil, err
	}
	Logger().Info("native library initialized", "version", n.Version(), "settings", settingsPath)
	return &Library{core: c}, nil
}

// Version is the native library's version string
func (l *Library) Version() string {
	return l.Native.Version()
}

// SetLogLevel sets the native and Go log levels together.
// level is one of fatal, error, warning, info or debug.
func (l *Library) SetLogLevel(level string) error {
	lvl, err := ParseLogLevel(level)
	if err != nil {
		return err
	}
	if err = l.check(l.Native.SetLogLevel(lvl), "set_log_level"); err != nil {
		return err
	}
	Logger().SetLevel(goLevels[lvl])
	return nil
}

// Shutdown releases native global state.  Wrappers still open become unusable.
func (l *Library) Shutdown() error {
	return l.check(l.Native.Shutdown(), "shutdown")
}

func (l *Library) String() string {
	return fmt.Sprintf("cuvis %s", l.Native.Version())
}
