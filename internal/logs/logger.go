package logs

import (
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync"
)

// Logger writes lines tagged with the file, line and function of the caller.
// Debug lines are written only when Verbose is set; this is how the
// diagnostics toggle reaches the components that need it.
type Logger struct {
	Writer  io.Writer
	Verbose bool
	mutex   sync.Mutex
}

func findInternalPrefix() string {
	pc := make([]uintptr, 15)
	n := runtime.Callers(1, pc)
	frames := runtime.CallersFrames(pc[:n])
	frame, _ := frames.Next()
	file := frame.File
	return strings.TrimSuffix(file, "internal/logs/logger.go")
}

var internalPrefix = findInternalPrefix()

func (l *Logger) WriteString(s string) (int, error) {
	// callers == 4: WriteString -> logIn -> runtime.Callers, plus io.WriteString
	l.logIn(s, 4)
	return len(s), nil
}

func (l *Logger) Write(p []byte) (int, error) {
	l.logIn(string(p), 3)
	return len(p), nil
}

func (l *Logger) Log(s string) {
	l.logIn(s, 3)
}

func (l *Logger) Logf(format string, args ...interface{}) {
	l.logIn(fmt.Sprintf(format, args...), 3)
}

// Debugf logs only in verbose mode.
func (l *Logger) Debugf(format string, args ...interface{}) {
	if l == nil || !l.Verbose {
		return
	}
	l.logIn(fmt.Sprintf(format, args...), 3)
}

func (l *Logger) logIn(s string, callers int) {
	if l == nil || l.Writer == nil {
		return
	}
	s = strings.TrimSuffix(s, "\n")
	pc := make([]uintptr, 15)
	n := runtime.Callers(callers, pc)
	frames := runtime.CallersFrames(pc[:n])
	frame, _ := frames.Next()
	file := frame.File
	file = strings.TrimPrefix(file, internalPrefix)
	function := frame.Function
	function = strings.TrimPrefix(function, "github.com/qdl-go/qdl/")
	r := fmt.Sprintf("[%s %d %s]", file, frame.Line, function)
	l.println(r + " " + s)
}

func (l *Logger) println(s string) {
	l.mutex.Lock()
	defer func() {
		l.mutex.Unlock()
	}()
	long := []byte(s + "\n")
	_, err := l.Writer.Write(long)
	if err != nil {
		// give up, just print on stdout
		fmt.Println(err)
	}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return &Logger{Writer: io.Discard}
}
