package log

import (
	"fmt"
	"io"
	"log"
	"sync"
)

// stdLogger is the bootstrap Logger installed before main wires up
// NewProductionZap; it writes plain lines via the standard "log"
// package so early startup (flag parsing, config load failures) is
// never silent.
type stdLogger struct {
	mu  sync.Mutex
	std *log.Logger
}

func NewStdLogger(w io.Writer) Logger {
	return &stdLogger{std: log.New(w, "", log.LstdFlags|log.Lmicroseconds)}
}

func (l *stdLogger) Log(level Level, keyvals ...any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	msg := fmt.Sprintf("[%s]", level)
	for i := 0; i+1 < len(keyvals); i += 2 {
		msg += fmt.Sprintf(" %v=%v", keyvals[i], keyvals[i+1])
	}
	l.std.Println(msg)
	return nil
}
