package logger

import (
	"fmt"
	"strings"

	"github.com/Shopify/sarama"
)

// SetSaramaLogger routes the log output of sarama to l.
func SetSaramaLogger(l Logger) {
	sarama.Logger = &saramaLogger{l: l}
}

// saramaLogger adapts a Logger to sarama.StdLogger.
type saramaLogger struct {
	l Logger
}

func (s *saramaLogger) Print(v ...interface{}) {
	s.l.Printf("%s", fmt.Sprint(v...))
}

func (s *saramaLogger) Printf(format string, v ...interface{}) {
	s.l.Printf(strings.TrimSuffix(format, "\n"), v...)
}

func (s *saramaLogger) Println(v ...interface{}) {
	s.l.Printf("%s", strings.TrimSuffix(fmt.Sprintln(v...), "\n"))
}
