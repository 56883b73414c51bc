package stdlog

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// ZerologAdapter wraps a zerolog.Logger so it satisfies StdLog, letting
// callers thread a single structured logger down through router, realm,
// broker, dealer, and the transport peers.
type ZerologAdapter struct {
	logger zerolog.Logger
}

// NewZerologAdapter returns a StdLog backed by logger. Every call is logged
// at info level, since StdLog carries no level information of its own.
func NewZerologAdapter(logger zerolog.Logger) *ZerologAdapter {
	return &ZerologAdapter{logger: logger}
}

func (z *ZerologAdapter) Print(v ...interface{}) {
	z.logger.Info().Msg(fmt.Sprint(v...))
}

func (z *ZerologAdapter) Println(v ...interface{}) {
	z.logger.Info().Msg(strings.TrimSuffix(fmt.Sprintln(v...), "\n"))
}

func (z *ZerologAdapter) Printf(format string, v ...interface{}) {
	z.logger.Info().Msg(fmt.Sprintf(format, v...))
}
