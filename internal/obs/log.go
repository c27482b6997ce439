package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
)

var (
	loggerOnce sync.Once
	logger     *log.Logger
)

// Logger returns the process-wide JSON line logger. Request logs and audit
// events all go through it so output stays one-line-per-event.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// LogRequest emits one JSON log line from the given fields.
func LogRequest(fields map[string]any) {
	line, err := json.Marshal(fields)
	if err != nil {
		Logger().Printf(`{"level":"error","msg":"log marshal failed","error":%q}`, err.Error())
		return
	}
	Logger().Println(string(line))
}
