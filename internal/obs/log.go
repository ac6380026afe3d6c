package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
)

// Every log line carries the service name so entries from the API and the
// migrator can be told apart in a shared stream.
const serviceName = "co2ledger"

var (
	loggerOnce sync.Once
	logger     *log.Logger
)

// Logger returns the process-wide JSON-line logger. Output is plain stdout
// with no prefix; each call to LogRequest writes exactly one line.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// LogRequest marshals entry as a single JSON line, stamping the service
// name. Entries that cannot be marshaled are reported, not dropped silently.
func LogRequest(entry map[string]any) {
	if _, ok := entry["service"]; !ok {
		entry["service"] = serviceName
	}
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Println(`{"level":"error","msg":"log_marshal_failed","service":"` + serviceName + `"}`)
		return
	}
	Logger().Println(string(data))
}
