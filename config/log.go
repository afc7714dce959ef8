package config

import (
	"log"
	"time"

	"github.com/goccy/go-json"
)

// DPrintf logs format/args when Debug is enabled, timestamped for easy
// correlation with concurrent lock/commit activity.
func DPrintf(format string, a ...interface{}) {
	if Debug {
		log.Printf(time.Now().Format("15:04:05.000")+" <---> "+format, a...)
	}
}

// JToString renders v as JSON for debug dumps.
func JToString(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
