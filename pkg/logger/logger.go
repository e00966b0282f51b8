package logger

import (
	"log"
	"os"
	"strings"
)

var debugEnabled bool

// Initialize logging flags (called once from main)
func Init() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	debugEnabled = strings.EqualFold(os.Getenv("LOG_LEVEL"), "debug")
}

func Infof(format string, v ...any) {
	log.Printf("[INFO] "+format, v...)
}

func Warnf(format string, v ...any) {
	log.Printf("[WARN] "+format, v...)
}

func Errorf(format string, v ...any) {
	log.Printf("[ERROR] "+format, v...)
}

// Debugf is a no-op unless LOG_LEVEL=debug. The processor logs per-item
// detail at this level, which would drown production logs otherwise.
func Debugf(format string, v ...any) {
	if !debugEnabled {
		return
	}
	log.Printf("[DEBUG] "+format, v...)
}

func Fatalf(format string, v ...any) {
	log.Fatalf("[FATAL] "+format, v...)
}
