package config

import (
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/joho/godotenv"
)

var envOnce sync.Once

// LoadEnvOnce loads a development .env file at most once per process, so
// Load can be called repeatedly (tests, multiple Cobra commands in one
// process) without re-reading the file each time.
func LoadEnvOnce() {
	envOnce.Do(loadEnvironment)
}

// loadEnvironment looks for a .env file in the working directory or one of
// its parents and loads any variables it finds that aren't already set.
// Absence is normal in production, where DRIVEAGENT_* is set directly in
// the environment, so a miss here is silent.
func loadEnvironment() {
	envPaths := []string{
		".env",
		"../.env",
		"../../.env",
		filepath.Join(os.Getenv("APP_ROOT"), ".env"),
	}

	for _, path := range envPaths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err == nil {
			log.Printf("config: environment loaded from %s", path)
			return
		}
	}
}
