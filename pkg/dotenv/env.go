package dotenv

import (
	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
)

// LoadEnv loads the first env file that exists. Variables already set in
// the process win over the file. A missing file is not fatal for the
// examples, so the error is only logged and returned.
func LoadEnv(envPaths ...string) error {
	var err error
	for _, path := range envPaths {
		if err = godotenv.Load(path); err == nil {
			log.Debugf("loaded env from %s", path)
			return nil
		}
		log.Debugf("no env file at %s: %v", path, err)
	}
	return err
}
