package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

const (
	EnvPracticumToken = "PRACTICUM_TOKEN"
	EnvTelegramToken  = "TELEGRAM_TOKEN"
	EnvTelegramChatID = "TELEGRAM_CHAT_ID"

	// EnvConfigPath names the optional config file when -config is not given.
	EnvConfigPath = "HWBOT_CONFIG"
)

// ErrMissing is matched by errors.Is for any *MissingError.
var ErrMissing = errors.New("required environment variables missing")

// MissingError lists every required variable that was unset or empty.
type MissingError struct {
	Names []string
}

func (e *MissingError) Error() string {
	return ErrMissing.Error() + ": " + strings.Join(e.Names, ", ")
}

func (e *MissingError) Is(target error) bool { return target == ErrMissing }

// LoadDotEnv reads KEY=VALUE pairs from path into the process environment.
// Variables already set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	err := godotenv.Load(path)
	if err != nil && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// LoadSecrets reads the required credentials through getenv (os.Getenv when nil).
// Values are trimmed; an empty value counts as missing.
func LoadSecrets(getenv func(string) string) (Secrets, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	var (
		s       Secrets
		missing []string
	)
	for _, v := range []struct {
		name string
		dst  *string
	}{
		{EnvPracticumToken, &s.PracticumToken},
		{EnvTelegramToken, &s.TelegramToken},
		{EnvTelegramChatID, &s.TelegramChatID},
	} {
		*v.dst = strings.TrimSpace(getenv(v.name))
		if *v.dst == "" {
			missing = append(missing, v.name)
		}
	}
	if len(missing) > 0 {
		return Secrets{}, &MissingError{Names: missing}
	}
	return s, nil
}
