package config

import (
	"errors"
	"os"

	"github.com/joho/godotenv"
)

// LoadEnv загружает переменные окружения из .env файла.
// Переменные, уже заданные в окружении, не перезаписываются.
// Возвращает ошибку если файл не существует или не может быть разобран.
func LoadEnv(path string) error {
	return godotenv.Load(path)
}

// LoadEnvOptional загружает .env файл, если он существует.
// Если файла нет - возвращает nil.
func LoadEnvOptional(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	return LoadEnv(path)
}
