package reliability

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// ErrNotPointer is returned by SetConfigFromEnvVars for non-pointer targets.
var ErrNotPointer = errors.New("config target must be a non-nil pointer to a struct")

// GetenvOrDefault returns the trimmed value of key, or defaultValue when unset or blank.
func GetenvOrDefault(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}

	return value
}

// GetenvBoolOrDefault parses key as a bool, returning defaultValue when unset or invalid.
func GetenvBoolOrDefault(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return defaultValue
	}

	return value
}

// GetenvIntOrDefault parses key as an int64, returning defaultValue when unset or invalid.
func GetenvIntOrDefault(key string, defaultValue int64) int64 {
	value, err := strconv.ParseInt(strings.TrimSpace(os.Getenv(key)), 10, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

// SetConfigFromEnvVars fills every field tagged `env:"NAME"` from the
// environment. Fields whose variable is unset keep their current value, so
// callers can pre-populate defaults.
//
// Supported kinds: string, bool, signed integers and time.Duration (parsed
// with time.ParseDuration).
func SetConfigFromEnvVars(s any) error {
	v := reflect.ValueOf(s)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return ErrNotPointer
	}

	elem := v.Elem()
	t := elem.Type()

	for i := range t.NumField() {
		tag, ok := t.Field(i).Tag.Lookup("env")
		if !ok || tag == "" {
			continue
		}

		raw, present := os.LookupEnv(tag)
		raw = strings.TrimSpace(raw)

		if !present || raw == "" {
			continue
		}

		if err := setField(elem.Field(i), raw); err != nil {
			return fmt.Errorf("env %s: %w", tag, err)
		}
	}

	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

func setField(field reflect.Value, raw string) error {
	if !field.CanSet() {
		return nil
	}

	if field.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}

		field.SetInt(int64(d))

		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}

		field.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return err
		}

		field.SetInt(n)
	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}

	return nil
}

// LocalEnvConfig describes the local bootstrap state.
type LocalEnvConfig struct {
	Initialized bool
}

var (
	localEnvConfig     *LocalEnvConfig
	localEnvConfigOnce sync.Once
)

// InitLocalEnvConfig loads a .env file when ENV_NAME is "local" and prints
// the running version and environment once per process.
func InitLocalEnvConfig() *LocalEnvConfig {
	localEnvConfigOnce.Do(func() {
		version := GetenvOrDefault("VERSION", "NO-VERSION")
		envName := GetenvOrDefault("ENV_NAME", "local")

		fmt.Printf("VERSION: %s\n\n", version)
		fmt.Printf("ENVIRONMENT NAME: %s\n\n", envName)

		localEnvConfig = &LocalEnvConfig{}

		if envName == "local" {
			if err := godotenv.Load(); err != nil {
				fmt.Println("Skipping .env file: " + err.Error())
				return
			}

			localEnvConfig.Initialized = true
		}
	})

	return localEnvConfig
}
