package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	APIPort string
	JWTKey  []byte
	JWTExp  time.Duration

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSslMode  string
	DBConnStr  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Remote execution service (Piston-compatible API).
	RemoteExecURL       string
	RemoteExecTimeoutMs int

	// Path to the WASI-compiled Python interpreter, loaded lazily on
	// first Python run.
	PythonWasmPath string

	// Test-signal wait in the grading coordinator.
	TestSignalPollMs     int
	TestSignalDeadlineMs int

	// Delay injected before the sandbox test script runs, so DOM
	// mutations from user code settle first.
	TestScriptDelayMs int

	// Idle playground sessions are reaped after this TTL.
	SessionIdleTTLSeconds int
	SessionReapIntervalS  int

	// Redis key prefix for scratch playground buffers.
	ScratchKeyPrefix string
}

var AppConfig *Config

func Load() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	AppConfig = &Config{
		APIPort:       getEnv("API_PORT", "8080"),
		JWTKey:        []byte(getEnv("JWT_SECRET", "defaultsecret")),
		JWTExp:        time.Duration(getEnvAsInt("JWT_EXPIRATION_HOURS", 72)) * time.Hour,
		DBHost:        getEnv("DB_HOST", "localhost"),
		DBPort:        getEnv("DB_PORT", "5432"),
		DBUser:        getEnv("DB_USER", "user"),
		DBPassword:    getEnv("DB_PASSWORD", "password"),
		DBName:        getEnv("DB_NAME", "codeloom_db"),
		DBSslMode:     getEnv("DB_SSLMODE", "disable"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		RemoteExecURL:       getEnv("REMOTE_EXEC_URL", "https://emkc.org/api/v2/piston/execute"),
		RemoteExecTimeoutMs: getEnvAsInt("REMOTE_EXEC_TIMEOUT_MS", 15000),

		PythonWasmPath: getEnv("PYTHON_WASM_PATH", "assets/python.wasm"),

		TestSignalPollMs:     getEnvAsInt("TEST_SIGNAL_POLL_MS", 100),
		TestSignalDeadlineMs: getEnvAsInt("TEST_SIGNAL_DEADLINE_MS", 3000),
		TestScriptDelayMs:    getEnvAsInt("TEST_SCRIPT_DELAY_MS", 500),

		SessionIdleTTLSeconds: getEnvAsInt("SESSION_IDLE_TTL_SECONDS", 1800),
		SessionReapIntervalS:  getEnvAsInt("SESSION_REAP_INTERVAL_SECONDS", 60),

		ScratchKeyPrefix: getEnv("SCRATCH_KEY_PREFIX", "scratch"),
	}

	AppConfig.DBConnStr = "host=" + AppConfig.DBHost +
		" port=" + AppConfig.DBPort +
		" user=" + AppConfig.DBUser +
		" password=" + AppConfig.DBPassword +
		" dbname=" + AppConfig.DBName +
		" sslmode=" + AppConfig.DBSslMode
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}
