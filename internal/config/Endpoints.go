package config

import (
	"os"
	"strconv"

	"github.com/rs/zerolog/log"
)

// Endpoint configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// EthRPC is the JSON-RPC endpoint of the EVM node.
	EthRPC string

	// Database settings for the optional operation log. An empty DBHost disables it.
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
)

// loadEndpointConfig loads endpoint configuration from environment variables.
// This function is called by LoadConfig() in General.go.
func loadEndpointConfig() error {
	log.Info().Msg("Loading endpoint configuration from environment variables...")

	var err error

	EthRPC, err = getEnv("ETH_RPC_URL")
	if err != nil {
		return err
	}

	LoadDatabaseConfig()

	log.Debug().
		Str("EthRPC", EthRPC).
		Bool("OperationLog", DBHost != "").
		Msg("Endpoint configuration loaded successfully.")

	return nil
}

// LoadDatabaseConfig reads only the database settings. Tools that never touch the chain use it
// instead of LoadConfig.
func LoadDatabaseConfig() {
	DBHost = os.Getenv("DB_HOST")
	DBPort = mustAtoi(os.Getenv("DB_PORT"), 5432)
	DBUser = os.Getenv("DB_USER")
	DBPassword = os.Getenv("DB_PASSWORD")
	DBName = os.Getenv("DB_NAME")
	DBSSLMode = getEnvOrDefault("DB_SSLMODE", "disable")
}

// Helper to convert string to int with a default value
func mustAtoi(s string, defaultValue int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return i
}
