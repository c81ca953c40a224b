// Command migrate applies the database schema and exits
package main

import (
	"github.com/joho/godotenv"

	"github.com/virtfleet/virtfleet/config"
	"github.com/virtfleet/virtfleet/internal/db"
	"github.com/virtfleet/virtfleet/internal/logger"
)

func main() {
	_ = godotenv.Load()
	logger.InitializeAndConfigure()

	database, err := db.New(db.Options{
		Host:     config.GetEnv("DB_HOST", db.DefaultHost),
		User:     config.GetEnv("DB_USER", db.DefaultUser),
		Password: config.GetEnv("DB_PASSWORD", db.DefaultPassword),
		DBName:   config.GetEnv("DB_NAME", db.DefaultDBName),
		Port:     config.GetEnvAsInt("DB_PORT", db.DefaultPort),
	})
	if err != nil {
		logger.Fatalf("Migration failed: %v", err)
	}

	sqlDB, err := database.DB()
	if err == nil {
		_ = sqlDB.Close()
	}
	logger.Info("Migration complete")
}
