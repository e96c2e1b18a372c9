package db

import (
	"fmt"
	"log"
	"os"
	"time"

	"collaborative-table-editor/internal/config"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect opens the postgres connection used as the durable commit sink.
func Connect(cfg *config.Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%v user=%v password=%v dbname=%v port=%v sslmode=disable",
		cfg.DBHost,
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBName,
		cfg.DBPort,
	)

	level := logger.Info
	if cfg.Environment == "production" {
		level = logger.Error
	}
	newLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags), // io writer
		logger.Config{
			SlowThreshold: time.Second, // Slow SQL threshold
			LogLevel:      level,       // Log level
			Colorful:      true,        // Enable color
		},
	)

	database, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: newLogger})
	if err != nil {
		return nil, err
	}
	log.Println("Success connecting to db")

	return database, nil
}

// Close closes the underlying connection pool.
func Close(database *gorm.DB) {
	sqlDB, _ := database.DB()
	if err := sqlDB.Close(); err != nil {
		log.Printf("failed to close db %v", err)
		return
	}
	log.Println("Closing DB")
}
