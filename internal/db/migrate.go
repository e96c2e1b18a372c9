package db

import (
	"log"

	"collaborative-table-editor/internal/table"
	"collaborative-table-editor/internal/user"

	"gorm.io/gorm"
)

// Migrate runs database migrations
func Migrate(database *gorm.DB) {
	err := database.AutoMigrate(
		&user.User{},
		&table.Row{},
	)

	if err != nil {
		log.Fatal(err)
	}

	log.Println("Database schema migrated successfully")
}

// SeedData seeds the database with initial data (for development only)
func SeedData(database *gorm.DB) {
	// Create an admin user if it doesn't exist
	userRepo := user.NewRepository(database)

	adminUser := &user.User{
		Name:      "admin",
		Email:     "admin@example.com",
		Password:  "password123",
		Authority: "admin",
		IsActive:  true,
	}

	// Check if user exists
	_, err := userRepo.FindByEmail(adminUser.Email)
	if err != nil {
		userService := user.NewService(userRepo)
		// User doesn't exist, create it
		if err := userService.Register(adminUser); err != nil {
			log.Printf("Error creating admin user: %v", err)
		} else {
			log.Printf("Created admin user: %s", adminUser.Email)
		}
	} else {
		log.Printf("Admin user already exists: %s", adminUser.Email)
	}
}
