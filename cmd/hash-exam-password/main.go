package main

import (
	"context"
	"fmt"
	"syscall"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"github.com/evaltra/evaltra-backend/internal/config"
	"github.com/evaltra/evaltra-backend/internal/database"
	"github.com/evaltra/evaltra-backend/internal/logger"
)

// Sets (or clears) the entry password of one exam. The exam catalog stores
// only the bcrypt hash; this is the operator's way to rotate it.
func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── CLI Input ─────────────────────────────────────────────────────
	fmt.Println("=== Set Exam Password ===")

	fmt.Print("Enter Exam ID: ")
	var examIDStr string
	if _, err := fmt.Scanln(&examIDStr); err != nil {
		fmt.Println("Error: Exam ID is required")
		return
	}
	examID, err := uuid.Parse(examIDStr)
	if err != nil {
		fmt.Println("Error: Exam ID must be a UUID")
		return
	}

	fmt.Print("Enter Password (empty to remove): ")
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		fmt.Println("\nError reading password")
		return
	}
	password := string(bytePassword)
	fmt.Println() // Newline after password input

	// ─── Logic ─────────────────────────────────────────────────────────
	if password == "" {
		tag, err := pool.Exec(ctx, `UPDATE exams SET password_hash = NULL WHERE id = $1`, examID)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to clear password")
		}
		if tag.RowsAffected() == 0 {
			fmt.Println("Error: no exam with that ID")
			return
		}
		fmt.Println("\nSuccess! Password removed.")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to hash password")
	}

	tag, err := pool.Exec(ctx, `UPDATE exams SET password_hash = $1 WHERE id = $2`, string(hash), examID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to update exam")
	}
	if tag.RowsAffected() == 0 {
		fmt.Println("Error: no exam with that ID")
		return
	}

	fmt.Printf("\nSuccess! Password set for exam %s\n", examID)
}
