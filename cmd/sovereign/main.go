package main

import (
	"github.com/joho/godotenv"

	"sovereign/internal/cli"
)

func main() {
	// Optional: API keys and SMTP credentials may come from a .env file
	// during development. Absence is fine in production.
	_ = godotenv.Load()

	cli.Execute()
}
