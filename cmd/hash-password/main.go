package main

import (
	"bytes"
	"flag"
	"fmt"
	"os"
	"syscall"

	"github.com/stemsi/drivertest-bot/internal/config"
	"github.com/stemsi/drivertest-bot/internal/service"
	"golang.org/x/term"
)

const minPasswordLen = 6

func main() {
	check := flag.Bool("check", false, "Verify a password against ADMIN_PASSWORD_HASH instead of hashing")
	flag.Parse()

	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()
	auth := service.NewAuthService(cfg, nil)

	if *check {
		if cfg.AdminPasswordHash == "" {
			fmt.Fprintln(os.Stderr, "Error: ADMIN_PASSWORD_HASH is not set")
			os.Exit(1)
		}
		password := prompt("Enter Password: ")
		if err := auth.CheckPassword(cfg.AdminPasswordHash, string(password)); err != nil {
			fmt.Fprintln(os.Stderr, "Password does NOT match")
			os.Exit(1)
		}
		fmt.Printf("Password matches the hash for '%s'\n", cfg.AdminUsername)
		return
	}

	// ─── CLI Input ─────────────────────────────────────────────────────
	fmt.Println("=== Hash Admin API Password ===")

	password := prompt("Enter Password: ")
	if len(password) < minPasswordLen {
		fmt.Fprintf(os.Stderr, "Error: Password must be at least %d characters\n", minPasswordLen)
		os.Exit(1)
	}
	confirm := prompt("Repeat Password: ")
	if !bytes.Equal(password, confirm) {
		fmt.Fprintln(os.Stderr, "Error: Passwords do not match")
		os.Exit(1)
	}

	hash, err := auth.HashPassword(string(password))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to hash password: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nAdd to your environment:")
	fmt.Printf("ADMIN_USERNAME=%s\n", cfg.AdminUsername)
	fmt.Printf("ADMIN_PASSWORD_HASH=%s\n", hash)
}

func prompt(label string) []byte {
	fmt.Print(label)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println() // Newline after password input
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error reading password")
		os.Exit(1)
	}
	return password
}
