package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/stemsi/drivertest-bot/internal/config"
	"github.com/stemsi/drivertest-bot/internal/logger"
	"github.com/stemsi/drivertest-bot/internal/model"
	"github.com/stemsi/drivertest-bot/internal/sheets"
)

// sheet-check reads the whole spreadsheet the way the bot does and reports
// anything that would stop a test from starting.
func main() {
	remind := flag.Bool("reminders", false, "Also list campaigns inside the reminder window")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	backend, err := sheets.Dial(ctx, cfg.GoogleCredentials, cfg.SheetID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Google Sheets")
	}
	client := sheets.NewClient(backend, cfg.Location, log)

	problems := 0
	fail := func(format string, args ...any) {
		problems++
		fmt.Printf("  ✗ "+format+"\n", args...)
	}

	fmt.Println("=== Settings ===")
	adminCfg, err := client.ReadAdminConfig(ctx)
	if err != nil {
		fail("%v", err)
	} else {
		fmt.Printf("  questions=%d max_errors=%d retry_hours=%d seconds=%d motorcades=%d\n",
			adminCfg.NumQuestions, adminCfg.MaxErrors, adminCfg.RetryHours, adminCfg.SecondsPerQuestion, len(adminCfg.Motorcades))
	}

	fmt.Println("=== Questions ===")
	pool, err := client.ReadQuestions(ctx)
	switch {
	case err != nil:
		fail("%v", err)
	case len(pool) == 0:
		fail("no valid questions")
	default:
		perCategory := make(map[string]int)
		critical := 0
		for _, q := range pool {
			perCategory[q.Category]++
			if q.Critical {
				critical++
			}
		}
		fmt.Printf("  %d valid questions, %d critical, %d categories\n", len(pool), critical, len(perCategory))
		names := make([]string, 0, len(perCategory))
		for name := range perCategory {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("    %-30s %d\n", name, perCategory[name])
		}
		if adminCfg.NumQuestions > len(pool) {
			fail("settings ask for %d questions but only %d are valid", adminCfg.NumQuestions, len(pool))
		}
	}

	fmt.Println("=== Users ===")
	users, err := client.ListUsers(ctx)
	if err != nil {
		fail("%v", err)
	} else {
		byStatus := make(map[model.UserStatus]int)
		for _, u := range users {
			byStatus[u.Status]++
			if u.Motorcade != "" && !adminCfg.HasMotorcade(u.Motorcade) {
				fail("user %d has unknown motorcade %q", u.TelegramID, u.Motorcade)
			}
		}
		fmt.Printf("  %d users: %d confirmed, %d pending, %d rejected\n", len(users),
			byStatus[model.UserStatusConfirmed], byStatus[model.UserStatusPending], byStatus[model.UserStatusRejected])
	}

	fmt.Println("=== Campaigns ===")
	campaigns, err := client.ListCampaigns(ctx)
	if err != nil {
		fail("%v", err)
	} else {
		now := time.Now()
		for _, c := range campaigns {
			left := c.DaysLeft(now, cfg.Location)
			state := "active"
			if left < 0 {
				state = "closed"
			}
			line := fmt.Sprintf("  %-30s %-9s %s  deadline %s (%s)", c.Name, c.Type, c.Assignment, c.Deadline.Format(time.DateOnly), state)
			if *remind && (left == 3 || left == 1) {
				line += fmt.Sprintf("  ← reminders today, %d day(s) left", left)
			}
			fmt.Println(line)
		}
	}

	if problems > 0 {
		fmt.Printf("\n%d problem(s) found\n", problems)
		os.Exit(1)
	}
	fmt.Println("\nSpreadsheet looks good")
}
