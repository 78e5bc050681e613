package sheets

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/stemsi/drivertest-bot/internal/model"
)

// Settings sheet column titles.
const (
	colNumQuestions = "количество вопросов"
	colMaxErrors    = "количество допустимых ошибок"
	colRetryHours   = "как часто можно проходить тест (часов)"
	colSecondsPerQ  = "количество секунд на одно задание"
	colMotorcades   = "автоколонны"
)

// ConfigError reports a missing or malformed settings sheet.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "admin config: " + e.Reason
}

// ReadAdminConfig parses the header and value rows of the settings sheet.
func (c *Client) ReadAdminConfig(ctx context.Context) (model.AdminConfig, error) {
	rows, err := c.values(ctx, a1(SettingsSheet, "A1:E2"))
	if err != nil {
		return model.AdminConfig{}, err
	}
	return parseAdminConfig(rows)
}

func parseAdminConfig(rows [][]interface{}) (model.AdminConfig, error) {
	if len(rows) < 2 {
		return model.AdminConfig{}, &ConfigError{Reason: "settings sheet must contain a header row and a value row"}
	}

	h := parseHeader(rows[0])
	data := rows[1]

	var cfg model.AdminConfig
	fields := []struct {
		name string
		dst  *int
	}{
		{colNumQuestions, &cfg.NumQuestions},
		{colMaxErrors, &cfg.MaxErrors},
		{colRetryHours, &cfg.RetryHours},
		{colSecondsPerQ, &cfg.SecondsPerQuestion},
	}

	var missing []string
	for _, f := range fields {
		col, ok := h[f.name]
		raw := ""
		if ok {
			raw = cell(data, col)
		}
		if raw == "" {
			missing = append(missing, f.name)
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return model.AdminConfig{}, &ConfigError{Reason: fmt.Sprintf("field %q must be an integer", f.name)}
		}
		*f.dst = n
	}
	if len(missing) > 0 {
		return model.AdminConfig{}, &ConfigError{Reason: "required fields are empty: " + strings.Join(missing, ", ")}
	}

	switch {
	case cfg.NumQuestions < 1:
		return model.AdminConfig{}, &ConfigError{Reason: fmt.Sprintf("field %q must be at least 1", colNumQuestions)}
	case cfg.MaxErrors < 0, cfg.RetryHours < 0:
		return model.AdminConfig{}, &ConfigError{Reason: "error budget and retry hours must not be negative"}
	case cfg.SecondsPerQuestion < 1:
		return model.AdminConfig{}, &ConfigError{Reason: fmt.Sprintf("field %q must be positive", colSecondsPerQ)}
	}

	if col, ok := h[colMotorcades]; ok {
		for _, m := range strings.Split(cell(data, col), ";") {
			if m = strings.TrimSpace(m); m != "" {
				cfg.Motorcades = append(cfg.Motorcades, m)
			}
		}
	}

	return cfg, nil
}
