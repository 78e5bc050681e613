package sheets

import (
	"context"
	"strconv"

	"github.com/stemsi/drivertest-bot/internal/model"
)

var userColumns = []string{"telegram_id", "телефон", "фио", "автоколонна", "статус"}

// GetUser looks up a registered user. It returns nil when the user is absent.
func (c *Client) GetUser(ctx context.Context, telegramID int64) (*model.User, error) {
	users, err := c.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	for i := range users {
		if users[i].TelegramID == telegramID {
			return &users[i], nil
		}
	}
	return nil, nil
}

// ListUsers returns every row of the users sheet with a numeric telegram id.
func (c *Client) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := c.values(ctx, a1(UsersSheet, "A:E"))
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, nil
	}

	cols, err := parseHeader(rows[0]).require(userColumns...)
	if err != nil {
		c.log.Error().Err(err).Str("sheet", UsersSheet).Msg("Users sheet header is incomplete")
		return nil, nil
	}

	users := make([]model.User, 0, len(rows)-1)
	for i, row := range rows[1:] {
		id, err := strconv.ParseInt(cell(row, cols[0]), 10, 64)
		if err != nil {
			continue
		}

		rawStatus := cell(row, cols[4])
		status, ok := model.ParseUserStatus(rawStatus)
		if !ok {
			c.log.Warn().
				Int64("telegram_id", id).
				Int("row", i+2).
				Str("status", rawStatus).
				Msg("Unknown user status, treating as pending")
		}

		users = append(users, model.User{
			TelegramID: id,
			Phone:      cell(row, cols[1]),
			FullName:   cell(row, cols[2]),
			Motorcade:  cell(row, cols[3]),
			Status:     status,
		})
	}
	return users, nil
}

// AddUser appends a registration row.
func (c *Client) AddUser(ctx context.Context, u model.User) error {
	if u.Status == "" {
		u.Status = model.UserStatusPending
	}
	row := []interface{}{
		strconv.FormatInt(u.TelegramID, 10), u.Phone, u.FullName, u.Motorcade, string(u.Status),
	}
	if _, err := c.appendRows(ctx, a1(UsersSheet, "A:E"), [][]interface{}{row}); err != nil {
		return err
	}
	c.log.Info().Int64("telegram_id", u.TelegramID).Str("status", string(u.Status)).Msg("User registered")
	return nil
}
