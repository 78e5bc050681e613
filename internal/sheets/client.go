package sheets

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"
)

// Sheet titles of the spreadsheet.
const (
	UsersSheet     = "👩‍👧‍👧Пользователи"
	QuestionsSheet = "❓Вопросы"
	SettingsSheet  = "⚙️Настройки"
	ResultsSheet   = "📊Результаты"
	CampaignsSheet = "🚚Кампании"
)

// Backend is the subset of the Sheets API the client needs.
type Backend interface {
	Values(ctx context.Context, rng string) ([][]interface{}, error)
	Append(ctx context.Context, rng string, rows [][]interface{}) (updatedRange string, err error)
	ClearRowFormat(ctx context.Context, sheet string, row, columns int) error
}

// Client reads and writes the bot's spreadsheet. Every backend call goes
// through the retry policy.
type Client struct {
	backend Backend
	retry   RetryPolicy
	loc     *time.Location
	log     zerolog.Logger
}

// NewClient wraps an existing backend.
func NewClient(backend Backend, loc *time.Location, log zerolog.Logger) *Client {
	if loc == nil {
		loc = time.UTC
	}
	return &Client{
		backend: backend,
		retry:   DefaultRetryPolicy(),
		loc:     loc,
		log:     log.With().Str("component", "sheets").Logger(),
	}
}

// WithRetryPolicy replaces the retry policy. Tests shorten the delays.
func (c *Client) WithRetryPolicy(p RetryPolicy) *Client {
	c.retry = p
	return c
}

// Dial authenticates with a service-account JSON and builds the Google backend.
func Dial(ctx context.Context, credentialsJSON []byte, spreadsheetID string) (Backend, error) {
	creds, err := google.CredentialsFromJSON(ctx, credentialsJSON, gsheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse google credentials: %w", err)
	}

	srv, err := gsheets.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return &googleBackend{srv: srv, spreadsheetID: spreadsheetID}, nil
}

type googleBackend struct {
	srv           *gsheets.Service
	spreadsheetID string
}

func (b *googleBackend) Values(ctx context.Context, rng string) ([][]interface{}, error) {
	resp, err := b.srv.Spreadsheets.Values.Get(b.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return resp.Values, nil
}

func (b *googleBackend) Append(ctx context.Context, rng string, rows [][]interface{}) (string, error) {
	resp, err := b.srv.Spreadsheets.Values.
		Append(b.spreadsheetID, rng, &gsheets.ValueRange{Values: rows}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return "", err
	}
	if resp.Updates == nil {
		return "", nil
	}
	return resp.Updates.UpdatedRange, nil
}

// ClearRowFormat resets formatting of a freshly appended row so it does not
// inherit the style of the row above.
func (b *googleBackend) ClearRowFormat(ctx context.Context, sheet string, row, columns int) error {
	ss, err := b.srv.Spreadsheets.Get(b.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return err
	}

	var sheetID int64 = -1
	for _, sh := range ss.Sheets {
		if sh.Properties != nil && sh.Properties.Title == sheet {
			sheetID = sh.Properties.SheetId
			break
		}
	}
	if sheetID < 0 {
		return fmt.Errorf("sheet %q not found", sheet)
	}

	req := &gsheets.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheets.Request{{
			RepeatCell: &gsheets.RepeatCellRequest{
				Range: &gsheets.GridRange{
					SheetId:          sheetID,
					StartRowIndex:    int64(row - 1),
					EndRowIndex:      int64(row),
					StartColumnIndex: 0,
					EndColumnIndex:   int64(columns),
					ForceSendFields:  []string{"SheetId", "StartRowIndex", "StartColumnIndex"},
				},
				Cell:   &gsheets.CellData{UserEnteredFormat: &gsheets.CellFormat{}},
				Fields: "userEnteredFormat",
			},
		}},
	}
	_, err = b.srv.Spreadsheets.BatchUpdate(b.spreadsheetID, req).Context(ctx).Do()
	return err
}

// a1 builds a quoted A1 range for a sheet title.
func a1(sheet, cols string) string {
	return fmt.Sprintf("'%s'!%s", sheet, cols)
}

func (c *Client) values(ctx context.Context, rng string) ([][]interface{}, error) {
	var out [][]interface{}
	err := c.do(ctx, "get "+rng, func(ctx context.Context) error {
		v, err := c.backend.Values(ctx, rng)
		out = v
		return err
	})
	return out, err
}

func (c *Client) appendRows(ctx context.Context, rng string, rows [][]interface{}) (string, error) {
	var updated string
	err := c.do(ctx, "append "+rng, func(ctx context.Context) error {
		u, err := c.backend.Append(ctx, rng, rows)
		updated = u
		return err
	})
	return updated, err
}
