// Package google exports finalized balance sheets to a Google spreadsheet,
// one tab per period, so owners without access to the ledger itself can
// read their statement.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"condominio/internal/core"
	ports "condominio/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
}

var _ ports.BalancePublisher = (*Client)(nil)

// NewFromEnv creates a Sheets client from the environment.
// Required: GOOGLE_SPREADSHEET_ID.
// Credentials: GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE or
// GOOGLE_APPLICATION_CREDENTIALS.
func NewFromEnv(ctx context.Context) (*Client, error) {
	spreadsheetID := strings.TrimSpace(os.Getenv("GOOGLE_SPREADSHEET_ID"))
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}

	svc, err := newSheetsService(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}

	return &Client{
		svc:           svc,
		spreadsheetID: spreadsheetID,
	}, nil
}

func newSheetsService(ctx context.Context) (*gsheet.Service, error) {
	serviceAccountJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	serviceAccountFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	var err error
	switch {
	case serviceAccountJSON != "":
		credentialsJSON = []byte(serviceAccountJSON)
	case serviceAccountFile != "":
		credentialsJSON, err = os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

// PublishBalanceSheet writes the sheet to the tab named after the period,
// creating the tab if needed and overwriting any previous export.
func (c *Client) PublishBalanceSheet(ctx context.Context, period core.Period, sheet *core.BalanceSheet) (string, error) {
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}

	tab := tabName(period)
	if err := c.ensureTab(ctx, tab); err != nil {
		return "", err
	}

	values := balanceRows(period, sheet)
	rng := fmt.Sprintf("%s!A1:E%d", tab, len(values))
	vr := &gsheet.ValueRange{Values: values}

	_, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("write balance sheet to %s: %w", tab, err)
	}

	slog.InfoContext(ctx, "Balance sheet exported",
		"period_id", period.ID,
		"tab", tab,
		"rows", len(sheet.Rows))
	return rng, nil
}

// ensureTab adds the sheet tab when it does not exist yet.
func (c *Client) ensureTab(ctx context.Context, tab string) error {
	meta, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("get spreadsheet metadata: %w", err)
	}
	for _, s := range meta.Sheets {
		if s.Properties != nil && s.Properties.Title == tab {
			return nil
		}
	}

	req := &gsheet.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheet.Request{{
			AddSheet: &gsheet.AddSheetRequest{
				Properties: &gsheet.SheetProperties{Title: tab},
			},
		}},
	}
	if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("add sheet tab %s: %w", tab, err)
	}
	return nil
}

func tabName(period core.Period) string {
	return fmt.Sprintf("%s Bilancio", strings.TrimSpace(period.Name))
}

// balanceRows renders the export: a header, one row per owner and a totals
// row. Amounts go out as euro decimals; the ledger keeps cents internally.
func balanceRows(period core.Period, sheet *core.BalanceSheet) [][]any {
	values := [][]any{
		{"Proprietario", "Versamenti", "Quote ripartite", "Addebiti diretti", "Saldo"},
	}
	for _, row := range sheet.Rows {
		values = append(values, []any{
			row.OwnerID,
			row.Contributions.Euros(),
			row.Allocated.Euros(),
			row.Direct.Euros(),
			row.Balance.Euros(),
		})
	}
	values = append(values, []any{
		"Totale",
		sheet.TotalContributions.Euros(),
		sheet.TotalCharges.Euros(),
		"",
		sheet.Net.Euros(),
	})
	return values
}
