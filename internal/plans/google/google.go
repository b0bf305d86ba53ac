// Package google reads allocation plans from a Google Sheets spreadsheet.
// Every tab is one plan; the tab title is the plan name.
package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"allocator/internal/core"
	"allocator/internal/log"
	"allocator/internal/plans"
)

// Ensure interface conformance
var (
	_ plans.PlanReader = (*Client)(nil)
	_ plans.PlanLister = (*Client)(nil)
)

// Options configures a Client.
type Options struct {
	SpreadsheetID string
	// SheetName is the tab read when LoadPlan gets an empty name.
	SheetName       string
	CredentialsJSON string
	CredentialsFile string
	// ClientOptions override the credential options above when set.
	ClientOptions []goption.ClientOption
}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string
	logger        *log.Logger
}

// New creates a Sheets client authenticated with service account credentials.
func New(ctx context.Context, opts Options, logger *log.Logger) (*Client, error) {
	if logger == nil {
		logger = log.Default()
	}
	logger = logger.WithComponent(log.ComponentSheets)

	if strings.TrimSpace(opts.SpreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet ID")
	}
	sheetName := strings.TrimSpace(opts.SheetName)
	if sheetName == "" {
		sheetName = "Plan"
	}

	clientOpts := opts.ClientOptions
	if len(clientOpts) == 0 {
		credentialsJSON, err := readCredentials(opts)
		if err != nil {
			return nil, err
		}
		clientOpts = []goption.ClientOption{
			goption.WithCredentialsJSON(credentialsJSON),
			goption.WithScopes(gsheet.SpreadsheetsReadonlyScope),
		}
	}

	svc, err := gsheet.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	logger.InfoContext(ctx, "Google Sheets service created", "spreadsheet_id", opts.SpreadsheetID, "sheet", sheetName)

	return &Client{
		svc:           svc,
		spreadsheetID: opts.SpreadsheetID,
		sheetName:     sheetName,
		logger:        logger,
	}, nil
}

func readCredentials(opts Options) ([]byte, error) {
	switch {
	case strings.TrimSpace(opts.CredentialsJSON) != "":
		return []byte(opts.CredentialsJSON), nil
	case strings.TrimSpace(opts.CredentialsFile) != "":
		data, err := os.ReadFile(opts.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return data, nil
	default:
		return nil, errors.New("missing service account credentials")
	}
}

// LoadPlan reads columns A:D of the tab named name.
func (c *Client) LoadPlan(ctx context.Context, name string) (core.Plan, error) {
	if c.svc == nil {
		return nil, errors.New("sheets service not initialized")
	}
	tab := strings.TrimSpace(name)
	if tab == "" {
		tab = c.sheetName
	}

	titles, err := c.ListPlans(ctx)
	if err != nil {
		return nil, err
	}
	title, ok := matchTitle(titles, tab)
	if !ok {
		return nil, fmt.Errorf("%w: %s", plans.ErrPlanNotFound, tab)
	}
	tab = title

	rng := fmt.Sprintf("'%s'!A:D", strings.ReplaceAll(tab, "'", "''"))
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	plan, err := parsePlan(resp.Values)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", rng, err)
	}
	c.logger.DebugContext(ctx, "Plan loaded from sheet", log.FieldPlan, tab, log.FieldEntries, len(plan))
	return plan, nil
}

// ListPlans returns the spreadsheet's tab titles.
func (c *Client) ListPlans(ctx context.Context) ([]string, error) {
	if c.svc == nil {
		return nil, errors.New("sheets service not initialized")
	}
	resp, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get spreadsheet %s: %w", c.spreadsheetID, err)
	}
	out := make([]string, 0, len(resp.Sheets))
	for _, sh := range resp.Sheets {
		if sh.Properties == nil || strings.TrimSpace(sh.Properties.Title) == "" {
			continue
		}
		out = append(out, sh.Properties.Title)
	}
	sort.Strings(out)
	return out, nil
}

func matchTitle(titles []string, target string) (string, bool) {
	for _, v := range titles {
		if strings.EqualFold(strings.TrimSpace(v), target) {
			return v, true
		}
	}
	return "", false
}
