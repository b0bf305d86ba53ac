package google

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	goption "google.golang.org/api/option"

	"allocator/internal/plans"
)

// fakeSheets serves the two Sheets API calls the client makes.
func fakeSheets(t *testing.T, values map[string][][]interface{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if i := strings.Index(r.URL.Path, "/values/"); i >= 0 {
			rng := r.URL.Path[i+len("/values/"):]
			for title, rows := range values {
				if strings.HasPrefix(rng, "'"+title+"'!") {
					_ = json.NewEncoder(w).Encode(map[string]any{"range": rng, "values": rows})
					return
				}
			}
			http.Error(w, `{"error":{"code":400,"message":"bad range"}}`, http.StatusBadRequest)
			return
		}
		sheets := make([]map[string]any, 0, len(values))
		for title := range values {
			sheets = append(sheets, map[string]any{"properties": map[string]any{"title": title}})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"sheets": sheets})
	}))
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := New(context.Background(), Options{
		SpreadsheetID: "sheet-id",
		SheetName:     "Plan",
		ClientOptions: []goption.ClientOption{
			goption.WithEndpoint(srv.URL + "/"),
			goption.WithoutAuthentication(),
		},
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestClientLoadAndList(t *testing.T) {
	srv := fakeSheets(t, map[string][][]interface{}{
		"Plan": {
			{"name", "percentage", "id"},
			{"沪深300ETF", "40%", "510300"},
			{"国债基金", "30%"},
			{"黄金基金", "30%"},
		},
		"Growth": {
			{"名称", "比例"},
			{"中证500指数", "1"},
		},
	})
	defer srv.Close()
	c := newTestClient(t, srv)
	ctx := context.Background()

	names, err := c.ListPlans(ctx)
	if err != nil {
		t.Fatalf("ListPlans: %v", err)
	}
	if len(names) != 2 || names[0] != "Growth" || names[1] != "Plan" {
		t.Fatalf("ListPlans() = %v", names)
	}

	plan, err := c.LoadPlan(ctx, "")
	if err != nil {
		t.Fatalf("LoadPlan default: %v", err)
	}
	if len(plan) != 3 || plan[0].ID != "510300" || plan[1].Percentage != 0.3 {
		t.Fatalf("unexpected plan: %+v", plan)
	}

	plan, err = c.LoadPlan(ctx, "growth")
	if err != nil || len(plan) != 1 {
		t.Fatalf("LoadPlan growth: %+v, %v", plan, err)
	}

	if _, err := c.LoadPlan(ctx, "missing"); !errors.Is(err, plans.ErrPlanNotFound) {
		t.Fatalf("expected ErrPlanNotFound, got %v", err)
	}
}

func TestNewRequiresSpreadsheetAndCredentials(t *testing.T) {
	if _, err := New(context.Background(), Options{}, nil); err == nil {
		t.Fatal("expected error for missing spreadsheet ID")
	}
	_, err := New(context.Background(), Options{SpreadsheetID: "x"}, nil)
	if err == nil || !strings.Contains(err.Error(), "credentials") {
		t.Fatalf("expected credentials error, got %v", err)
	}
	_, err = New(context.Background(), Options{SpreadsheetID: "x", CredentialsFile: "/non/existent.json"}, nil)
	if err == nil || !strings.Contains(err.Error(), "read service account file") {
		t.Fatalf("expected read error, got %v", err)
	}
}

func TestUninitializedClient(t *testing.T) {
	c := &Client{spreadsheetID: "test"}
	if _, err := c.LoadPlan(context.Background(), "Plan"); err == nil {
		t.Fatal("expected error for nil service")
	}
	if _, err := c.ListPlans(context.Background()); err == nil {
		t.Fatal("expected error for nil service")
	}
}
