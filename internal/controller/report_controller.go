// internal/controller/report_controller.go
package controller

import (
    "encoding/json"
    "fmt"
    "net/http"
    "time"

    "github.com/unclebandit/inboxintel-backend/internal/logging"
    "github.com/unclebandit/inboxintel-backend/internal/service"
)

type ReportController struct {
    Reports  *service.ReportService
    Arrivals service.ArrivalSource
    Now      func() time.Time
}

// DailyReport serves GET /reports/daily?date=YYYY-MM-DD&format=json|markdown|xlsx.
// The date defaults to today in UTC.
func (c *ReportController) DailyReport(w http.ResponseWriter, r *http.Request) {
    date, err := c.parseDate(r.URL.Query().Get("date"))
    if err != nil {
        http.Error(w, "invalid date, expected YYYY-MM-DD", http.StatusBadRequest)
        return
    }

    format := r.URL.Query().Get("format")
    if format == "" {
        format = "json"
    }
    if format != "json" && format != "markdown" && format != "xlsx" {
        http.Error(w, "unsupported format: "+format, http.StatusBadRequest)
        return
    }

    if c.Arrivals == nil {
        http.Error(w, "reservation lookup is not configured", http.StatusServiceUnavailable)
        return
    }
    arrivals, err := c.Arrivals.ArrivalsOn(r.Context(), date)
    if err != nil {
        logging.LogError(logging.GetLogger(), "controller", "DailyReport", "reservation lookup failed", date.Format("2006-01-02"), err)
        http.Error(w, "failed to fetch arrivals", http.StatusBadGateway)
        return
    }

    digest, err := c.Reports.BuildDailyDigest(r.Context(), date, arrivals)
    if err != nil {
        http.Error(w, err.Error(), http.StatusInternalServerError)
        return
    }

    switch format {
    case "markdown":
        w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
        fmt.Fprint(w, service.RenderMarkdown(digest))
    case "xlsx":
        w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
        w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=daily-%s.xlsx", date.Format("2006-01-02")))
        if err := service.WriteXLSX(digest, w); err != nil {
            http.Error(w, "Failed to write file", http.StatusInternalServerError)
        }
    default:
        w.Header().Set("Content-Type", "application/json")
        json.NewEncoder(w).Encode(digest)
    }
}

func (c *ReportController) parseDate(s string) (time.Time, error) {
    if s == "" {
        now := time.Now
        if c.Now != nil {
            now = c.Now
        }
        t := now().UTC()
        return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
    }
    return time.Parse("2006-01-02", s)
}
