package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	appErrors "github.com/unclebandit/inboxintel-backend/internal/errors"
	"github.com/unclebandit/inboxintel-backend/internal/logging"
	"github.com/unclebandit/inboxintel-backend/internal/model"
	"github.com/unclebandit/inboxintel-backend/internal/repository"
)

// digestCategories are the categories listed as special requests.
var digestCategories = map[model.Category]bool{
	model.CategoryEarlyCheckin:   true,
	model.CategoryLateCheckout:   true,
	model.CategorySpecialRequest: true,
}

type ReportService struct {
	MessageRepo repository.MessageRepositoryInterface
	Now         func() time.Time
}

func NewReportService(repo repository.MessageRepositoryInterface) *ReportService {
	return &ReportService{MessageRepo: repo, Now: time.Now}
}

// BuildDailyDigest lists each arrival with its classified special requests.
// Entries keep the order of arrivals.
func (s *ReportService) BuildDailyDigest(ctx context.Context, asOf time.Time, arrivals []model.Arrival) (*model.Digest, error) {
	digest := &model.Digest{
		Date:        time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, time.UTC),
		Entries:     make([]model.DigestEntry, 0, len(arrivals)),
		GeneratedAt: s.now(),
	}

	for _, arrival := range arrivals {
		entry := model.DigestEntry{Arrival: arrival, Requests: []model.DigestRequest{}}
		if arrival.ReservationID != "" {
			messages, err := s.MessageRepo.QueryByReservation(ctx, arrival.ReservationID)
			if err != nil {
				return nil, appErrors.NewStoreFailure("query by reservation", err)
			}
			entry.Requests = specialRequests(messages)
		}
		entry.Summary = joinDistinct(entry.Requests)
		entry.NoSpecialRequests = len(entry.Requests) == 0
		digest.Entries = append(digest.Entries, entry)
	}

	logging.Module("report").WithField("date", digest.Date.Format("2006-01-02")).
		WithField("arrivals", len(digest.Entries)).Info("daily digest built")
	return digest, nil
}

// specialRequests expects messages in chronological order.
func specialRequests(messages []model.Message) []model.DigestRequest {
	requests := []model.DigestRequest{}
	for _, m := range messages {
		if !m.Classified() || !digestCategories[*m.Category] {
			continue
		}
		requests = append(requests, model.DigestRequest{
			Category:   *m.Category,
			Summary:    *m.Summary,
			ReceivedAt: m.ReceivedAt,
		})
	}
	return requests
}

func joinDistinct(requests []model.DigestRequest) string {
	seen := make(map[string]bool, len(requests))
	parts := make([]string, 0, len(requests))
	for _, r := range requests {
		summary := strings.TrimSpace(r.Summary)
		if summary == "" || seen[summary] {
			continue
		}
		seen[summary] = true
		parts = append(parts, summary)
	}
	return strings.Join(parts, "; ")
}

// RenderMarkdown formats a digest for chat-style notification channels.
func RenderMarkdown(d *model.Digest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📅 **Daily Summary (%s)**\n", d.Date.Format("January 02, 2006"))
	if len(d.Entries) == 0 {
		b.WriteString("\nNo arrivals scheduled for today.")
		return b.String()
	}

	for _, e := range d.Entries {
		fmt.Fprintf(&b, "\n- **%s** (Arrives today @ %s)", e.Arrival.GuestName, e.Arrival.Property)
		if e.NoSpecialRequests {
			b.WriteString("\n  - No special requests noted")
		}
		seen := map[string]bool{}
		for _, r := range e.Requests {
			key := string(r.Category) + "|" + r.Summary
			if seen[key] {
				continue
			}
			seen[key] = true
			fmt.Fprintf(&b, "\n  - %s: %s", r.Category.Label(), r.Summary)
		}
		fmt.Fprintf(&b, "\n  - %d guests, %d nights", e.Arrival.Guests, e.Arrival.Nights)
	}
	return b.String()
}

// WriteXLSX writes one row per arrival.
func WriteXLSX(d *model.Digest, w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := "Arrivals"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return err
	}

	headings := []string{"Date", "Reservation", "Guest", "Property", "Guests", "Nights", "Requests"}
	for i, h := range headings {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
	}

	date := d.Date.Format("2006-01-02")
	for i, e := range d.Entries {
		requests := e.Summary
		if e.NoSpecialRequests {
			requests = "No special requests noted"
		}
		row := []any{date, e.Arrival.ReservationID, e.Arrival.GuestName, e.Arrival.Property, e.Arrival.Guests, e.Arrival.Nights, requests}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}

func (s *ReportService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
