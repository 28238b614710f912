// Package guesty is a small client for the Guesty Open API: message
// listing for polling and backfill, and reservation lookup for reports.
package guesty

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/unclebandit/inboxintel-backend/internal/logging"
	"github.com/unclebandit/inboxintel-backend/internal/model"
)

const (
	requestTimeout    = 30 * time.Second
	messagesEndpoint  = "communication/conversations/messages"
	reservationsPath  = "reservations"
	reservationFields = "_id guest listing checkIn checkOut nightsCount guestsCount"
)

type Config struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	TokenURL     string
	// PageLimit caps results per reservation request.
	PageLimit int
}

type Client struct {
	baseURL   string
	http      *http.Client
	pageLimit int
}

// New returns a client that fetches and reuses OAuth2 client-credentials
// tokens until they expire.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("guesty client requires GUESTY_API_KEY and GUESTY_API_SECRET")
	}
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       []string{"open-api"},
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	hc := cc.Client(ctx)
	hc.Timeout = requestTimeout
	return NewWithHTTPClient(cfg.BaseURL, hc, cfg.PageLimit), nil
}

// NewWithHTTPClient uses hc as is, which must already authenticate.
func NewWithHTTPClient(baseURL string, hc *http.Client, pageLimit int) *Client {
	if pageLimit <= 0 {
		pageLimit = 100
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: hc, pageLimit: pageLimit}
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	u := c.baseURL + "/" + strings.TrimLeft(endpoint, "/")
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("guesty GET %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("guesty GET %s returned %d: %s", endpoint, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode guesty %s: %w", endpoint, err)
	}
	return nil
}

// ListMessages returns one page of messages created at or after since,
// oldest first. Count is the total available across pages.
func (c *Client) ListMessages(ctx context.Context, since time.Time, skip, limit int) (model.MessagePage, error) {
	params := url.Values{
		"createdFrom": {since.UTC().Format(time.RFC3339)},
		"limit":       {strconv.Itoa(limit)},
		"skip":        {strconv.Itoa(skip)},
		"sort":        {"createdAt"},
	}
	var page model.MessagePage
	if err := c.get(ctx, messagesEndpoint, params, &page); err != nil {
		return model.MessagePage{}, err
	}
	logging.Module("guesty").WithFields(logrus.Fields{
		"skip": skip, "fetched": len(page.Results), "count": page.Count,
	}).Debug("fetched message page")
	return page, nil
}

type reservation struct {
	ID    string `json:"_id"`
	Guest struct {
		FullName  string `json:"fullName"`
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
	} `json:"guest"`
	Listing struct {
		Title    string `json:"title"`
		Nickname string `json:"nickname"`
		Address  struct {
			Full string `json:"full"`
		} `json:"address"`
	} `json:"listing"`
	CheckIn     string `json:"checkIn"`
	CheckOut    string `json:"checkOut"`
	NightsCount int    `json:"nightsCount"`
	GuestsCount int    `json:"guestsCount"`
}

type reservationsResponse struct {
	Results []reservation `json:"results"`
	Count   int           `json:"count"`
}

// ArrivalsOn returns reservations checking in on the UTC calendar day of date.
func (c *Client) ArrivalsOn(ctx context.Context, date time.Time) ([]model.Arrival, error) {
	start := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)

	filters, err := json.Marshal([]map[string]string{{
		"field":    "checkIn",
		"operator": "$between",
		"from":     start.Format(time.RFC3339),
		"to":       end.Format(time.RFC3339),
	}})
	if err != nil {
		return nil, err
	}

	arrivals := []model.Arrival{}
	for skip := 0; ; skip += c.pageLimit {
		params := url.Values{
			"filters": {string(filters)},
			"fields":  {reservationFields},
			"sort":    {"checkIn"},
			"limit":   {strconv.Itoa(c.pageLimit)},
			"skip":    {strconv.Itoa(skip)},
		}
		var resp reservationsResponse
		if err := c.get(ctx, reservationsPath, params, &resp); err != nil {
			return nil, err
		}
		for _, r := range resp.Results {
			arrivals = append(arrivals, r.toArrival())
		}
		if len(resp.Results) == 0 || skip+len(resp.Results) >= resp.Count {
			break
		}
	}
	return arrivals, nil
}

func (r reservation) toArrival() model.Arrival {
	guest := r.Guest.FullName
	if guest == "" {
		guest = strings.TrimSpace(r.Guest.FirstName + " " + r.Guest.LastName)
	}
	if guest == "" {
		guest = "Unknown Guest"
	}
	property := r.Listing.Title
	if property == "" {
		property = r.Listing.Nickname
	}
	if property == "" {
		property = r.Listing.Address.Full
	}
	if property == "" {
		property = "Unknown Property"
	}
	return model.Arrival{
		ReservationID: r.ID,
		GuestName:     guest,
		Property:      property,
		CheckIn:       parseTime(r.CheckIn),
		CheckOut:      parseTime(r.CheckOut),
		Nights:        r.NightsCount,
		Guests:        r.GuestsCount,
	}
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
