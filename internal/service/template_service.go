// internal/service/template_service.go
package service

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/unclebandit/inboxintel-backend/internal/model"
	"github.com/unclebandit/inboxintel-backend/internal/notify"
)

const maxAlertTextLength = 200

func RenderTemplate(template string, data map[string]string) string {
	result := template
	for k, v := range data {
		result = strings.ReplaceAll(result, "{"+k+"}", v)
	}
	return result
}

// AlertTemplate is the title and body used for one category.
type AlertTemplate struct {
	Title string
	Body  string
}

const defaultAlertBody = `Guest: {guest_name}
Reservation: {reservation_id}
Confidence: {confidence}

Summary: {summary}

Message: {message_text}`

var alertTemplates = map[model.Category]AlertTemplate{
	model.CategoryEarlyCheckin: {
		Title: "Early Check-in Request",
		Body:  defaultAlertBody,
	},
	model.CategoryLateCheckout: {
		Title: "Late Checkout Request",
		Body:  defaultAlertBody,
	},
	model.CategoryMaintenanceIssue: {
		Title: "Maintenance Issue",
		Body:  defaultAlertBody + "\n\nPlease check the property.",
	},
	model.CategorySpecialRequest: {
		Title: "Special Request",
		Body:  defaultAlertBody,
	},
}

// TemplateFor falls back to the category label and the shared body.
func TemplateFor(c model.Category) AlertTemplate {
	if t, ok := alertTemplates[c]; ok {
		return t
	}
	return AlertTemplate{Title: c.Label(), Body: defaultAlertBody}
}

// RenderAlert builds the notification for a classified message.
func RenderAlert(m model.Message) notify.Notification {
	var category model.Category
	if m.Category != nil {
		category = *m.Category
	}
	confidence := 0.0
	if m.Confidence != nil {
		confidence = *m.Confidence
	}

	tmpl := TemplateFor(category)
	data := map[string]string{
		"guest_name":     model.StringValue(m.GuestName, "Unknown"),
		"reservation_id": model.StringValue(m.ReservationID, "N/A"),
		"confidence":     fmt.Sprintf("%.0f%%", confidence*100),
		"summary":        model.StringValue(m.Summary, ""),
		"message_text":   truncate(m.Text, maxAlertTextLength),
	}
	return notify.Notification{
		Title:             RenderTemplate(tmpl.Title, data),
		Body:              RenderTemplate(tmpl.Body, data),
		Priority:          0,
		MessageExternalID: m.ExternalID,
		Category:          category,
	}
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "..."
}
