package weather

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/i474232898/garden-weather/internal/common"
	"github.com/i474232898/garden-weather/internal/logger"
)

const (
	maxAlertDetail  = 200
	alertSuggestion = "Check API key, coordinates and network."
)

// Notifier turns refresh failures into at most one open alert per site.
type Notifier struct {
	alerts AlertStore
	log    *logger.Logger
	now    func() time.Time
}

func NewNotifier(alerts AlertStore, log *logger.Logger) *Notifier {
	if log == nil {
		log = logger.NewNop()
	}
	return &Notifier{alerts: alerts, log: log, now: time.Now}
}

// Notify records a weather_failure alert for the site unless one is already
// open. It reports whether a new alert was created.
func (n *Notifier) Notify(ctx context.Context, siteID int64, cause error) (bool, error) {
	open, err := n.alerts.HasOpenAlert(ctx, siteID, AlertCategoryWeatherFailure)
	if err != nil {
		return false, fmt.Errorf("checking open alerts: %w", err)
	}
	if open {
		return false, nil
	}

	detail := "unknown error"
	if cause != nil {
		detail = cause.Error()
	}
	alert := Alert{
		ID:         uuid.NewString(),
		SiteID:     siteID,
		Category:   AlertCategoryWeatherFailure,
		Message:    fmt.Sprintf("Weather refresh failed for site %d: %s", siteID, common.Truncate(detail, maxAlertDetail)),
		Suggestion: alertSuggestion,
		Status:     AlertOpen,
		CreatedAt:  n.now().UTC(),
	}

	created, err := n.alerts.CreateAlert(ctx, alert)
	if err != nil {
		return false, fmt.Errorf("creating alert: %w", err)
	}
	if created {
		n.log.Warning("weather failure alert raised", map[string]any{
			"site_id":  siteID,
			"alert_id": alert.ID,
		})
	}
	return created, nil
}
