package httpapi

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/garden-weather/internal/weather"
)

const defaultHistoryDays = 7

var validate = validator.New()

// WeatherService is the query surface the handlers need.
type WeatherService interface {
	Current(ctx context.Context, siteID int64) (weather.Observation, error)
	Hourly(ctx context.Context, siteID int64) ([]weather.HourlyForecast, error)
	Daily(ctx context.Context, siteID int64) ([]weather.DailyForecast, error)
	History(ctx context.Context, siteID int64, from, to time.Time) ([]weather.DaySummary, error)
	ForceRefresh(ctx context.Context, siteID int64) (weather.RefreshResult, error)
	ClearCache(siteID *int64)
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, service WeatherService) {
	h := &handlers{service: service, now: time.Now}

	w := app.Group("/weather")
	w.Get("/clear-cache", h.clearAll)

	site := w.Group("/site/:id")
	site.Get("/current", h.current)
	site.Get("/hourly", h.hourly)
	site.Get("/daily", h.daily)
	site.Get("/history", h.history)
	site.Post("/refresh", h.refresh)
	site.Get("/clear-cache", h.clearSite)
}

// ErrorHandler renders every error as {"error": true, "message": ...}.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": err.Error(),
	})
}

type handlers struct {
	service WeatherService
	now     func() time.Time
}

func (h *handlers) current(c *fiber.Ctx) error {
	id, err := siteID(c)
	if err != nil {
		return err
	}
	obs, err := h.service.Current(c.UserContext(), id)
	if err != nil {
		return toHTTPError(err, "no weather data for site")
	}
	return c.JSON(obs)
}

func (h *handlers) hourly(c *fiber.Ctx) error {
	id, err := siteID(c)
	if err != nil {
		return err
	}
	rows, err := h.service.Hourly(c.UserContext(), id)
	if err != nil {
		return toHTTPError(err, "no hourly forecast for site")
	}
	return c.JSON(rows)
}

func (h *handlers) daily(c *fiber.Ctx) error {
	id, err := siteID(c)
	if err != nil {
		return err
	}
	rows, err := h.service.Daily(c.UserContext(), id)
	if err != nil {
		return toHTTPError(err, "no daily forecast for site")
	}
	return c.JSON(rows)
}

func (h *handlers) history(c *fiber.Ctx) error {
	id, err := siteID(c)
	if err != nil {
		return err
	}

	var req historyQuery
	if err := req.bind(c, h.now()); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "endDate must not be before startDate")
	}

	days, err := h.service.History(c.UserContext(), id, req.From, req.To)
	if err != nil {
		return toHTTPError(err, "no weather history for requested range")
	}
	return c.JSON(days)
}

func (h *handlers) refresh(c *fiber.Ctx) error {
	id, err := siteID(c)
	if err != nil {
		return err
	}
	res, err := h.service.ForceRefresh(c.UserContext(), id)
	if err != nil {
		return toHTTPError(err, "site not found")
	}
	return c.JSON(res)
}

func (h *handlers) clearSite(c *fiber.Ctx) error {
	id, err := siteID(c)
	if err != nil {
		return err
	}
	h.service.ClearCache(&id)
	return c.JSON(fiber.Map{
		"success": true,
		"message": "weather cache cleared for site " + strconv.FormatInt(id, 10),
	})
}

func (h *handlers) clearAll(c *fiber.Ctx) error {
	h.service.ClearCache(nil)
	return c.JSON(fiber.Map{
		"success": true,
		"message": "weather cache cleared",
	})
}

func siteID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "site id must be a positive integer")
	}
	return id, nil
}

// toHTTPError maps service errors onto status codes. notFound is used as the
// message for 404s.
func toHTTPError(err error, notFound string) error {
	switch {
	case errors.Is(err, weather.ErrInvalidRange):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, weather.ErrNotFound), errors.Is(err, weather.ErrSiteNotFound):
		return fiber.NewError(fiber.StatusNotFound, notFound)
	case errors.Is(err, weather.ErrSiteInactive):
		return fiber.NewError(fiber.StatusConflict, "site is not active")
	case errors.Is(err, weather.ErrNoCoordinates):
		return fiber.NewError(fiber.StatusConflict, "site has no coordinates")
	}

	var fe *weather.FetchError
	if errors.As(err, &fe) {
		return fiber.NewError(fiber.StatusInternalServerError, "weather provider unavailable: "+fe.Error())
	}
	return fiber.NewError(fiber.StatusInternalServerError, "internal error")
}

// historyQuery holds query parameters for the history endpoint.
type historyQuery struct {
	From time.Time `validate:"required"`
	To   time.Time `validate:"required,gtefield=From"`
}

// bind reads startDate and endDate, defaulting to the last week up to today.
func (q *historyQuery) bind(c *fiber.Ctx, now time.Time) error {
	q.To = now.UTC()
	if s := c.Query("endDate"); s != "" {
		t, err := parseTime(s)
		if err != nil {
			return errors.New("invalid endDate: " + err.Error())
		}
		q.To = t
	}

	q.From = q.To.AddDate(0, 0, -defaultHistoryDays)
	if s := c.Query("startDate"); s != "" {
		t, err := parseTime(s)
		if err != nil {
			return errors.New("invalid startDate: " + err.Error())
		}
		q.From = t
	}
	return nil
}

// parseTime accepts YYYY-MM-DD, RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.DateOnly, s); err == nil {
		return ts, nil
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("use YYYY-MM-DD, RFC3339 or unix seconds")
}
