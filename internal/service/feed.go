package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/laoweather/backend/internal/domain"
	"github.com/laoweather/backend/pkg/utils"
)

const (
	defaultPageLimit   = 10
	maxPageLimit       = 100
	recentWindow       = 24 * time.Hour
	activeLimit        = 10
	weatherAlertsLimit = 10
	weatherAlertsTop   = 5
)

// FeedStore is the persistence the notification feed needs.
type FeedStore interface {
	domain.AlertRepository
	domain.ActivityRepository
	domain.CityRepository
	Health(ctx context.Context) error
}

// FeedConfig tunes the notification feed.
type FeedConfig struct {
	// Window is how many of the newest stored alerts are merged into the feed.
	Window int
	// FilteredStats computes summary counts after filters are applied. The
	// default counts the whole candidate set. Both are before pagination.
	FilteredStats bool
}

// NotificationFeed merges stored alerts and the in-process buffer into one
// namespace and serves list, count and mutation operations over it.
type NotificationFeed struct {
	store     FeedStore
	buffer    *AlertBuffer
	sweeper   *AlertSweeper
	publisher domain.AlertPublisher // nil disables broadcast fanout
	clock     clockwork.Clock
	logger    *zap.Logger
	cfg       FeedConfig
}

// NewNotificationFeed wires the feed. The buffer is shared with the dispatcher.
func NewNotificationFeed(store FeedStore, buffer *AlertBuffer, sweeper *AlertSweeper, publisher domain.AlertPublisher,
	clock clockwork.Clock, logger *zap.Logger, cfg FeedConfig) *NotificationFeed {
	if cfg.Window <= 0 {
		cfg.Window = 50
	}
	return &NotificationFeed{
		store:     store,
		buffer:    buffer,
		sweeper:   sweeper,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
		cfg:       cfg,
	}
}

// ListFilter selects and pages the feed. Empty predicates match everything.
type ListFilter struct {
	Type          string
	Priority      string
	Status        string
	Search        string
	Page          int
	Limit         int
	IncludeSystem bool
}

// FeedStats are the summary counts returned with a list.
type FeedStats struct {
	Total    int `json:"total"`
	Critical int `json:"critical"`
	Warning  int `json:"warning"`
	Info     int `json:"info"`
	Unread   int `json:"unread"`
}

// Pagination describes the returned page.
type Pagination struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"totalPages"`
	HasNext    bool `json:"hasNext"`
	HasPrev    bool `json:"hasPrev"`
}

// ListResult is one page of the feed.
type ListResult struct {
	Items      []domain.Alert `json:"notifications"`
	Stats      FeedStats      `json:"stats"`
	Pagination Pagination     `json:"pagination"`
}

// List returns a filtered, paginated page of the merged feed, newest first.
func (f *NotificationFeed) List(ctx context.Context, filter ListFilter) (ListResult, error) {
	persisted, err := f.store.RecentAlerts(ctx, domain.AlertQuery{Limit: f.cfg.Window})
	if err != nil {
		return ListResult{}, fmt.Errorf("feed: %w", err)
	}
	candidates := merge(persisted, f.buffer.Snapshot())
	if filter.IncludeSystem {
		candidates = append(candidates, f.systemAlerts(ctx)...)
	}
	sortNewestFirst(candidates)

	filtered := applyFilter(candidates, filter)
	statsBase := candidates
	if f.cfg.FilteredStats {
		statsBase = filtered
	}

	page, limit := normalizePage(filter.Page, filter.Limit)
	total := len(filtered)
	totalPages := int(math.Ceil(float64(total) / float64(limit)))
	start := min((page-1)*limit, total)
	end := min(start+limit, total)

	return ListResult{
		Items: filtered[start:end],
		Stats: summarizeFeed(statsBase),
		Pagination: Pagination{
			Page:       page,
			Limit:      limit,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
			HasPrev:    page > 1,
		},
	}, nil
}

// Count returns the number of unread alerts across both stores.
func (f *NotificationFeed) Count(ctx context.Context) (int64, error) {
	n, err := f.store.CountUnreadAlerts(ctx)
	if err != nil {
		return 0, fmt.Errorf("feed: %w", err)
	}
	for _, a := range f.buffer.Snapshot() {
		if a.PersistedID == 0 && a.Status != domain.StatusRead {
			n++
		}
	}
	return n, nil
}

// Active returns alerts from the last 24 hours, newest first.
func (f *NotificationFeed) Active(ctx context.Context) ([]domain.Alert, error) {
	since := f.clock.Now().Add(-recentWindow)
	persisted, err := f.store.RecentAlerts(ctx, domain.AlertQuery{Since: since, Limit: activeLimit})
	if err != nil {
		return nil, fmt.Errorf("feed: %w", err)
	}
	buffered := filterAlerts(f.buffer.Snapshot(), func(a domain.Alert) bool { return !a.CreatedAt.Before(since) })
	out := merge(persisted, buffered)
	sortNewestFirst(out)
	return out, nil
}

// PriorityStats counts alerts per priority.
type PriorityStats struct {
	Total    int `json:"total"`
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
}

// WeatherAlertsResult is the user-facing weather alert view.
type WeatherAlertsResult struct {
	Alerts []domain.Alert `json:"alerts"`
	Stats  PriorityStats  `json:"stats"`
	Sweep  SweepResult    `json:"sweep"`
}

// WeatherAlerts runs an alert sweep, then returns the five most important
// weather alerts of the last 24 hours. Stats cover every candidate.
func (f *NotificationFeed) WeatherAlerts(ctx context.Context) (WeatherAlertsResult, error) {
	sweep, err := f.sweeper.Sweep(ctx)
	if err != nil {
		return WeatherAlertsResult{}, fmt.Errorf("feed: %w", err)
	}

	since := f.clock.Now().Add(-recentWindow)
	persisted, err := f.store.RecentAlerts(ctx, domain.AlertQuery{
		Since: since,
		Types: domain.WeatherAlertTypes,
		Limit: weatherAlertsLimit,
	})
	if err != nil {
		return WeatherAlertsResult{}, fmt.Errorf("feed: %w", err)
	}
	buffered := filterAlerts(f.buffer.Snapshot(), func(a domain.Alert) bool {
		return !a.CreatedAt.Before(since) && domain.IsWeatherType(a.Type)
	})
	candidates := merge(persisted, buffered)

	sort.SliceStable(candidates, func(i, j int) bool {
		ri, rj := candidates[i].Priority.Rank(), candidates[j].Priority.Rank()
		if ri != rj {
			return ri > rj
		}
		return candidates[i].CreatedAt.After(candidates[j].CreatedAt)
	})

	stats := PriorityStats{Total: len(candidates)}
	for _, a := range candidates {
		switch a.Priority {
		case domain.PriorityCritical:
			stats.Critical++
		case domain.PriorityHigh:
			stats.High++
		case domain.PriorityMedium:
			stats.Medium++
		default:
			stats.Low++
		}
	}

	top := candidates
	if len(top) > weatherAlertsTop {
		top = top[:weatherAlertsTop]
	}
	return WeatherAlertsResult{Alerts: top, Stats: stats, Sweep: sweep}, nil
}

// CreateInput is an administrator-entered notification.
type CreateInput struct {
	Type            string `json:"type"`
	Title           string `json:"title"`
	Message         string `json:"message"`
	Priority        string `json:"priority"`
	Recommendations string `json:"recommendations"`
}

func (in CreateInput) toAlert(now time.Time) (domain.Alert, error) {
	in.Type, in.Title, in.Message = strings.TrimSpace(in.Type), strings.TrimSpace(in.Title), strings.TrimSpace(in.Message)
	if in.Type == "" || in.Title == "" || in.Message == "" {
		return domain.Alert{}, fmt.Errorf("type, title and message are required: %w", domain.ErrInvalidInput)
	}
	priority := domain.PriorityMedium
	if in.Priority != "" {
		p, ok := domain.ParsePriority(in.Priority)
		if !ok {
			return domain.Alert{}, fmt.Errorf("unknown priority %q: %w", in.Priority, domain.ErrInvalidInput)
		}
		priority = p
	}
	return domain.Alert{
		Type:      in.Type,
		Title:     in.Title,
		Message:   in.Message,
		Priority:  priority,
		Status:    domain.StatusUnread,
		CreatedAt: now,
		Metadata:  domain.AlertMetadata{Recommendations: in.Recommendations},
	}, nil
}

// Create validates and stores a notification, mirroring it into the buffer so
// the next read sees it.
func (f *NotificationFeed) Create(ctx context.Context, in CreateInput) (domain.Alert, error) {
	alert, err := in.toAlert(f.clock.Now())
	if err != nil {
		return domain.Alert{}, err
	}
	stored, err := f.store.CreateAlert(ctx, alert)
	if err != nil {
		return domain.Alert{}, fmt.Errorf("feed: %w", err)
	}
	mirror := stored
	mirror.ID = NewBufferID(domain.PrefixCustom)
	f.buffer.Append(mirror)
	return stored, nil
}

// Broadcast stores a notification and fans it out to subscribers.
func (f *NotificationFeed) Broadcast(ctx context.Context, in CreateInput) (domain.Alert, error) {
	stored, err := f.Create(ctx, in)
	if err != nil {
		return domain.Alert{}, err
	}
	if f.publisher != nil {
		if err := f.publisher.PublishAlert(ctx, stored); err != nil {
			return stored, fmt.Errorf("feed: broadcast stored but not delivered: %w", err)
		}
	}
	return stored, nil
}

// WeatherAlertInput is an administrator-entered weather alert for one city.
type WeatherAlertInput struct {
	CityID          int64      `json:"cityId"`
	AlertType       string     `json:"alertType"`
	Severity        string     `json:"severity"`
	Title           string     `json:"title"`
	Message         string     `json:"message"`
	Recommendations []string   `json:"recommendations"`
	ExpiresAt       *time.Time `json:"expiresAt"`
}

// SeverityPriority maps administrator severities onto priorities.
func SeverityPriority(severity string) domain.Priority {
	switch strings.ToLower(strings.TrimSpace(severity)) {
	case "critical":
		return domain.PriorityCritical
	case "warning":
		return domain.PriorityHigh
	case "info":
		return domain.PriorityMedium
	default:
		return domain.PriorityLow
	}
}

// CreateWeatherAlert adds a buffer-only weather alert for an existing city.
func (f *NotificationFeed) CreateWeatherAlert(ctx context.Context, in WeatherAlertInput) (domain.Alert, error) {
	if in.CityID <= 0 || strings.TrimSpace(in.AlertType) == "" || strings.TrimSpace(in.Severity) == "" ||
		strings.TrimSpace(in.Title) == "" || strings.TrimSpace(in.Message) == "" {
		return domain.Alert{}, fmt.Errorf("cityId, alertType, severity, title and message are required: %w", domain.ErrInvalidInput)
	}
	city, err := f.store.CityByID(ctx, in.CityID)
	if err != nil {
		return domain.Alert{}, err
	}

	p := SeverityPriority(in.Severity)
	alert := domain.Alert{
		ID:        NewBufferID(domain.PrefixManual),
		Type:      "Weather",
		Title:     strings.TrimSpace(in.Title),
		Message:   strings.TrimSpace(in.Message),
		Priority:  p,
		Status:    domain.StatusUnread,
		CreatedAt: f.clock.Now(),
		Metadata: domain.AlertMetadata{
			Location:        city.Label(),
			CityID:          city.ID,
			Rule:            in.AlertType,
			Severity:        in.Severity,
			Recommendations: strings.Join(in.Recommendations, "\n"),
			ExpiresAt:       in.ExpiresAt,
		},
	}
	return f.buffer.Append(alert), nil
}

// DeleteWeatherAlert removes a buffer entry by id.
func (f *NotificationFeed) DeleteWeatherAlert(_ context.Context, id string) error {
	if !f.buffer.Remove(id) {
		return domain.ErrNotFound
	}
	return nil
}

// MarkRead flips one alert to Read in every store holding it.
func (f *NotificationFeed) MarkRead(ctx context.Context, id string) error {
	ref, err := domain.ParseAlertRef(id)
	if err != nil {
		return err
	}
	if ref.Persisted() {
		if err := f.store.MarkAlertRead(ctx, ref.PersistedID); err != nil {
			return err
		}
		f.buffer.MarkReadByPersistedID(ref.PersistedID)
		return nil
	}

	entry, ok := f.buffer.Get(ref.BufferID)
	if !ok {
		return domain.ErrNotFound
	}
	f.buffer.MarkRead(ref.BufferID)
	if entry.PersistedID > 0 {
		if err := f.store.MarkAlertRead(ctx, entry.PersistedID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("feed: %w", err)
		}
	}
	return nil
}

// BulkResult counts rows and buffer entries touched by a bulk operation.
type BulkResult struct {
	Persisted int64 `json:"persisted"`
	Buffer    int   `json:"buffer"`
}

// MarkAllRead flips every alert to Read.
func (f *NotificationFeed) MarkAllRead(ctx context.Context) (BulkResult, error) {
	n, err := f.store.MarkAllAlertsRead(ctx)
	if err != nil {
		return BulkResult{}, fmt.Errorf("feed: %w", err)
	}
	return BulkResult{Persisted: n, Buffer: f.buffer.MarkAllRead()}, nil
}

// Delete removes one alert, dispatching on the id prefix.
func (f *NotificationFeed) Delete(ctx context.Context, id string) error {
	ref, err := domain.ParseAlertRef(id)
	if err != nil {
		return err
	}
	if ref.Persisted() {
		if err := f.store.DeleteAlert(ctx, ref.PersistedID); err != nil {
			return err
		}
		f.buffer.RemoveByPersistedID(ref.PersistedID)
		return nil
	}

	entry, ok := f.buffer.Get(ref.BufferID)
	if !ok {
		return domain.ErrNotFound
	}
	f.buffer.Remove(ref.BufferID)
	if entry.PersistedID > 0 {
		if err := f.store.DeleteAlert(ctx, entry.PersistedID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("feed: %w", err)
		}
	}
	return nil
}

// ClearOld purges alerts older than hours from both stores.
func (f *NotificationFeed) ClearOld(ctx context.Context, hours int) (BulkResult, error) {
	if hours <= 0 {
		return BulkResult{}, fmt.Errorf("hours must be positive: %w", domain.ErrInvalidInput)
	}
	cutoff := f.clock.Now().Add(-time.Duration(hours) * time.Hour)
	n, err := f.store.DeleteAlertsBefore(ctx, cutoff)
	if err != nil {
		return BulkResult{}, fmt.Errorf("feed: %w", err)
	}
	return BulkResult{Persisted: n, Buffer: f.buffer.RemoveOlderThan(cutoff)}, nil
}

// ClearAll purges both stores.
func (f *NotificationFeed) ClearAll(ctx context.Context) (BulkResult, error) {
	n, err := f.store.DeleteAllAlerts(ctx)
	if err != nil {
		return BulkResult{}, fmt.Errorf("feed: %w", err)
	}
	return BulkResult{Persisted: n, Buffer: f.buffer.Clear()}, nil
}

// ClearBuffer empties the in-process buffer only.
func (f *NotificationFeed) ClearBuffer() int {
	return f.buffer.Clear()
}

// Cities lists the cities alerts can target.
func (f *NotificationFeed) Cities(ctx context.Context) ([]domain.City, error) {
	cities, err := f.store.Cities(ctx)
	if err != nil {
		return nil, fmt.Errorf("feed: %w", err)
	}
	return cities, nil
}

// systemAlerts synthesises ephemeral activity and health notices. They are
// never stored.
func (f *NotificationFeed) systemAlerts(ctx context.Context) []domain.Alert {
	now := f.clock.Now()
	var out []domain.Alert

	counts, err := f.store.ActivityCounts(ctx, now.Add(-recentWindow))
	if err != nil {
		f.logger.Warn("activity counts unavailable", zap.Error(err))
	} else {
		notice := func(id, title, format string, n int64, p domain.Priority) {
			if n <= 0 {
				return
			}
			count := n
			out = append(out, domain.Alert{
				ID:        domain.PrefixSystem + id,
				Type:      domain.TypeSystem,
				Title:     title,
				Message:   fmt.Sprintf(format, n),
				Priority:  p,
				Status:    domain.StatusUnread,
				Source:    domain.SourceSystem,
				CreatedAt: now,
				Metadata:  domain.AlertMetadata{AutoGenerated: true, Count: &count},
			})
		}
		notice("weather_update", "Weather data updated", "%d new weather records in the last 24 hours", counts.Observations, domain.PriorityLow)
		notice("news_update", "New articles published", "%d news articles published in the last 24 hours", counts.News, domain.PriorityMedium)
		notice("user_update", "New users registered", "%d users registered in the last 24 hours", counts.Users, domain.PriorityLow)
	}

	health := domain.Alert{
		ID:        domain.PrefixSystem + "health",
		Type:      domain.TypeSystem,
		Title:     "System healthy",
		Message:   "All services are operating normally",
		Priority:  domain.PriorityLow,
		Status:    domain.StatusRead,
		Source:    domain.SourceSystem,
		CreatedAt: now,
		Metadata:  domain.AlertMetadata{AutoGenerated: true},
	}
	if err := f.store.Health(ctx); err != nil {
		health.Title = "System degraded"
		health.Message = "The database is not responding"
		health.Priority = domain.PriorityHigh
		health.Status = domain.StatusUnread
	}
	return append(out, health)
}

// merge joins stored rows and buffer entries. A buffer entry mirroring a row
// already in the stored set is dropped so no alert is counted twice.
func merge(persisted, buffered []domain.Alert) []domain.Alert {
	seen := make(map[int64]bool, len(persisted))
	out := make([]domain.Alert, 0, len(persisted)+len(buffered))
	for _, a := range persisted {
		seen[a.PersistedID] = true
		out = append(out, a)
	}
	for _, a := range buffered {
		if a.PersistedID != 0 && seen[a.PersistedID] {
			continue
		}
		if _, ok := domain.ParsePriority(string(a.Priority)); !ok {
			a.Priority = domain.PriorityForType(a.Type)
		}
		out = append(out, a)
	}
	return out
}

func applyFilter(alerts []domain.Alert, f ListFilter) []domain.Alert {
	search := strings.ToLower(strings.TrimSpace(f.Search))
	return filterAlerts(alerts, func(a domain.Alert) bool {
		if f.Type != "" && !strings.EqualFold(a.Type, f.Type) {
			return false
		}
		if f.Priority != "" && !strings.EqualFold(string(a.Priority), f.Priority) {
			return false
		}
		if f.Status != "" && !strings.EqualFold(string(a.Status), f.Status) {
			return false
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(a.Title), search) &&
			!strings.Contains(strings.ToLower(a.Message), search) {
			return false
		}
		return true
	})
}

func filterAlerts(alerts []domain.Alert, keep func(domain.Alert) bool) []domain.Alert {
	out := make([]domain.Alert, 0, len(alerts))
	for _, a := range alerts {
		if keep(a) {
			out = append(out, a)
		}
	}
	return out
}

func sortNewestFirst(alerts []domain.Alert) {
	sort.SliceStable(alerts, func(i, j int) bool { return alerts[i].CreatedAt.After(alerts[j].CreatedAt) })
}

func summarizeFeed(alerts []domain.Alert) FeedStats {
	s := FeedStats{Total: len(alerts)}
	for _, a := range alerts {
		switch a.Priority {
		case domain.PriorityCritical:
			s.Critical++
		case domain.PriorityHigh:
			s.Warning++
		default:
			s.Info++
		}
		if a.Status != domain.StatusRead {
			s.Unread++
		}
	}
	return s
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageLimit
	}
	return page, utils.Clamp(limit, 1, maxPageLimit)
}
