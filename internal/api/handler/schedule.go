package handler

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/albapepper/race-alerts/internal/api/respond"
	"github.com/albapepper/race-alerts/internal/cache"
	"github.com/albapepper/race-alerts/internal/notifications"
)

const previewCachePrefix = "preview:"

// PreviewEvent is one evaluated event in a schedule preview.
type PreviewEvent struct {
	RaceID      string `json:"race_id"`
	Circuit     string `json:"circuit"`
	Event       string `json:"event"`
	StartTime   string `json:"start_time"`
	Laps        *int   `json:"laps"`
	Status      string `json:"status"`
	NotifyAt    string `json:"notify_at,omitempty"`
	WaitSeconds int64  `json:"wait_seconds,omitempty"`
	Key         string `json:"key,omitempty"`
}

// PreviewResponse is the body of GET /api/v1/schedule/preview.
type PreviewResponse struct {
	GeneratedAt string         `json:"generated_at"`
	Races       int            `json:"races"`
	Eligible    int            `json:"eligible"`
	Events      []PreviewEvent `json:"events"`
}

// RunResponse is the body of POST /api/v1/schedule/run.
type RunResponse struct {
	RunID      string         `json:"run_id"`
	Message    string         `json:"message"`
	Races      int            `json:"races"`
	Events     int            `json:"events"`
	Scheduled  int            `json:"scheduled"`
	Duplicates int            `json:"duplicates"`
	Failed     int            `json:"failed"`
	Skipped    map[string]int `json:"skipped"`
	Errors     []string       `json:"errors"`
	DurationMS int64          `json:"duration_ms"`
}

// NewPreview converts evaluations into a preview body, soonest first.
func NewPreview(evals []notifications.Evaluation, races int, now time.Time) PreviewResponse {
	resp := PreviewResponse{
		GeneratedAt: now.UTC().Format(time.RFC3339),
		Races:       races,
		Events:      make([]PreviewEvent, 0, len(evals)),
	}
	for _, ev := range evals {
		pe := PreviewEvent{
			RaceID:    ev.Event.RaceID,
			Circuit:   ev.Event.Circuit,
			Event:     ev.Event.Name,
			StartTime: ev.Event.StartTime.UTC().Format(time.RFC3339),
			Laps:      ev.Event.Laps,
			Status:    string(ev.Skip),
		}
		if ev.Skip == notifications.Eligible {
			resp.Eligible++
			pe.Status = "eligible"
			pe.NotifyAt = ev.Decision.NotifyAt.UTC().Format(time.RFC3339)
			pe.WaitSeconds = ev.Decision.WaitSeconds
			pe.Key = ev.Decision.Key
		}
		resp.Events = append(resp.Events, pe)
	}
	sort.SliceStable(resp.Events, func(i, j int) bool {
		return resp.Events[i].StartTime < resp.Events[j].StartTime
	})
	return resp
}

// GetSchedulePreview evaluates the current schedule without starting anything.
// @Summary Preview scheduling decisions
// @Description Fetches the season schedule and reports, per event, whether a run now would schedule a notification and when it would fire.
// @Tags schedule
// @Produce json
// @Success 200 {object} PreviewResponse
// @Failure 502 {object} respond.ErrorResponse
// @Router /schedule/preview [get]
func (h *Handler) GetSchedulePreview(w http.ResponseWriter, r *http.Request) {
	snap, err := h.cache.Fetch(previewCachePrefix+h.cfg.ScheduleSource, cache.TTLPreview, func() ([]byte, error) {
		evals, races, err := h.scheduler.Plan(r.Context())
		if err != nil {
			return nil, err
		}
		return json.Marshal(NewPreview(evals, races, time.Now()))
	})
	if err != nil {
		h.logger.Warn("Schedule preview failed", "error", err)
		respond.Error(w, http.StatusBadGateway, respond.CodeSourceUnavailable, "Failed to fetch race schedule", err.Error())
		return
	}
	respond.Snapshot(w, r, snap)
}

// RunSchedule performs one scheduling run.
// @Summary Run the scheduler
// @Description Fetches the schedule and starts a delayed execution for every event whose notification point falls within the horizon. Always 200; per-event failures are listed in errors.
// @Tags schedule
// @Produce json
// @Success 200 {object} RunResponse
// @Failure 401 {object} respond.ErrorResponse
// @Security ApiKeyAuth
// @Router /schedule/run [post]
func (h *Handler) RunSchedule(w http.ResponseWriter, r *http.Request) {
	result := h.scheduler.Run(r.Context())
	h.cache.InvalidatePrefix(previewCachePrefix)

	skipped := make(map[string]int, len(result.Skipped))
	for reason, n := range result.Skipped {
		skipped[string(reason)] = n
	}
	errs := result.Errors
	if errs == nil {
		errs = []string{}
	}
	respond.JSON(w, http.StatusOK, RunResponse{
		RunID:      result.RunID,
		Message:    result.Message(),
		Races:      result.RacesFound,
		Events:     result.EventsSeen,
		Scheduled:  result.Scheduled,
		Duplicates: result.Duplicates,
		Failed:     result.Failed,
		Skipped:    skipped,
		Errors:     errs,
		DurationMS: result.Duration.Milliseconds(),
	})
}
