package app

import (
	"context"
	"fmt"
	"time"
)

type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components"`
}

type HealthService struct {
	app *App
}

func NewHealthService(app *App) *HealthService {
	return &HealthService{app: app}
}

func (s *HealthService) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:     "up",
		Timestamp:  time.Now().UTC(),
		Components: make(map[string]string),
	}

	if s.app == nil || s.app.engine == nil {
		status.Status = "down"
		status.Components["engine"] = "missing"
		return status
	}
	status.Components["engine"] = "ok"

	// History
	if s.app.history != nil {
		status.Components["history"] = "ok"
	} else if s.app.Config.DB.Enabled {
		status.Status = "degraded"
		status.Components["history"] = "missing but enabled in config"
	} else {
		status.Components["history"] = "disabled"
	}

	// Last run
	if err := s.app.lastError(); err != nil {
		status.Status = "degraded"
		status.Components["last_run"] = "error: " + err.Error()
	} else if last, ok := s.app.LastResult(); ok {
		status.Components["last_run"] = fmt.Sprintf("ok (%d races, %d warnings, %s)",
			last.Result.Summary.TotalRaces, last.Result.Summary.TotalWarnings, last.Finished.Format(time.RFC3339))
	} else {
		status.Components["last_run"] = "pending"
	}

	status.Components["result_cache"] = fmt.Sprintf("ok (%d/%d)", s.app.results.Len(), s.app.results.Cap())
	return status
}
