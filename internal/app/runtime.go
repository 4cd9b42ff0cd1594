package app

import (
	"foxq/internal/runtime/supervisor"
)

// RuntimeInfo is what GET /runtime reports.
type RuntimeInfo struct {
	Storage    string               `json:"storage"`
	BusDropped uint64               `json:"bus_dropped"`
	App        supervisor.Snapshot  `json:"app"`
	Telegram   *supervisor.Snapshot `json:"telegram,omitempty"`
}

// Runtime reports supervised goroutines, dropped bus events and the
// storage driver in use.
func (a *App) Runtime() RuntimeInfo {
	info := RuntimeInfo{
		Storage:    "none",
		BusDropped: a.bus.Dropped(),
		App:        a.sup.Snapshot(),
	}
	if a.store != nil {
		info.Storage = a.store.Driver()
	}
	if a.tg != nil {
		snap := a.tg.Snapshot()
		info.Telegram = &snap
	}
	return info
}
