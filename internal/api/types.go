package api

import (
	"time"

	"thermoboard-agent/internal/registry"
	"thermoboard-agent/internal/sensor"
)

type BoardsResponse struct {
	Boards    []registry.BoardInfo `json:"boards"`
	Count     int                  `json:"count"`
	ScanID    string               `json:"scan_id"`
	ScannedAt time.Time            `json:"scanned_at"`
}

type ScanResponse struct {
	Boards     []registry.BoardInfo `json:"boards"`
	Count      int                  `json:"count"`
	ScanID     string               `json:"scan_id"`
	ScannedAt  time.Time            `json:"scanned_at"`
	Rejections []registry.Rejection `json:"rejections"`
}

type SensorsResponse struct {
	Sensors []sensor.Info `json:"sensors"`
	Count   int           `json:"count"`
}

type MeasureResponse struct {
	Sensors []sensor.Info `json:"sensors"`
	Errors  []string      `json:"errors,omitempty"`
}

// ChangeResponse reports whether a sensor operation changed anything.
// Unknown sensors and no-op transitions report false.
type ChangeResponse struct {
	Changed bool `json:"changed"`
}

type RenameRequest struct {
	Name string `json:"name" binding:"required"`
}
