package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/tradedesk/papertrader/internal/database"
	"github.com/tradedesk/papertrader/internal/events"
)

// SystemHandlers handles system-wide monitoring endpoints
type SystemHandlers struct {
	log         zerolog.Logger
	dataDir     string
	startupTime time.Time
	marketDB    *database.DB
	ledgerDB    *database.DB
	portfolioDB *database.DB
	eventBus    *events.Bus
}

// NewSystemHandlers creates a new system handlers instance
func NewSystemHandlers(
	log zerolog.Logger,
	dataDir string,
	marketDB, ledgerDB, portfolioDB *database.DB,
	eventBus *events.Bus,
) *SystemHandlers {
	return &SystemHandlers{
		log:         log.With().Str("component", "system_handlers").Logger(),
		dataDir:     dataDir,
		startupTime: time.Now(),
		marketDB:    marketDB,
		ledgerDB:    ledgerDB,
		portfolioDB: portfolioDB,
		eventBus:    eventBus,
	}
}

// SystemStatusResponse is the /api/system/status payload
type SystemStatusResponse struct {
	Status          string  `json:"status"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
	CPUPercent      float64 `json:"cpu_percent"`
	RAMPercent      float64 `json:"ram_percent"`
	StockCount      int     `json:"stock_count"`
	UserCount       int     `json:"user_count"`
	PortfolioCount  int     `json:"portfolio_count"`
	TradeCount      int     `json:"trade_count"`
	EventSubscriber int     `json:"event_subscribers"`
	EventsDropped   uint64  `json:"events_dropped"`
}

// HandleSystemStatus returns system status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting system status")

	status := "healthy"
	countOrZero := func(db *sql.DB, query string) int {
		var n int
		if err := db.QueryRow(query).Scan(&n); err != nil && err != sql.ErrNoRows {
			h.log.Warn().Err(err).Str("query", query).Msg("Status count query failed")
			status = "degraded"
		}
		return n
	}

	cpuAvg, ramPercent := h.getSystemStats()

	response := SystemStatusResponse{
		UptimeSeconds:   time.Since(h.startupTime).Seconds(),
		CPUPercent:      cpuAvg,
		RAMPercent:      ramPercent,
		StockCount:      countOrZero(h.marketDB.Conn(), "SELECT COUNT(*) FROM stocks"),
		UserCount:       countOrZero(h.portfolioDB.Conn(), "SELECT COUNT(*) FROM users"),
		PortfolioCount:  countOrZero(h.portfolioDB.Conn(), "SELECT COUNT(*) FROM portfolios"),
		TradeCount:      countOrZero(h.ledgerDB.Conn(), "SELECT COUNT(*) FROM trades"),
		EventSubscriber: h.eventBus.SubscriberCount(),
		EventsDropped:   h.eventBus.DroppedCount(),
	}
	response.Status = status

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// DBInfo describes a single database file
type DBInfo struct {
	Name    string  `json:"name"`
	Path    string  `json:"path"`
	SizeMB  float64 `json:"size_mb"`
	Healthy bool    `json:"healthy"`
}

// DatabaseStatsResponse is the /api/system/database/stats payload
type DatabaseStatsResponse struct {
	Databases   []DBInfo `json:"databases"`
	TotalSizeMB float64  `json:"total_size_mb"`
	LastChecked string   `json:"last_checked"`
}

// HandleDatabaseStats returns per-database size and health
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting database stats")

	databases := []DBInfo{}
	totalSizeMB := 0.0

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	for _, db := range []*database.DB{h.marketDB, h.ledgerDB, h.portfolioDB} {
		path := filepath.Join(h.dataDir, db.Name()+".db")
		sizeMB := 0.0
		if info, err := os.Stat(path); err == nil {
			sizeMB = float64(info.Size()) / 1024 / 1024
			totalSizeMB += sizeMB
		}

		healthy := true
		if err := db.HealthCheck(ctx); err != nil {
			h.log.Warn().Err(err).Str("database", db.Name()).Msg("Database health check failed")
			healthy = false
		}

		databases = append(databases, DBInfo{
			Name:    db.Name(),
			Path:    path,
			SizeMB:  sizeMB,
			Healthy: healthy,
		})
	}

	response := DatabaseStatsResponse{
		Databases:   databases,
		TotalSizeMB: totalSizeMB,
		LastChecked: time.Now().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// getSystemStats calculates CPU and RAM usage percentages
// Uses a 100ms sampling interval so the API call stays responsive
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}
