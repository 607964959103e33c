package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/swissgrant/platform/internal/countdown"
	apperr "github.com/swissgrant/platform/internal/errors"
)

func (h *Handler) handleCountdown(w http.ResponseWriter, r *http.Request) {
	remaining, err := h.countdown.Remaining(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, remaining)
}

// handleCountdownStream pushes countdown updates as server-sent events, one
// per second, until the client disconnects or the countdown expires.
func (h *Handler) handleCountdownStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, apperr.Backend("streaming unsupported", nil))
		return
	}
	if _, err := h.countdown.Remaining(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := countdown.NewTicker(h.countdown, time.Second)
	for remaining := range ticker.Run(r.Context()) {
		payload, err := json.Marshal(remaining)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}
}

func (h *Handler) handleBTCPrice(w http.ResponseWriter, r *http.Request) {
	if h.prices == nil {
		h.writeError(w, apperr.NotFound("price feed disabled"))
		return
	}
	price, ok := h.prices.Get(r.Context())
	if !ok {
		h.writeError(w, apperr.Backend("price unavailable", nil))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol": "BTC/USD",
		"price":  price,
		"as_of":  time.Now().UTC(),
	})
}

// handleHealth reports process liveness plus basic host statistics.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status": "ok",
		"time":   time.Now().UTC(),
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		resp["memory_used_percent"] = vm.UsedPercent
	}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		resp["cpu_percent"] = percents[0]
	}
	if uptime, err := host.Uptime(); err == nil {
		resp["host_uptime_seconds"] = uptime
	}

	writeJSON(w, http.StatusOK, resp)
}
