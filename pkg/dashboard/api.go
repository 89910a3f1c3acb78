package dashboard

import (
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/fortiblox/bytevm/internal/types"
	"github.com/fortiblox/bytevm/pkg/journal"
)

// API response types

// StatusResponse is the response for GET /api/status.
type StatusResponse struct {
	IsRunning      bool    `json:"isRunning"`
	Uptime         string  `json:"uptime"`
	UptimeSeconds  float64 `json:"uptimeSeconds"`
	Programs       uint64  `json:"programs"`
	CodeBytes      uint64  `json:"codeBytes"`
	JournalEnabled bool    `json:"journalEnabled"`
	Runs           uint64  `json:"runs"`
	LastError      string  `json:"lastError,omitempty"`
}

// ProgramBrief is one program library entry.
type ProgramBrief struct {
	Name    string `json:"name"`
	ID      string `json:"id"`
	Size    int    `json:"size"`
	Created int64  `json:"created"`
	Updated int64  `json:"updated"`
}

// ProgramsResponse is the response for GET /api/programs.
type ProgramsResponse struct {
	Programs []ProgramBrief `json:"programs"`
}

// RunBrief is a run summary.
type RunBrief struct {
	Seq        uint64 `json:"seq"`
	ProgramID  string `json:"programId"`
	Status     string `json:"status"`
	Fault      string `json:"fault,omitempty"`
	Steps      uint64 `json:"steps"`
	DurationNs int64  `json:"durationNs"`
	Started    int64  `json:"started"`
}

// RunsResponse is the response for GET /api/runs.
type RunsResponse struct {
	Runs []RunBrief `json:"runs"`

	// Next is the before cursor for the following page, zero on the last.
	Next uint64 `json:"next,omitempty"`
}

// RunResponse is the response for GET /api/runs/:seq.
type RunResponse struct {
	RunBrief
	FaultIP    *int   `json:"faultIp,omitempty"`
	Message    string `json:"message,omitempty"`
	Output     string `json:"output"`
	StackDepth int    `json:"stackDepth"`
}

// MetricsResponse is the response for GET /api/metrics.
type MetricsResponse struct {
	// Memory stats
	MemAlloc      uint64 `json:"memAlloc"`      // Currently allocated heap memory
	MemTotalAlloc uint64 `json:"memTotalAlloc"` // Total allocated (cumulative)
	MemSys        uint64 `json:"memSys"`        // Memory obtained from OS
	MemHeapInuse  uint64 `json:"memHeapInuse"`
	NumGC         uint32 `json:"numGC"`

	// Runtime stats
	NumGoroutine int    `json:"numGoroutine"`
	NumCPU       int    `json:"numCPU"`
	GoVersion    string `json:"goVersion"`

	// Storage stats
	Programs     uint64 `json:"programs"`
	CodeBytes    uint64 `json:"codeBytes"`
	Puts         uint64 `json:"puts"`
	DatabaseSize int64  `json:"databaseSize"`
	Runs         uint64 `json:"runs"`

	Uptime float64 `json:"uptimeSeconds"`
}

// handleAPIStatus handles GET /api/status.
func (d *Dashboard) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	data := d.getStatusData()
	uptime := getDuration(data, "Uptime")

	writeJSON(w, StatusResponse{
		IsRunning:      getBool(data, "IsRunning"),
		Uptime:         formatDuration(uptime),
		UptimeSeconds:  uptime.Seconds(),
		Programs:       getUint64(data, "Programs"),
		CodeBytes:      getUint64(data, "CodeBytes"),
		JournalEnabled: getBool(data, "JournalEnabled"),
		Runs:           getUint64(data, "Runs"),
		LastError:      getString(data, "LastError"),
	})
}

// handleAPIPrograms handles GET /api/programs.
func (d *Dashboard) handleAPIPrograms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	store := d.exec.Store()
	if store == nil {
		writeError(w, "Program store is not configured", http.StatusServiceUnavailable)
		return
	}

	entries, err := store.List()
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := ProgramsResponse{Programs: make([]ProgramBrief, 0, len(entries))}
	for _, e := range entries {
		resp.Programs = append(resp.Programs, ProgramBrief{
			Name:    e.Name,
			ID:      e.ID.String(),
			Size:    e.Size,
			Created: e.Created.Unix(),
			Updated: e.Updated.Unix(),
		})
	}
	writeJSON(w, resp)
}

// handleAPIRuns handles GET /api/runs.
func (d *Dashboard) handleAPIRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	opts := journal.ListOptions{Limit: runsPerPage}
	if l := query.Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed <= 0 || parsed > journal.MaxListLimit {
			writeError(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		opts.Limit = parsed
	}
	if b := query.Get("before"); b != "" {
		parsed, err := strconv.ParseUint(b, 10, 64)
		if err != nil {
			writeError(w, "Invalid before cursor", http.StatusBadRequest)
			return
		}
		opts.Before = parsed
	}
	if p := query.Get("program"); p != "" {
		id, err := types.ProgramIDFromBase58(p)
		if err != nil {
			writeError(w, "Invalid program ID", http.StatusBadRequest)
			return
		}
		opts.Program = &id
	}

	if d.exec.Journal() == nil {
		writeError(w, "Run journal is disabled", http.StatusServiceUnavailable)
		return
	}

	records, err := d.listRuns(opts)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := RunsResponse{Runs: make([]RunBrief, 0, len(records))}
	for _, rec := range records {
		resp.Runs = append(resp.Runs, runBrief(rec))
	}
	if len(records) == opts.Limit && len(records) > 0 {
		resp.Next = records[len(records)-1].Seq
	}
	writeJSON(w, resp)
}

// handleAPIRun handles GET /api/runs/:seq.
func (d *Dashboard) handleAPIRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	seq, err := strconv.ParseUint(strings.TrimPrefix(r.URL.Path, "/api/runs/"), 10, 64)
	if err != nil {
		writeError(w, "Invalid sequence number", http.StatusBadRequest)
		return
	}

	rec, err := d.getRun(seq)
	if err != nil {
		if errors.Is(err, journal.ErrRecordNotFound) {
			writeError(w, "Run not found", http.StatusNotFound)
			return
		}
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := RunResponse{
		RunBrief:   runBrief(rec),
		Message:    rec.Message,
		Output:     string(rec.Output),
		StackDepth: rec.StackDepth,
	}
	if rec.Status == journal.StatusFaulted {
		ip := rec.FaultIP
		resp.FaultIP = &ip
	}
	writeJSON(w, resp)
}

// handleAPIMetrics handles GET /api/metrics.
func (d *Dashboard) handleAPIMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	mem := getMemStats()
	resp := MetricsResponse{
		MemAlloc:      mem.Alloc,
		MemTotalAlloc: mem.TotalAlloc,
		MemSys:        mem.Sys,
		MemHeapInuse:  mem.HeapInuse,
		NumGC:         mem.NumGC,
		NumGoroutine:  runtime.NumGoroutine(),
		NumCPU:        runtime.NumCPU(),
		GoVersion:     runtime.Version(),
		Uptime:        getDuration(d.getStatusData(), "Uptime").Seconds(),
	}

	if stats := storeStats(d.exec.Store()); stats != nil {
		resp.Programs = stats.Names
		resp.CodeBytes = stats.CodeBytes
		resp.Puts = stats.Puts
		resp.DatabaseSize = stats.DatabaseSize
	}
	if j := d.exec.Journal(); j != nil {
		resp.Runs, _ = j.Count()
	}

	writeJSON(w, resp)
}

func runBrief(rec *journal.Record) RunBrief {
	return RunBrief{
		Seq:        rec.Seq,
		ProgramID:  rec.ProgramID.String(),
		Status:     string(rec.Status),
		Fault:      rec.Fault,
		Steps:      rec.Steps,
		DurationNs: int64(rec.Duration),
		Started:    rec.Started.Unix(),
	}
}

// Helper functions for type assertions

func getUint64(data map[string]interface{}, key string) uint64 {
	if v, ok := data[key].(uint64); ok {
		return v
	}
	return 0
}

func getBool(data map[string]interface{}, key string) bool {
	if v, ok := data[key].(bool); ok {
		return v
	}
	return false
}

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func getDuration(data map[string]interface{}, key string) time.Duration {
	if v, ok := data[key].(time.Duration); ok {
		return v
	}
	return 0
}
