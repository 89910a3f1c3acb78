// Package dashboard provides an embedded web dashboard for a bytevm node.
//
// The dashboard shows:
// - Node status and uptime
// - The program library with disassembly listings
// - The run journal with per-run detail
// - Process metrics (memory, goroutines)
//
// Pages are rendered from templates compiled into the binary, so the
// dashboard needs no files at runtime.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fortiblox/bytevm/internal/types"
	"github.com/fortiblox/bytevm/pkg/asm"
	"github.com/fortiblox/bytevm/pkg/executor"
	"github.com/fortiblox/bytevm/pkg/journal"
	"github.com/fortiblox/bytevm/pkg/programstore"
)

// ErrAlreadyRunning is returned by Start on a running dashboard.
var ErrAlreadyRunning = errors.New("dashboard already running")

// runsPerPage is the page size of run listings.
const runsPerPage = 25

// Config holds dashboard configuration options.
type Config struct {
	// Addr is the listen address.
	// Default: "127.0.0.1:8080"
	Addr string

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum duration before timing out writes of the response.
	WriteTimeout time.Duration

	// IdleTimeout is the maximum time to wait for the next request.
	IdleTimeout time.Duration
}

// DefaultConfig returns the default dashboard configuration.
func DefaultConfig() Config {
	return Config{
		Addr:         "127.0.0.1:8080",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// NodeStats provides node state to the dashboard.
type NodeStats interface {
	// IsRunning returns true if the node is running.
	IsRunning() bool

	// Uptime returns how long the node has been running.
	Uptime() time.Duration

	// LastError returns the last error encountered, if any.
	LastError() error
}

// Dashboard is the web dashboard server.
type Dashboard struct {
	config    Config
	exec      *executor.Executor
	nodeStats NodeStats

	templates *template.Template

	mu        sync.RWMutex
	server    *http.Server
	listener  net.Listener
	running   bool
	startTime time.Time
}

// New creates a dashboard over exec's program store and journal. stats may
// be nil, in which case uptime is measured from Start.
func New(config Config, exec *executor.Executor, stats NodeStats) (*Dashboard, error) {
	defaults := DefaultConfig()
	if config.Addr == "" {
		config.Addr = defaults.Addr
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = defaults.ReadTimeout
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.IdleTimeout == 0 {
		config.IdleTimeout = defaults.IdleTimeout
	}

	d := &Dashboard{
		config:    config,
		exec:      exec,
		nodeStats: stats,
		startTime: time.Now(),
	}

	tmpl, err := d.parseTemplates()
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	d.templates = tmpl

	return d, nil
}

// parseTemplates parses all embedded templates.
func (d *Dashboard) parseTemplates() (*template.Template, error) {
	funcMap := template.FuncMap{
		"formatDuration": formatDuration,
		"formatNumber":   formatNumber,
		"formatBytes":    formatBytes,
		"formatTime":     humanize.Time,
		"truncateID":     truncateID,
		"statusClass":    statusClass,
	}

	tmpl := template.New("").Funcs(funcMap)

	if _, err := tmpl.New("layout").Parse(layoutTemplate); err != nil {
		return nil, fmt.Errorf("parse layout: %w", err)
	}

	templates := map[string]string{
		"home":     homeTemplate,
		"programs": programsTemplate,
		"program":  programDetailTemplate,
		"runs":     runsTemplate,
		"run":      runDetailTemplate,
	}

	for name, content := range templates {
		if _, err := tmpl.New(name).Parse(content); err != nil {
			return nil, fmt.Errorf("parse %s template: %w", name, err)
		}
	}

	return tmpl, nil
}

// Handler returns the dashboard's HTTP handler.
func (d *Dashboard) Handler() http.Handler {
	mux := http.NewServeMux()

	// Static assets
	mux.HandleFunc("/static/", d.handleStatic)

	// Page routes
	mux.HandleFunc("/", d.handleHome)
	mux.HandleFunc("/programs", d.handlePrograms)
	mux.HandleFunc("/programs/", d.handleProgramDetail)
	mux.HandleFunc("/runs", d.handleRuns)
	mux.HandleFunc("/runs/", d.handleRunDetail)

	// API routes
	mux.HandleFunc("/api/status", d.handleAPIStatus)
	mux.HandleFunc("/api/programs", d.handleAPIPrograms)
	mux.HandleFunc("/api/runs", d.handleAPIRuns)
	mux.HandleFunc("/api/runs/", d.handleAPIRun)
	mux.HandleFunc("/api/metrics", d.handleAPIMetrics)

	return mux
}

// Start listens on the configured address and serves until ctx is
// cancelled or Stop is called.
func (d *Dashboard) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", d.config.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", d.config.Addr, err)
	}
	return d.Serve(ctx, ln)
}

// Serve serves the dashboard on ln.
func (d *Dashboard) Serve(ctx context.Context, ln net.Listener) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		ln.Close()
		return ErrAlreadyRunning
	}
	d.running = true
	d.startTime = time.Now()
	d.listener = ln
	d.server = &http.Server{
		Handler:      d.Handler(),
		ReadTimeout:  d.config.ReadTimeout,
		WriteTimeout: d.config.WriteTimeout,
		IdleTimeout:  d.config.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	server := d.server
	d.mu.Unlock()

	go func() {
		<-ctx.Done()
		d.Stop()
	}()

	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the dashboard server.
func (d *Dashboard) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	server := d.server
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

// Addr returns the bound address, or the configured one before Serve.
func (d *Dashboard) Addr() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.listener != nil {
		return d.listener.Addr().String()
	}
	return d.config.Addr
}

// handleHome renders the overview page.
func (d *Dashboard) handleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	data := d.getStatusData()
	runs, _ := d.listRuns(journal.ListOptions{Limit: 10})
	data["RecentRuns"] = runs
	d.renderPage(w, "home", data)
}

// handlePrograms renders the program library.
func (d *Dashboard) handlePrograms(w http.ResponseWriter, r *http.Request) {
	data := map[string]interface{}{}

	store := d.exec.Store()
	if store == nil {
		data["Error"] = "program store is not configured"
		d.renderPage(w, "programs", data)
		return
	}

	entries, err := store.List()
	if err != nil {
		data["Error"] = err.Error()
	}
	data["Programs"] = entries
	if stats, err := store.Stats(); err == nil {
		data["Stats"] = stats
	}
	d.renderPage(w, "programs", data)
}

// handleProgramDetail renders one program's listing and its recent runs.
func (d *Dashboard) handleProgramDetail(w http.ResponseWriter, r *http.Request) {
	ref := strings.TrimPrefix(r.URL.Path, "/programs/")
	if ref == "" {
		http.Redirect(w, r, "/programs", http.StatusFound)
		return
	}

	store := d.exec.Store()
	if store == nil {
		d.renderPage(w, "program", map[string]interface{}{
			"Error": "program store is not configured",
			"Ref":   ref,
		})
		return
	}

	p, err := store.Resolve(ref)
	if err != nil {
		d.renderPage(w, "program", map[string]interface{}{
			"Error": fmt.Sprintf("Program not found: %v", err),
			"Ref":   ref,
		})
		return
	}

	var listing strings.Builder
	asm.Format(&listing, p.Code)

	id := p.ID()
	runs, _ := d.listRuns(journal.ListOptions{Limit: 10, Program: &id})

	d.renderPage(w, "program", map[string]interface{}{
		"Ref":     ref,
		"ID":      id.String(),
		"Size":    p.Size(),
		"Listing": listing.String(),
		"Runs":    runs,
	})
}

// handleRuns renders the run journal.
func (d *Dashboard) handleRuns(w http.ResponseWriter, r *http.Request) {
	opts := journal.ListOptions{Limit: runsPerPage}
	if b := r.URL.Query().Get("before"); b != "" {
		if parsed, err := strconv.ParseUint(b, 10, 64); err == nil {
			opts.Before = parsed
		}
	}

	data := map[string]interface{}{}
	runs, err := d.listRuns(opts)
	if err != nil {
		data["Error"] = err.Error()
	}
	data["Runs"] = runs
	if len(runs) == runsPerPage {
		data["Next"] = runs[len(runs)-1].Seq
	}
	d.renderPage(w, "runs", data)
}

// handleRunDetail renders a single run.
func (d *Dashboard) handleRunDetail(w http.ResponseWriter, r *http.Request) {
	seqStr := strings.TrimPrefix(r.URL.Path, "/runs/")
	if seqStr == "" {
		http.Redirect(w, r, "/runs", http.StatusFound)
		return
	}

	seq, err := strconv.ParseUint(seqStr, 10, 64)
	if err != nil {
		http.Error(w, "Invalid sequence number", http.StatusBadRequest)
		return
	}

	rec, err := d.getRun(seq)
	if err != nil {
		d.renderPage(w, "run", map[string]interface{}{
			"Error": fmt.Sprintf("Run not found: %v", err),
			"Seq":   seq,
		})
		return
	}

	d.renderPage(w, "run", map[string]interface{}{
		"Run":    rec,
		"Output": string(rec.Output),
	})
}

// handleStatic serves embedded static assets.
func (d *Dashboard) handleStatic(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/static/")

	content, contentType, ok := getStaticAsset(name)
	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.Write([]byte(content))
}

// getStatusData returns the current node status data.
func (d *Dashboard) getStatusData() map[string]interface{} {
	data := make(map[string]interface{})

	isRunning := true
	uptime := time.Since(d.startTime)
	var lastErr error
	if d.nodeStats != nil {
		isRunning = d.nodeStats.IsRunning()
		uptime = d.nodeStats.Uptime()
		lastErr = d.nodeStats.LastError()
	}

	data["IsRunning"] = isRunning
	data["Uptime"] = uptime
	if lastErr != nil {
		data["LastError"] = lastErr.Error()
	}

	if store := d.exec.Store(); store != nil {
		if stats, err := store.Stats(); err == nil {
			data["Programs"] = stats.Names
			data["CodeBytes"] = stats.CodeBytes
		}
	}
	if j := d.exec.Journal(); j != nil {
		data["JournalEnabled"] = true
		if count, err := j.Count(); err == nil {
			data["Runs"] = count
		}
	}

	return data
}

// listRuns lists journaled runs, returning nothing when the journal is off.
func (d *Dashboard) listRuns(opts journal.ListOptions) ([]*journal.Record, error) {
	j := d.exec.Journal()
	if j == nil {
		return nil, nil
	}
	return j.List(opts)
}

// getRun fetches one run record.
func (d *Dashboard) getRun(seq uint64) (*journal.Record, error) {
	j := d.exec.Journal()
	if j == nil {
		return nil, journal.ErrRecordNotFound
	}
	return j.Get(seq)
}

// renderPage renders a page template with the given data.
func (d *Dashboard) renderPage(w http.ResponseWriter, name string, data interface{}) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	// First render the content template into a buffer
	var contentBuf strings.Builder
	if err := d.templates.ExecuteTemplate(&contentBuf, name, data); err != nil {
		http.Error(w, fmt.Sprintf("Template error: %v", err), http.StatusInternalServerError)
		return
	}

	pageData := map[string]interface{}{
		"PageName": name,
		"Content":  template.HTML(contentBuf.String()),
	}

	if err := d.templates.ExecuteTemplate(w, "layout", pageData); err != nil {
		http.Error(w, fmt.Sprintf("Template error: %v", err), http.StatusInternalServerError)
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// Template helper functions

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Microsecond).String()
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, hours)
}

func formatNumber(n interface{}) string {
	switch v := n.(type) {
	case int:
		return humanize.Comma(int64(v))
	case int64:
		return humanize.Comma(v)
	case uint64:
		return humanize.Comma(int64(v))
	case float64:
		return humanize.CommafWithDigits(v, 2)
	case nil:
		return "0"
	default:
		return fmt.Sprintf("%v", n)
	}
}

func formatBytes(n interface{}) string {
	switch v := n.(type) {
	case int:
		return humanize.Bytes(uint64(v))
	case int64:
		return humanize.Bytes(uint64(v))
	case uint64:
		return humanize.Bytes(v)
	default:
		return "0 B"
	}
}

func truncateID(id types.ProgramID) string {
	return id.Short()
}

func statusClass(s journal.Status) string {
	switch s {
	case journal.StatusHalted:
		return "text-green-500"
	case journal.StatusFaulted:
		return "text-yellow-500"
	default:
		return "text-red-500"
	}
}

// getMemStats returns current memory statistics.
func getMemStats() runtime.MemStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m
}

// storeStats returns program store statistics, nil without a store.
func storeStats(store programstore.Store) *programstore.Stats {
	if store == nil {
		return nil
	}
	stats, err := store.Stats()
	if err != nil {
		return nil
	}
	return stats
}
