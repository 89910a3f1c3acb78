package dashboard

// Static assets for the dashboard, served from memory.

// getStaticAsset returns a static asset by name.
// Returns the content, content type, and whether the asset was found.
func getStaticAsset(name string) (content string, contentType string, ok bool) {
	switch name {
	case "style.css":
		return cssStyles, "text/css", true
	case "app.js":
		return jsApp, "application/javascript", true
	default:
		return "", "", false
	}
}

// cssStyles supplements the Tailwind CDN classes.
const cssStyles = `
::-webkit-scrollbar { width: 8px; height: 8px; }
::-webkit-scrollbar-track { background: #1f2937; }
::-webkit-scrollbar-thumb { background: #4b5563; border-radius: 4px; }

.mono { font-family: ui-monospace, SFMono-Regular, Menlo, Monaco, Consolas, monospace; }

.card {
    background: #1f2937;
    border: 1px solid #374151;
    border-radius: 0.5rem;
    padding: 1.5rem;
}

.label {
    color: #9ca3af;
    font-size: 0.875rem;
    font-weight: 500;
}

.link { color: #60a5fa; }
.link:hover { text-decoration: underline; }

.listing {
    max-height: 32rem;
    overflow: auto;
    white-space: pre;
    font-size: 0.8125rem;
    line-height: 1.4;
    color: #d1d5db;
}
`

const jsApp = `
(function() {
    'use strict';

    const refreshInterval = 5000;

    function updateTime() {
        const el = document.getElementById('current-time');
        if (el) el.textContent = new Date().toUTCString();
    }

    function setText(id, value) {
        const el = document.getElementById(id);
        if (el) el.textContent = value;
    }

    async function refreshStatus() {
        try {
            const resp = await fetch('/api/status');
            if (!resp.ok) throw new Error('status ' + resp.status);
            const data = await resp.json();

            setText('uptime', data.uptime);
            setText('programs', (data.programs || 0).toLocaleString());
            setText('runs', data.journalEnabled ? (data.runs || 0).toLocaleString() : 'off');

            const statusEl = document.getElementById('node-status');
            if (statusEl) {
                statusEl.textContent = data.isRunning ? 'Running' : 'Stopped';
                statusEl.className = 'text-3xl font-bold mt-1 ' +
                    (data.isRunning ? 'text-green-500' : 'text-red-500');
            }
        } catch (e) {
            console.error('Failed to refresh status:', e);
        }
    }

    document.addEventListener('DOMContentLoaded', function() {
        updateTime();
        setInterval(updateTime, 1000);
        if (window.location.pathname === '/') {
            setInterval(refreshStatus, refreshInterval);
        }
    });
})();
`
