package dashboard

// HTML templates for the dashboard pages.
// These are embedded as strings and parsed at runtime.

const layoutTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>bytevm Dashboard</title>
    <script src="https://cdn.tailwindcss.com"></script>
    <link rel="stylesheet" href="/static/style.css">
</head>
<body class="bg-gray-900 text-gray-100 min-h-screen">
    <nav class="bg-gray-800 border-b border-gray-700 sticky top-0 z-50">
        <div class="container mx-auto px-4">
            <div class="flex items-center justify-between h-16">
                <div class="flex items-center space-x-8">
                    <a href="/" class="text-xl font-bold text-white mono">bytevm</a>
                    <div class="hidden md:flex items-center space-x-4">
                        <a href="/" class="px-3 py-2 rounded-md text-sm font-medium {{if eq .PageName "home"}}bg-gray-900 text-white{{else}}text-gray-300 hover:bg-gray-700{{end}}">Overview</a>
                        <a href="/programs" class="px-3 py-2 rounded-md text-sm font-medium {{if or (eq .PageName "programs") (eq .PageName "program")}}bg-gray-900 text-white{{else}}text-gray-300 hover:bg-gray-700{{end}}">Programs</a>
                        <a href="/runs" class="px-3 py-2 rounded-md text-sm font-medium {{if or (eq .PageName "runs") (eq .PageName "run")}}bg-gray-900 text-white{{else}}text-gray-300 hover:bg-gray-700{{end}}">Runs</a>
                    </div>
                </div>
            </div>
        </div>
    </nav>

    <main class="container mx-auto px-4 py-6">
        {{.Content}}
    </main>

    <footer class="bg-gray-800 border-t border-gray-700 mt-8 py-4">
        <div class="container mx-auto px-4 text-center text-gray-400 text-sm">
            bytevm node | <span id="current-time"></span>
        </div>
    </footer>

    <script src="/static/app.js"></script>
</body>
</html>`

const homeTemplate = `
<div class="space-y-6">
    <div class="grid grid-cols-1 md:grid-cols-2 lg:grid-cols-4 gap-4">
        <div class="card">
            <p class="label">Status</p>
            <p class="text-3xl font-bold mt-1 {{if .IsRunning}}text-green-500{{else}}text-red-500{{end}}" id="node-status">{{if .IsRunning}}Running{{else}}Stopped{{end}}</p>
        </div>
        <div class="card">
            <p class="label">Uptime</p>
            <p class="text-3xl font-bold text-white mt-1" id="uptime">{{formatDuration .Uptime}}</p>
        </div>
        <div class="card">
            <p class="label">Programs</p>
            <p class="text-3xl font-bold text-white mt-1" id="programs">{{formatNumber .Programs}}</p>
            <p class="text-sm text-gray-500 mt-1">{{formatBytes .CodeBytes}} of code</p>
        </div>
        <div class="card">
            <p class="label">Runs</p>
            <p class="text-3xl font-bold text-white mt-1" id="runs">{{if .JournalEnabled}}{{formatNumber .Runs}}{{else}}off{{end}}</p>
        </div>
    </div>

    {{if .LastError}}
    <div class="bg-red-900/50 border border-red-500 rounded-lg p-4">
        <span class="text-red-200 text-sm">{{.LastError}}</span>
    </div>
    {{end}}

    <div class="card">
        <h2 class="text-lg font-semibold text-white mb-4">Recent Runs</h2>
        {{if .RecentRuns}}
        {{template "runTable" .RecentRuns}}
        {{else}}
        <p class="text-gray-400">No runs recorded.</p>
        {{end}}
    </div>
</div>

{{define "runTable"}}
<table class="w-full text-sm">
    <thead>
        <tr class="text-left text-gray-400 border-b border-gray-700">
            <th class="py-2">Seq</th>
            <th class="py-2">Program</th>
            <th class="py-2">Status</th>
            <th class="py-2">Steps</th>
            <th class="py-2">Duration</th>
            <th class="py-2">Started</th>
        </tr>
    </thead>
    <tbody>
        {{range .}}
        <tr class="border-b border-gray-800">
            <td class="py-2"><a class="link" href="/runs/{{.Seq}}">{{.Seq}}</a></td>
            <td class="py-2 mono"><a class="link" href="/programs/{{.ProgramID}}">{{truncateID .ProgramID}}</a></td>
            <td class="py-2 {{statusClass .Status}}">{{.Status}}{{if .Fault}} ({{.Fault}}){{end}}</td>
            <td class="py-2">{{formatNumber .Steps}}</td>
            <td class="py-2">{{formatDuration .Duration}}</td>
            <td class="py-2 text-gray-400">{{formatTime .Started}}</td>
        </tr>
        {{end}}
    </tbody>
</table>
{{end}}
`

const programsTemplate = `
<div class="space-y-6">
    <h1 class="text-2xl font-bold text-white">Programs</h1>

    {{if .Error}}
    <div class="bg-red-900/50 border border-red-500 rounded-lg p-4 text-red-200">{{.Error}}</div>
    {{end}}

    {{with .Stats}}
    <p class="text-gray-400 text-sm">{{formatNumber .Names}} names, {{formatNumber .Programs}} distinct programs, {{formatBytes .CodeBytes}} of code</p>
    {{end}}

    <div class="card">
        {{if .Programs}}
        <table class="w-full text-sm">
            <thead>
                <tr class="text-left text-gray-400 border-b border-gray-700">
                    <th class="py-2">Name</th>
                    <th class="py-2">ID</th>
                    <th class="py-2">Size</th>
                    <th class="py-2">Updated</th>
                </tr>
            </thead>
            <tbody>
                {{range .Programs}}
                <tr class="border-b border-gray-800">
                    <td class="py-2"><a class="link" href="/programs/{{.Name}}">{{.Name}}</a></td>
                    <td class="py-2 mono">{{truncateID .ID}}</td>
                    <td class="py-2">{{formatBytes .Size}}</td>
                    <td class="py-2 text-gray-400">{{formatTime .Updated}}</td>
                </tr>
                {{end}}
            </tbody>
        </table>
        {{else}}
        <p class="text-gray-400">No programs stored.</p>
        {{end}}
    </div>
</div>
`

const programDetailTemplate = `
<div class="space-y-6">
    {{if .Error}}
    <h1 class="text-2xl font-bold text-white mono">{{.Ref}}</h1>
    <div class="bg-red-900/50 border border-red-500 rounded-lg p-4 text-red-200">{{.Error}}</div>
    {{else}}
    <h1 class="text-2xl font-bold text-white mono">{{.Ref}}</h1>
    <p class="text-gray-400 text-sm mono">{{.ID}} | {{formatBytes .Size}}</p>

    <div class="card">
        <h2 class="text-lg font-semibold text-white mb-4">Listing</h2>
        <pre class="listing mono">{{.Listing}}</pre>
    </div>

    <div class="card">
        <h2 class="text-lg font-semibold text-white mb-4">Recent Runs</h2>
        {{if .Runs}}
        {{template "runTable" .Runs}}
        {{else}}
        <p class="text-gray-400">No runs recorded.</p>
        {{end}}
    </div>
    {{end}}
</div>
`

const runsTemplate = `
<div class="space-y-6">
    <h1 class="text-2xl font-bold text-white">Runs</h1>

    {{if .Error}}
    <div class="bg-red-900/50 border border-red-500 rounded-lg p-4 text-red-200">{{.Error}}</div>
    {{end}}

    <div class="card">
        {{if .Runs}}
        {{template "runTable" .Runs}}
        {{else}}
        <p class="text-gray-400">No runs recorded.</p>
        {{end}}
    </div>

    {{with .Next}}
    <div class="text-right"><a class="link" href="/runs?before={{.}}">Older runs</a></div>
    {{end}}
</div>
`

const runDetailTemplate = `
<div class="space-y-6">
    {{if .Error}}
    <h1 class="text-2xl font-bold text-white">Run {{.Seq}}</h1>
    <div class="bg-red-900/50 border border-red-500 rounded-lg p-4 text-red-200">{{.Error}}</div>
    {{else}}
    {{with .Run}}
    <h1 class="text-2xl font-bold text-white">Run {{.Seq}}</h1>
    <div class="card">
        <dl class="grid grid-cols-1 md:grid-cols-2 gap-4 text-sm">
            <div><dt class="label">Program</dt><dd class="mono"><a class="link" href="/programs/{{.ProgramID}}">{{.ProgramID}}</a></dd></div>
            <div><dt class="label">Status</dt><dd class="{{statusClass .Status}}">{{.Status}}</dd></div>
            {{if .Fault}}<div><dt class="label">Fault</dt><dd>{{.Fault}} at ip {{.FaultIP}}</dd></div>{{end}}
            {{if .Message}}<div><dt class="label">Message</dt><dd>{{.Message}}</dd></div>{{end}}
            <div><dt class="label">Steps</dt><dd>{{formatNumber .Steps}}</dd></div>
            <div><dt class="label">Stack depth</dt><dd>{{.StackDepth}}</dd></div>
            <div><dt class="label">Started</dt><dd>{{.Started.Format "2006-01-02 15:04:05 MST"}} ({{formatTime .Started}})</dd></div>
            <div><dt class="label">Duration</dt><dd>{{formatDuration .Duration}}</dd></div>
        </dl>
    </div>
    {{end}}
    <div class="card">
        <h2 class="text-lg font-semibold text-white mb-4">Output</h2>
        <pre class="listing mono">{{.Output}}</pre>
    </div>
    {{end}}
</div>
`
