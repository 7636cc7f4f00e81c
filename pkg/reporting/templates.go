/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: templates.go
Description: HTML template for the session report. Self-contained apart from the
chart library loaded from a CDN.
*/

package reporting

// reportTemplate is the HTML template for one session
const reportTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}}</title>
    <script src="https://cdn.jsdelivr.net/npm/chart.js"></script>
    <style>
        * {
            margin: 0;
            padding: 0;
            box-sizing: border-box;
        }

        body {
            font-family: 'Segoe UI', Tahoma, Geneva, Verdana, sans-serif;
            background: linear-gradient(135deg, #667eea 0%, #764ba2 100%);
            min-height: 100vh;
            color: #333;
        }

        .container {
            max-width: 1200px;
            margin: 0 auto;
            padding: 20px;
        }

        .card {
            background: rgba(255, 255, 255, 0.95);
            border-radius: 16px;
            padding: 24px;
            margin-bottom: 24px;
            box-shadow: 0 8px 32px rgba(0, 0, 0, 0.1);
        }

        h1 {
            color: #4a5568;
            font-size: 2rem;
            margin-bottom: 8px;
        }

        h2 {
            color: #4a5568;
            font-size: 1.3rem;
            margin-bottom: 16px;
        }

        .meta {
            color: #718096;
        }

        .stats {
            display: grid;
            grid-template-columns: repeat(auto-fit, minmax(160px, 1fr));
            gap: 16px;
        }

        .stat .value {
            font-size: 1.8rem;
            font-weight: 700;
            color: #2d3748;
        }

        .stat .label {
            color: #718096;
            font-size: 0.9rem;
        }

        table {
            width: 100%;
            border-collapse: collapse;
        }

        th, td {
            text-align: left;
            padding: 8px;
            border-bottom: 1px solid #e2e8f0;
        }

        .severity-CRITICAL { color: #c53030; font-weight: 700; }
        .severity-HIGH { color: #dd6b20; font-weight: 700; }
        .severity-MEDIUM { color: #d69e2e; }
        .severity-LOW { color: #38a169; }
    </style>
</head>
<body>
<div class="container">
    <div class="card header">
        <h1>{{.Title}}</h1>
        <p class="meta">Session <span id="session-id">{{.SessionID}}</span> &middot; {{.Mode}} mode &middot; target {{.Target}} &middot; range {{.InputRange}}</p>
        <p class="meta">Generated {{.GeneratedAt.Format "2006-01-02 15:04:05"}}{{if .Interrupted}} &middot; <strong>interrupted</strong>{{end}}</p>
    </div>

    <div class="card">
        <h2>Summary</h2>
        <div class="stats" id="summary">
            <div class="stat"><div class="value" id="iterations">{{.Iterations}}</div><div class="label">Iterations</div></div>
            <div class="stat"><div class="value" id="executions">{{.Executions}}</div><div class="label">Executions</div></div>
            <div class="stat"><div class="value">{{fixed .ExecsPerSec}}</div><div class="label">Executions / sec</div></div>
            <div class="stat"><div class="value" id="coverage">{{.CoverageEdges}}</div><div class="label">Covered edges ({{pct .Density}})</div></div>
            <div class="stat"><div class="value" id="crashes">{{.Crashes}}</div><div class="label">Crashes</div></div>
            <div class="stat"><div class="value" id="timeouts">{{.Timeouts}}</div><div class="label">Timeouts</div></div>
            <div class="stat"><div class="value">{{.Duration}}</div><div class="label">Duration</div></div>
        </div>
    </div>

    <div class="card">
        <h2>Coverage progression</h2>
        <canvas id="coverageChart"></canvas>
    </div>

    <div class="card">
        <h2>Findings</h2>
        {{if .Findings}}
        <table id="findings">
            <thead><tr><th>Input</th><th>Iteration</th><th>Kind</th><th>Type</th><th>Severity</th><th>Bucket</th><th>File</th></tr></thead>
            <tbody>
            {{range .Findings}}
            <tr class="finding">
                <td class="input">{{.Input}}</td>
                <td>{{.Iteration}}</td>
                <td>{{.Kind}}</td>
                <td>{{.Type}}</td>
                <td class="severity-{{.Severity}}">{{.Severity}}</td>
                <td>{{.Bucket}}</td>
                <td>{{.Path}}</td>
            </tr>
            {{end}}
            </tbody>
        </table>
        {{else}}
        <p class="meta" id="no-findings">No crashes or timeouts found.</p>
        {{end}}
    </div>

    <div class="card">
        <h2>Corpus</h2>
        {{if .Corpus}}
        <table id="corpus">
            <thead><tr><th>Input</th><th>Fitness</th><th>Edges</th><th>Flags</th></tr></thead>
            <tbody>
            {{range .Corpus}}
            <tr class="entry">
                <td class="input">{{.Input}}</td>
                <td>{{fixed .Fitness}}</td>
                <td>{{.Edges}}</td>
                <td>{{if .Interesting}}interesting {{end}}{{if .Pending}}pending{{end}}</td>
            </tr>
            {{end}}
            </tbody>
        </table>
        {{else}}
        <p class="meta" id="no-corpus">Corpus is empty.</p>
        {{end}}
    </div>
</div>
<script>
    new Chart(document.getElementById('coverageChart'), {{.CoverageChart}});
</script>
</body>
</html>
`
