package webmonitor

const indexHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Camera Monitor</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { font-family: sans-serif; background: #111; color: #ddd; margin: 16px; }
        .grid { display: flex; gap: 16px; flex-wrap: wrap; }
        .panel { background: #1c1c1c; padding: 12px; border-radius: 6px; }
        button { margin: 2px; }
        .normal { color: #6c6; } .warning { color: #fc3; } .critical { color: #f55; }
        pre { max-height: 240px; overflow-y: auto; font-size: 12px; }
    </style>
</head>
<body>
    <h2>Camera Monitor</h2>
    <div class="grid">
        <div class="panel">
            <img src="/stream" alt="live view" width="640">
        </div>
        <div class="panel">
            <div>
                <button onclick="post('/api/acquisition/snap')">Snap</button>
                <button onclick="post('/api/acquisition/start')">Start</button>
                <button onclick="post('/api/acquisition/stop')">Stop</button>
                <button onclick="post('/api/snapshot')">Save image</button>
            </div>
            <div>
                <button onclick="post('/api/recording/start')">Start saving</button>
                <button onclick="post('/api/recording/stop')">Stop saving</button>
                <button onclick="post('/api/buffer/accumulate', {enabled: !state.accumulating})">Accumulate</button>
                <button onclick="post('/api/buffer/clear')">Clear buffer</button>
            </div>
            <p>Buffer: <span id="queue">-</span></p>
            <p>CPU: <span id="cpu">-</span></p>
            <p>Buffer time: <span id="buffer-ms">-</span> ms, refresh time: <span id="refresh-ms">-</span> ms</p>
            <p>Frames: <span id="frames">-</span></p>
            <p>Saving: <span id="saving">-</span></p>
            <pre id="log"></pre>
        </div>
    </div>
    <script>
        let state = {};
        function post(url, body) {
            fetch(url, {method: 'POST', headers: {'Content-Type': 'application/json'},
                body: JSON.stringify(body || {})}).then(refreshLog);
        }
        function level(el, text, lvl) {
            el.textContent = text;
            el.className = lvl;
        }
        function refreshLog() {
            fetch('/api/log').then(r => r.json()).then(data => {
                document.getElementById('log').textContent =
                    data.entries.map(e => e.level + ' ' + e.message).join('\n');
            });
        }
        const events = new EventSource('/api/status/stream');
        events.onmessage = (msg) => {
            state = JSON.parse(msg.data);
            const h = state.health;
            level(document.getElementById('queue'),
                h.queue_length + ' (' + h.queue_occupancy_percent.toFixed(0) + '%)', h.queue_level);
            level(document.getElementById('cpu'), h.cpu_percent.toFixed(1) + '%', h.cpu_level);
            document.getElementById('buffer-ms').textContent = h.buffer_interval_ms.toFixed(2);
            document.getElementById('refresh-ms').textContent = h.refresh_interval_ms.toFixed(2);
            document.getElementById('frames').textContent = h.total_frames;
            document.getElementById('saving').textContent = state.saving
                ? state.recording.filename + ' (' + state.recording.frame_count + ' frames)' : 'no';
        };
        refreshLog();
        setInterval(refreshLog, 2000);
    </script>
</body>
</html>
`
