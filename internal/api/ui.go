package api

import (
	"net/http"
)

const monitorUIHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Flume - Basin Monitor</title>
    <style>
        * { box-sizing: border-box; margin: 0; padding: 0; }
        body {
            font-family: monospace;
            background: #0f1b2d;
            color: #e5e7eb;
            height: 100vh;
            display: flex;
            flex-direction: column;
        }
        header {
            background: #13253c;
            padding: 12px 20px;
            border-bottom: 1px solid #1d3a5f;
            display: flex;
            justify-content: space-between;
            align-items: center;
        }
        header h1 { font-size: 16px; font-weight: normal; }
        #status {
            padding: 4px 10px;
            border-radius: 4px;
            font-size: 12px;
        }
        #status.connected { background: #1b4332; color: #95d5b2; }
        #status.disconnected { background: #7f1d1d; color: #fca5a5; }
        #status.connecting { background: #78350f; color: #fcd34d; }
        main {
            flex: 1;
            overflow: hidden;
            display: flex;
            flex-direction: column;
        }
        #events {
            flex: 1;
            overflow-y: auto;
            padding: 10px;
        }
        .event {
            padding: 8px 12px;
            margin-bottom: 4px;
            background: #13253c;
            border-radius: 4px;
            border-left: 3px solid #1d3a5f;
            font-size: 13px;
            display: flex;
            gap: 12px;
            align-items: baseline;
        }
        .event.level-error { border-left-color: #dc2626; background: #1f1515; }
        .event.level-warn { border-left-color: #d97706; }
        .event.level-info { border-left-color: #2563eb; }
        .event.scope-calibration { border-left-color: #0891b2; }
        .event.scope-gauge { border-left-color: #d97706; }
        .event.scope-network { border-left-color: #059669; }
        .event.scope-operator { border-left-color: #db2777; }
        .event.scope-system { border-left-color: #7c3aed; }
        .ts { color: #6b7280; font-size: 11px; min-width: 90px; }
        .name { color: #60a5fa; font-weight: bold; min-width: 190px; }
        .id { color: #34d399; }
        .fit { color: #fbbf24; }
        .msg { color: #9ca3af; }
        footer {
            background: #13253c;
            padding: 8px 20px;
            border-top: 1px solid #1d3a5f;
            font-size: 11px;
            color: #6b7280;
            display: flex;
            justify-content: space-between;
        }
        .controls {
            background: #13253c;
            padding: 10px 20px;
            border-bottom: 1px solid #1d3a5f;
            display: flex;
            gap: 10px;
            align-items: center;
            flex-wrap: wrap;
        }
        .control-group {
            display: flex;
            gap: 6px;
            align-items: center;
        }
        .control-group label {
            font-size: 12px;
            color: #9ca3af;
        }
        .control-group input {
            background: #0f1b2d;
            border: 1px solid #1d3a5f;
            border-radius: 4px;
            padding: 6px 10px;
            color: #e5e7eb;
            font-family: monospace;
            font-size: 12px;
            width: 160px;
        }
        .control-group input:focus {
            outline: none;
            border-color: #2563eb;
        }
        .control-group button {
            background: #2563eb;
            border: none;
            border-radius: 4px;
            padding: 6px 12px;
            color: #fff;
            font-family: monospace;
            font-size: 12px;
            cursor: pointer;
        }
        .control-group button:hover {
            background: #1d4ed8;
        }
        .control-group button:disabled {
            background: #374151;
            cursor: not-allowed;
        }
        .control-group button.start {
            background: #059669;
        }
        .control-group button.start:hover {
            background: #047857;
        }
        .control-group button.stop {
            background: #dc2626;
        }
        .control-group button.stop:hover {
            background: #b91c1c;
        }
        .divider {
            width: 1px;
            height: 24px;
            background: #1d3a5f;
            margin: 0 6px;
        }
        #result {
            font-size: 12px;
            padding: 4px 10px;
            border-radius: 4px;
            display: none;
        }
        #result.success {
            display: inline;
            background: #1b4332;
            color: #95d5b2;
        }
        #result.error {
            display: inline;
            background: #7f1d1d;
            color: #fca5a5;
        }
        #runstate { color: #9ca3af; }
        #runstate.running { color: #fbbf24; }
    </style>
</head>
<body>
    <header>
        <h1>Flume - Basin Monitor</h1>
        <span id="status" class="disconnected">Disconnected</span>
    </header>
    <div class="controls">
        <div class="control-group">
            <label>Calibrate:</label>
            <input type="text" id="calNode" placeholder="node (blank = basin)">
            <button id="calBtn" class="start" onclick="startCalibration()">Start</button>
            <button id="cancelBtn" class="stop" onclick="cancelCalibration()">Cancel</button>
        </div>
        <div class="divider"></div>
        <div class="control-group">
            <label>Reset:</label>
            <input type="text" id="resetNode" placeholder="e.g. upper_creek">
            <button id="resetBtn" onclick="resetNode()">Reset</button>
        </div>
        <span id="result"></span>
    </div>
    <main>
        <div id="events"></div>
    </main>
    <footer>
        <span><span id="count">0</span> events | WebSocket: /ws/events</span>
        <span id="runstate">idle</span>
    </footer>

    <script>
        const eventsDiv = document.getElementById('events');
        const statusEl = document.getElementById('status');
        const countEl = document.getElementById('count');
        const runstateEl = document.getElementById('runstate');
        let eventCount = 0;
        let ws = null;
        let reconnectTimer = null;

        function formatTime(ts) {
            try {
                const d = new Date(ts);
                return d.toLocaleTimeString('en-US', { hour12: false });
            } catch {
                return ts;
            }
        }

        function getScope(name) {
            const parts = name.split('.');
            return parts[0] || '';
        }

        function renderEvent(e) {
            const div = document.createElement('div');
            div.className = 'event level-' + e.level + ' scope-' + getScope(e.event);

            let idText = '';
            let fitText = '';
            if (e.fields) {
                if (e.fields.node) idText = e.fields.node;
                else if (e.fields.station) idText = e.fields.station;
                else if (e.fields.outlets !== undefined) idText = e.fields.outlets + ' outlets';
                if (e.fields.fitness !== undefined && e.fields.fitness !== null) {
                    const f = Number(e.fields.fitness);
                    fitText = isFinite(f) ? f.toFixed(4) : String(e.fields.fitness);
                }
                if (e.fields.value !== undefined && getScope(e.event) === 'gauge') {
                    fitText = Number(e.fields.value).toFixed(3);
                }
            }

            div.innerHTML =
                '<span class="ts">' + formatTime(e.ts) + '</span>' +
                '<span class="name">' + e.event + '</span>' +
                (idText ? '<span class="id">' + idText + '</span>' : '') +
                (fitText ? '<span class="fit">' + fitText + '</span>' : '') +
                (e.msg ? '<span class="msg">' + e.msg + '</span>' : '');

            eventsDiv.appendChild(div);
            eventCount++;
            countEl.textContent = eventCount;

            // Auto-scroll to bottom
            eventsDiv.scrollTop = eventsDiv.scrollHeight;

            // Limit displayed events to prevent memory issues
            while (eventsDiv.children.length > 500) {
                eventsDiv.removeChild(eventsDiv.firstChild);
            }
        }

        function setStatus(status) {
            statusEl.className = status;
            statusEl.textContent = status.charAt(0).toUpperCase() + status.slice(1);
        }

        function connect() {
            if (ws && ws.readyState === WebSocket.OPEN) return;

            setStatus('connecting');

            const protocol = location.protocol === 'https:' ? 'wss:' : 'ws:';
            ws = new WebSocket(protocol + '//' + location.host + '/ws/events');

            ws.onopen = function() {
                setStatus('connected');
                if (reconnectTimer) {
                    clearTimeout(reconnectTimer);
                    reconnectTimer = null;
                }
            };

            ws.onmessage = function(msg) {
                try {
                    const e = JSON.parse(msg.data);
                    renderEvent(e);
                } catch (err) {
                    console.error('Failed to parse event:', err);
                }
            };

            ws.onclose = function() {
                setStatus('disconnected');
                scheduleReconnect();
            };

            ws.onerror = function(err) {
                console.error('WebSocket error:', err);
                ws.close();
            };
        }

        function scheduleReconnect() {
            if (reconnectTimer) return;
            reconnectTimer = setTimeout(function() {
                reconnectTimer = null;
                connect();
            }, 3000);
        }

        // Initial connection
        connect();

        const resultEl = document.getElementById('result');

        function showResult(success, message) {
            resultEl.className = success ? 'success' : 'error';
            resultEl.textContent = message;
            setTimeout(function() {
                resultEl.className = '';
                resultEl.textContent = '';
            }, 5000);
        }

        function postJSON(path, body, btn, onOK) {
            btn.disabled = true;
            fetch(path, {
                method: 'POST',
                headers: { 'Content-Type': 'application/json' },
                body: JSON.stringify(body)
            })
            .then(function(res) { return res.json(); })
            .then(function(data) {
                btn.disabled = false;
                if (data.ok) {
                    onOK(data);
                } else {
                    showResult(false, data.error || 'request failed');
                }
            })
            .catch(function(err) {
                btn.disabled = false;
                showResult(false, 'Network error');
            });
        }

        // Calibration controls
        const calNodeInput = document.getElementById('calNode');
        const calBtn = document.getElementById('calBtn');
        const cancelBtn = document.getElementById('cancelBtn');

        function startCalibration() {
            const node = calNodeInput.value.trim();
            postJSON('/calibration/start', node ? { node: node } : {}, calBtn, function(data) {
                showResult(true, node ? 'Calibrating ' + node : 'Calibrating basin');
                calNodeInput.value = '';
            });
        }

        function cancelCalibration() {
            postJSON('/calibration/cancel', {}, cancelBtn, function(data) {
                showResult(true, 'Calibration cancelled');
            });
        }

        // Reset node
        const resetNodeInput = document.getElementById('resetNode');
        const resetBtn = document.getElementById('resetBtn');

        function resetNode() {
            const node = resetNodeInput.value.trim();
            if (!node) {
                showResult(false, 'Enter a node name');
                return;
            }
            postJSON('/operator/reset-node', { node: node }, resetBtn, function(data) {
                showResult(true, 'Reset ' + node);
                resetNodeInput.value = '';
            });
        }

        // Allow Enter key to trigger the adjacent action
        calNodeInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') startCalibration();
        });
        resetNodeInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') resetNode();
        });

        // Poll run state for the footer
        function pollStatus() {
            fetch('/calibration/status')
            .then(function(res) { return res.json(); })
            .then(function(st) {
                if (st.running) {
                    runstateEl.className = 'running';
                    runstateEl.textContent = 'calibrating ' + (st.node || 'basin');
                } else {
                    runstateEl.className = '';
                    runstateEl.textContent = st.last_error ? 'failed: ' + st.last_error : 'idle';
                }
            })
            .catch(function() { /* leave previous state */ });
        }
        pollStatus();
        setInterval(pollStatus, 5000);
    </script>
</body>
</html>`

// uiHandler serves the basin monitor HTML page.
func uiHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(monitorUIHTML))
}
