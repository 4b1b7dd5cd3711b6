package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/checkup-sensor/internal/display"
	"github.com/sweeney/checkup-sensor/internal/logic"
	"github.com/sweeney/checkup-sensor/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"phaseClass": func(p logic.Phase) string {
		switch p {
		case logic.PhaseStable:
			return "stable"
		case logic.PhaseSettling:
			return "settling"
		}
		return "empty"
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Checkup Sensor</title>
<style>
body { font-family: monospace; max-width: 640px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
pre.panel { background: #111; color: #7f7; padding: 0.6em 1em; font-size: 1.3em; }
.stable { color: green; font-weight: bold; }
.settling { color: orange; }
.empty { color: #888; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>Checkup Sensor{{if .Config.WSBroker}}<span id="live-dot" class="live-dot pending" title="connecting"></span>{{end}}</h1>

{{if .Panel}}<pre class="panel">{{range .Panel}}{{.}}
{{end}}</pre>{{end}}

<h2>Signals</h2>
<table>
<tr><th>Signal</th><th>Phase</th><th>Value</th><th>Raw</th><th>Window</th><th>p50 / p90</th></tr>
{{range .Rows}}<tr>
<td>{{.Label}}</td>
<td id="phase-{{.Name}}" class="{{phaseClass .Phase}}">{{.Phase}}</td>
<td id="value-{{.Name}}">{{.Value}}{{if .Unit}} {{.Unit}}{{end}}</td>
<td>{{.Raw}}</td>
<td>{{.WindowMs}}ms</td>
<td>{{if .Settled}}{{.P50}} / {{.P90}} (n={{.Settled}}){{else}}-{{end}}</td>
</tr>
{{end}}</table>

<h2>Event Counts</h2>
<table>
<tr><th>Signal</th><th>Acquired</th><th>Stable</th><th>Unstable</th><th>Lost</th></tr>
{{range .Rows}}<tr><td>{{.Label}}</td><td>{{.Counts.Acquired}}</td><td>{{.Counts.Stable}}</td><td>{{.Counts.Unstable}}</td><td>{{.Counts.Lost}}</td></tr>
{{end}}</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Session</th><td>{{.SessionID}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>Payload</th><td>{{.Config.Encoding}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPPort}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
{{if .Config.WSBroker}}
<script src="https://unpkg.com/mqtt/dist/mqtt.min.js"></script>
<script>
(function() {
  var broker = "{{.Config.WSBroker}}";
  var topic = "checkup/sensor/events";
  var dot = document.getElementById("live-dot");

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  function setSignal(sig) {
    var phaseEl = document.getElementById("phase-" + sig.name);
    var valueEl = document.getElementById("value-" + sig.name);
    if (!phaseEl) return;
    phaseEl.textContent = sig.phase;
    phaseEl.className = sig.phase === "STABLE" ? "stable" : sig.phase === "SETTLING" ? "settling" : "empty";
    if (valueEl) {
      valueEl.textContent = sig.value === undefined ? "--" : sig.value + (sig.phase === "STABLE" ? "*" : "?");
    }
  }

  var client = mqtt.connect(broker, { reconnectPeriod: 5000 });

  client.on("connect", function() {
    setDot("ok", "live");
    client.subscribe(topic);
  });

  client.on("reconnect", function() {
    setDot("pending", "reconnecting");
  });

  client.on("offline", function() {
    setDot("err", "offline");
  });

  client.on("error", function() {
    setDot("err", "error");
  });

  client.on("message", function(t, payload) {
    try {
      var msg = JSON.parse(payload.toString());
      if (msg.signal) {
        setSignal(msg.signal);
      }
    } catch (e) {}
  });
})();
</script>
{{end}}
</body>
</html>
`

type signalRow struct {
	Name     string
	Label    string
	Unit     string
	Phase    logic.Phase
	Value    string
	Raw      string
	WindowMs int64
	Counts   logic.EventCounts
	Settled  int64
	P50      string
	P90      string
}

func buildRows(snap status.Snapshot) []signalRow {
	specs := make(map[string]status.SignalSettings, len(snap.Config.Signals))
	for _, s := range snap.Config.Signals {
		specs[s.Name] = s
	}

	rows := make([]signalRow, 0, len(snap.Views))
	for _, v := range snap.Views {
		cfg := specs[v.Name]
		spec := display.Spec{Label: cfg.Label, Unit: cfg.Unit, Decimals: cfg.Decimals}
		if spec.Label == "" {
			spec.Label = v.Name
		}
		phase := v.Phase
		if phase == "" {
			phase = logic.PhaseEmpty
		}
		row := signalRow{
			Name:     v.Name,
			Label:    spec.Label,
			Unit:     spec.Unit,
			Phase:    phase,
			Value:    display.Format(v, spec),
			Raw:      display.NoValue,
			WindowMs: v.WindowElapsed.Milliseconds(),
			Counts:   snap.Counts[v.Name],
		}
		if v.HasLast {
			row.Raw = display.FormatValue(v.LastReading, spec.Decimals)
		}
		if st, ok := snap.Stats[v.Name]; ok {
			row.Settled = st.Count
			row.P50 = display.FormatValue(st.P50, spec.Decimals)
			row.P90 = display.FormatValue(st.P90, spec.Decimals)
		}
		rows = append(rows, row)
	}
	return rows
}

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
		Rows   []signalRow
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		Rows:     buildRows(snap),
	}
	indexTmpl.Execute(w, data)
}
