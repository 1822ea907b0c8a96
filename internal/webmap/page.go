package webmap

// indexPage is the live map dashboard. Leaflet renders the markers; the
// websocket feed applies the same create/update/fit/view operations the
// synchronizer emits, so the page never re-derives state on its own.
const indexPage = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>fieldtrack — live agents</title>
<meta name="viewport" content="width=device-width, initial-scale=1">
<link rel="stylesheet" href="https://unpkg.com/leaflet@1.9.4/dist/leaflet.css">
<style>
  html, body { height: 100%; margin: 0; font-family: sans-serif; }
  #map { height: 100%; }
  #bar { position: absolute; top: 10px; right: 10px; z-index: 1000;
         background: #fff; padding: 8px 12px; border-radius: 4px;
         box-shadow: 0 1px 4px rgba(0,0,0,.3); font-size: 13px; }
  #status.up { color: #2e7d32; } #status.down { color: #c62828; }
  #notice { position: absolute; bottom: 14px; left: 50%; transform: translateX(-50%);
            z-index: 1000; background: #c62828; color: #fff; padding: 8px 16px;
            border-radius: 4px; display: none; }
  button { margin-left: 6px; }
</style>
</head>
<body>
<div id="map"></div>
<div id="bar">
  <span id="status" class="down">stream: down</span>
  <span id="counts"></span>
  <button onclick="reconnect()">Connect</button>
  <button onclick="refresh()">Refresh</button>
</div>
<div id="notice"></div>
<script src="https://unpkg.com/leaflet@1.9.4/dist/leaflet.js"></script>
<script>
var map = L.map('map').setView([20.5937, 78.9629], 5);
L.tileLayer('https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png', {
  attribution: '&copy; OpenStreetMap contributors'
}).addTo(map);

var markers = {};

function icon(color) {
  return L.divIcon({
    className: '',
    html: '<div style="width:14px;height:14px;border-radius:50%;border:2px solid #fff;' +
          'box-shadow:0 0 3px rgba(0,0,0,.5);background:' + color + '"></div>',
    iconSize: [14, 14], iconAnchor: [7, 7]
  });
}

function apply(op) {
  if (op.op === 'create' || op.op === 'update') {
    var m = op.marker, ll = [m.latitude, m.longitude];
    if (markers[m.agentId]) {
      markers[m.agentId].setLatLng(ll).setIcon(icon(m.color));
      markers[m.agentId].getTooltip().setContent(m.tooltip);
    } else {
      markers[m.agentId] = L.marker(ll, {icon: icon(m.color)})
        .bindTooltip(m.tooltip).addTo(map);
    }
  } else if (op.op === 'remove') {
    var mk = markers[op.marker.agentId];
    if (mk) { map.removeLayer(mk); delete markers[op.marker.agentId]; }
  } else if (op.op === 'fit') {
    var b = op.bounds;
    map.fitBounds([[b.minLat, b.minLng], [b.maxLat, b.maxLng]], {maxZoom: op.maxZoom});
  } else if (op.op === 'view') {
    map.setView([op.lat, op.lng], op.zoom);
  } else if (op.op === 'health') {
    var el = document.getElementById('status');
    el.textContent = 'stream: ' + (op.health.connected ? 'live' : 'down');
    el.className = op.health.connected ? 'up' : 'down';
  } else if (op.op === 'notice') {
    var n = document.getElementById('notice');
    n.textContent = op.message;
    n.style.display = 'block';
    setTimeout(function () { n.style.display = 'none'; }, 6000);
  }
}

function dial() {
  var proto = location.protocol === 'https:' ? 'wss://' : 'ws://';
  var ws = new WebSocket(proto + location.host + '/ws');
  ws.onmessage = function (e) { apply(JSON.parse(e.data)); };
  ws.onclose = function () { setTimeout(dial, 2000); };
}
dial();

function reconnect() { fetch('/api/stream/connect', {method: 'POST'}); }
function refresh() { fetch('/api/snapshot/refresh', {method: 'POST'}); }

function counts() {
  fetch('/api/stats').then(function (r) { return r.json(); }).then(function (b) {
    var d = b.data;
    document.getElementById('counts').textContent =
      ' | online ' + d.onlineAgents + ' / ' + d.totalAgents;
  }).catch(function () {});
}
counts();
setInterval(counts, 30000);
</script>
</body>
</html>
`
