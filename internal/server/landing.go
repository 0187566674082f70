package server

import "net/http"

const landingHTML = `<!DOCTYPE html>
<html lang="de">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>FFI Founder Copilot</title>
<style>
  *, *::before, *::after { box-sizing: border-box; margin: 0; padding: 0; }
  body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, Helvetica, Arial, sans-serif; background: #0f172a; color: #e2e8f0; min-height: 100vh; display: flex; align-items: center; justify-content: center; }
  .card { max-width: 720px; width: 92%; background: #1e293b; border-radius: 12px; padding: 2rem; box-shadow: 0 25px 50px rgba(0,0,0,0.4); }
  h1 { font-size: 1.5rem; margin-bottom: 1rem; color: #f8fafc; }
  #log { height: 420px; overflow-y: auto; background: #0f172a; border: 1px solid #334155; border-radius: 8px; padding: 1rem; margin-bottom: 1rem; white-space: pre-wrap; }
  .user { color: #a5b4fc; margin-bottom: 0.75rem; }
  .assistant { color: #e2e8f0; margin-bottom: 1.25rem; }
  form { display: flex; gap: 0.5rem; }
  input { flex: 1; padding: 0.6rem; border-radius: 6px; border: 1px solid #334155; background: #0f172a; color: #e2e8f0; }
  button { padding: 0.6rem 1.2rem; border-radius: 6px; border: 0; background: #38bdf8; color: #0f172a; cursor: pointer; }
</style>
</head>
<body>
<div class="card">
  <h1>FFI Founder Copilot</h1>
  <div id="log"></div>
  <form id="f">
    <input id="q" autocomplete="off" placeholder="Frage stellen...">
    <button>Senden</button>
  </form>
</div>
<script>
  const log = document.getElementById("log");
  let sessionId = localStorage.getItem("ffi_session_id") || "";
  function add(cls, text) {
    const p = document.createElement("p");
    p.className = cls;
    p.textContent = text;
    log.appendChild(p);
    log.scrollTop = log.scrollHeight;
  }
  document.getElementById("f").addEventListener("submit", async (e) => {
    e.preventDefault();
    const q = document.getElementById("q");
    const message = q.value.trim();
    if (!message) return;
    q.value = "";
    add("user", message);
    const res = await fetch("/chat", {
      method: "POST",
      headers: { "Content-Type": "application/json" },
      body: JSON.stringify({ message, session_id: sessionId }),
    });
    const body = await res.json();
    if (!res.ok) { add("assistant", body.detail); return; }
    sessionId = body.session_id;
    localStorage.setItem("ffi_session_id", sessionId);
    add("assistant", body.reply);
  });
</script>
</body>
</html>`

// NewLandingHandler serves the browser chat page.
func NewLandingHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(landingHTML))
	}
}
