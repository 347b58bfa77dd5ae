package serialmux

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"tailscale.com/tsweb"
)

const consolePage = `<!DOCTYPE html>
<html>
<head><title>vehicle link</title></head>
<body>
<h1>Vehicle link console</h1>
<form id="send" method="post" action="/debug/send-command-api">
  <input name="command" size="80" placeholder='{"type":"hello","firmware":"console"}'>
  <button type="submit">Send</button>
</form>
<pre id="tail"></pre>
<script>
const tail = document.getElementById("tail");
const es = new EventSource("/debug/tail");
es.onmessage = (e) => {
  tail.textContent = e.data + "\n" + tail.textContent.slice(0, 20000);
};
document.getElementById("send").onsubmit = async (ev) => {
  ev.preventDefault();
  const body = new URLSearchParams(new FormData(ev.target));
  const res = await fetch(ev.target.action, {method: "POST", body});
  tail.textContent = "> " + (await res.text()) + "\n" + tail.textContent;
};
</script>
</body>
</html>
`

// AttachAdminRoutes mounts a console page, a command endpoint and an SSE
// tail of inbound lines on the tsweb debugger.
func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	attachConsole(mux, s)
}

type commandTailer interface {
	Subscribe() (string, chan string)
	Unsubscribe(string)
	SendCommand(string) error
}

func attachConsole(mux *http.ServeMux, s commandTailer) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("send-command", "vehicle link console", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, consolePage)
	})

	debug.HandleSilentFunc("send-command-api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		command := strings.TrimSpace(r.FormValue("command"))
		if command == "" {
			http.Error(w, "Missing command", http.StatusBadRequest)
			return
		}
		if err := s.SendCommand(command); err != nil {
			http.Error(w, "Failed to write command", http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, "Wrote command %q to vehicle link", command)
	})

	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		id, c := s.Subscribe()
		defer s.Unsubscribe(id)

		io.WriteString(w, ": ping\n\n")
		flusher.Flush()

		for {
			select {
			case line, ok := <-c:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", line); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
