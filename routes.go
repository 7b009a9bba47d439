package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// configMarker is the placeholder in index.html that the server replaces
// with the interface configuration JSON.
const configMarker = "{{ config }}"

func (s *Server) registerPageRoutes(mux *http.ServeMux) {
	cfg := s.cfg
	app := s.app

	// --- Interface Shell ---
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, `{"error":"GET only"}`, http.StatusMethodNotAllowed)
			return
		}
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}

		shell, err := os.ReadFile(filepath.Join(cfg.TemplateDir, "index.html"))
		if err != nil {
			logError("frontend template missing", "dir", cfg.TemplateDir, "error", err)
			http.Error(w, "frontend build not found: build the web assets into the template directory and restart", http.StatusInternalServerError)
			return
		}

		// Unauthenticated visitors get the login stub document so the
		// page can render the login form without leaking the interface.
		doc := app.configDocument(s.auth.enabled())
		if s.auth.enabled() && !s.auth.allow(r) {
			doc = app.reducedDocument()
		}
		b, err := json.Marshal(doc)
		if err != nil {
			http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		page := strings.Replace(string(shell), configMarker, string(b), 1)
		if r.Method == http.MethodHead {
			return
		}
		fmt.Fprint(w, page)
	})

	// --- Interface Configuration ---
	// Not wrapped in gated: unauthenticated callers receive the reduced
	// document rather than a 401, so the login page can describe itself.
	mux.HandleFunc("/config", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, `{"error":"GET only"}`, http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if s.auth.enabled() && !s.auth.allow(r) {
			json.NewEncoder(w).Encode(app.reducedDocument())
			return
		}
		json.NewEncoder(w).Encode(app.configDocument(s.auth.enabled()))
	})

	// --- Build Assets ---
	mux.HandleFunc("/static/", func(w http.ResponseWriter, r *http.Request) {
		serveSanitized(w, r, cfg.StaticDir, strings.TrimPrefix(r.URL.Path, "/static/"))
	})
	mux.HandleFunc("/assets/", func(w http.ResponseWriter, r *http.Request) {
		serveSanitized(w, r, cfg.AssetsDir, strings.TrimPrefix(r.URL.Path, "/assets/"))
	})

	mux.HandleFunc("/favicon.ico", func(w http.ResponseWriter, r *http.Request) {
		if cfg.FaviconPath != "" {
			http.ServeFile(w, r, cfg.FaviconPath)
			return
		}
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Write([]byte(defaultFaviconSVG))
	})

	// --- API Docs ---
	mux.HandleFunc("/api", s.handleAPIDocs)

	// --- Health ---
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		depth, _ := s.engine.Depth(r.Context())
		b, _ := json.MarshalIndent(map[string]any{
			"status":   "ok",
			"version":  version,
			"uptime":   time.Since(s.startTime).Round(time.Second).String(),
			"sessions": s.sessions.Len(),
			"queue":    depth,
		}, "", "  ")
		w.Write(b)
	})

	// --- Metrics ---
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		if metrics == nil {
			http.Error(w, "metrics not initialized", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		metrics.WriteMetrics(w)
	})
}

func (s *Server) registerAuthRoutes(mux *http.ServeMux) {
	// --- Login ---
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, `{"error":"POST only"}`, http.StatusMethodNotAllowed)
			return
		}
		ip := clientIP(r)
		if s.limiter.isLocked(ip) {
			logWarnCtx(r.Context(), "login locked out", "ip", ip)
			http.Error(w, `{"error":"too many failed attempts, try again later"}`, http.StatusTooManyRequests)
			return
		}
		if err := r.ParseForm(); err != nil {
			http.Error(w, `{"error":"bad form"}`, http.StatusBadRequest)
			return
		}
		username := r.PostFormValue("username")
		password := r.PostFormValue("password")

		token, ok := s.auth.login(username, password)
		if !ok {
			s.limiter.recordFailure(ip)
			recordLoginMetric("fail")
			logWarnCtx(r.Context(), "login failed", "user", username, "ip", ip)
			http.Error(w, "Incorrect credentials.", http.StatusBadRequest)
			return
		}
		s.limiter.recordSuccess(ip)
		recordLoginMetric("ok")
		logInfoCtx(r.Context(), "login ok", "user", username)
		setAuthCookie(w, token)
		http.Redirect(w, r, "/", http.StatusFound)
	})

	mux.HandleFunc("/login_check", func(w http.ResponseWriter, r *http.Request) {
		if !s.auth.allow(r) {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		user, ok := s.auth.userFromRequest(r)
		if !ok {
			w.Write([]byte(`{"user":null}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"user": user})
	})

	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		cookie, err := r.Cookie(authCookieName)
		if err != nil {
			w.Write([]byte(`{"token":null,"user":null}`))
			return
		}
		user, ok := s.auth.authenticate(cookie.Value)
		if !ok {
			w.Write([]byte(`{"token":null,"user":null}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"token": cookie.Value, "user": user})
	})
}

func (s *Server) registerPredictRoutes(mux *http.ServeMux) {
	cfg := s.cfg

	mux.HandleFunc("/api/predict/", s.gated(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, `{"error":"POST only"}`, http.StatusMethodNotAllowed)
			return
		}
		var req PredictRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}

		username, _ := s.auth.userFromRequest(r)
		resp, err := s.disp.predict(r.Context(), req, username)
		if err != nil {
			if errors.Is(err, errBadRequest) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				json.NewEncoder(w).Encode(map[string]any{"error": err.Error()})
				return
			}
			if !cfg.ShowError {
				// Without show-error mode the failure crosses the recovery
				// middleware boundary unredacted and the client gets the
				// generic 500.
				panic(err)
			}
			logErrorCtx(r.Context(), "prediction failed", "fnIndex", req.FnIndex, "error", err)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]any{"error": err.Error()})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func (s *Server) registerQueueRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/queue/push/", s.gated(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, `{"error":"POST only"}`, http.StatusMethodNotAllowed)
			return
		}
		var body struct {
			Action string          `json:"action"`
			Data   json.RawMessage `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if body.Action == "" {
			body.Action = "predict"
		}

		hash, position, err := s.engine.Push(r.Context(), body.Action, body.Data)
		if err != nil {
			if errors.Is(err, errQueueFull) {
				http.Error(w, `{"error":"queue full"}`, http.StatusServiceUnavailable)
				return
			}
			logErrorCtx(r.Context(), "queue push failed", "error", err)
			http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"hash":           hash,
			"queue_position": position,
		})
	}))

	// Unknown hashes are a defined status, never an error: pollers may ask
	// before the push response arrives or after a restart.
	mux.HandleFunc("/api/queue/status/", s.gated(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, `{"error":"POST only"}`, http.StatusMethodNotAllowed)
			return
		}
		var body struct {
			Hash string `json:"hash"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}

		status, result, err := s.engine.Status(r.Context(), body.Hash)
		if err != nil {
			logErrorCtx(r.Context(), "queue status failed", "hash", body.Hash, "error", err)
			http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status": status,
			"data":   result,
		})
	}))

	mux.HandleFunc("/api/queue/join", s.gated(s.handleQueueJoin))
}

func (s *Server) registerFileRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/file/", s.gated(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, `{"error":"GET only"}`, http.StatusMethodNotAllowed)
			return
		}
		name := strings.TrimPrefix(r.URL.Path, "/file/")
		serveProtectedFile(w, r, s.cfg, s.app, name)
	}))
}

// --- API Docs Page ---

// handleAPIDocs renders a human-readable description of the prediction
// API: one section per function with its input/output component types and
// sample payloads from the type registry.
func (s *Server) handleAPIDocs(w http.ResponseWriter, r *http.Request) {
	type docComponent struct {
		Label  string
		Type   string
		Wire   string
		Sample string
	}
	type docFunction struct {
		Index   int
		Name    string
		Inputs  []docComponent
		Outputs []docComponent
	}

	describe := func(id int, input bool) docComponent {
		c := s.app.component(id)
		if c == nil {
			return docComponent{}
		}
		ct := componentTypes[c.Type]
		wire := ct.Output
		if input {
			wire = ct.Input
		}
		sample, _ := json.Marshal(ct.Sample)
		return docComponent{Label: c.Label, Type: c.Type, Wire: wire, Sample: string(sample)}
	}

	var fns []docFunction
	for i, fn := range s.app.Functions {
		d := docFunction{Index: i, Name: fn.Name}
		for _, id := range fn.Inputs {
			d.Inputs = append(d.Inputs, describe(id, true))
		}
		for _, id := range fn.Outputs {
			d.Outputs = append(d.Outputs, describe(id, false))
		}
		fns = append(fns, d)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	apiDocsTmpl.Execute(w, map[string]any{
		"Title":     s.app.Title,
		"Functions": fns,
	})
}

var apiDocsTmpl = template.Must(template.New("apidocs").Parse(apiDocsHTML))

const apiDocsHTML = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><meta name="viewport" content="width=device-width,initial-scale=1">
<title>{{.Title}} - API</title>
<style>
*{margin:0;padding:0;box-sizing:border-box}
body{font-family:system-ui,sans-serif;background:#0a0a0f;color:#e0e0e0;padding:2rem;max-width:860px;margin:0 auto}
h1{font-size:1.4rem;margin-bottom:.5rem;color:#a78bfa}
h2{font-size:1.05rem;margin:1.5rem 0 .5rem;color:#a78bfa}
p{margin-bottom:1rem;color:#9ca3af;font-size:.9rem}
code,pre{background:#14141e;border:1px solid #2a2a3a;border-radius:6px;font-family:ui-monospace,monospace;font-size:.85rem}
code{padding:.1rem .35rem}
pre{padding:.8rem;overflow-x:auto;margin-bottom:1rem}
table{width:100%;border-collapse:collapse;margin-bottom:1rem;font-size:.85rem}
th,td{text-align:left;padding:.4rem .6rem;border-bottom:1px solid #2a2a3a}
th{color:#9ca3af;font-weight:600}
</style></head><body>
<h1>{{.Title}} API</h1>
<p>Send <code>POST /api/predict/</code> with a JSON body: <code>{"data": [...], "fn_index": N}</code>.
The response carries one output value per declared output component, in order.</p>
{{range .Functions}}
<h2>Function {{.Index}}{{if .Name}} — {{.Name}}{{end}}</h2>
<table><tr><th></th><th>Label</th><th>Component</th><th>Wire type</th><th>Sample</th></tr>
{{range .Inputs}}<tr><td>in</td><td>{{.Label}}</td><td>{{.Type}}</td><td>{{.Wire}}</td><td><code>{{.Sample}}</code></td></tr>
{{end}}{{range .Outputs}}<tr><td>out</td><td>{{.Label}}</td><td>{{.Type}}</td><td>{{.Wire}}</td><td><code>{{.Sample}}</code></td></tr>
{{end}}</table>
{{end}}
</body></html>`

const defaultFaviconSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 16 16"><rect width="16" height="16" rx="3" fill="#a78bfa"/><text x="8" y="12" font-size="10" text-anchor="middle" fill="#0a0a0f" font-family="sans-serif">v</text></svg>`
