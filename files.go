package main

import (
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// safeJoin resolves a caller-supplied relative path under base. It
// returns "" (treat as not found) when the normalized path is absolute,
// uses a separator other than '/', equals "..", or starts with "../" —
// i.e. whenever the result would not be lexically confined under base.
func safeJoin(base, name string) string {
	if strings.Contains(name, "\\") {
		return ""
	}
	cleaned := path.Clean(name)
	if path.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return ""
	}
	return filepath.Join(base, filepath.FromSlash(cleaned))
}

// serveSanitized serves a file strictly from under base. Traversal
// attempts and missing files are both a plain 404: the response never
// reveals whether the path existed.
func serveSanitized(w http.ResponseWriter, r *http.Request, base, name string) {
	full := safeJoin(base, name)
	if full == "" {
		http.NotFound(w, r)
		return
	}
	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, full)
}

// serveProtectedFile handles /file/{path}: confined to root, and when
// the interface is encrypted and the path falls under the protected
// examples directory, content is decrypted before serving.
func serveProtectedFile(w http.ResponseWriter, r *http.Request, cfg *Config, app *AppConfig, name string) {
	full := safeJoin(cfg.rootDirOrDefault(), name)
	if full == "" {
		http.NotFound(w, r)
		return
	}

	if app.Encrypt && app.ExamplesDir != "" && strings.HasPrefix(path.Clean(name), app.ExamplesDir) {
		data, err := os.ReadFile(full)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		plain, err := decryptBytes(data, cfg.EncryptionKey)
		if err != nil {
			logWarnCtx(r.Context(), "protected file decrypt failed", "path", name, "error", err)
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%q", filepath.Base(full)))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(plain)
		return
	}

	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, full)
}
