// Backend is a small HTTP server to put behind the proxy when trying it
// out locally. It hands out sticky sessions tagged with its route and can
// be told to answer slowly or with a given status.
//
// Usage:
//
//	go run ./scripts/backend -port 8081 -route r1
//
// Endpoints:
//   - /session  starts a session; the JSESSIONID cookie carries the route
//   - /slow?ms=250  answers after the given delay
//   - /status/{code}  answers with the given status code
//   - /health  always answers 200
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
)

type reply struct {
	Backend string `json:"backend"`
	Route   string `json:"route,omitempty"`
	Session string `json:"session,omitempty"`
	Path    string `json:"path"`
}

func main() {
	port := flag.Int("port", 8081, "port to listen on")
	route := flag.String("route", "", "route appended to session ids")
	cookie := flag.String("cookie", "JSESSIONID", "session cookie name")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stdout, nil))
	name := fmt.Sprintf("backend-%d", *port)

	respond := func(w http.ResponseWriter, r *http.Request, code int, session string) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(reply{Backend: name, Route: *route, Session: session, Path: r.URL.RequestURI()})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/session", func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		if *route != "" {
			id += "." + *route
		}
		http.SetCookie(w, &http.Cookie{Name: *cookie, Value: id, Path: "/"})
		respond(w, r, http.StatusOK, id)
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		ms, _ := strconv.Atoi(r.URL.Query().Get("ms"))
		time.Sleep(time.Duration(ms) * time.Millisecond)
		respond(w, r, http.StatusOK, "")
	})
	mux.HandleFunc("/status/{code}", func(w http.ResponseWriter, r *http.Request) {
		code, err := strconv.Atoi(r.PathValue("code"))
		if err != nil || code < 100 || code > 599 {
			http.Error(w, "bad status", http.StatusBadRequest)
			return
		}
		respond(w, r, code, "")
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		var session string
		if c, err := r.Cookie(*cookie); err == nil {
			session = c.Value
		}
		log.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("from", r.RemoteAddr),
			slog.String("session", session))
		respond(w, r, http.StatusOK, session)
	})

	addr := fmt.Sprintf(":%d", *port)
	log.Info("starting backend", slog.String("address", addr), slog.String("route", *route))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("server failed", slog.Any("err", err))
		os.Exit(1)
	}
}
