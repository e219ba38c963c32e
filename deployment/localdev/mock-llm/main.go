package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"strings"
	"time"
)

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	System string `json:"system"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
	Response  string    `json:"response"`
	Done      bool      `json:"done"`
}

var (
	alertCountPattern = regexp.MustCompile(`Alert count: (\d+)`)
	correlationType   = regexp.MustCompile(`Correlation type: (\w+)`)
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{
			"models": []map[string]string{{"name": "llama3.2"}},
		})
	})

	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if strings.Contains(req.Prompt, "FAIL") {
			http.Error(w, `{"error":"model crashed"}`, http.StatusInternalServerError)
			return
		}
		writeJSON(w, generateResponse{
			Model:     req.Model,
			CreatedAt: time.Now().UTC(),
			Response:  summarise(req.Prompt),
			Done:      true,
		})
	})

	logger := log.New(log.Writer(), "llm-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:              ":11434",
		Handler:           logRequests(logger, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Println("listening on :11434")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func summarise(prompt string) string {
	count := "several"
	if m := alertCountPattern.FindStringSubmatch(prompt); m != nil {
		count = m[1]
	}
	kind := "related"
	if m := correlationType.FindStringSubmatch(prompt); m != nil {
		kind = m[1]
	}
	return fmt.Sprintf("%s %s anomalies point to a shared resource bottleneck. Check recent deployments and container limits first.", count, kind)
}

func enforcePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
