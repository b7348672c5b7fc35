// fake-receiver is a local webhook endpoint for exercising the delivery
// pipeline. It can verify signatures and fail the first N requests to
// exercise the retry path.
package main

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"

	"github.com/quayhook/quayhook/internal/signature"
)

const sigHeader = "X-Quayhook-Signature"

var (
	failFirstN     = 0
	reqCount       = 0
	endpointSecret = ""
)

func main() {
	if v := os.Getenv("FAIL_FIRST_N"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			failFirstN = n
		}
	}
	if v := os.Getenv("SUBSCRIPTION_SECRET"); v != "" {
		endpointSecret = v
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"ok":true}`)) })
	mux.HandleFunc("/hook", handleHook)

	addr := ":8081"
	if v := os.Getenv("RECEIVER_PORT"); v != "" {
		addr = ":" + v
	}
	log.Printf("fake-receiver listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, mux))
}

func handleHook(w http.ResponseWriter, r *http.Request) {
	reqCount++
	b, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	if endpointSecret != "" {
		sig := r.Header.Get(sigHeader)
		if sig == "" {
			http.Error(w, "missing signature header", http.StatusUnauthorized)
			return
		}
		if !signature.Verify(b, endpointSecret, sig) {
			log.Printf("fake-receiver signature mismatch for %s", r.URL.Path)
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	// Simulate flakiness: first N requests -> 500
	if reqCount <= failFirstN {
		log.Printf("FAILING (%d/%d) %s event=%q body=%s", reqCount, failFirstN, r.URL.Path, r.Header.Get("X-Quayhook-Event"), truncate(string(b), 160))
		http.Error(w, "temporary failure", http.StatusInternalServerError)
		return
	}

	log.Printf("fake-receiver OK %s event=%q body=%q", r.URL.Path, r.Header.Get("X-Quayhook-Event"), truncate(string(b), 160))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`ok`))
}

// truncate shortens a string for log output.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}
