package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPHandlerNoDependencies(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	HTTPHandler(nil, nil)(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var st Status
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !st.OK || st.Message != "ok" || !st.Database || !st.Cache {
		t.Errorf("status = %+v, want all healthy", st)
	}
}

func TestStatusOmitsUnhealthyFlags(t *testing.T) {
	data, err := json.Marshal(Status{OK: false, Message: "db ping failed"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := raw["database"]; ok {
		t.Errorf("false database flag should be omitted: %s", data)
	}
	if raw["message"] != "db ping failed" {
		t.Errorf("message = %v", raw["message"])
	}
}
