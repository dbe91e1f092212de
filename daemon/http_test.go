package daemon

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func newTestRouter(t *testing.T, options ServerOptions) (*gin.Engine, *Daemon) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	daemon := NewDaemon(nil, 10, testLogger())
	return NewRouter(daemon, options), daemon
}

func doRequest(router *gin.Engine, method, path, token, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
	return payload
}

func triggerBody(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	encoded, _ := json.Marshal(map[string]any{
		"receiver_db": filepath.Join(dir, "receiver.db"),
		"catalog_db":  filepath.Join(dir, "catalog.db"),
	})
	return string(encoded)
}

func TestTrigger_Auth(t *testing.T) {
	router, _ := newTestRouter(t, ServerOptions{AuthToken: "secret"})
	body := triggerBody(t)

	t.Run("Без токена", func(t *testing.T) {
		recorder := doRequest(router, http.MethodPost, "/trigger", "", body)
		if recorder.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", recorder.Code)
		}
		if payload := decodeBody(t, recorder); payload["error"] != "invalid_token" {
			t.Errorf("error = %v", payload["error"])
		}
	})

	t.Run("Неверный токен", func(t *testing.T) {
		recorder := doRequest(router, http.MethodPost, "/trigger", "wrong", body)
		if recorder.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", recorder.Code)
		}
	})

	t.Run("Bearer", func(t *testing.T) {
		recorder := doRequest(router, http.MethodPost, "/trigger", "secret", body)
		if recorder.Code != http.StatusAccepted {
			t.Fatalf("status = %d, want 202: %s", recorder.Code, recorder.Body.String())
		}
		payload := decodeBody(t, recorder)
		if payload["accepted"] != true || payload["reason"] != "accepted" {
			t.Errorf("payload = %v, want accepted", payload)
		}
	})

	t.Run("Заголовок X-Converter-Token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/enqueue", strings.NewReader(triggerBody(t)))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Converter-Token", "secret")
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, req)
		if recorder.Code != http.StatusAccepted {
			t.Fatalf("status = %d, want 202: %s", recorder.Code, recorder.Body.String())
		}
	})
}

func TestTrigger_Validation(t *testing.T) {
	router, _ := newTestRouter(t, ServerOptions{})

	t.Run("Тело не JSON-объект", func(t *testing.T) {
		recorder := doRequest(router, http.MethodPost, "/trigger", "", `[1, 2, 3]`)
		if recorder.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", recorder.Code)
		}
	})

	t.Run("Нет receiver_db", func(t *testing.T) {
		recorder := doRequest(router, http.MethodPost, "/trigger", "", `{"catalog_db":"/data/c.db"}`)
		if recorder.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", recorder.Code)
		}
		if payload := decodeBody(t, recorder); payload["error"] != "receiver_db is required" {
			t.Errorf("error = %v", payload["error"])
		}
	})

	t.Run("Нет catalog_db", func(t *testing.T) {
		recorder := doRequest(router, http.MethodPost, "/trigger", "", `{"receiver_db":"/data/r.db"}`)
		if recorder.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", recorder.Code)
		}
	})
}

func TestTrigger_DefaultsAndDuplicate(t *testing.T) {
	router, _ := newTestRouter(t, ServerOptions{
		DefaultReceiverDB: "/data/receiver.db",
		DefaultCatalogDB:  "/data/catalog.db",
		DefaultParserName: "chizhik",
		DefaultBatchSize:  50,
	})

	// Пустое тело: задание собирается целиком из значений по умолчанию.
	recorder := doRequest(router, http.MethodPost, "/trigger", "", "")
	if recorder.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeBody(t, recorder)
	job, ok := payload["job"].(map[string]any)
	if !ok {
		t.Fatalf("job missing in response: %v", payload)
	}
	if job["parser_name"] != "chizhik" || job["batch_size"] != float64(50) {
		t.Errorf("job = %v, want defaults applied", job)
	}

	// Повторная постановка того же ключа: accepted=false, duplicate=true, но 202.
	repeat := doRequest(router, http.MethodPost, "/trigger", "", "")
	if repeat.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", repeat.Code)
	}
	repeatPayload := decodeBody(t, repeat)
	if repeatPayload["accepted"] != false || repeatPayload["duplicate"] != true {
		t.Errorf("payload = %v, want duplicate", repeatPayload)
	}
}

func TestTrigger_QueueFull(t *testing.T) {
	gin.SetMode(gin.TestMode)
	daemon := NewDaemon(nil, 1, testLogger())
	router := NewRouter(daemon, ServerOptions{})

	first := doRequest(router, http.MethodPost, "/trigger", "", `{"receiver_db":"/data/r1.db","catalog_db":"/data/c1.db"}`)
	if first.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", first.Code)
	}

	second := doRequest(router, http.MethodPost, "/trigger", "", `{"receiver_db":"/data/r2.db","catalog_db":"/data/c2.db"}`)
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", second.Code)
	}
	if payload := decodeBody(t, second); payload["reason"] != "queue_full" {
		t.Errorf("reason = %v, want queue_full", payload["reason"])
	}
}

func TestQueueEndpoints(t *testing.T) {
	router, daemon := newTestRouter(t, ServerOptions{})

	daemon.Enqueue(QueueJob{ReceiverDB: "/data/r.db", CatalogDB: "/data/c.db"})

	for _, path := range []string{"/health", "/queue"} {
		recorder := doRequest(router, http.MethodGet, path, "", "")
		if recorder.Code != http.StatusOK {
			t.Fatalf("GET %s status = %d, want 200", path, recorder.Code)
		}
		payload := decodeBody(t, recorder)
		if payload["queue_size"] != float64(1) || payload["pending_jobs"] != float64(1) {
			t.Errorf("GET %s payload = %v, want queue of one", path, payload)
		}
		if payload["running"] != false {
			t.Errorf("GET %s running = %v, want false", path, payload["running"])
		}
	}
}

func TestUnknownRoute(t *testing.T) {
	router, _ := newTestRouter(t, ServerOptions{})

	recorder := doRequest(router, http.MethodGet, "/nope", "", "")
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", recorder.Code)
	}
	if payload := decodeBody(t, recorder); payload["error"] != "not_found" {
		t.Errorf("error = %v, want not_found", payload["error"])
	}
}

func TestRateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	daemon := NewDaemon(nil, 10, testLogger())
	router := NewRouter(daemon, ServerOptions{RateLimit: 1, RateBurst: 1})

	body := `{"receiver_db":"/data/r.db","catalog_db":"/data/c.db"}`
	first := doRequest(router, http.MethodPost, "/trigger", "", body)
	if first.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", first.Code)
	}

	second := doRequest(router, http.MethodPost, "/trigger", "", body)
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", second.Code)
	}
	if payload := decodeBody(t, second); payload["error"] != "rate_limited" {
		t.Errorf("error = %v, want rate_limited", payload["error"])
	}
}
