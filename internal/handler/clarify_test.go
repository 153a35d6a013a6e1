package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/clarification-engine/internal/analyzer"
	"github.com/capitalize-ai/clarification-engine/internal/builder"
	"github.com/capitalize-ai/clarification-engine/internal/controller"
	"github.com/capitalize-ai/clarification-engine/internal/middleware"
	"github.com/capitalize-ai/clarification-engine/internal/model"
	"github.com/capitalize-ai/clarification-engine/internal/resolver"
	"github.com/capitalize-ai/clarification-engine/internal/store"
	"github.com/capitalize-ai/clarification-engine/internal/tool"
	"github.com/capitalize-ai/clarification-engine/pkg/logger"
)

const convID = "3f8a2c4e-1b6d-4a9f-8c3e-5d7b9a1f2e4c"

// newTestRouter mounts the handlers over a rule-based controller, with the
// auth context injected directly instead of a signed token.
func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	log := &logger.Logger{Logger: zap.NewNop()}

	entities := resolver.NewMemoryStore()
	claims := tool.SeedDemoData(entities)
	tools := tool.NewRegistry()
	tool.RegisterDemoTools(tools, entities, claims, 0)

	an := analyzer.New(nil, resolver.New(entities, 10), tools, analyzer.Config{
		ConfidenceHigh: 0.90, ConfidenceLow: 0.60, LLMTimeout: time.Second,
	}, log)
	bl := builder.New(nil, tools, time.Second, log)
	ctrl := controller.New(store.NewMemoryStore(), an, bl, tools, nil, controller.Config{}, log)

	conversationHandler := NewConversationHandler(ctrl, log)
	clarifyHandler := NewClarifyHandler(ctrl, log)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := context.WithValue(req.Context(), middleware.TenantIDKey, "tenant-1")
			ctx = context.WithValue(ctx, middleware.UserIDKey, "user-1")
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	r.Route("/api/v1/conversations/{id}", func(r chi.Router) {
		r.Get("/", conversationHandler.Get)
		r.Get("/turns", conversationHandler.ListTurns)
		r.Post("/queries", clarifyHandler.Query)
		r.Post("/clarifications", clarifyHandler.Clarify)
		r.Post("/abandon", clarifyHandler.Abandon)
	})
	return r
}

func postJSON(t *testing.T, router http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestQueryEndpoint(t *testing.T) {
	router := newTestRouter(t)
	base := "/api/v1/conversations/" + convID

	t.Run("invalid conversation id", func(t *testing.T) {
		rec := postJSON(t, router, "/api/v1/conversations/not-a-uuid/queries", `{"input":"hi"}`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("empty input", func(t *testing.T) {
		rec := postJSON(t, router, base+"/queries", `{"input":""}`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("direct resolution", func(t *testing.T) {
		rec := postJSON(t, router, base+"/queries", `{"input":"Show me claims for Smythe"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
		}
		var resp model.QueryResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.State != model.StateResolved || resp.Answer == "" {
			t.Errorf("response = %+v", resp)
		}
	})
}

func TestClarificationFlowOverHTTP(t *testing.T) {
	router := newTestRouter(t)
	base := "/api/v1/conversations/" + convID

	rec := postJSON(t, router, base+"/queries", `{"input":"Show me claims for Jennifer"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}
	var pending model.QueryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &pending); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pending.Clarification == nil {
		t.Fatal("202 without clarification payload")
	}

	t.Run("no pending elsewhere", func(t *testing.T) {
		other := "/api/v1/conversations/9a1b2c3d-4e5f-6071-8293-a4b5c6d7e8f9"
		rec := postJSON(t, router, other+"/clarifications",
			`{"category":"entity_disambiguation","user_selection":{"selected_ids":["PAT-12345"]}}`)
		if rec.Code != http.StatusConflict {
			t.Errorf("status = %d, want 409", rec.Code)
		}
	})

	t.Run("stale category", func(t *testing.T) {
		rec := postJSON(t, router, base+"/clarifications",
			`{"category":"parameter_elicitation","user_selection":{"fields":{"status":"pending"}}}`)
		if rec.Code != http.StatusConflict {
			t.Fatalf("status = %d, want 409", rec.Code)
		}
		var resp model.QueryResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.Clarification == nil || resp.Clarification.Category != model.CategoryEntityDisambiguation {
			t.Errorf("pending request not re-presented: %+v", resp)
		}
	})

	t.Run("matching response resolves", func(t *testing.T) {
		rec := postJSON(t, router, base+"/clarifications",
			`{"category":"entity_disambiguation","user_selection":{"selected_ids":["PAT-12345"]}}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
		}
		var resp model.QueryResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.State != model.StateResolved {
			t.Errorf("state = %v, want resolved", resp.State)
		}
	})

	t.Run("turn log readable", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, base+"/turns", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		var resp model.ListTurnsResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(resp.Turns) != 1 {
			t.Errorf("got %d turns, want 1", len(resp.Turns))
		}
	})
}

func TestAbandonEndpoint(t *testing.T) {
	router := newTestRouter(t)
	base := "/api/v1/conversations/" + convID

	rec := postJSON(t, router, base+"/abandon", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("abandon without pending = %d, want 409", rec.Code)
	}

	if rec := postJSON(t, router, base+"/queries", `{"input":"Show me claims for Jennifer"}`); rec.Code != http.StatusAccepted {
		t.Fatalf("setup query status = %d", rec.Code)
	}

	rec = postJSON(t, router, base+"/abandon", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("abandon = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var resp model.QueryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Degraded {
		t.Errorf("abandon not degraded: %+v", resp)
	}
}
