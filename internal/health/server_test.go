package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHealthEndpoint(t *testing.T) {
	tests := []struct {
		name      string
		checker   Checker
		wantCode  int
		wantDB    string
		wantChain map[string]string
	}{
		{
			name: "all_ok",
			checker: Checker{
				DBPing:     func(ctx context.Context) error { return nil },
				ChainPings: map[string]func(context.Context) error{"l1": func(ctx context.Context) error { return nil }},
			},
			wantCode:  http.StatusOK,
			wantDB:    "ok",
			wantChain: map[string]string{"rpc.l1": "ok"},
		},
		{
			name: "db_fail",
			checker: Checker{
				DBPing:     func(ctx context.Context) error { return context.DeadlineExceeded },
				ChainPings: map[string]func(context.Context) error{"l1": func(ctx context.Context) error { return nil }},
			},
			wantCode:  http.StatusServiceUnavailable,
			wantDB:    "fail",
			wantChain: map[string]string{"rpc.l1": "ok"},
		},
		{
			name: "one_chain_down",
			checker: Checker{
				DBPing: func(ctx context.Context) error { return nil },
				ChainPings: map[string]func(context.Context) error{
					"l1": func(ctx context.Context) error { return nil },
					"l2": func(ctx context.Context) error { return context.DeadlineExceeded },
				},
			},
			wantCode:  http.StatusServiceUnavailable,
			wantDB:    "ok",
			wantChain: map[string]string{"rpc.l1": "ok", "rpc.l2": "fail"},
		},
		{
			name:     "no_checkers",
			checker:  Checker{},
			wantCode: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := Serve(":0", tt.checker)
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = Shutdown(ctx, srv)
			}()

			time.Sleep(50 * time.Millisecond)

			req := httptest.NewRequest(http.MethodGet, "http://localhost/healthz", nil)
			w := httptest.NewRecorder()

			srv.Handler.ServeHTTP(w, req)

			if w.Code != tt.wantCode {
				t.Errorf("status code = %d, want %d", w.Code, tt.wantCode)
			}

			var resp map[string]string
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}

			if resp["status"] != "ok" {
				t.Errorf("status = %q, want ok", resp["status"])
			}

			if tt.wantDB != "" && resp["db"] != tt.wantDB {
				t.Errorf("db = %q, want %q", resp["db"], tt.wantDB)
			}
			for k, want := range tt.wantChain {
				if resp[k] != want {
					t.Errorf("%s = %q, want %q", k, resp[k], want)
				}
			}
		})
	}
}
