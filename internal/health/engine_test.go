package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/voxduplex/pkg/audio"
)

func TestEngineChecker(t *testing.T) {
	tests := []struct {
		state   audio.State
		wantErr bool
	}{
		{audio.StateUninitialized, true},
		{audio.StateIdle, false},
		{audio.StateActive, false},
		{audio.StateStopped, true},
	}
	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			c := EngineChecker("capture", func() audio.State { return tt.state })
			if c.Name != "capture" {
				t.Errorf("Name = %q", c.Name)
			}
			err := c.Check(context.Background())
			if (err != nil) != tt.wantErr {
				t.Errorf("Check() = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !strings.Contains(err.Error(), tt.state.String()) {
				t.Errorf("error %q does not name the state", err)
			}
		})
	}
}

func TestEngineChecker_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := EngineChecker("playback", func() audio.State { return audio.StateIdle })
	if err := c.Check(ctx); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestReadyz_Draining(t *testing.T) {
	h := New(EngineChecker("playback", func() audio.State { return audio.StateActive }))

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status before draining = %d, want 200", rec.Code)
	}

	h.SetDraining()
	rec = httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status while draining = %d, want 503", rec.Code)
	}
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "fail" {
		t.Errorf("status = %q, want fail", body.Status)
	}
}
