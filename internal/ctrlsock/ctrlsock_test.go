package ctrlsock

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kimasplund/go-p2p-usb/internal/logutil"
	"github.com/kimasplund/go-p2p-usb/internal/statusevents"
)

func TestHandleRejectsNonStatusPath(t *testing.T) {
	s := &Server{Status: statusevents.NewTable(), Log: logutil.New()}
	req := httptest.NewRequest(http.MethodGet, "/other", nil)
	rec := httptest.NewRecorder()

	s.handle(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("code = %d, want 404", rec.Code)
	}
}

func TestHandleRejectsNonGet(t *testing.T) {
	s := &Server{Status: statusevents.NewTable(), Log: logutil.New()}
	req := httptest.NewRequest(http.MethodPost, "/status", nil)
	rec := httptest.NewRecorder()

	s.handle(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("code = %d, want 405", rec.Code)
	}
}

func TestHandleStatusWithNilManagerPanicsSafely(t *testing.T) {
	// Manager is nil on purpose: the handler must recover from the
	// resulting panic rather than taking down the process.
	s := &Server{Status: statusevents.NewTable(), Log: logutil.New()}
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()

	s.handle(rec, req)
	_ = json.NewDecoder(rec.Body)
}
