package upload_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/rekognify/internal/httpclient"
	"github.com/example/rekognify/internal/poller"
	"github.com/example/rekognify/internal/recognition"
	"github.com/example/rekognify/internal/upload"
)

var catPNG = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

func TestUploadThenPollCycle(t *testing.T) {
	var (
		mu       sync.Mutex
		received []byte
		queries  int
	)

	storage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if r.Method != http.MethodPut || r.URL.Path != "/abc123" || r.Header.Get("Content-Type") != "image/png" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		received, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer storage.Close()

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/upload":
			var req recognition.UploadRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MimeType != "image/png" || req.Filename != "cat.png" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_ = json.NewEncoder(w).Encode(recognition.UploadCredential{ID: "abc123", URL: storage.URL + "/abc123"})
		case r.Method == http.MethodGet && r.URL.Path == "/info/abc123":
			if received == nil {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			queries++
			if queries <= 2 {
				w.WriteHeader(http.StatusConflict)
				return
			}
			_ = json.NewEncoder(w).Encode(recognition.ImageInfo{
				Filename: "abc123",
				URL:      storage.URL + "/abc123",
				Labels:   []recognition.Label{{Name: "Cat", Category: "Animal", Confidence: 97.2}},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer api.Close()

	logger := zap.NewNop()
	backend, err := httpclient.New(api.URL, 5*time.Second, logger)
	require.NoError(t, err)

	var sleeps []time.Duration
	sleeper := func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}

	cred, err := upload.NewCoordinator(backend, backend, time.Minute, logger).Upload(context.Background(), "cat.png", catPNG, "image/png")
	require.NoError(t, err)
	require.Equal(t, "abc123", cred.ID)
	require.Equal(t, storage.URL+"/abc123", cred.URL)
	require.Equal(t, catPNG, received)

	info, err := poller.New(backend, poller.DefaultPolicy(), logger, poller.WithSleeper(sleeper)).Fetch(context.Background(), cred.ID)
	require.NoError(t, err)
	require.Equal(t, []recognition.Label{{Name: "Cat", Category: "Animal", Confidence: 97.2}}, info.Labels)
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeps)
	require.Equal(t, 3, queries)
}
