package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

func TestRunPrintsLabels(t *testing.T) {
	var infoCalls atomic.Int32
	var stored []byte

	storage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "image/png", r.Header.Get("Content-Type"))
		stored, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer storage.Close()

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/upload":
			var req map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.Equal(t, "cat.png", req["filename"])
			require.Equal(t, "image/png", req["mimeType"])
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "abc123.png", "url": storage.URL + "/abc123.png"})
		case r.Method == http.MethodGet && r.URL.Path == "/info/abc123.png":
			if infoCalls.Add(1) == 1 {
				w.WriteHeader(http.StatusConflict)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"filename": "abc123.png",
				"labels":   []map[string]any{{"name": "Cat", "category": "Animal", "confidence": 97.2}},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer api.Close()

	path := filepath.Join(t.TempDir(), "cat.png")
	require.NoError(t, os.WriteFile(path, pngHeader, 0o600))

	var out bytes.Buffer
	require.NoError(t, run([]string{"-api", api.URL, path}, &out))
	require.Equal(t, "Cat (Animal) 97.2%\n", out.String())
	require.Equal(t, pngHeader, stored)
	require.Equal(t, int32(2), infoCalls.Load())
}

func TestRunRequiresPath(t *testing.T) {
	err := run([]string{"-api", "http://localhost"}, io.Discard)
	require.ErrorContains(t, err, "usage")
}

func TestRunRejectsUnsupportedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o600))

	err := run([]string{"-api", "http://localhost", path}, io.Discard)
	require.ErrorContains(t, err, "unsupported media type")
}
