package upload

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/rekognify/internal/logging"
	"github.com/example/rekognify/internal/recognition"
)

var (
	pngBytes  = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01")
	jpegBytes = []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00\x01")
	gifBytes  = []byte("GIF89a\x01\x00\x01\x00")
	webpBytes = []byte("RIFF\x24\x00\x00\x00WEBPVP8 ")
)

type stubCredentials struct {
	cred     *recognition.UploadCredential
	err      error
	requests []recognition.UploadRequest
}

func (s *stubCredentials) RequestCredential(ctx context.Context, req recognition.UploadRequest) (*recognition.UploadCredential, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	return s.cred, nil
}

type transferCall struct {
	cred        recognition.UploadCredential
	payload     []byte
	contentType string
}

type stubStorage struct {
	err   error
	calls []transferCall
}

func (s *stubStorage) Transfer(ctx context.Context, cred recognition.UploadCredential, payload []byte, contentType string) error {
	s.calls = append(s.calls, transferCall{cred: cred, payload: payload, contentType: contentType})
	return s.err
}

func TestDetectMimeType(t *testing.T) {
	tests := []struct {
		name     string
		payload  []byte
		declared string
		want     string
		wantErr  error
	}{
		{name: "sniff png", payload: pngBytes, want: "image/png"},
		{name: "sniff jpeg", payload: jpegBytes, want: "image/jpeg"},
		{name: "sniff gif", payload: gifBytes, want: "image/gif"},
		{name: "sniff webp", payload: webpBytes, want: "image/webp"},
		{name: "declared matches", payload: pngBytes, declared: "image/png", want: "image/png"},
		{name: "declared with params", payload: jpegBytes, declared: "Image/JPEG; q=1", want: "image/jpeg"},
		{name: "declared mismatch", payload: pngBytes, declared: "image/jpeg", wantErr: recognition.ErrUnsupportedMediaType},
		{name: "declared unsupported", payload: []byte("hello"), declared: "text/plain", wantErr: recognition.ErrUnsupportedMediaType},
		{name: "sniffed unsupported", payload: []byte("hello world"), wantErr: recognition.ErrUnsupportedMediaType},
		{name: "empty", payload: nil, declared: "image/png", wantErr: recognition.ErrEmptyPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectMimeType(tt.payload, tt.declared)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestSupported(t *testing.T) {
	require.True(t, Supported("image/webp"))
	require.True(t, Supported(" IMAGE/PNG "))
	require.False(t, Supported("image/tiff"))
	require.False(t, Supported(""))
}

func TestUploadSequence(t *testing.T) {
	creds := &stubCredentials{cred: &recognition.UploadCredential{ID: "abc123", URL: "https://store/abc123"}}
	storage := &stubStorage{}
	c := NewCoordinator(creds, storage, 0, zap.NewNop())

	cred, err := c.Upload(context.Background(), "cat.png", pngBytes, "image/png")
	require.NoError(t, err)
	require.Equal(t, "abc123", cred.ID)

	require.Equal(t, []recognition.UploadRequest{{Filename: "cat.png", MimeType: "image/png"}}, creds.requests)
	require.Len(t, storage.calls, 1)
	require.Equal(t, "https://store/abc123", storage.calls[0].cred.URL)
	require.Equal(t, "image/png", storage.calls[0].contentType)
	require.Equal(t, pngBytes, storage.calls[0].payload)
}

func TestUploadCredentialFailureSkipsTransfer(t *testing.T) {
	creds := &stubCredentials{err: recognition.NewCredentialError(500, errors.New("boom"))}
	storage := &stubStorage{}
	c := NewCoordinator(creds, storage, 0, zap.NewNop())

	cred, err := c.Upload(context.Background(), "cat.png", pngBytes, "")
	require.Nil(t, cred)
	require.ErrorIs(t, err, recognition.ErrCredential)
	require.Len(t, creds.requests, 1)
	require.Empty(t, storage.calls)

	var opErr *logging.OperationError
	require.ErrorAs(t, err, &opErr)
	require.Equal(t, "upload.request_credential", opErr.Operation)
}

func TestUploadIncompleteCredential(t *testing.T) {
	creds := &stubCredentials{cred: &recognition.UploadCredential{ID: "abc123"}}
	storage := &stubStorage{}
	c := NewCoordinator(creds, storage, 0, zap.NewNop())

	_, err := c.Upload(context.Background(), "cat.png", pngBytes, "image/png")
	require.ErrorIs(t, err, recognition.ErrCredential)
	require.Empty(t, storage.calls)
}

func TestUploadTransferFailureDoesNotRetry(t *testing.T) {
	creds := &stubCredentials{cred: &recognition.UploadCredential{ID: "abc123", URL: "https://store/abc123"}}
	storage := &stubStorage{err: recognition.NewTransferError("abc123", 403, nil)}
	c := NewCoordinator(creds, storage, 0, zap.NewNop())

	cred, err := c.Upload(context.Background(), "cat.png", pngBytes, "image/png")
	require.Nil(t, cred)
	require.ErrorIs(t, err, recognition.ErrTransfer)
	require.Len(t, creds.requests, 1)
	require.Len(t, storage.calls, 1)

	var opErr *logging.OperationError
	require.ErrorAs(t, err, &opErr)
	require.Equal(t, "abc123", opErr.UploadID)
}

func TestUploadUnsupportedTypeRequestsNoCredential(t *testing.T) {
	creds := &stubCredentials{cred: &recognition.UploadCredential{ID: "abc123", URL: "https://store/abc123"}}
	c := NewCoordinator(creds, &stubStorage{}, 0, zap.NewNop())

	_, err := c.Upload(context.Background(), "notes.txt", []byte("hello"), "text/plain")
	require.ErrorIs(t, err, recognition.ErrUnsupportedMediaType)
	require.Empty(t, creds.requests)
}
