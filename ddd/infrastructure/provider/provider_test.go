package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acquisition-service/ddd/domain/failure"
	"acquisition-service/ddd/domain/gateway"
)

func TestSearchClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		assert.Equal(t, "Heat", r.URL.Query().Get("q"))
		assert.Equal(t, "movie", r.URL.Query().Get("type"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"results": []gateway.ReleaseCandidate{{Title: "Heat.1995.1080p", URL: "magnet:1", Score: 0.8}},
		})
	}))
	defer srv.Close()

	client := NewSearchClient(srv.URL+"/", "secret", time.Second)
	got, err := client.Search(context.Background(), gateway.SearchQuery{Query: "Heat", MediaType: "movie", Limit: 5})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "magnet:1", got[0].URL)
}

func TestSearchClient_StatusClassification(t *testing.T) {
	code := http.StatusBadRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", code)
	}))
	defer srv.Close()
	client := NewSearchClient(srv.URL, "", time.Second)

	_, err := client.Search(context.Background(), gateway.SearchQuery{Query: "x"})
	assert.True(t, failure.IsPermanent(err))

	code = http.StatusTooManyRequests
	_, err = client.Search(context.Background(), gateway.SearchQuery{Query: "x"})
	assert.True(t, failure.IsRetryable(err))

	code = http.StatusBadGateway
	_, err = client.Search(context.Background(), gateway.SearchQuery{Query: "x"})
	assert.True(t, failure.IsRetryable(err))

	_, err = NewSearchClient("", "", 0).Search(context.Background(), gateway.SearchQuery{Query: "x"})
	assert.True(t, failure.IsPermanent(err))
}

func TestRemoteDownloadClient(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/downloads", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "magnet:1", body["url"])
		_, _ = w.Write([]byte(`{"handle":"h-1"}`))
	})
	mux.HandleFunc("/downloads/h-1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"state":"downloading","bytesDone":5,"bytesTotal":10}`))
	})
	mux.HandleFunc("/downloads/h-1/result", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"path":"/data/heat.mkv"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewRemoteDownloadClient(srv.URL, "", time.Second)
	ctx := context.Background()

	handle, err := client.Start(ctx, map[string]interface{}{"url": "magnet:1"})
	require.NoError(t, err)
	assert.Equal(t, "h-1", handle)

	st, err := client.Status(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, gateway.DownloadStatus{State: gateway.DownloadDownloading, BytesDone: 5, BytesTotal: 10}, st)

	path, err := client.Result(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, "/data/heat.mkv", path)
}

func TestDirectDownloadClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.mkv" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	client := NewDirectDownloadClient(t.TempDir())
	defer client.Abort()
	ctx := context.Background()

	_, err := client.Start(ctx, map[string]interface{}{"url": "magnet:?xt=1"})
	assert.True(t, failure.IsPermanent(err))

	handle, err := client.Start(ctx, map[string]interface{}{"url": srv.URL + "/heat.mkv"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		st, err := client.Status(ctx, handle)
		return err == nil && st.State == gateway.DownloadCompleted
	}, 3*time.Second, 10*time.Millisecond)

	path, err := client.Result(ctx, handle)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(data))

	_, err = client.Status(ctx, handle)
	assert.True(t, failure.IsRetryable(err), "handle is forgotten once the result is collected")

	failed, err := client.Start(ctx, map[string]interface{}{"url": srv.URL + "/missing.mkv"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		st, _ := client.Status(ctx, failed)
		return st.State == gateway.DownloadFailed
	}, 3*time.Second, 10*time.Millisecond)
	_, err = client.Result(ctx, failed)
	assert.Error(t, err)
}
