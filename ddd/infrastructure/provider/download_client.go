package provider

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"acquisition-service/ddd/domain/failure"
	"acquisition-service/ddd/domain/gateway"
)

// RemoteDownloadClient 对接外部下载服务
//
//	POST {base}/downloads              -> {"handle": "..."}
//	GET  {base}/downloads/{h}          -> DownloadStatus
//	GET  {base}/downloads/{h}/result   -> {"path": "...", "error": "..."}
type RemoteDownloadClient struct {
	api *apiClient
}

func NewRemoteDownloadClient(baseURL, apiKey string, timeout time.Duration) *RemoteDownloadClient {
	return &RemoteDownloadClient{api: newAPIClient(baseURL, apiKey, timeout)}
}

func (c *RemoteDownloadClient) Start(ctx context.Context, payload map[string]interface{}) (string, error) {
	var resp struct {
		Handle string `json:"handle"`
	}
	if err := c.api.do(ctx, http.MethodPost, "/downloads", payload, &resp); err != nil {
		return "", err
	}
	if resp.Handle == "" {
		return "", failure.Transient(errors.New("download service returned empty handle"))
	}
	return resp.Handle, nil
}

func (c *RemoteDownloadClient) Status(ctx context.Context, handle string) (gateway.DownloadStatus, error) {
	var st gateway.DownloadStatus
	err := c.api.do(ctx, http.MethodGet, "/downloads/"+url.PathEscape(handle), nil, &st)
	return st, err
}

func (c *RemoteDownloadClient) Result(ctx context.Context, handle string) (string, error) {
	var resp struct {
		Path  string `json:"path"`
		Error string `json:"error"`
	}
	if err := c.api.do(ctx, http.MethodGet, "/downloads/"+url.PathEscape(handle)+"/result", nil, &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", failure.Transient(errors.New(resp.Error))
	}
	return resp.Path, nil
}
