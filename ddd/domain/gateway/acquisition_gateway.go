package gateway

import (
	"context"
)

// SearchQuery 检索请求
type SearchQuery struct {
	RequestID string `json:"requestId"`
	Query     string `json:"query"`
	MediaType string `json:"mediaType,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// ReleaseCandidate 检索得到的候选资源，按 Score 降序
type ReleaseCandidate struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Size    int64   `json:"size,omitempty"`
	Seeders int     `json:"seeders,omitempty"`
	Score   float64 `json:"score"`
	Source  string  `json:"source,omitempty"`
}

// SearchProvider 元数据/资源检索服务
type SearchProvider interface {
	Search(ctx context.Context, q SearchQuery) ([]ReleaseCandidate, error)
}

// DownloadState 下载句柄状态
type DownloadState string

const (
	DownloadQueued      DownloadState = "queued"
	DownloadDownloading DownloadState = "downloading"
	DownloadCompleted   DownloadState = "completed"
	DownloadFailed      DownloadState = "failed"
)

// DownloadStatus 下载进度
type DownloadStatus struct {
	State      DownloadState `json:"state"`
	BytesDone  int64         `json:"bytesDone"`
	BytesTotal int64         `json:"bytesTotal"`
	Message    string        `json:"message,omitempty"`
}

// DownloadClient 下载/传输客户端
type DownloadClient interface {
	// Start 开始下载，返回句柄
	Start(ctx context.Context, payload map[string]interface{}) (string, error)
	// Status 查询进度
	Status(ctx context.Context, handle string) (DownloadStatus, error)
	// Result 完成后的本地路径，失败时返回错误
	Result(ctx context.Context, handle string) (string, error)
}

// Notifier 通知通道，发送即忘
type Notifier interface {
	Notify(ctx context.Context, event string, payload map[string]interface{}) error
}
