package gateway

import "context"

// DeliveryGateway 成品交付网关（对象存储等）
type DeliveryGateway interface {
	// Deliver 上传本地文件，返回可访问的地址
	Deliver(ctx context.Context, localPath, objectKey, contentType string) (string, error)
}
