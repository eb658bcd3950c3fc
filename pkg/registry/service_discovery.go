package registry

import (
	"context"
	"fmt"
	"sync/atomic"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// ServiceDiscovery 按服务名查找已注册实例，编码节点用它找到调度端
type ServiceDiscovery struct {
	client *clientv3.Client
	next   atomic.Uint64
}

func NewServiceDiscovery(client *clientv3.Client) *ServiceDiscovery {
	return &ServiceDiscovery{client: client}
}

// DiscoverService fetches available instances from etcd.
func (sd *ServiceDiscovery) DiscoverService(ctx context.Context, serviceName string) ([]string, error) {
	key := fmt.Sprintf("/services/%s/", serviceName)
	resp, err := sd.client.Get(ctx, key, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to get service instances: %w", err)
	}
	addresses := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		addresses = append(addresses, string(kv.Value))
	}
	return addresses, nil
}

// GetServiceAddress 轮询返回一个实例地址
func (sd *ServiceDiscovery) GetServiceAddress(ctx context.Context, serviceName string) (string, error) {
	addresses, err := sd.DiscoverService(ctx, serviceName)
	if err != nil {
		return "", fmt.Errorf("failed to discover service %s: %w", serviceName, err)
	}
	return pick(addresses, sd.next.Add(1)-1, serviceName)
}

func pick(addresses []string, n uint64, serviceName string) (string, error) {
	if len(addresses) == 0 {
		return "", fmt.Errorf("no available instances for service %s", serviceName)
	}
	return addresses[n%uint64(len(addresses))], nil
}
