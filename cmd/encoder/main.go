// Command encoder 远程编码节点：连接调度端会话，在本机用 ffmpeg 执行分配的编码
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"acquisition-service/internal/encodernode"
	"acquisition-service/pkg/config"
	"acquisition-service/pkg/logger"
	"acquisition-service/pkg/observability"
	"acquisition-service/pkg/registry"
)

func main() {
	cfgPath := config.ResolvePath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("[ERROR] Failed to load config (%s): %v\n", cfgPath, err)
		os.Exit(1)
	}
	logService := logger.NewLogger(cfg)
	logger.SetGlobalLogger(logService)
	defer logService.Close()

	stopProfiling := observability.StartProfiling(cfg.Profiling, "acquisition-encoder")
	defer stopProfiling()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ffmpeg := encodernode.NewFFmpeg(cfg.EncoderNode.FFmpegPath, cfg.EncoderNode.FFprobePath)
	detectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	caps, err := ffmpeg.DetectCapabilities(detectCtx)
	cancel()
	if err != nil {
		logger.Fatal(fmt.Sprintf("FFmpeg capability detection failed binary=%s error=%v", cfg.EncoderNode.FFmpegPath, err))
	}
	logger.Infof("encoder capabilities codecs=%d hwaccels=%v audio=%d", len(caps.VideoEncoders), caps.HWAccels, len(caps.AudioEncoders))

	resolve := encodernode.StaticAddress(cfg.EncoderNode.ServerAddr)
	if cfg.EncoderNode.ServerAddr == "" {
		client, err := registry.NewEtcdClient(cfg.Etcd)
		if err != nil {
			logger.Fatal(fmt.Sprintf("Failed to connect etcd error=%v", err))
		}
		defer client.Close()
		discovery := registry.NewServiceDiscovery(client)
		serviceName := cfg.ServiceRegistry.ServiceName
		resolve = func(ctx context.Context) (string, error) {
			return discovery.GetServiceAddress(ctx, serviceName)
		}
		logger.Infof("encoder session address from etcd service=%s", serviceName)
	}

	node := encodernode.NewNode(cfg.EncoderNode, ffmpeg, caps, resolve)
	logger.Infof("Encoder node starting encoder_id=%s max_concurrent=%d", cfg.EncoderNode.EncoderID, cfg.EncoderNode.MaxConcurrent)
	if err := node.Run(ctx); err != nil {
		logger.Errorf("encoder node stopped error=%v", err)
	}
	logger.Infof("Encoder node exited")
}
