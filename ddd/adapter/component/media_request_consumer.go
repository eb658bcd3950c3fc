package component

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	kafka "github.com/segmentio/kafka-go"

	"acquisition-service/ddd/application/app"
	"acquisition-service/ddd/application/cqe"
	"acquisition-service/pkg/logger"
)

// MessageReader kafka.Reader 的子集
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// MediaRequest 上游投递的采集请求
type MediaRequest struct {
	RequestID  string `json:"requestId"`
	TemplateID string `json:"templateId"`
	MediaType  string `json:"mediaType"`
}

// ConsumerOptions 消费失败时是否仍提交 offset
type ConsumerOptions struct {
	CommitOnDecodeError  bool
	CommitOnProcessError bool
}

// MediaRequestConsumer 从 Kafka 读取采集请求并启动流水线执行
type MediaRequestConsumer struct {
	reader   MessageReader
	pipeline app.PipelineApp
	opts     ConsumerOptions

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewMediaRequestConsumer(reader MessageReader, pipeline app.PipelineApp, opts ConsumerOptions) *MediaRequestConsumer {
	return &MediaRequestConsumer{reader: reader, pipeline: pipeline, opts: opts}
}

func (c *MediaRequestConsumer) Name() string { return "mediaRequestConsumer" }

func (c *MediaRequestConsumer) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.loop(runCtx)
	}()
	return nil
}

func (c *MediaRequestConsumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	return c.reader.Close()
}

func (c *MediaRequestConsumer) loop(ctx context.Context) {
	logger.Info("Kafka media request consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) || strings.Contains(err.Error(), "EOF") {
				logger.Debug("Kafka reader EOF")
			} else {
				logger.Warnf("Kafka read error error=%s", err.Error())
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		commit, err := c.handle(ctx, msg.Value)
		if err != nil {
			logger.Warnf("media request failed partition=%d offset=%d error=%v", msg.Partition, msg.Offset, err)
		}
		if commit {
			if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
				logger.Warnf("Kafka commit failed offset=%d error=%v", msg.Offset, err)
			}
		}
	}
}

// handle 返回是否提交 offset
func (c *MediaRequestConsumer) handle(ctx context.Context, value []byte) (bool, error) {
	var m MediaRequest
	if err := json.Unmarshal(value, &m); err != nil {
		return c.opts.CommitOnDecodeError, fmt.Errorf("decode media request: %w", err)
	}
	if m.RequestID == "" {
		return c.opts.CommitOnDecodeError, errors.New("media request without requestId")
	}
	logger.Infof("Kafka media request received request_id=%s template_id=%s media_type=%s", m.RequestID, m.TemplateID, m.MediaType)

	// 重复投递：同一请求已有运行中的执行则跳过
	running, err := c.pipeline.ListExecutions(ctx, &cqe.ListExecutionsReq{RequestID: m.RequestID, Status: "running"})
	if err != nil {
		return c.opts.CommitOnProcessError, err
	}
	if running.Total > 0 {
		logger.Infof("media request already running request_id=%s", m.RequestID)
		return true, nil
	}

	templateID := m.TemplateID
	if templateID == "" {
		templateID, err = c.templateFor(ctx, m.MediaType)
		if err != nil {
			return c.opts.CommitOnProcessError, err
		}
	}
	exec, err := c.pipeline.Execute(ctx, &cqe.ExecuteReq{RequestID: m.RequestID, TemplateID: templateID})
	if err != nil {
		return c.opts.CommitOnProcessError, err
	}
	logger.Infof("media request started request_id=%s execution_id=%s", m.RequestID, exec.ID)
	return true, nil
}

// templateFor 未指定模板时按媒体类型选取，要求恰好一个
func (c *MediaRequestConsumer) templateFor(ctx context.Context, mediaType string) (string, error) {
	if mediaType == "" {
		return "", errors.New("media request needs templateId or mediaType")
	}
	list, err := c.pipeline.ListTemplates(ctx, mediaType)
	if err != nil {
		return "", err
	}
	switch len(list) {
	case 0:
		return "", fmt.Errorf("no template for media type %q", mediaType)
	case 1:
		return list[0].ID, nil
	default:
		return "", fmt.Errorf("%d templates match media type %q, templateId is required", len(list), mediaType)
	}
}
