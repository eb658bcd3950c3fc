package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	Server          ServerConfig          `mapstructure:"server"`
	Database        DatabaseConfig        `mapstructure:"database"`
	Redis           RedisConfig           `mapstructure:"redis"`
	Kafka           KafkaConfig           `mapstructure:"kafka"`
	JWT             JWTConfig             `mapstructure:"jwt"`
	Log             LogConfig             `mapstructure:"log"`
	Minio           MinioConfig           `mapstructure:"minio"`
	Queue           QueueConfig           `mapstructure:"queue"`
	Worker          WorkerConfig          `mapstructure:"worker"`
	Pipeline        PipelineConfig        `mapstructure:"pipeline"`
	Dispatch        DispatchConfig        `mapstructure:"dispatch"`
	Search          SearchConfig          `mapstructure:"search"`
	Download        DownloadConfig        `mapstructure:"download"`
	Delivery        DeliveryConfig        `mapstructure:"delivery"`
	EventBridge     EventBridgeConfig     `mapstructure:"event_bridge"`
	ServiceRegistry ServiceRegistryConfig `mapstructure:"service_registry"`
	Etcd            EtcdConfig            `mapstructure:"etcd"`
	GRPCServer      GRPCServerConfig      `mapstructure:"grpc_server"`
	Profiling       ProfilingConfig       `mapstructure:"profiling"`
	EncoderNode     EncoderNodeConfig     `mapstructure:"encoder_node"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig 数据库配置
// Driver 为 mysql 或 memory，memory 只用于本地调试
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	Charset         string        `mapstructure:"charset"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	EnableTLS    bool          `mapstructure:"enable_tls"`
}

// KafkaConfig Kafka配置
type KafkaConfig struct {
	BootstrapServers     []string          `mapstructure:"bootstrap_servers"`
	ClientID             string            `mapstructure:"client_id"`
	GroupID              string            `mapstructure:"group_id"`
	Enabled              bool              `mapstructure:"enabled"`
	Topics               KafkaTopicsConfig `mapstructure:"topics"`
	CommitOnDecodeError  bool              `mapstructure:"commit_on_decode_error"`
	CommitOnProcessError bool              `mapstructure:"commit_on_process_error"`
}

// KafkaTopicsConfig topic 名称
type KafkaTopicsConfig struct {
	MediaRequests string `mapstructure:"media_requests"`
	Notifications string `mapstructure:"notifications"`
}

// JWTConfig JWT配置
type JWTConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Secret  string `mapstructure:"secret"`
	Issuer  string `mapstructure:"issuer"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	Filename string `mapstructure:"filename"`
}

// MinioConfig MinIO配置
type MinioConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
	PublicBase      string `mapstructure:"public_base"`
}

// QueueConfig 任务队列配置
type QueueConfig struct {
	DefaultMaxAttempts int           `mapstructure:"default_max_attempts"`
	BackoffBase        time.Duration `mapstructure:"backoff_base"`
	BackoffMax         time.Duration `mapstructure:"backoff_max"`
	WorkerGrace        time.Duration `mapstructure:"worker_grace"`
	ReaperInterval     time.Duration `mapstructure:"reaper_interval"`
	CleanupInterval    time.Duration `mapstructure:"cleanup_interval"`
	RetentionDays      int           `mapstructure:"retention_days"`
	ClaimBatch         int           `mapstructure:"claim_batch"`
}

// WorkerConfig 步骤执行 Worker 配置
type WorkerConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	Hostname            string        `mapstructure:"hostname"`
	Concurrency         int           `mapstructure:"concurrency"`
	JobTypes            []string      `mapstructure:"job_types"`
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	HeartbeatInterval   time.Duration `mapstructure:"heartbeat_interval"`
	CancelCheckInterval time.Duration `mapstructure:"cancel_check_interval"`
	ShutdownGracePeriod time.Duration `mapstructure:"shutdown_grace_period"`
	ProgressInterval    time.Duration `mapstructure:"progress_interval"`
}

// PipelineConfig 流水线引擎配置
type PipelineConfig struct {
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
}

// DispatchConfig 远程编码调度配置
type DispatchConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	HeartbeatInterval  time.Duration `mapstructure:"heartbeat_interval"`
	MissFactor         int           `mapstructure:"miss_factor"`
	LivenessInterval   time.Duration `mapstructure:"liveness_interval"`
	DefaultMaxAttempts int           `mapstructure:"default_max_attempts"`
	ClaimInterval      time.Duration `mapstructure:"claim_interval"`
	MaxInFlight        int           `mapstructure:"max_in_flight"`
}

// SearchConfig 检索服务配置
type SearchConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	APIKey       string        `mapstructure:"api_key"`
	Timeout      time.Duration `mapstructure:"timeout"`
	DefaultLimit int           `mapstructure:"default_limit"`
}

// DownloadConfig 下载配置
// BaseURL 为空时直接通过 HTTP 拉取到 Dir
type DownloadConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	APIKey       string        `mapstructure:"api_key"`
	Dir          string        `mapstructure:"dir"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// DeliveryConfig 交付配置，MinIO 未启用时落到 LocalDir
type DeliveryConfig struct {
	KeyPrefix string `mapstructure:"key_prefix"`
	LocalDir  string `mapstructure:"local_dir"`
}

// EventBridgeConfig 跨进程事件桥
type EventBridgeConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Channel string `mapstructure:"channel"`
}

// ServiceRegistryConfig registration configuration.
type ServiceRegistryConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	ServiceName     string        `mapstructure:"service_name"`
	ServiceID       string        `mapstructure:"service_id"`
	RegisterHost    string        `mapstructure:"register_host"`
	TTL             time.Duration `mapstructure:"ttl"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

// EtcdConfig etcd client configuration.
type EtcdConfig struct {
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
}

// GRPCServerConfig gRPC server configuration.
type GRPCServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// ProfilingConfig pyroscope 配置
type ProfilingConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	ServerAddress string `mapstructure:"server_address"`
}

// EncoderNodeConfig 远程编码节点进程配置
// ServerAddr 为空时通过 etcd 按 service_registry.service_name 查找
type EncoderNodeConfig struct {
	EncoderID     string        `mapstructure:"encoder_id"`
	Name          string        `mapstructure:"name"`
	ServerAddr    string        `mapstructure:"server_addr"`
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	FFmpegPath    string        `mapstructure:"ffmpeg_path"`
	FFprobePath   string        `mapstructure:"ffprobe_path"`
	ReconnectMin  time.Duration `mapstructure:"reconnect_min"`
	ReconnectMax  time.Duration `mapstructure:"reconnect_max"`
}

// Load 加载配置
func Load(configPath string) (*Config, error) {
	// .env 仅补充环境变量，不存在时忽略
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.client_id", "acquisition-service")
	v.SetDefault("kafka.group_id", "acquisition-service-group")
	v.SetDefault("kafka.topics.media_requests", "media.requests")
	v.SetDefault("kafka.topics.notifications", "media.notifications")
	v.SetDefault("kafka.commit_on_decode_error", true)
	v.SetDefault("worker.enabled", true)
	v.SetDefault("dispatch.enabled", true)
	v.SetDefault("service_registry.enabled", false)
	v.SetDefault("event_bridge.channel", "acquisition.events")

	// 设置环境变量前缀
	v.SetEnvPrefix("ACQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.normalize()

	return &config, nil
}

// ResolvePath 根据环境选择配置文件，支持CONFIG_PATH覆盖、CONFIG_ENV区分环境
func ResolvePath() string {
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		return path
	}

	env := strings.ToLower(strings.TrimSpace(os.Getenv("CONFIG_ENV")))
	if env == "" {
		env = "dev"
	}

	switch env {
	case "prod", "production":
		return "configs/config_prod.yaml"
	case "dev", "development":
		return "configs/config.dev.yaml"
	default:
		return fmt.Sprintf("configs/config.%s.yaml", env)
	}
}

// Default 返回只包含默认值的配置
func Default() *Config {
	c := &Config{}
	c.Database.Driver = "memory"
	c.normalize()
	return c
}

// normalize 补全配置的默认值
func (c *Config) normalize() {
	if c.Server.Port == 0 {
		c.Server.Port = 8083
	}
	if c.Server.Mode == "" {
		c.Server.Mode = "release"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}
	if c.Database.Charset == "" {
		c.Database.Charset = "utf8mb4"
	}

	// 队列默认值
	if c.Queue.DefaultMaxAttempts <= 0 {
		c.Queue.DefaultMaxAttempts = 3
	}
	if c.Queue.BackoffBase < 0 {
		c.Queue.BackoffBase = 0
	} else if c.Queue.BackoffBase == 0 {
		c.Queue.BackoffBase = 5 * time.Second
	}
	if c.Queue.BackoffMax <= 0 {
		c.Queue.BackoffMax = 10 * time.Minute
	}
	if c.Queue.WorkerGrace <= 0 {
		c.Queue.WorkerGrace = 90 * time.Second
	}
	if c.Queue.ReaperInterval <= 0 {
		c.Queue.ReaperInterval = 30 * time.Second
	}
	if c.Queue.CleanupInterval <= 0 {
		c.Queue.CleanupInterval = time.Hour
	}
	if c.Queue.RetentionDays <= 0 {
		c.Queue.RetentionDays = 14
	}
	if c.Queue.ClaimBatch <= 0 {
		c.Queue.ClaimBatch = 16
	}

	// Worker相关默认值
	if c.Worker.Hostname == "" {
		if host, err := os.Hostname(); err == nil {
			c.Worker.Hostname = host
		} else {
			c.Worker.Hostname = "localhost"
		}
	}
	if c.Worker.Concurrency <= 0 {
		c.Worker.Concurrency = 2
	}
	if len(c.Worker.JobTypes) == 0 {
		c.Worker.JobTypes = []string{"SEARCH", "DOWNLOAD", "DELIVER", "NOTIFICATION"}
	}
	if c.Worker.PollInterval <= 0 {
		c.Worker.PollInterval = 2 * time.Second
	}
	if c.Worker.HeartbeatInterval <= 0 {
		c.Worker.HeartbeatInterval = 15 * time.Second
	}
	if c.Worker.CancelCheckInterval <= 0 {
		c.Worker.CancelCheckInterval = 3 * time.Second
	}
	if c.Worker.ShutdownGracePeriod <= 0 {
		c.Worker.ShutdownGracePeriod = 10 * time.Second
	}
	// 负值表示不节流
	if c.Worker.ProgressInterval == 0 {
		c.Worker.ProgressInterval = time.Second
	}

	if c.Pipeline.ReconcileInterval <= 0 {
		c.Pipeline.ReconcileInterval = 30 * time.Second
	}

	if c.Dispatch.HeartbeatInterval <= 0 {
		c.Dispatch.HeartbeatInterval = 10 * time.Second
	}
	if c.Dispatch.MissFactor <= 0 {
		c.Dispatch.MissFactor = 3
	}
	if c.Dispatch.LivenessInterval <= 0 {
		c.Dispatch.LivenessInterval = c.Dispatch.HeartbeatInterval
	}
	if c.Dispatch.DefaultMaxAttempts <= 0 {
		c.Dispatch.DefaultMaxAttempts = 3
	}
	if c.Dispatch.ClaimInterval <= 0 {
		c.Dispatch.ClaimInterval = 2 * time.Second
	}
	if c.Dispatch.MaxInFlight <= 0 {
		c.Dispatch.MaxInFlight = 32
	}

	if c.Search.Timeout <= 0 {
		c.Search.Timeout = 30 * time.Second
	}
	if c.Search.DefaultLimit <= 0 {
		c.Search.DefaultLimit = 20
	}
	if c.Download.Dir == "" {
		c.Download.Dir = "/tmp/acquisition/downloads"
	}
	if c.Download.PollInterval <= 0 {
		c.Download.PollInterval = 2 * time.Second
	}
	if c.Download.Timeout <= 0 {
		c.Download.Timeout = 6 * time.Hour
	}
	if c.Delivery.KeyPrefix == "" {
		c.Delivery.KeyPrefix = "deliveries"
	}
	if c.Delivery.LocalDir == "" {
		c.Delivery.LocalDir = "/tmp/acquisition/library"
	}
	if c.EventBridge.Channel == "" {
		c.EventBridge.Channel = "acquisition.events"
	}

	if c.GRPCServer.Host == "" {
		c.GRPCServer.Host = "0.0.0.0"
	}
	if c.GRPCServer.Port == 0 {
		c.GRPCServer.Port = 9092
	}
	if c.ServiceRegistry.ServiceName == "" {
		c.ServiceRegistry.ServiceName = "acquisition-encoder-session"
	}
	if c.ServiceRegistry.ServiceID == "" {
		c.ServiceRegistry.ServiceID = c.Worker.Hostname
	}
	if c.ServiceRegistry.TTL == 0 {
		c.ServiceRegistry.TTL = 30 * time.Second
	}
	if c.ServiceRegistry.RefreshInterval == 0 {
		c.ServiceRegistry.RefreshInterval = 10 * time.Second
	}
	if len(c.Etcd.Endpoints) == 0 {
		c.Etcd.Endpoints = []string{"localhost:2379"}
	}
	if c.Etcd.DialTimeout <= 0 {
		c.Etcd.DialTimeout = 5 * time.Second
	}
	if len(c.Kafka.BootstrapServers) == 0 {
		c.Kafka.BootstrapServers = []string{"localhost:29092"}
	}
	if c.Kafka.ClientID == "" {
		c.Kafka.ClientID = "acquisition-service"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "acquisition-service-group"
	}
	if c.EncoderNode.EncoderID == "" {
		c.EncoderNode.EncoderID = c.Worker.Hostname
	}
	if c.EncoderNode.MaxConcurrent <= 0 {
		c.EncoderNode.MaxConcurrent = 1
	}
	if c.EncoderNode.FFmpegPath == "" {
		c.EncoderNode.FFmpegPath = "ffmpeg"
	}
	if c.EncoderNode.FFprobePath == "" {
		c.EncoderNode.FFprobePath = "ffprobe"
	}
	if c.EncoderNode.ReconnectMin <= 0 {
		c.EncoderNode.ReconnectMin = time.Second
	}
	if c.EncoderNode.ReconnectMax <= 0 {
		c.EncoderNode.ReconnectMax = 30 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}
}

// GetDSN 获取数据库连接字符串
// clientFoundRows 让条件更新按匹配行数返回，心跳写入相同时间时也算命中
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=True&loc=UTC&clientFoundRows=true",
		c.Username, c.Password, c.Host, c.Port, c.Database, c.Charset)
}

// GetRedisAddr 获取Redis地址
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GRPCAddr gRPC 监听地址
func (c *GRPCServerConfig) GRPCAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
