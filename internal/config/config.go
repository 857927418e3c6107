package config

import (
	"fmt"
	"os"
	"strconv"

	common "vibecheck-moments/pkg/config"
)

// Config 时刻管线服务配置
type Config struct {
	Database common.DatabaseConfig
	Redis    common.RedisConfig
	MQTT     common.MQTTConfig

	// 流与摄取
	Stream struct {
		ID       string // 流标识
		UnitFile string // 预解码单元文件（JSON-lines）
		Realtime bool   // 按媒体时间差节拍回放
	}

	Buffer struct {
		RetentionS float64 // 滚动缓冲保留窗口（秒）
		RateHz     float64 // 提取节拍频率
	}

	Detect struct {
		WMotion    float64
		WAudio     float64
		WBuzz      float64
		Threshold  float64
		CooldownS  float64
		SmoothingS float64
	}

	Reaction struct {
		WaitS             float64 // 反应等待上限
		DefaultOffsetS    float64 // 超时兜底偏移
		PeakMinProminence float64
		WAudio            float64 // 反应检测权重（音频为主）
		WBuzz             float64
	}

	Recipe struct {
		LeadBeforeS float64
		LeadAfterS  float64
		PlayBeforeS float64
		PlayAfterS  float64
		ButtonS     float64
	}

	Analyzer struct {
		BaseURL  string
		TimeoutS int
		Retries  int
	}

	CardGen struct {
		BaseURL  string
		TimeoutS int
	}

	Events struct {
		StreamPrefix   string // Redis Streams 前缀
		ApprovalStream string
		ConsumerGroup  string
		ConsumerName   string
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	// 从环境变量加载（默认值）
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "vibecheck")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "vibecheck-moments")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")

	cfg.Stream.ID = getEnv("STREAM_ID", "default")
	cfg.Stream.UnitFile = getEnv("STREAM_UNIT_FILE", "")
	cfg.Stream.Realtime = getEnvBool("STREAM_REALTIME", false)

	cfg.Buffer.RetentionS = getEnvFloat("BUFFER_RETENTION_S", 90)
	cfg.Buffer.RateHz = getEnvFloat("BUFFER_RATE_HZ", 10)

	cfg.Detect.WMotion = getEnvFloat("DETECT_W_MOTION", 0.5)
	cfg.Detect.WAudio = getEnvFloat("DETECT_W_AUDIO", 0.4)
	cfg.Detect.WBuzz = getEnvFloat("DETECT_W_BUZZ", 0.1)
	cfg.Detect.Threshold = getEnvFloat("DETECT_THRESHOLD", 0.7)
	cfg.Detect.CooldownS = getEnvFloat("DETECT_COOLDOWN_S", 5)
	cfg.Detect.SmoothingS = getEnvFloat("DETECT_SMOOTHING_S", 0.5)

	cfg.Reaction.WaitS = getEnvFloat("REACTION_WAIT_S", 40)
	cfg.Reaction.DefaultOffsetS = getEnvFloat("REACTION_DEFAULT_OFFSET_S", 10)
	cfg.Reaction.PeakMinProminence = getEnvFloat("REACTION_PEAK_MIN_PROMINENCE", 0.15)
	cfg.Reaction.WAudio = getEnvFloat("REACTION_W_AUDIO", 0.7)
	cfg.Reaction.WBuzz = getEnvFloat("REACTION_W_BUZZ", 0.3)

	cfg.Recipe.LeadBeforeS = getEnvFloat("RECIPE_LEAD_BEFORE_S", 2)
	cfg.Recipe.LeadAfterS = getEnvFloat("RECIPE_LEAD_AFTER_S", 4)
	cfg.Recipe.PlayBeforeS = getEnvFloat("RECIPE_PLAY_BEFORE_S", 6)
	cfg.Recipe.PlayAfterS = getEnvFloat("RECIPE_PLAY_AFTER_S", 4)
	cfg.Recipe.ButtonS = getEnvFloat("RECIPE_BUTTON_S", 4)

	cfg.Analyzer.BaseURL = getEnv("ANALYZER_BASE_URL", "http://localhost:8090")
	cfg.Analyzer.TimeoutS = getEnvInt("ANALYZER_TIMEOUT_S", 30)
	cfg.Analyzer.Retries = getEnvInt("ANALYZER_RETRIES", 2)

	cfg.CardGen.BaseURL = getEnv("CARDGEN_BASE_URL", "")
	cfg.CardGen.TimeoutS = getEnvInt("CARDGEN_TIMEOUT_S", 15)

	cfg.Events.StreamPrefix = getEnv("EVENTS_STREAM_PREFIX", "vibecheck:events")
	cfg.Events.ApprovalStream = getEnv("EVENTS_APPROVAL_STREAM", "vibecheck:events:approvals")
	cfg.Events.ConsumerGroup = getEnv("EVENTS_CONSUMER_GROUP", "moments-service")
	cfg.Events.ConsumerName = getEnv("EVENTS_CONSUMER_NAME", "consumer-1")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置一致性
func (c *Config) Validate() error {
	if c.Buffer.RetentionS <= 0 {
		return fmt.Errorf("BUFFER_RETENTION_S must be positive")
	}
	if c.Buffer.RateHz <= 0 {
		return fmt.Errorf("BUFFER_RATE_HZ must be positive")
	}
	if c.Detect.Threshold <= 0 || c.Detect.Threshold > 1 {
		return fmt.Errorf("DETECT_THRESHOLD must be in (0, 1]")
	}
	if c.Reaction.WaitS <= 0 {
		return fmt.Errorf("REACTION_WAIT_S must be positive")
	}
	if c.Reaction.DefaultOffsetS > c.Reaction.WaitS {
		return fmt.Errorf("REACTION_DEFAULT_OFFSET_S must not exceed REACTION_WAIT_S")
	}
	// 兜底配方必须能装进保留窗口
	clipSpan := c.Recipe.LeadBeforeS + c.Recipe.LeadAfterS + c.Recipe.PlayBeforeS + c.Recipe.PlayAfterS + c.Recipe.ButtonS
	if clipSpan+c.Reaction.WaitS > c.Buffer.RetentionS {
		return fmt.Errorf("buffer retention %.0fs too small for wait %.0fs plus clip span %.0fs",
			c.Buffer.RetentionS, c.Reaction.WaitS, clipSpan)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
