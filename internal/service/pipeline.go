package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"vibecheck-moments/internal/analyzer"
	"vibecheck-moments/internal/assembler"
	"vibecheck-moments/internal/buffer"
	"vibecheck-moments/internal/config"
	"vibecheck-moments/internal/consumer"
	"vibecheck-moments/internal/detect"
	"vibecheck-moments/internal/events"
	"vibecheck-moments/internal/extract"
	"vibecheck-moments/internal/ingest"
	"vibecheck-moments/internal/lifecycle"
	"vibecheck-moments/internal/models"
	"vibecheck-moments/internal/repository"
	"vibecheck-moments/pkg/database"
	mqttcommon "vibecheck-moments/pkg/mqtt"
	rediscommon "vibecheck-moments/pkg/redis"
)

// PipelineService 时刻管线服务（整合各层）
type PipelineService struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqttcommon.Client // broker 不可用时为空，buzz 信号降级
	logger      *zap.Logger

	// 各层组件
	buf              *buffer.RollingBuffer
	extractor        *extract.Extractor
	detector         *detect.Detector
	asm              *assembler.Assembler
	momentsRepo      *repository.MomentsRepository
	publisher        *events.Publisher
	manager          *lifecycle.Manager
	ingester         *ingest.Ingester
	source           ingest.Source
	buzzConsumer     *consumer.BuzzConsumer
	approvalConsumer *consumer.ApprovalConsumer
}

// NewPipelineService 创建管线服务
func NewPipelineService(cfg *config.Config, logger *zap.Logger) (*PipelineService, error) {
	// 1. 连接数据库
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	// 2. 连接 Redis
	redisClient := rediscommon.NewRedisClient(&cfg.Redis)
	if err := rediscommon.Ping(context.Background(), redisClient); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	// 3. 连接 MQTT（buzz 为增强信号，broker 不可用时降级继续）
	var mqttClient *mqttcommon.Client
	if cfg.MQTT.Broker != "" {
		mqttClient, err = mqttcommon.NewClient(&cfg.MQTT)
		if err != nil {
			logger.Warn("MQTT broker unavailable, continuing without buzz signal",
				zap.String("broker", cfg.MQTT.Broker),
				zap.Error(err),
			)
			mqttClient = nil
		}
	}

	// 4. 核心管线组件
	buf, err := buffer.NewRollingBuffer(cfg.Buffer.RetentionS, cfg.Buffer.RateHz)
	if err != nil {
		return nil, fmt.Errorf("failed to create rolling buffer: %w", err)
	}
	extractor := extract.NewExtractor(logger)
	detector := detect.NewDetector(detect.Config{
		WMotion:    cfg.Detect.WMotion,
		WAudio:     cfg.Detect.WAudio,
		WBuzz:      cfg.Detect.WBuzz,
		Threshold:  cfg.Detect.Threshold,
		CooldownS:  cfg.Detect.CooldownS,
		SmoothingS: cfg.Detect.SmoothingS,
	}, cfg.Stream.ID, logger)
	asm := assembler.NewAssembler(buf, logger)

	// 5. 外部依赖客户端
	analyzerClient := analyzer.NewClient(
		cfg.Analyzer.BaseURL,
		time.Duration(cfg.Analyzer.TimeoutS)*time.Second,
		cfg.Analyzer.Retries,
		logger,
	)
	var cardClient lifecycle.CardAPI
	if cfg.CardGen.BaseURL != "" {
		cardClient = analyzer.NewCardClient(
			cfg.CardGen.BaseURL,
			time.Duration(cfg.CardGen.TimeoutS)*time.Second,
			logger,
		)
	}

	// 6. 存储与事件
	momentsRepo := repository.NewMomentsRepository(db, logger)
	publisher := events.NewPublisher(redisClient, cfg.Events.StreamPrefix, logger)

	// 7. 生命周期管理器
	manager := lifecycle.NewManager(lifecycle.Config{
		WaitS:             cfg.Reaction.WaitS,
		DefaultOffsetS:    cfg.Reaction.DefaultOffsetS,
		PeakMinProminence: cfg.Reaction.PeakMinProminence,
		ReactionWAudio:    cfg.Reaction.WAudio,
		ReactionWBuzz:     cfg.Reaction.WBuzz,
		Recipe: assembler.Config{
			LeadBeforeS: cfg.Recipe.LeadBeforeS,
			LeadAfterS:  cfg.Recipe.LeadAfterS,
			PlayBeforeS: cfg.Recipe.PlayBeforeS,
			PlayAfterS:  cfg.Recipe.PlayAfterS,
			ButtonS:     cfg.Recipe.ButtonS,
		},
	}, buf, asm, analyzerClient, cardClient, momentsRepo, publisher, redisClient, logger)

	// 8. 摄取来源与主循环
	if cfg.Stream.UnitFile == "" {
		return nil, fmt.Errorf("STREAM_UNIT_FILE is required")
	}
	source, err := ingest.NewFileSource(cfg.Stream.UnitFile, cfg.Stream.Realtime)
	if err != nil {
		return nil, fmt.Errorf("failed to open unit source: %w", err)
	}
	ingester := ingest.NewIngester(source, extractor, buf, detector, publisher, manager, logger)

	// 9. 消费者
	var buzzConsumer *consumer.BuzzConsumer
	if mqttClient != nil {
		buzzConsumer = consumer.NewBuzzConsumer(mqttClient, extractor, cfg.Stream.ID, logger)
	}
	approvalConsumer := consumer.NewApprovalConsumer(
		redisClient,
		momentsRepo,
		publisher,
		logger,
		cfg.Events.ApprovalStream,
		cfg.Events.ConsumerGroup,
		cfg.Events.ConsumerName,
		10,
	)

	return &PipelineService{
		config:           cfg,
		db:               db,
		redisClient:      redisClient,
		mqttClient:       mqttClient,
		logger:           logger,
		buf:              buf,
		extractor:        extractor,
		detector:         detector,
		asm:              asm,
		momentsRepo:      momentsRepo,
		publisher:        publisher,
		manager:          manager,
		ingester:         ingester,
		source:           source,
		buzzConsumer:     buzzConsumer,
		approvalConsumer: approvalConsumer,
	}, nil
}

// Start 启动服务：消费者先就绪，再运行摄取主循环
// 流结束后等待所有在途时刻落终态
func (s *PipelineService) Start(ctx context.Context) error {
	s.logger.Info("Starting moments pipeline",
		zap.String("stream_id", s.config.Stream.ID),
		zap.Float64("retention_s", s.config.Buffer.RetentionS),
	)

	// 审批消费者
	go func() {
		if err := s.approvalConsumer.Start(ctx); err != nil {
			s.logger.Error("Approval consumer stopped", zap.Error(err))
		}
	}()

	// buzz 消费者
	if s.buzzConsumer != nil {
		if err := s.buzzConsumer.Start(); err != nil {
			s.logger.Warn("Failed to start buzz consumer", zap.Error(err))
		}
	}

	// 终态结果排水（落库与事件发布已在生命周期内完成）
	go s.drainResults(ctx)

	// 摄取主循环
	if err := s.ingester.Run(ctx); err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}

	// 流结束：等待在途时刻全部落终态
	s.logger.Info("Stream ingestion complete, waiting for in-flight moments",
		zap.Int("live", s.manager.LiveCount()),
	)
	s.manager.Wait()

	return nil
}

// drainResults 消费终态时刻，记录管线产出
func (s *PipelineService) drainResults(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case mom, ok := <-s.manager.Results():
			if !ok {
				return
			}
			s.logger.Info("Pipeline produced moment",
				zap.String("moment_id", mom.MomentID),
				zap.String("state", string(mom.State)),
				zap.Float64("t0", mom.T0),
			)
		}
	}
}

// Stop 停止服务并释放连接
func (s *PipelineService) Stop() error {
	s.logger.Info("Stopping moments pipeline")

	if s.buzzConsumer != nil {
		if err := s.buzzConsumer.Stop(); err != nil {
			s.logger.Error("Failed to stop buzz consumer", zap.Error(err))
		}
	}
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}
	if s.source != nil {
		if err := s.source.Close(); err != nil {
			s.logger.Error("Failed to close unit source", zap.Error(err))
		}
	}
	if err := database.Close(s.db); err != nil {
		s.logger.Error("Failed to close database", zap.Error(err))
	}
	if err := rediscommon.Close(s.redisClient); err != nil {
		s.logger.Error("Failed to close redis", zap.Error(err))
	}

	return nil
}

// ReadyMoments 查询待审阅的成功时刻（供运营端轮询）
func (s *PipelineService) ReadyMoments(ctx context.Context, page, size int) ([]*models.Moment, int, error) {
	return s.momentsRepo.ListReadyMoments(ctx, s.config.Stream.ID, page, size)
}
