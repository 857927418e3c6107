package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"vibecheck-moments/internal/config"
	"vibecheck-moments/internal/export"
	"vibecheck-moments/internal/models"
	"vibecheck-moments/internal/repository"
	"vibecheck-moments/pkg/database"
	"vibecheck-moments/pkg/logger"
)

// moments-export 批量导出终态时刻报表，供运营/高管离线审阅
func main() {
	var (
		output   = flag.String("o", "", "output xlsx path (default moments-<date>.xlsx)")
		streamID = flag.String("stream", "", "filter by stream id")
		limit    = flag.Int("limit", 1000, "max rows to export")
	)
	flag.Parse()

	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// 2. 初始化日志
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "moments-export")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	// 3. 连接数据库
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect database", zap.Error(err))
	}
	defer database.Close(db)

	// 4. 查询终态时刻
	repo := repository.NewMomentsRepository(db, log)
	filters := repository.MomentFilters{
		States: []string{
			string(models.StateReady),
			string(models.StateExpired),
			string(models.StateFailed),
		},
	}
	if *streamID != "" {
		filters.StreamID = streamID
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	moments, total, err := repo.ListMoments(ctx, filters, 1, *limit)
	if err != nil {
		log.Fatal("Failed to list moments", zap.Error(err))
	}

	// 5. 生成报表
	data, err := export.GenerateMomentsReport(moments)
	if err != nil {
		log.Fatal("Failed to generate report", zap.Error(err))
	}

	path := *output
	if path == "" {
		path = fmt.Sprintf("moments-%s.xlsx", time.Now().Format("2006-01-02"))
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		log.Fatal("Failed to write report file", zap.Error(err))
	}

	log.Info("Moments report exported",
		zap.String("path", path),
		zap.Int("rows", len(moments)),
		zap.Int("total", total),
	)
}
