package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	boqentity "github.com/brightfog/kunlun/internal/boq/entity"
	boqhandler "github.com/brightfog/kunlun/internal/boq/handler"
	boqrepo "github.com/brightfog/kunlun/internal/boq/repository"
	boqservice "github.com/brightfog/kunlun/internal/boq/service"
	catalogentity "github.com/brightfog/kunlun/internal/catalog/entity"
	cataloghandler "github.com/brightfog/kunlun/internal/catalog/handler"
	catalogrepo "github.com/brightfog/kunlun/internal/catalog/repository"
	catalogservice "github.com/brightfog/kunlun/internal/catalog/service"
	"github.com/brightfog/kunlun/internal/change/entity"
	changehandler "github.com/brightfog/kunlun/internal/change/handler"
	"github.com/brightfog/kunlun/internal/change/repository"
	"github.com/brightfog/kunlun/internal/change/service"
	"github.com/brightfog/kunlun/internal/config"
	"github.com/brightfog/kunlun/internal/middleware"
	"github.com/brightfog/kunlun/internal/shared/archive"
	"github.com/brightfog/kunlun/internal/shared/notify"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// 加载 .env 文件
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化日志
	zapLogger, err := initLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("Starting kunlun-erp service",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
	)

	// 初始化数据库
	db, err := initDatabase(cfg.Database)
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}

	// 迁移
	if err := db.AutoMigrate(
		&boqentity.BOQ{},
		&boqentity.BOQItem{},
		&catalogentity.CatalogItem{},
		&catalogentity.Vendor{},
		&entity.ChangeRequest{},
		&entity.MaterialLine{},
		&entity.CRApproval{},
		&entity.ChangeHistory{},
		&entity.POChild{},
		&entity.RoutedMaterial{},
	); err != nil {
		zapLogger.Fatal("AutoMigrate failed", zap.Error(err))
	}

	// GORM表达不了的约束走原生SQL
	migrationSQL := []string{
		// 同一材料行只能入队一次
		`CREATE UNIQUE INDEX IF NOT EXISTS uk_routed_cr_line ON routed_materials(cr_id, material_line_id)`,
		// 状态列约束，挡住绕过服务层的脏写
		`ALTER TABLE change_requests DROP CONSTRAINT IF EXISTS chk_cr_status`,
		`ALTER TABLE change_requests ADD CONSTRAINT chk_cr_status CHECK (status IN
			('pending', 'under_review', 'approved_by_pm', 'approved_by_td', 'approved', 'rejected'))`,
		`ALTER TABLE po_children DROP CONSTRAINT IF EXISTS chk_po_child_status`,
		`ALTER TABLE po_children ADD CONSTRAINT chk_po_child_status CHECK (status IN
			('pending_td_approval', 'vendor_approved', 'rejected', 'purchase_completed', 'routed_to_store'))`,
		`CREATE INDEX IF NOT EXISTS idx_cr_boq_status ON change_requests(boq_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_material_lines_cr ON material_lines(cr_id)`,
	}
	for _, sql := range migrationSQL {
		if err := db.Exec(sql).Error; err != nil {
			zapLogger.Warn("Migration SQL warning (may already exist)", zap.String("sql", sql), zap.Error(err))
		}
	}
	zapLogger.Info("Database migration completed")

	// 初始化Redis（事件发布）
	rdb := initRedis(cfg.Redis)
	var notifier notify.Notifier = notify.Nop{}
	if rdb != nil {
		notifier = notify.NewRedisNotifier(rdb, "", zapLogger)
	}

	// 初始化MinIO（审批归档）
	archiver := initArchiver(cfg.MinIO, zapLogger)

	// 仓库与服务装配
	boqRepo := boqrepo.NewBOQRepository(db)
	catalogRepo := catalogrepo.NewCatalogRepository(db)
	vendorRepo := catalogrepo.NewVendorRepository(db)
	changeRepos := repository.NewRepositories(db)

	marginSvc := boqservice.NewMarginService(boqRepo, changeRepos.CR, cfg.Margin.WarningThreshold)
	boqSvc := boqservice.NewBOQService(boqRepo, zapLogger)
	catalogSvc := catalogservice.NewCatalogService(catalogRepo, vendorRepo, zapLogger)
	changeSvc := service.NewChangeService(db, changeRepos, boqRepo, catalogRepo, vendorRepo, marginSvc, notifier, archiver, zapLogger)
	splitSvc := service.NewSplitService(db, changeRepos, vendorRepo, notifier, zapLogger)
	exportSvc := service.NewExportService(changeRepos)

	boqH := boqhandler.NewBOQHandler(boqSvc, marginSvc)
	catalogH := cataloghandler.NewCatalogHandler(catalogSvc)
	changeH := changehandler.NewHandlers(changeSvc, splitSvc, exportSvc)

	// 路由
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger(zapLogger))
	r.Use(middleware.CORS())
	r.Use(middleware.RequestID())
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	registerRoutes(r, cfg, boqH, catalogH, changeH)

	// HTTP服务
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		zapLogger.Info("Server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}

	zapLogger.Info("Server exited")
}

func registerRoutes(r *gin.Engine, cfg *config.Config, boqH *boqhandler.BOQHandler, catalogH *cataloghandler.CatalogHandler, changeH *changehandler.Handlers) {
	// 健康检查
	r.GET("/health/live", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/health/ready", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/version", func(c *gin.Context) {
		c.JSON(200, gin.H{"version": Version, "build_time": BuildTime})
	})

	api := r.Group("/api/v1", middleware.JWTAuth(cfg.JWT.Secret))

	// BOQ
	boqs := api.Group("/boqs")
	{
		boqs.POST("", boqH.Create)
		boqs.GET("", boqH.List)
		boqs.GET("/:id", boqH.Get)
		boqs.POST("/:id/publish", boqH.Publish)
		boqs.GET("/:id/margin", boqH.Margin)
		boqs.POST("/:id/change-requests", changeH.CR.Create)
	}

	// 变更请求
	crs := api.Group("/change-requests")
	{
		crs.GET("", changeH.CR.List)
		crs.GET("/:id", changeH.CR.Get)
		crs.DELETE("/:id", changeH.CR.Delete)
		crs.POST("/:id/send-for-review", changeH.CR.SendForReview)
		crs.POST("/:id/approve", changeH.CR.Approve)
		crs.POST("/:id/reject", changeH.CR.Reject)
		crs.POST("/:id/resend", changeH.CR.Resend)
		crs.GET("/:id/margin", changeH.CR.Margin)
		crs.GET("/:id/history", changeH.CR.History)
		crs.GET("/:id/export", changeH.CR.Export)
		crs.POST("/:id/split", changeH.PO.Split)
		crs.POST("/:id/resplit", changeH.PO.Resplit)
		crs.GET("/:id/purchase-orders", changeH.PO.ListByCR)
	}

	// 子采购单
	pos := api.Group("/purchase-orders")
	{
		pos.GET("", changeH.PO.List)
		pos.GET("/:id", changeH.PO.Get)
		pos.POST("/:id/approve-vendor", changeH.PO.ApproveVendor)
		pos.POST("/:id/reject-vendor", changeH.PO.RejectVendor)
		pos.POST("/:id/reselect-vendor", changeH.PO.ReselectVendor)
		pos.POST("/:id/complete", changeH.PO.Complete)
	}

	// 门店采购队列
	routed := api.Group("/routed-materials")
	{
		routed.GET("", changeH.PO.ListRouted)
		routed.POST("/:id/purchase", changeH.PO.MarkRoutedPurchased)
	}

	// 目录与供应商
	api.GET("/catalog-items", catalogH.ListItems)
	api.GET("/catalog-items/lookup", catalogH.LookupItem)
	api.POST("/catalog-items", catalogH.CreateItem)
	api.GET("/vendors", catalogH.ListVendors)
	api.GET("/vendors/:id", catalogH.GetVendor)
	api.POST("/vendors", catalogH.CreateVendor)
}

func initLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zapCfg zap.Config

	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	switch cfg.Level {
	case "debug":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}

	return zapCfg.Build()
}

func initDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
		// 唯一键冲突翻译成 gorm.ErrDuplicatedKey，仓库层据此识别重复入队
		TranslateError: true,
	}

	db, err := gorm.Open(postgres.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return db, nil
}

func initRedis(cfg config.RedisConfig) *redis.Client {
	if cfg.Host == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func initArchiver(cfg config.MinIOConfig, zapLogger *zap.Logger) *archive.Archiver {
	if cfg.Endpoint == "" {
		return archive.NewArchiver(nil, "", zapLogger)
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		zapLogger.Warn("Failed to init MinIO client, archiving disabled", zap.Error(err))
		return archive.NewArchiver(nil, "", zapLogger)
	}

	archiver := archive.NewArchiver(client, cfg.Bucket, zapLogger)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := archiver.EnsureBucket(ctx); err != nil {
		zapLogger.Warn("Failed to ensure archive bucket", zap.Error(err))
	}
	return archiver
}
