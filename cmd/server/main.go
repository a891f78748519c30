// Package main 是服务端的入口点。
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"companion-go/internal/config"
	"companion-go/internal/handler"
	"companion-go/internal/middleware"
	"companion-go/internal/model"
	"companion-go/internal/repository"
	"companion-go/internal/service"
	"companion-go/pkg/database"
	"companion-go/pkg/es"
	"companion-go/pkg/kafka"
	"companion-go/pkg/log"
	"companion-go/pkg/oauth"
	"companion-go/pkg/storage"
	"companion-go/pkg/token"
	"companion-go/pkg/webhook"

	"github.com/gin-gonic/gin"
)

func main() {
	configPath := os.Getenv("COMPANION_CONFIG")
	if configPath == "" {
		configPath = "./configs/config.yaml"
	}

	// 1. 初始化配置
	config.Init(configPath)
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、Redis、对象存储与搜索
	database.InitMySQL(cfg.Database.MySQL.DSN,
		&model.User{}, &model.UserProfile{}, &model.Conversation{}, &model.ChatMessage{},
		&model.Product{}, &model.Post{}, &model.Reply{}, &model.AuthAuditLog{},
	)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	storage.InitMinIO(cfg.MinIO)
	if err := es.InitES(cfg.Elasticsearch); err != nil {
		log.Errorf("es 初始化失败 %s", err)
		return
	}

	bgCtx, cancelBg := context.WithCancel(context.Background())
	defer cancelBg()

	// 4. 初始化 Repository
	userRepo := repository.NewUserRepository(database.DB)
	profileRepo := repository.NewProfileRepository(database.DB)
	sessionRepo := repository.NewSessionRepository(database.RDB)
	conversationRepo := repository.NewConversationRepository(database.DB, database.RDB)
	productRepo := repository.NewProductRepository(database.DB)
	communityRepo := repository.NewCommunityRepository(database.DB)
	auditRepo := repository.NewAuditRepository(database.DB)
	clinicianRepo := repository.NewClinicianRepository(es.ESClient, cfg.Elasticsearch.IndexName)

	// 5. 认证事件：Redis 频道负责实时推送，Kafka 负责审计
	hub := service.NewEventHub()
	go hub.Listen(bgCtx, database.RDB)
	publishers := service.MultiPublisher{service.NewRedisEventPublisher(database.RDB)}

	adminService := service.NewAdminService(auditRepo)
	if cfg.Kafka.Brokers != "" {
		producer := kafka.NewProducer(cfg.Kafka)
		defer producer.Close()
		publishers = append(publishers, producer)
		go kafka.StartConsumer(bgCtx, cfg.Kafka, database.RDB, adminService)
	} else {
		log.Warnf("未配置 Kafka brokers，认证审计日志不会被记录")
	}

	// 6. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	signer := storage.NewSigner(storage.MinioClient, cfg.MinIO.BucketName, time.Duration(cfg.MinIO.URLExpireMins)*time.Minute)
	services := handler.Services{
		Auth:         service.NewAuthService(userRepo, sessionRepo, jwtManager, oauth.NewGoogleVerifier(cfg.OAuth.GoogleClientID), publishers),
		Profile:      service.NewProfileService(profileRepo),
		Conversation: service.NewConversationService(conversationRepo),
		Chat:         service.NewChatService(conversationRepo, webhook.NewClient(cfg.Webhook)),
		Community:    service.NewCommunityService(communityRepo, profileRepo),
		Directory:    service.NewDirectoryService(clinicianRepo, signer),
		Catalog:      service.NewCatalogService(productRepo, signer),
		Metrics:      service.NewMetricsService(),
		Admin:        adminService,
		Hub:          hub,
	}

	// 7. 导入 initdata 目录中的种子数据，已存在则跳过
	go seedCatalog(bgCtx, "initdata", services.Catalog, services.Directory)

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())
	handler.RegisterRoutes(r, services)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}
	// 停止 Redis 订阅与 Kafka 消费者
	cancelBg()
	log.Info("服务已优雅关闭")
}

// seedCatalog 读取 dir 下的 products.json 与 clinicians.json 并导入（幂等）。
func seedCatalog(ctx context.Context, dir string, catalog service.CatalogService, directory service.DirectoryService) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		log.Infof("seedCatalog: 目录 '%s' 不存在或不可用，跳过初始化导入", dir)
		return
	}

	var products []productSeed
	if err := readSeed(filepath.Join(dir, "products.json"), &products); err != nil {
		log.Warnf("seedCatalog: 读取商品种子失败: %v", err)
	}
	for i := range products {
		p := products[i].Product
		p.ImageObject = products[i].ImageObject
		// SKU 唯一，重复导入会失败并被跳过
		if _, err := catalog.Create(ctx, &p); err != nil {
			log.Infof("seedCatalog: 跳过商品 %s: %v", p.SKU, err)
		}
	}

	var clinicians []model.Clinician
	if err := readSeed(filepath.Join(dir, "clinicians.json"), &clinicians); err != nil {
		log.Warnf("seedCatalog: 读取医生种子失败: %v", err)
	}
	for i := range clinicians {
		// 带固定 ID 的文档重复写入会覆盖自身
		if _, err := directory.Index(ctx, &clinicians[i]); err != nil {
			log.Warnf("seedCatalog: 写入医生失败: %s, err=%v", clinicians[i].Name, err)
		}
	}
	log.Infof("seedCatalog: 导入完成，商品 %d 条，医生 %d 条", len(products), len(clinicians))
}

// productSeed 在商品之外携带对象存储中的图片名，该字段不对外序列化。
type productSeed struct {
	model.Product
	ImageObject string `json:"imageObject"`
}

func readSeed(path string, out interface{}) error {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}
