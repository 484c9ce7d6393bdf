package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/dumeirei/merch-settlement/internal/common/cache"
	"github.com/dumeirei/merch-settlement/internal/common/config"
	"github.com/dumeirei/merch-settlement/internal/common/crypto"
	"github.com/dumeirei/merch-settlement/internal/common/jwt"
	"github.com/dumeirei/merch-settlement/internal/common/metrics"
	"github.com/dumeirei/merch-settlement/internal/common/qrcode"
	"github.com/dumeirei/merch-settlement/internal/common/tracing"
	"github.com/dumeirei/merch-settlement/internal/repository"
	"github.com/dumeirei/merch-settlement/internal/scheduler"
	"github.com/dumeirei/merch-settlement/internal/service/attribution"
	"github.com/dumeirei/merch-settlement/internal/service/commission"
	ledgerService "github.com/dumeirei/merch-settlement/internal/service/ledger"
	partnerService "github.com/dumeirei/merch-settlement/internal/service/partner"
	payoutService "github.com/dumeirei/merch-settlement/internal/service/payout"
	settlementService "github.com/dumeirei/merch-settlement/internal/service/settlement"
	statementService "github.com/dumeirei/merch-settlement/internal/service/statement"
	"github.com/dumeirei/merch-settlement/pkg/mqtt"
	"github.com/dumeirei/merch-settlement/pkg/oss"
	"github.com/dumeirei/merch-settlement/pkg/payrail"
	"github.com/dumeirei/merch-settlement/pkg/sms"
)

// app 进程内全部组件
type app struct {
	cfg         *config.Config
	log         *zap.Logger
	db          *gorm.DB
	redisClient *redis.Client
	mqttClient  *mqtt.Client
	jwtManager  *jwt.Manager
	store       *cache.Store
	metrics     *metrics.Metrics
	tracer      *tracing.Tracer

	parser     payrail.EventParser
	auditLogs  *repository.AuditLogRepository
	partners   *partnerService.Service
	ledger     *ledgerService.Service
	settlement *settlementService.Service
	payouts    *payoutService.Service
	statements *statementService.Service
	scheduler  *scheduler.Scheduler
}

// newApp 按配置组装仓储、外部客户端与服务
func newApp(cfg *config.Config, log *zap.Logger, db *gorm.DB, redisClient *redis.Client, tracer *tracing.Tracer) (*app, error) {
	biz := &cfg.Business

	policy, err := commission.NewPolicy(&biz.Commission)
	if err != nil {
		return nil, fmt.Errorf("commission policy: %w", err)
	}
	payoutCfg, err := payoutService.ConfigFrom(&biz.Payout)
	if err != nil {
		return nil, fmt.Errorf("payout config: %w", err)
	}
	codes, err := crypto.NewCodeDeriver(cfg.Crypto.ReferralCodeKey)
	if err != nil {
		return nil, fmt.Errorf("referral code key: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New("merch_settlement", reg)

	a := &app{
		cfg:         cfg,
		log:         log,
		db:          db,
		redisClient: redisClient,
		jwtManager:  jwt.NewManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.AccessTokenDuration()),
		store:       cache.NewStore(redisClient),
		metrics:     m,
		tracer:      tracer,
	}

	// 仓储
	brandRepo := repository.NewBrandRepository(db)
	affiliateRepo := repository.NewAffiliateRepository(db)
	referralRepo := repository.NewReferralRepository(db)
	a.auditLogs = repository.NewAuditLogRepository(db)

	// 外部服务客户端
	var publisher settlementService.Publisher
	if cfg.MQTT.Enabled {
		a.mqttClient = mqtt.NewClient(&mqtt.Config{
			Broker:         cfg.MQTT.Broker,
			ClientID:       cfg.MQTT.ClientIDPrefix + uuid.NewString()[:8],
			Username:       cfg.MQTT.Username,
			Password:       cfg.MQTT.Password,
			QoS:            cfg.MQTT.QoS,
			KeepAlive:      time.Duration(cfg.MQTT.KeepAlive) * time.Second,
			ConnectTimeout: time.Duration(cfg.MQTT.ConnectTimeout) * time.Second,
			AutoReconnect:  cfg.MQTT.AutoReconnect,
		}, log)
		if err := a.mqttClient.Connect(); err != nil {
			return nil, err
		}
		publisher = a.mqttClient
	}

	gateway, verifier, err := newGateway(cfg, log)
	if err != nil {
		return nil, err
	}
	a.parser = payrail.NewStripeWebhookParser(cfg.Stripe.WebhookSecret)

	smsSender, err := newSMSSender(cfg, log)
	if err != nil {
		return nil, err
	}
	storage, err := newStorage(cfg)
	if err != nil {
		return nil, err
	}

	// 服务
	maxRetries := cfg.Database.TxMaxRetries
	a.partners = partnerService.NewService(brandRepo, affiliateRepo, referralRepo, policy, codes, log)
	a.partners.SetInviteLinks(biz.Referral.LinkBaseURL, qrcode.NewGenerator(qrcode.WithSize(biz.Referral.QRCodeSize)))
	a.ledger = ledgerService.NewService(db, repository.NewLedgerRepository(db), ledgerService.Options{
		Cache:      a.store,
		CacheTTL:   time.Duration(biz.Ledger.BalanceCacheTTL) * time.Second,
		Metrics:    m,
		Tracer:     tracer,
		Logger:     log,
		MaxRetries: maxRetries,
	})
	resolver := attribution.NewResolver(brandRepo, affiliateRepo, referralRepo, attribution.PolicyFromConfig(&biz.Referral), log)
	a.settlement = settlementService.NewService(db, repository.NewSettlementRepository(db), brandRepo, affiliateRepo, referralRepo,
		resolver, policy, a.ledger, settlementService.Options{
			Publisher:  publisher,
			Topic:      mqtt.Topic(cfg.MQTT.TopicPrefix, mqtt.TopicSettlementPosted),
			Metrics:    m,
			Tracer:     tracer,
			Logger:     log,
			MaxRetries: maxRetries,
		})
	a.payouts = payoutService.NewService(db, repository.NewPayoutRepository(db), repository.NewPayoutAccountRepository(db),
		brandRepo, affiliateRepo, repository.NewTransferEventRepository(db), a.ledger, gateway, payoutCfg, payoutService.Options{
			Verifier:    verifier,
			SMS:         smsSender,
			SMSTemplate: cfg.SMS.PayoutFailedTemplate,
			Metrics:     m,
			Tracer:      tracer,
			Logger:      log,
			MaxRetries:  maxRetries,
		})
	a.statements = statementService.NewService(a.ledger, storage, cfg.OSS.StatementDir, log)

	if a.mqttClient != nil {
		if err := a.settlement.Subscribe(a.mqttClient, mqtt.Topic(cfg.MQTT.TopicPrefix, mqtt.TopicOrdersCompleted)); err != nil {
			return nil, err
		}
	}

	a.scheduler = scheduler.NewScheduler(log)
	if biz.Scheduler.Enabled {
		scheduler.SetupTasks(a.scheduler, scheduler.NewTaskHandler(a.partners, a.payouts, log), &biz.Scheduler)
	}
	return a, nil
}

// newGateway 转账通道，mock 仅用于开发环境
func newGateway(cfg *config.Config, log *zap.Logger) (payrail.Gateway, payrail.AccountLookup, error) {
	switch cfg.Business.Payout.Gateway {
	case "stripe":
		if cfg.Stripe.SecretKey == "" {
			return nil, nil, fmt.Errorf("stripe.secret_key is required for stripe gateway")
		}
		g := payrail.NewStripeGateway(&payrail.StripeConfig{
			SecretKey:     cfg.Stripe.SecretKey,
			WebhookSecret: cfg.Stripe.WebhookSecret,
		})
		if cfg.Stripe.VerifyAccounts {
			return g, g, nil
		}
		return g, nil, nil
	case "mock", "":
		if cfg.IsRelease() {
			return nil, nil, fmt.Errorf("mock payout gateway is not allowed in release mode")
		}
		return payrail.NewMockGateway(log), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown payout gateway %q", cfg.Business.Payout.Gateway)
	}
}

func newSMSSender(cfg *config.Config, log *zap.Logger) (sms.Sender, error) {
	if cfg.SMS.Provider != "aliyun" {
		return sms.NewMockSender(log), nil
	}
	return sms.NewAliyunSender(&sms.AliyunConfig{
		AccessKeyID:     cfg.SMS.AccessKeyID,
		AccessKeySecret: cfg.SMS.AccessKeySecret,
		SignName:        cfg.SMS.SignName,
	})
}

func newStorage(cfg *config.Config) (oss.Storage, error) {
	if cfg.OSS.Provider != "aliyun" || cfg.OSS.Endpoint == "" {
		return oss.NewMockStorage(), nil
	}
	return oss.NewAliyunStorage(&oss.AliyunConfig{
		Endpoint:        cfg.OSS.Endpoint,
		AccessKeyID:     cfg.OSS.AccessKeyID,
		AccessKeySecret: cfg.OSS.AccessKeySecret,
		BucketName:      cfg.OSS.Bucket,
		Domain:          cfg.OSS.CustomDomain,
	})
}

// close 释放外部连接，调用方负责数据库与 Redis
func (a *app) close() {
	a.scheduler.Stop()
	if a.mqttClient != nil {
		a.mqttClient.Disconnect()
	}
}
