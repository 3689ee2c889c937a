package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/kkdo11/CueCode/internal/aggregator"
	"github.com/kkdo11/CueCode/internal/apiclient"
	"github.com/kkdo11/CueCode/internal/config"
	"github.com/kkdo11/CueCode/internal/directory"
	"github.com/kkdo11/CueCode/internal/evaluator"
	"github.com/kkdo11/CueCode/internal/models"
	"github.com/kkdo11/CueCode/internal/notifier"
	"github.com/kkdo11/CueCode/internal/poller"
	"github.com/kkdo11/CueCode/internal/repository"
	"github.com/kkdo11/CueCode/internal/stream"
)

// 服务状态
const (
	StatusStarting       = "starting"
	StatusRunning        = "running"
	StatusNoIdentity     = "no_manager_identity"
	StatusSessionExpired = "session_expired"
	StatusStopped        = "stopped"
)

// suppressionTTL 报警抑制窗口
// 等于一个轮询间隔：只吸收轮询器和推送通道在同一个周期内的重复投递，
// 患者恢复后再次呼救必须重新提示，窗口不能吞掉跨周期的新报警。
func suppressionTTL(cfg *config.Config) time.Duration {
	ttl := time.Duration(cfg.Feed.PollIntervalMs) * time.Millisecond
	if ttl <= 0 {
		ttl = time.Second
	}
	return ttl
}

// FeedService 报警订阅服务
// 串起目录、轮询、推送通道和聚合器，并维护整体生命周期。
type FeedService struct {
	cfg    *config.Config
	logger *zap.Logger

	api     *apiclient.Client
	set     *directory.OwnedPatientSet
	dir     *directory.Client
	agg     *aggregator.Aggregator
	poller  *poller.StatusPoller
	stream  *stream.AlertStreamClient
	journal *repository.AlertJournalRepository

	db          *sql.DB
	redisClient *redis.Client

	mu            sync.Mutex
	status        string
	streamHandle  *stream.StreamHandle
	refreshCancel context.CancelFunc
	refreshDone   chan struct{}

	expireOnce       sync.Once
	onSessionExpired func()
}

// NewFeedService 按配置组装服务
func NewFeedService(cfg *config.Config, logger *zap.Logger) (*FeedService, error) {
	api := apiclient.NewClient(
		cfg.API.BaseURL,
		cfg.API.SessionCookieName,
		cfg.API.SessionCookie,
		time.Duration(cfg.API.RequestTimeoutSec)*time.Second,
		logger,
	)

	set := directory.NewOwnedPatientSet()
	dir := directory.NewClient(api, set, logger)
	eval := evaluator.NewPhraseEvaluator(cfg.Feed.DistressPhrases)

	s := &FeedService{
		cfg:    cfg,
		logger: logger,
		api:    api,
		set:    set,
		dir:    dir,
		status: StatusStarting,
	}

	// 抑制缓存：配了 Redis 用 Redis，否则退化为进程内缓存
	var kv aggregator.KVStore
	if cfg.Redis.Addr != "" {
		s.redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		kv = aggregator.NewRedisKVStore(s.redisClient)
	} else {
		kv = aggregator.NewMemoryKVStore()
	}
	suppress := aggregator.NewSuppressionCache(kv, suppressionTTL(cfg), logger)

	notify := buildNotifier(cfg, logger)
	presenter := aggregator.NewLogPresenter(logger)
	s.agg = aggregator.NewAggregator(presenter, notify, suppress, set, logger)

	// 报警留痕（可选）
	if cfg.Database.Enabled {
		db, err := sql.Open("postgres", cfg.GetDSN())
		if err != nil {
			return nil, fmt.Errorf("failed to open journal database: %w", err)
		}
		s.db = db
		s.journal = repository.NewAlertJournalRepository(db, logger)
		s.agg.SetAlertCallback(s.journalAlerts)
	}

	s.poller = poller.NewStatusPoller(
		api,
		set,
		eval,
		s.agg,
		time.Duration(cfg.Feed.PollIntervalMs)*time.Millisecond,
		logger,
	)
	s.poller.SetSessionExpiredHook(s.handleSessionExpired)

	wsURL, err := api.WebSocketURL()
	if err != nil {
		return nil, fmt.Errorf("failed to derive websocket url: %w", err)
	}
	s.stream = stream.NewAlertStreamClient(
		wsURL,
		api.AuthHeader(),
		set,
		eval,
		s.agg,
		time.Duration(cfg.Feed.ReconnectDelayMs)*time.Millisecond,
		logger,
	)

	return s, nil
}

func buildNotifier(cfg *config.Config, logger *zap.Logger) notifier.Notifier {
	log := notifier.NewLogNotifier(logger)
	if cfg.Notify.WebhookURL == "" {
		return log
	}
	return notifier.NewMultiNotifier(log, notifier.NewWebhookNotifier(cfg.Notify.WebhookURL, logger))
}

// SetSessionExpiredHook 注册会话过期回调（进程退出等）
func (s *FeedService) SetSessionExpiredHook(hook func()) {
	s.onSessionExpired = hook
}

// Start 启动服务
// 先拉一次患者目录：没有管理员身份时停在空态，不启动轮询和推送通道。
func (s *FeedService) Start(ctx context.Context) error {
	if s.journal != nil {
		if err := s.journal.EnsureSchema(ctx); err != nil {
			return err
		}
	}

	refs, err := s.dir.FetchOwnedPatients(ctx)
	if err != nil {
		if errors.Is(err, apiclient.ErrSessionExpired) {
			s.handleSessionExpired()
			return err
		}
		if errors.Is(err, directory.ErrNoManagerIdentity) {
			s.setStatus(StatusNoIdentity)
			s.logger.Warn("No manager identity, feed stays idle")
			return nil
		}
		return err
	}

	s.agg.SyncPatients(refs)
	s.poller.Start(ctx)

	s.mu.Lock()
	s.status = StatusRunning
	s.streamHandle = s.stream.Connect(ctx)

	refreshCtx, cancel := context.WithCancel(ctx)
	s.refreshCancel = cancel
	s.refreshDone = make(chan struct{})
	s.mu.Unlock()

	go s.refreshLoop(refreshCtx, ctx)

	s.logger.Info("Alert feed started",
		zap.Int("patients", len(refs)),
		zap.Int("poll_interval_ms", s.cfg.Feed.PollIntervalMs),
	)
	return nil
}

// refreshLoop 周期性刷新患者目录
// pollCtx 单独传入：目录为空停掉轮询后，重新补上患者时要用原始上下文重启。
func (s *FeedService) refreshLoop(ctx context.Context, pollCtx context.Context) {
	defer close(s.refreshDone)

	interval := time.Duration(s.cfg.Feed.DirectoryRefreshSec) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refs, err := s.dir.FetchOwnedPatients(ctx)
			if err != nil {
				if errors.Is(err, apiclient.ErrSessionExpired) {
					s.handleSessionExpired()
					return
				}
				// 瞬时失败保留上一份目录，下个周期重试
				s.logger.Warn("Directory refresh failed", zap.Error(err))
				continue
			}

			s.agg.SyncPatients(refs)
			if len(refs) == 0 {
				if s.poller.Running() {
					s.logger.Info("Patient directory emptied, pausing status polling")
					s.poller.Stop()
				}
				continue
			}
			if !s.poller.Running() {
				s.logger.Info("Patient directory refilled, resuming status polling")
				s.poller.Start(pollCtx)
			}
		}
	}
}

// journalAlerts 把提示过的报警异步落库
func (s *FeedService) journalAlerts(events []models.AlertEvent) {
	journal := s.journal
	if journal == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, event := range events {
			if _, err := journal.InsertAlert(ctx, event, time.Now()); err != nil {
				s.logger.Error("Failed to journal alert",
					zap.String("patient_id", event.UserID),
					zap.Error(err),
				)
			}
		}
	}()
}

// ConfirmAlert 先确认上游，再同步留痕
func (s *FeedService) ConfirmAlert(ctx context.Context, alertID string) error {
	if err := s.api.ConfirmAlert(ctx, alertID); err != nil {
		if errors.Is(err, apiclient.ErrSessionExpired) {
			s.handleSessionExpired()
		}
		return err
	}
	if s.journal != nil {
		if err := s.journal.ConfirmAlert(ctx, alertID); err != nil {
			s.logger.Error("Failed to journal alert confirmation",
				zap.String("alert_id", alertID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// RecentAlerts 查询留痕库里某时间点之后的报警
// 未开启留痕时返回空列表而不是错误（查看面照常渲染）。
func (s *FeedService) RecentAlerts(ctx context.Context, since time.Time) ([]repository.JournalEntry, error) {
	if s.journal == nil {
		return []repository.JournalEntry{}, nil
	}
	return s.journal.RecentAlerts(ctx, since)
}

// Snapshot 当前患者行视图
func (s *FeedService) Snapshot() []models.PatientRow {
	return s.agg.Snapshot()
}

// Status 当前服务状态
func (s *FeedService) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *FeedService) setStatus(status string) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

// handleSessionExpired 会话过期：停掉所有上游交互，通知外层
// 任意来源（轮询/目录刷新/确认）检测到 401/403 都汇聚到这里，只执行一次。
func (s *FeedService) handleSessionExpired() {
	s.expireOnce.Do(func() {
		s.logger.Warn("Session expired, shutting down feed")
		s.setStatus(StatusSessionExpired)

		s.mu.Lock()
		cancel := s.refreshCancel
		handle := s.streamHandle
		s.streamHandle = nil
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		go func() {
			s.poller.Stop()
			if handle != nil {
				handle.Close()
			}
			if s.onSessionExpired != nil {
				s.onSessionExpired()
			}
		}()
	})
}

// Stop 关停服务并释放连接
func (s *FeedService) Stop() {
	s.mu.Lock()
	cancel := s.refreshCancel
	s.refreshCancel = nil
	done := s.refreshDone
	s.refreshDone = nil
	handle := s.streamHandle
	s.streamHandle = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	s.poller.Stop()
	if handle != nil {
		handle.Close()
	}

	if s.db != nil {
		_ = s.db.Close()
	}
	if s.redisClient != nil {
		_ = s.redisClient.Close()
	}
	s.setStatus(StatusStopped)
	s.logger.Info("Alert feed stopped")
}
