package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kkdo11/CueCode/internal/apiclient"
	"github.com/kkdo11/CueCode/internal/directory"
	"github.com/kkdo11/CueCode/internal/evaluator"
	"github.com/kkdo11/CueCode/internal/metrics"
	"github.com/kkdo11/CueCode/internal/models"

	"go.uber.org/zap"
)

// PhraseFetcher 最近语句查询接口（生产实现是 apiclient.Client）
type PhraseFetcher interface {
	LastPhrase(ctx context.Context, patientID string) (*string, error)
}

// Aggregator 聚合器接口（轮询器只向它上报，不直接碰呈现状态）
type Aggregator interface {
	Present(ctx context.Context, events []models.AlertEvent)
	ReportNormal(patientID, phrase string)
	ReportError(patientID string)
}

// StatusPoller 状态轮询器
// 按固定间隔对集合内每个患者各发一个独立请求（并行、互不等待），
// 某个患者的慢请求或失败不拖慢、不取消其他患者的请求。
type StatusPoller struct {
	fetcher          PhraseFetcher
	set              *directory.OwnedPatientSet
	eval             *evaluator.PhraseEvaluator
	agg              Aggregator
	interval         time.Duration
	logger           *zap.Logger
	onSessionExpired func()

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	ticks  *sync.WaitGroup
}

// NewStatusPoller 创建轮询器
func NewStatusPoller(
	fetcher PhraseFetcher,
	set *directory.OwnedPatientSet,
	eval *evaluator.PhraseEvaluator,
	agg Aggregator,
	interval time.Duration,
	logger *zap.Logger,
) *StatusPoller {
	if interval <= 0 {
		interval = time.Second
	}
	return &StatusPoller{
		fetcher:  fetcher,
		set:      set,
		eval:     eval,
		agg:      agg,
		interval: interval,
		logger:   logger,
	}
}

// SetSessionExpiredHook 注册会话过期钩子
func (p *StatusPoller) SetSessionExpiredHook(hook func()) {
	p.onSessionExpired = hook
}

// Start 启动轮询
// 可重入：已有轮询在跑时先停掉旧周期再开新的，不会出现重叠的定时器。
func (p *StatusPoller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
		<-p.done
		p.ticks.Wait()
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	ticks := &sync.WaitGroup{}
	p.cancel = cancel
	p.done = done
	p.ticks = ticks
	p.mu.Unlock()

	p.logger.Info("Status poller started",
		zap.Duration("interval", p.interval),
	)

	go p.run(runCtx, done, ticks)
}

// Stop 停止轮询（无轮询在跑时为空操作）
func (p *StatusPoller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	done := p.done
	ticks := p.ticks
	p.cancel = nil
	p.done = nil
	p.ticks = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
		// 排空在途的单患者请求，返回后不再有新的拉取
		ticks.Wait()
		p.logger.Info("Status poller stopped")
	}
}

// Running 是否有轮询周期在跑
func (p *StatusPoller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

func (p *StatusPoller) run(ctx context.Context, done chan struct{}, ticks *sync.WaitGroup) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// 立即执行一次
	p.pollTick(ctx, ticks)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollTick(ctx, ticks)
		}
	}
}

// pollTick 一个轮询周期：每个患者一个独立 goroutine，各自闭包持有自己的 ID
func (p *StatusPoller) pollTick(ctx context.Context, ticks *sync.WaitGroup) {
	for _, id := range p.set.IDs() {
		id := id
		ticks.Add(1)
		go func() {
			defer ticks.Done()
			p.pollOne(ctx, id)
		}()
	}
}

func (p *StatusPoller) pollOne(ctx context.Context, patientID string) {
	if ctx.Err() != nil {
		return
	}
	phrase, err := p.fetcher.LastPhrase(ctx, patientID)
	if err != nil {
		if errors.Is(err, apiclient.ErrSessionExpired) {
			p.logger.Warn("Session expired during status poll",
				zap.String("patient_id", patientID),
			)
			if p.onSessionExpired != nil {
				p.onSessionExpired()
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		p.logger.Debug("Status poll failed",
			zap.String("patient_id", patientID),
			zap.Error(err),
		)
		metrics.IncPollErrors()
		// 失败按中性处理：错误占位 + 清掉旧危险标记，下个周期自然覆盖
		p.agg.ReportError(patientID)
		return
	}

	normalized := p.eval.Normalize(phrase)
	if !p.eval.Dangerous(normalized) {
		p.agg.ReportNormal(patientID, normalized)
		return
	}

	name, _ := p.set.NameOf(patientID)
	p.agg.Present(ctx, []models.AlertEvent{
		{
			UserID:    patientID,
			UserName:  name,
			Phrase:    normalized,
			Confirmed: false,
		},
	})
}
