package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fachebot/chat-topic-bot/internal/config"
	"github.com/fachebot/chat-topic-bot/internal/logger"
	"github.com/fachebot/chat-topic-bot/internal/model"
	"github.com/robfig/cron/v3"
)

// pendingPurger 清理过期的待确认操作（便于测试注入 mock）
type pendingPurger interface {
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// chatLister 列出已初始化主题的群（便于测试注入 mock）
type chatLister interface {
	ChatIDs(ctx context.Context) ([]int64, error)
}

// titleReconciler 查询群标题，与主题不一致时恢复
type titleReconciler interface {
	Reconcile(ctx context.Context, chatID int64)
}

type Scheduler struct {
	cron       *cron.Cron
	pending    pendingPurger
	topics     chatLister
	reconciler titleReconciler
	config     *config.Topic
	now        func() time.Time
	ctx        context.Context
	cancel     context.CancelFunc
	mu         sync.Mutex
	wg         sync.WaitGroup
}

// locUTC UTC 标准时间（UTC）
var locUTC = time.UTC

func NewScheduler(
	pendingModel *model.PendingActionModel,
	topicModel *model.TopicModel,
	reconciler titleReconciler,
	cfg *config.Topic,
) *Scheduler {
	return &Scheduler{
		cron:       cron.New(cron.WithLocation(locUTC)),
		pending:    pendingModel,
		topics:     topicModel,
		reconciler: reconciler,
		config:     cfg,
		now:        time.Now,
	}
}

// Start 启动调度器
func (s *Scheduler) Start() error {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	// 注册过期待确认操作清理任务
	if _, err := s.cron.AddFunc(s.config.PurgeCron, s.runPurge); err != nil {
		return fmt.Errorf("注册清理任务失败: %w", err)
	}

	// 注册标题巡检任务
	if s.config.ReconcileCron != "" {
		if _, err := s.cron.AddFunc(s.config.ReconcileCron, s.runReconcile); err != nil {
			return fmt.Errorf("注册标题巡检任务失败: %w", err)
		}
	}

	s.cron.Start()
	logger.Infof("[Scheduler] 调度器已启动，清理任务: %s, 标题巡检任务: %q", s.config.PurgeCron, s.config.ReconcileCron)

	// 启动时先执行一次，补上停机期间错过的修改
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runPurge()
		s.runReconcile()
	}()

	return nil
}

// Stop 停止调度器
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	ctx := s.cron.Stop()
	<-ctx.Done()
	s.wg.Wait()
	logger.Infof("[Scheduler] 调度器已停止")
}

func (s *Scheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

// runPurge 清理过期的待确认操作
func (s *Scheduler) runPurge() {
	ctx := s.context()
	n, err := s.pending.DeleteExpired(ctx, s.now())
	if err != nil {
		logger.Errorf("[Scheduler] 清理过期待确认操作失败: %v", err)
		return
	}
	if n > 0 {
		logger.Debugf("[Scheduler] 已清理 %d 个过期待确认操作", n)
	}
}

// runReconcile 检查每个群的标题，与主题不一致时恢复
func (s *Scheduler) runReconcile() {
	ctx := s.context()

	chatIDs, err := s.topics.ChatIDs(ctx)
	if err != nil {
		logger.Errorf("[Scheduler] 查询主题列表失败: %v", err)
		return
	}

	for _, chatID := range chatIDs {
		select {
		case <-ctx.Done():
			logger.Infof("[Scheduler] 标题巡检已取消")
			return
		default:
		}
		s.reconciler.Reconcile(ctx, chatID)
	}
	logger.Debugf("[Scheduler] 标题巡检完成，共 %d 个群", len(chatIDs))
}
