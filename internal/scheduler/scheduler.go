// Package scheduler 提供定时任务调度
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Scheduler 定时任务调度器
type Scheduler struct {
	tasks   []*Task
	timeout time.Duration
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Task 定时任务
type Task struct {
	Name     string
	Interval time.Duration
	Handler  func(ctx context.Context) error
}

// NewScheduler 创建调度器
func NewScheduler(log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		tasks:   make([]*Task, 0),
		timeout: 5 * time.Minute,
		log:     log.Named("scheduler"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// AddTask 添加任务，interval 非正数的任务被忽略
func (s *Scheduler) AddTask(name string, interval time.Duration, handler func(ctx context.Context) error) {
	if interval <= 0 {
		s.log.Info("任务未启用", zap.String("task", name))
		return
	}
	s.tasks = append(s.tasks, &Task{
		Name:     name,
		Interval: interval,
		Handler:  handler,
	})
}

// Tasks 已注册的任务
func (s *Scheduler) Tasks() []*Task {
	return s.tasks
}

// Start 启动调度器
func (s *Scheduler) Start() {
	s.log.Info("调度器启动", zap.Int("tasks", len(s.tasks)))

	for _, task := range s.tasks {
		s.wg.Add(1)
		go s.runTask(task)
	}
}

// Stop 停止调度器，等待执行中的任务退出
func (s *Scheduler) Stop() {
	s.log.Info("调度器停止中")
	s.cancel()
	s.wg.Wait()
	s.log.Info("调度器已停止")
}

// runTask 运行单个任务
func (s *Scheduler) runTask(task *Task) {
	defer s.wg.Done()

	s.log.Info("任务启动", zap.String("task", task.Name), zap.Duration("interval", task.Interval))

	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	// 立即执行一次
	s.executeTask(task)

	for {
		select {
		case <-s.ctx.Done():
			s.log.Info("任务停止", zap.String("task", task.Name))
			return
		case <-ticker.C:
			s.executeTask(task)
		}
	}
}

// executeTask 执行任务，panic 不影响其他任务
func (s *Scheduler) executeTask(task *Task) {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("任务 panic", zap.String("task", task.Name), zap.Any("panic", r))
		}
	}()

	start := time.Now()
	if err := task.Handler(ctx); err != nil {
		s.log.Error("任务执行失败", zap.String("task", task.Name), zap.Error(err))
		return
	}
	s.log.Debug("任务完成", zap.String("task", task.Name), zap.Duration("latency", time.Since(start)))
}
