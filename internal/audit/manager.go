package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
)

const (
	taskTypeRecord = "audit:record"
	queueName      = "audit"
)

// Manager はイベントを Asynq のキューに投入し、ワーカーで Store に書き込みます。
type Manager struct {
	client *asynq.Client
	server *asynq.Server
	mux    *asynq.ServeMux
	store  Store
	logger *slog.Logger
}

// NewManager は Manager を初期化します。
func NewManager(redisURL string, store Store, logger *slog.Logger) (*Manager, error) {
	if store == nil {
		return nil, errors.New("store is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := asynq.NewClient(opt)
	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: 2,
			Queues: map[string]int{
				queueName: 1,
			},
		},
	)

	mux := asynq.NewServeMux()
	manager := &Manager{
		client: client,
		server: server,
		mux:    mux,
		store:  store,
		logger: logger.With("component", "audit"),
	}
	mux.HandleFunc(taskTypeRecord, manager.handleRecordTask)
	return manager, nil
}

// StartWorkers は Asynq サーバーをバックグラウンドで起動します。
func (m *Manager) StartWorkers() {
	go func() {
		if err := m.server.Run(m.mux); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
			m.logger.Error("asynq server stopped with error", "error", err)
		}
	}()
}

// Shutdown はサーバーとクライアントを閉じます。
func (m *Manager) Shutdown() {
	m.server.Shutdown()
	if err := m.client.Close(); err != nil {
		m.logger.Warn("failed to close asynq client", "error", err)
	}
}

// Record はイベントをキューに投入します。投入に失敗した場合は直接 Store に書き込みます。
func (m *Manager) Record(ctx context.Context, event Event) {
	prepare(&event)

	if err := m.enqueue(ctx, event); err != nil {
		m.logger.Warn("failed to enqueue audit event, writing directly",
			"kind", event.Kind, "error", err)
		if err := m.store.Insert(ctx, &event); err != nil {
			m.logger.Error("failed to store audit event", "kind", event.Kind, "error", err)
		}
	}
}

func (m *Manager) enqueue(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	task := asynq.NewTask(taskTypeRecord, body, asynq.Queue(queueName))
	_, err = m.client.EnqueueContext(ctx, task, asynq.MaxRetry(3))
	return err
}

func (m *Manager) handleRecordTask(ctx context.Context, task *asynq.Task) error {
	var event Event
	if err := json.Unmarshal(task.Payload(), &event); err != nil {
		// 壊れたペイロードは再試行しても直らない
		return fmt.Errorf("invalid audit payload: %v: %w", err, asynq.SkipRetry)
	}
	if event.Kind == "" {
		return fmt.Errorf("missing kind in payload: %w", asynq.SkipRetry)
	}
	return m.store.Insert(ctx, &event)
}

// SyncRecorder は Redis を使わずに Store へ直接書き込む Recorder です。
type SyncRecorder struct {
	store  Store
	logger *slog.Logger
}

// NewSyncRecorder は SyncRecorder を作成します。
func NewSyncRecorder(store Store, logger *slog.Logger) *SyncRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncRecorder{store: store, logger: logger.With("component", "audit")}
}

// Record はイベントを保存します。
func (r *SyncRecorder) Record(ctx context.Context, event Event) {
	if err := r.store.Insert(ctx, &event); err != nil {
		r.logger.Error("failed to store audit event", "kind", event.Kind, "error", err)
	}
}
