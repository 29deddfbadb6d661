package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	xerrors "ResearchMind/internal/errors"
)

// ReminderRecord 表示一条提醒。DueAt 保留用户输入的自然语言时间，
// 解析与触发由上层工具负责。
type ReminderRecord struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	DueAt     string `json:"due_at,omitempty"`
	Recurring string `json:"recurring,omitempty"`
	Completed bool   `json:"completed"`
	CreatedAt int64  `json:"created_at"`
}

// ReminderRepository 抽象提醒数据的持久化接口。
type ReminderRepository interface {
	Add(ctx context.Context, record ReminderRecord) error
	List(ctx context.Context, includeCompleted bool) ([]ReminderRecord, error)
	Complete(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// MemoryReminderRepository 使用 JSON 快照文件保存提醒。
// 提醒会被修改和删除，追加日志不适用，改为整体落盘。
type MemoryReminderRepository struct {
	mu       sync.RWMutex
	dataFile string
	records  []ReminderRecord
}

// NewMemoryReminderRepository 创建文件背书的提醒仓库。
func NewMemoryReminderRepository(dataDir string) (*MemoryReminderRepository, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	repo := &MemoryReminderRepository{dataFile: filepath.Join(dataDir, "reminders.json")}
	if err := repo.loadFromDisk(); err != nil {
		return nil, err
	}
	return repo, nil
}

// Add 追加一条提醒并持久化。
func (m *MemoryReminderRepository) Add(_ context.Context, record ReminderRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, record)
	return m.flushLocked()
}

// List 返回提醒列表，默认过滤已完成项。
func (m *MemoryReminderRepository) List(_ context.Context, includeCompleted bool) ([]ReminderRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]ReminderRecord, 0, len(m.records))
	for _, record := range m.records {
		if !includeCompleted && record.Completed {
			continue
		}
		results = append(results, record)
	}
	return results, nil
}

// Complete 将提醒标记为已完成。
func (m *MemoryReminderRepository) Complete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.records {
		if m.records[i].ID == id {
			m.records[i].Completed = true
			return m.flushLocked()
		}
	}
	return xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("提醒 %s 不存在", id))
}

// Delete 删除提醒。
func (m *MemoryReminderRepository) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.records {
		if m.records[i].ID == id {
			m.records = append(m.records[:i], m.records[i+1:]...)
			return m.flushLocked()
		}
	}
	return xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("提醒 %s 不存在", id))
}

func (m *MemoryReminderRepository) flushLocked() error {
	encoded, err := json.MarshalIndent(m.records, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化提醒数据失败: %w", err)
	}
	if err := os.WriteFile(m.dataFile, encoded, 0o644); err != nil {
		return fmt.Errorf("写入提醒数据失败: %w", err)
	}
	return nil
}

func (m *MemoryReminderRepository) loadFromDisk() error {
	data, err := os.ReadFile(m.dataFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("读取提醒数据失败: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, &m.records); err != nil {
		return fmt.Errorf("解析提醒数据失败: %w", err)
	}
	return nil
}

// SQLReminderRepository 使用 MySQL 存储提醒。
type SQLReminderRepository struct {
	db *sql.DB
}

// NewSQLReminderRepository 基于已迁移的连接池创建仓库。
func NewSQLReminderRepository(db *sql.DB) *SQLReminderRepository {
	return &SQLReminderRepository{db: db}
}

// Add 将提醒写入 MySQL。
func (s *SQLReminderRepository) Add(ctx context.Context, record ReminderRecord) error {
	const stmt = `INSERT INTO reminders (id, title, due_at, recurring, completed, created_at)
        VALUES (?, ?, ?, ?, ?, ?)`

	completed := 0
	if record.Completed {
		completed = 1
	}
	if _, err := s.db.ExecContext(ctx, stmt,
		record.ID, record.Title, record.DueAt, record.Recurring, completed, record.CreatedAt,
	); err != nil {
		return fmt.Errorf("写入提醒失败: %w", err)
	}
	return nil
}

// List 查询提醒列表。
func (s *SQLReminderRepository) List(ctx context.Context, includeCompleted bool) ([]ReminderRecord, error) {
	query := `SELECT id, title, due_at, recurring, completed, created_at FROM reminders`
	if !includeCompleted {
		query += ` WHERE completed = 0`
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("查询提醒失败: %w", err)
	}
	defer rows.Close()

	var records []ReminderRecord
	for rows.Next() {
		var record ReminderRecord
		var completed int
		if err := rows.Scan(&record.ID, &record.Title, &record.DueAt, &record.Recurring, &completed, &record.CreatedAt); err != nil {
			return nil, fmt.Errorf("解析提醒失败: %w", err)
		}
		record.Completed = completed == 1
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历提醒失败: %w", err)
	}
	return records, nil
}

// Complete 将提醒标记为已完成。
func (s *SQLReminderRepository) Complete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE reminders SET completed = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("更新提醒失败: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("提醒 %s 不存在", id))
	}
	return nil
}

// Delete 删除提醒。
func (s *SQLReminderRepository) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("删除提醒失败: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("提醒 %s 不存在", id))
	}
	return nil
}
