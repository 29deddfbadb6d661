package mysql

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ExperimentRecord 表示一条实验记录。Note 是用户的原始描述，
// Model/Dataset/Metric 等字段由工具层从描述中解析得到。
type ExperimentRecord struct {
	ID          string  `json:"id"`
	Note        string  `json:"note"`
	Model       string  `json:"model,omitempty"`
	Dataset     string  `json:"dataset,omitempty"`
	Metric      string  `json:"metric,omitempty"`
	MetricValue float64 `json:"metric_value,omitempty"`
	CreatedAt   int64   `json:"created_at"`
}

// ExperimentRepository 抽象实验数据的持久化接口。
type ExperimentRepository interface {
	Add(ctx context.Context, record ExperimentRecord) error
	Query(ctx context.Context, keyword string, limit int) ([]ExperimentRecord, error)
}

// MemoryExperimentRepository 使用本地 JSON 追加日志模拟 MySQL 的效果，
// 方便离线开发与测试。
type MemoryExperimentRepository struct {
	mu       sync.RWMutex
	dataFile string
	records  []ExperimentRecord
}

const memoryRepositoryCap = 512

// NewMemoryExperimentRepository 创建一个文件背书的实验仓库。
func NewMemoryExperimentRepository(dataDir string) (*MemoryExperimentRepository, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	repo := &MemoryExperimentRepository{dataFile: filepath.Join(dataDir, "experiments.log")}
	if err := repo.loadFromDisk(); err != nil {
		return nil, err
	}
	return repo, nil
}

// Add 以追加写的方式记录实验。
func (m *MemoryExperimentRepository) Add(_ context.Context, record ExperimentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	file, err := os.OpenFile(m.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开实验日志失败: %w", err)
	}
	defer file.Close()

	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("序列化实验记录失败: %w", err)
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("写入实验日志失败: %w", err)
	}

	m.records = append([]ExperimentRecord{record}, m.records...)
	if len(m.records) > memoryRepositoryCap {
		m.records = m.records[:memoryRepositoryCap]
	}
	return nil
}

// Query 按关键词过滤实验记录，按时间倒序返回。
func (m *MemoryExperimentRepository) Query(_ context.Context, keyword string, limit int) ([]ExperimentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	keyword = strings.ToLower(strings.TrimSpace(keyword))

	results := make([]ExperimentRecord, 0, limit)
	for _, record := range m.records {
		if keyword != "" && !strings.Contains(strings.ToLower(record.Note), keyword) &&
			!strings.Contains(strings.ToLower(record.Model), keyword) &&
			!strings.Contains(strings.ToLower(record.Dataset), keyword) {
			continue
		}
		results = append(results, record)
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}

func (m *MemoryExperimentRepository) loadFromDisk() error {
	file, err := os.OpenFile(m.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取实验日志失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var restored []ExperimentRecord
	for scanner.Scan() {
		var record ExperimentRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		restored = append([]ExperimentRecord{record}, restored...)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析实验日志失败: %w", err)
	}

	if len(restored) > memoryRepositoryCap {
		restored = restored[:memoryRepositoryCap]
	}
	if len(restored) > 0 {
		m.records = restored
	}
	return nil
}

// SQLExperimentRepository 使用 MySQL 存储实验记录。
type SQLExperimentRepository struct {
	db *sql.DB
}

// NewSQLExperimentRepository 基于已迁移的连接池创建仓库。
func NewSQLExperimentRepository(db *sql.DB) *SQLExperimentRepository {
	return &SQLExperimentRepository{db: db}
}

// Add 将实验记录写入 MySQL。
func (s *SQLExperimentRepository) Add(ctx context.Context, record ExperimentRecord) error {
	const stmt = `INSERT INTO experiments
        (id, note, model, dataset, metric, metric_value, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`

	if _, err := s.db.ExecContext(ctx, stmt,
		record.ID,
		record.Note,
		record.Model,
		record.Dataset,
		record.Metric,
		record.MetricValue,
		record.CreatedAt,
	); err != nil {
		return fmt.Errorf("写入实验记录失败: %w", err)
	}
	return nil
}

// Query 按关键词查询最近的实验记录。
func (s *SQLExperimentRepository) Query(ctx context.Context, keyword string, limit int) ([]ExperimentRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT id, note, model, dataset, metric, metric_value, created_at FROM experiments`
	args := make([]any, 0, 4)
	keyword = strings.TrimSpace(keyword)
	if keyword != "" {
		query += ` WHERE note LIKE ? OR model LIKE ? OR dataset LIKE ?`
		pattern := "%" + keyword + "%"
		args = append(args, pattern, pattern, pattern)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询实验记录失败: %w", err)
	}
	defer rows.Close()

	var records []ExperimentRecord
	for rows.Next() {
		var record ExperimentRecord
		if err := rows.Scan(&record.ID, &record.Note, &record.Model, &record.Dataset, &record.Metric, &record.MetricValue, &record.CreatedAt); err != nil {
			return nil, fmt.Errorf("解析实验记录失败: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历实验记录失败: %w", err)
	}
	return records, nil
}
