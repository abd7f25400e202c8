package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	json "github.com/goccy/go-json"

	"github.com/eddielth/digitanimal-trans/logger"
)

// MySQLStore 表示MySQL状态存储后端
type MySQLStore struct {
	db       *sql.DB
	database string
}

// NewMySQLStore 创建一个新的MySQL状态存储后端
func NewMySQLStore(ctx context.Context, dsn string) (*MySQLStore, error) {
	database, serverDSN, err := parseMySQLDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("解析MySQL DSN失败: %w", err)
	}

	// 先连接到MySQL服务器（不指定数据库）
	serverDB, err := sql.Open("mysql", serverDSN)
	if err != nil {
		return nil, fmt.Errorf("连接MySQL服务器失败: %w", err)
	}
	defer serverDB.Close()

	// 创建数据库（如果不存在）
	_, err = serverDB.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s` CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci", database))
	if err != nil {
		return nil, fmt.Errorf("创建数据库 %s 失败: %w", database, err)
	}
	logger.Info("确保MySQL数据库 %s 存在", database)

	// 连接到指定的数据库
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("连接MySQL数据库失败: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("MySQL数据库连接测试失败: %w", err)
	}

	// 设置连接池参数
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Minute * 5)

	store := &MySQLStore{db: db, database: database}
	if err := store.InitDatabase(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化MySQL数据库失败: %w", err)
	}

	logger.Info("MySQL状态存储初始化成功")
	return store, nil
}

// parseMySQLDSN 解析MySQL DSN字符串，提取数据库名和不包含数据库的DSN
func parseMySQLDSN(dsn string) (database string, serverDSN string, err error) {
	parts := strings.Split(dsn, "/")
	if len(parts) < 2 {
		return "", "", fmt.Errorf("DSN格式无效，无法提取数据库名")
	}

	dbParts := strings.Split(parts[len(parts)-1], "?")
	database = dbParts[0]
	if database == "" {
		return "", "", fmt.Errorf("DSN格式无效，无法提取数据库名")
	}

	serverDSN = strings.Join(parts[:len(parts)-1], "/") + "/"
	if len(dbParts) > 1 {
		serverDSN += "?" + dbParts[1]
	}

	return database, serverDSN, nil
}

// InitDatabase 初始化状态表
func (ms *MySQLStore) InitDatabase(ctx context.Context) error {
	stateTableSQL := `
	CREATE TABLE IF NOT EXISTS integration_state (
		integration_id VARCHAR(255) NOT NULL,
		action_id VARCHAR(255) NOT NULL,
		source_id VARCHAR(255) NOT NULL,
		state JSON NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		PRIMARY KEY (integration_id, action_id, source_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;
	`
	if _, err := ms.db.ExecContext(ctx, stateTableSQL); err != nil {
		return fmt.Errorf("创建状态表失败: %w", err)
	}
	return nil
}

func (ms *MySQLStore) GetState(ctx context.Context, key Key) (State, error) {
	var raw []byte
	err := ms.db.QueryRowContext(ctx,
		`SELECT state FROM integration_state WHERE integration_id = ? AND action_id = ? AND source_id = ?`,
		key.IntegrationID, key.ActionID, key.SourceID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询状态 %s 失败: %w", key, err)
	}

	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("解析状态 %s 失败: %w", key, err)
	}
	return state, nil
}

func (ms *MySQLStore) SetState(ctx context.Context, key Key, state State) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("序列化状态 %s 失败: %w", key, err)
	}

	_, err = ms.db.ExecContext(ctx,
		`INSERT INTO integration_state (integration_id, action_id, source_id, state) VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE state = VALUES(state)`,
		key.IntegrationID, key.ActionID, key.SourceID, raw)
	if err != nil {
		return fmt.Errorf("写入状态 %s 失败: %w", key, err)
	}

	logger.Debug("已将状态 %s 存储到MySQL数据库", key)
	return nil
}

func (ms *MySQLStore) Close() error {
	if ms.db != nil {
		if err := ms.db.Close(); err != nil {
			return fmt.Errorf("关闭MySQL数据库连接失败: %w", err)
		}
		logger.Info("MySQL数据库连接已关闭")
	}
	return nil
}
