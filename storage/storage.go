package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/eddielth/digitanimal-trans/config"
)

// Key 表示一条状态记录的键
type Key struct {
	IntegrationID string
	ActionID      string
	SourceID      string
}

// String 用 "." 连接各部分，部分内的 "%" 和 "." 会被转义
func (k Key) String() string {
	return fmt.Sprintf("%s.%s.%s", keyEscaper.Replace(k.IntegrationID), keyEscaper.Replace(k.ActionID), keyEscaper.Replace(k.SourceID))
}

var keyEscaper = strings.NewReplacer("%", "%25", ".", "%2E")

// State 表示按键存储的JSON对象
type State map[string]interface{}

// StateStore 表示状态存储后端接口
type StateStore interface {
	// GetState 获取状态，不存在时返回 nil, nil
	GetState(ctx context.Context, key Key) (State, error)
	// SetState 覆盖保存状态
	SetState(ctx context.Context, key Key, state State) error
	// Close 关闭存储连接
	Close() error
}

// 支持的存储后端类型
const (
	Memory     = "memory"
	File       = "file"
	Redis      = "redis"
	MySQL      = "mysql"
	PostgreSQL = "postgresql"
)

// NewStateStore 根据配置创建状态存储后端
func NewStateStore(ctx context.Context, cfg config.StateConfig) (StateStore, error) {
	switch strings.ToLower(cfg.Type) {
	case Memory:
		return NewMemoryStore(), nil
	case File, "":
		return NewFileStore(cfg.File.Path)
	case Redis:
		return NewRedisStore(ctx, cfg.Redis)
	case MySQL:
		return NewMySQLStore(ctx, cfg.DSN)
	case PostgreSQL:
		return NewPostgreSQLStore(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("不支持的状态存储类型: %s", cfg.Type)
	}
}
