package transformer

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	json "github.com/goccy/go-json"

	"github.com/eddielth/digitanimal-trans/config"
	"github.com/eddielth/digitanimal-trans/digitanimal"
	"github.com/eddielth/digitanimal-trans/logger"
)

// Transformer 将设备读数转换为观测数据，配置了脚本时再经过脚本的 transform(obs) 函数
type Transformer struct {
	mu     sync.Mutex
	script *script
}

type script struct {
	vm        *goja.Runtime
	transform goja.Callable
}

// New 创建一个新的转换器，空配置只做基础映射
func New(cfg config.TransformerConfig) (*Transformer, error) {
	s, err := loadScript(cfg)
	if err != nil {
		return nil, err
	}
	if s != nil {
		logger.Info("已加载观测数据转换脚本 %s", describe(cfg))
	}
	return &Transformer{script: s}, nil
}

// Transform 映射设备读数并执行脚本（如有）
func (t *Transformer) Transform(reading digitanimal.DeviceReading) (Observation, error) {
	obs := Transform(reading)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.script == nil {
		return obs, nil
	}
	return t.script.apply(obs)
}

// Reload 重新加载转换脚本
func (t *Transformer) Reload(cfg config.TransformerConfig) error {
	s, err := loadScript(cfg)
	if err != nil {
		return fmt.Errorf("重新加载转换器失败: %w", err)
	}

	t.mu.Lock()
	t.script = s
	t.mu.Unlock()

	if s == nil {
		logger.Info("已移除观测数据转换脚本")
	} else {
		logger.Info("已重新加载观测数据转换脚本 %s", describe(cfg))
	}
	return nil
}

func describe(cfg config.TransformerConfig) string {
	if cfg.ScriptPath != "" && cfg.ScriptCode == "" {
		return cfg.ScriptPath
	}
	return "(inline)"
}

func loadScript(cfg config.TransformerConfig) (*script, error) {
	code := cfg.ScriptCode
	if code == "" && cfg.ScriptPath != "" {
		raw, err := os.ReadFile(cfg.ScriptPath)
		if err != nil {
			return nil, fmt.Errorf("加载脚本文件 %s 失败: %w", cfg.ScriptPath, err)
		}
		code = string(raw)
	}
	if strings.TrimSpace(code) == "" {
		return nil, nil
	}
	return newScript(code)
}

func newScript(code string) (*script, error) {
	vm := goja.New()

	_ = vm.Set("log", func(msg string) {
		logger.Info("[JS] %s", msg)
	})

	_ = vm.Set("parseJSON", func(jsonStr string) interface{} {
		var data interface{}
		if err := json.Unmarshal([]byte(jsonStr), &data); err != nil {
			logger.Warn("parseJSON 解析失败: %v", err)
			return nil
		}
		return data
	})

	_ = vm.Set("formatDate", func(timestamp int64, format string) string {
		if format == "" {
			format = "2006-01-02 15:04:05"
		}
		return time.Unix(timestamp, 0).UTC().Format(format)
	})

	_ = vm.Set("convertTemperature", convertTemperature)

	_ = vm.Set("validateRange", func(value, min, max float64) bool {
		return value >= min && value <= max
	})

	if _, err := vm.RunString(code); err != nil {
		return nil, fmt.Errorf("执行脚本失败: %w", err)
	}

	fn := vm.Get("transform")
	if fn == nil {
		return nil, fmt.Errorf("脚本中未定义 'transform' 函数")
	}
	transform, ok := goja.AssertFunction(fn)
	if !ok {
		return nil, fmt.Errorf("'transform' 不是一个函数")
	}

	return &script{vm: vm, transform: transform}, nil
}

// apply 通过JSON往返转换，让脚本看到的是序列化后的字段名
func (s *script) apply(obs Observation) (Observation, error) {
	raw, err := json.Marshal(obs)
	if err != nil {
		return Observation{}, fmt.Errorf("序列化观测数据失败: %w", err)
	}
	var in map[string]interface{}
	if err := json.Unmarshal(raw, &in); err != nil {
		return Observation{}, fmt.Errorf("序列化观测数据失败: %w", err)
	}

	result, err := s.transform(goja.Undefined(), s.vm.ToValue(in))
	if err != nil {
		return Observation{}, fmt.Errorf("脚本转换失败: %w", err)
	}
	if goja.IsUndefined(result) || goja.IsNull(result) {
		return obs, nil
	}

	out, err := json.Marshal(result.Export())
	if err != nil {
		return Observation{}, fmt.Errorf("序列化脚本结果失败: %w", err)
	}
	var transformed Observation
	if err := json.Unmarshal(out, &transformed); err != nil {
		return Observation{}, fmt.Errorf("解析脚本结果失败: %w", err)
	}
	if transformed.Source == "" {
		transformed.Source = obs.Source
	}
	if transformed.RecordedAt.IsZero() {
		transformed.RecordedAt = obs.RecordedAt
	}
	return transformed, nil
}

func convertTemperature(value float64, fromUnit, toUnit string) float64 {
	var celsius float64
	switch strings.ToUpper(fromUnit) {
	case "C":
		celsius = value
	case "F":
		celsius = (value - 32) * 5 / 9
	case "K":
		celsius = value - 273.15
	default:
		return value
	}

	switch strings.ToUpper(toUnit) {
	case "F":
		return celsius*9/5 + 32
	case "K":
		return celsius + 273.15
	default:
		return celsius
	}
}
