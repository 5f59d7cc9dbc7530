package backtest

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"venus/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

//go:embed presets/strategies.yaml
var defaultPresets []byte

// Preset 一个具名策略配置：策略类型 + 默认参数 + 参数 schema。
type Preset struct {
	Name        string         `yaml:"name" json:"name"`
	Kind        string         `yaml:"kind" json:"kind"`
	Description string         `yaml:"description" json:"description"`
	Params      map[string]any `yaml:"params" json:"params"`
	Schema      map[string]any `yaml:"schema" json:"schema,omitempty"`

	compiled *jsonschema.Schema
}

type presetFile struct {
	Strategies map[string]Preset `yaml:"strategies"`
}

// StrategyRegistry 管理策略预设，文件变化时热加载。
type StrategyRegistry struct {
	path string

	mu       sync.RWMutex
	presets  map[string]Preset
	version  int64
	loadedAt time.Time
}

// NewStrategyRegistry path 为空时只加载内置预设且不监听。
func NewStrategyRegistry(path string) (*StrategyRegistry, error) {
	r := &StrategyRegistry{path: strings.TrimSpace(path)}
	if r.path == "" {
		presets, err := parsePresets(defaultPresets)
		if err != nil {
			return nil, err
		}
		r.swap(presets, "builtin")
		return r, nil
	}
	if err := r.reload(); err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigFile(r.path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read strategy presets failed: %w", err)
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := r.reload(); err != nil {
			logger.Errorf("[backtest] strategy presets reload failed (%s): %v", evt.Name, err)
		}
	})
	v.WatchConfig()
	return r, nil
}

func (r *StrategyRegistry) reload() error {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read strategy presets failed: %w", err)
	}
	presets, err := parsePresets(raw)
	if err != nil {
		return err
	}
	r.swap(presets, filepath.Base(r.path))
	return nil
}

func (r *StrategyRegistry) swap(presets map[string]Preset, source string) {
	r.mu.Lock()
	r.presets = presets
	r.version++
	r.loadedAt = time.Now()
	r.mu.Unlock()
	logger.Infof("[backtest] 已加载 %d 个策略预设（%s）", len(presets), source)
}

// parsePresets 严格解析（未知字段报错），并为每个预设编译 schema、校验默认参数。
func parsePresets(raw []byte) (map[string]Preset, error) {
	var file presetFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("parse strategy presets failed: %w", err)
	}
	if len(file.Strategies) == 0 {
		return nil, fmt.Errorf("strategy presets 为空")
	}
	out := make(map[string]Preset, len(file.Strategies))
	for name, p := range file.Strategies {
		p.Name = strings.TrimSpace(name)
		p.Kind = strings.TrimSpace(p.Kind)
		if p.Kind == "" {
			p.Kind = p.Name
		}
		if _, err := lookupStrategyKind(p.Kind); err != nil {
			return nil, fmt.Errorf("preset %s: %w", p.Name, err)
		}
		if len(p.Schema) > 0 {
			compiled, err := compileSchema(p.Schema)
			if err != nil {
				return nil, fmt.Errorf("preset %s schema: %w", p.Name, err)
			}
			p.compiled = compiled
		}
		if err := p.validate(p.Params); err != nil {
			return nil, fmt.Errorf("preset %s 默认参数不合法: %w", p.Name, err)
		}
		out[p.Name] = p
	}
	return out, nil
}

func compileSchema(data map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return compiler.Compile("schema.json")
}

func (p Preset) validate(params map[string]any) error {
	if p.compiled == nil {
		return nil
	}
	return p.compiled.Validate(sanitizeParams(params))
}

// sanitizeParams 转成 jsonschema 可识别的值：数字字符串转 float64，整数统一为 float64。
func sanitizeParams(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = sanitizeParams(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = sanitizeParams(child)
		}
		return out
	case string:
		if num, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return num
		}
		return val
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case float32:
		return float64(val)
	case nil:
		return map[string]any{}
	default:
		return val
	}
}

// Preset 返回具名预设。
func (r *StrategyRegistry) Preset(name string) (Preset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.presets[strings.TrimSpace(name)]
	return p, ok
}

// Presets 按名称排序返回全部预设。
func (r *StrategyRegistry) Presets() []Preset {
	r.mu.RLock()
	out := make([]Preset, 0, len(r.presets))
	for _, p := range r.presets {
		out = append(out, p)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *StrategyRegistry) Version() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// Build 以预设参数为底合并 overrides，校验后构造策略实例。
func (r *StrategyRegistry) Build(name string, overrides map[string]any) (Strategy, map[string]any, error) {
	p, ok := r.Preset(name)
	if !ok {
		return nil, nil, fmt.Errorf("未知策略: %s", name)
	}
	merged := make(map[string]any, len(p.Params)+len(overrides))
	for k, v := range p.Params {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	if err := p.validate(merged); err != nil {
		return nil, nil, fmt.Errorf("策略 %s 参数校验失败: %w", name, err)
	}
	factory, err := lookupStrategyKind(p.Kind)
	if err != nil {
		return nil, nil, err
	}
	strat, err := factory(merged)
	if err != nil {
		return nil, nil, err
	}
	return strat, merged, nil
}
