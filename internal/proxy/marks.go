package proxy

import (
	"encoding/json"
	"time"
)

// Marks 记录单个请求生命周期内各阶段相对起点的耗时（毫秒），
// 只增不减，响应返回后即丢弃。单请求内串行使用，无需加锁。
type Marks struct {
	start   time.Time
	names   []string
	elapsed map[string]int64
}

// NewMarks 以当前时间为起点创建计时器。
func NewMarks() *Marks {
	return &Marks{
		start:   time.Now(),
		elapsed: make(map[string]int64),
	}
}

// Mark 记录一个阶段；同名阶段只保留首次记录的顺序、更新耗时。
func (m *Marks) Mark(name string) {
	if _, exists := m.elapsed[name]; !exists {
		m.names = append(m.names, name)
	}
	m.elapsed[name] = time.Since(m.start).Milliseconds()
}

// HeaderValue 输出 X-Performance-Metrics 头的 JSON 值。
func (m *Marks) HeaderValue() string {
	if len(m.elapsed) == 0 {
		return "{}"
	}
	data, err := json.Marshal(m.elapsed)
	if err != nil {
		return "{}"
	}
	return string(data)
}
