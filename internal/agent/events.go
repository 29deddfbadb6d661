package agent

import (
	"sync"
	"time"

	"ResearchMind/pkg/logger"
)

// EventType 标识进度事件的种类。
type EventType string

const (
	EventProgress   EventType = "progress"
	EventThought    EventType = "thought"
	EventTaskList   EventType = "task_list"
	EventStepStatus EventType = "step_status"
	EventStepOutput EventType = "step_output"
	EventStream     EventType = "stream"
	EventReflection EventType = "reflection"
	EventEvaluation EventType = "evaluation"
)

// Event 是执行过程中对外投递的进度通知。
type Event struct {
	Type    EventType      `json:"type"`
	TaskID  string         `json:"task_id,omitempty"`
	StepID  string         `json:"step_id,omitempty"`
	Message string         `json:"message,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
	At      int64          `json:"at"`
}

// ObserverSink 接收进度事件。投递永远是尽力而为：返回 false 表示
// 接收端已经不可用，调用方应停止继续投递，但任务本身照常完成。
type ObserverSink interface {
	Emit(event Event) bool
}

// ChannelSink 是基于有界 channel 的 ObserverSink 实现。
// 缓冲满时事件被丢弃而不阻塞执行；Close 之后 Emit 返回 false。
type ChannelSink struct {
	mu      sync.Mutex
	ch      chan Event
	closed  bool
	dropped int
}

// NewChannelSink 创建缓冲大小为 buffer 的事件接收器。
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChannelSink{ch: make(chan Event, buffer)}
}

// Events 返回事件通道，供消费方循环读取。
func (s *ChannelSink) Events() <-chan Event {
	return s.ch
}

// Close 关闭接收器。之后所有 Emit 返回 false。
func (s *ChannelSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// Dropped 返回因缓冲满而丢弃的事件数量。
func (s *ChannelSink) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Emit 非阻塞投递事件。
func (s *ChannelSink) Emit(event Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- event:
	default:
		s.dropped++
	}
	return true
}

// emitter 包装 ObserverSink，首次投递失败后静默停止后续投递。
type emitter struct {
	sink    ObserverSink
	taskID  string
	stopped bool
}

func newEmitter(sink ObserverSink, taskID string) *emitter {
	return &emitter{sink: sink, taskID: taskID}
}

func (e *emitter) emit(eventType EventType, stepID, message string, payload map[string]any) {
	if e == nil || e.sink == nil || e.stopped {
		return
	}
	ok := e.sink.Emit(Event{
		Type:    eventType,
		TaskID:  e.taskID,
		StepID:  stepID,
		Message: message,
		Payload: payload,
		At:      time.Now().UnixMilli(),
	})
	if !ok {
		e.stopped = true
		logger.Named("agent").Debug("事件接收端已关闭，停止投递", "task_id", e.taskID)
	}
}
