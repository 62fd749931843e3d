// MockPlugin 是插件执行服务的测试模拟实现。
//
// 按步骤 ID 或操作名编排响应序列，记录所有调用。
package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/BaSui01/missionflow/agent/plugin"
	"github.com/BaSui01/missionflow/workflow"
)

// Response is one scripted plugin answer.
type Response struct {
	Outputs []workflow.Output
	Err     error
}

// Ok answers with outputs.
func Ok(outputs ...workflow.Output) Response {
	return Response{Outputs: outputs}
}

// Text answers with a single text output.
func Text(name, value string) Response {
	return Ok(workflow.Output{Name: name, Type: workflow.OutputTypeText, Result: value})
}

// Fail answers with err.
func Fail(err error) Response {
	return Response{Err: err}
}

// AskUser answers with a pending-input sentinel.
func AskUser(requestID, question string) Response {
	return Ok(workflow.Output{
		Name:      "pending",
		Type:      workflow.OutputTypePendingInput,
		RequestID: requestID,
		Result:    question,
	})
}

// MockPlugin implements plugin.Executor.
type MockPlugin struct {
	mu          sync.Mutex
	byStep      map[string][]Response
	byOperation map[string][]Response
	fallback    *Response
	calls       []plugin.Request
}

// NewMockPlugin 创建新的 MockPlugin
func NewMockPlugin() *MockPlugin {
	return &MockPlugin{
		byStep:      make(map[string][]Response),
		byOperation: make(map[string][]Response),
	}
}

// OnStep scripts the answers for a step id, consumed in order. The last
// answer repeats once the script runs out.
func (m *MockPlugin) OnStep(stepID string, responses ...Response) *MockPlugin {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byStep[stepID] = append(m.byStep[stepID], responses...)
	return m
}

// OnOperation scripts answers for every step running op.
func (m *MockPlugin) OnOperation(op string, responses ...Response) *MockPlugin {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byOperation[op] = append(m.byOperation[op], responses...)
	return m
}

// WithDefault answers every unscripted call.
func (m *MockPlugin) WithDefault(r Response) *MockPlugin {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = &r
	return m
}

func (m *MockPlugin) Execute(ctx context.Context, req *plugin.Request) ([]workflow.Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, *req)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if r, ok := next(m.byStep, req.StepID); ok {
		return r.Outputs, r.Err
	}
	if r, ok := next(m.byOperation, req.Operation); ok {
		return r.Outputs, r.Err
	}
	if m.fallback != nil {
		return m.fallback.Outputs, m.fallback.Err
	}
	return nil, fmt.Errorf("mock plugin: no response scripted for step %s (%s)", req.StepID, req.Operation)
}

func next(scripts map[string][]Response, key string) (Response, bool) {
	queue := scripts[key]
	if len(queue) == 0 {
		return Response{}, false
	}
	r := queue[0]
	if len(queue) > 1 {
		scripts[key] = queue[1:]
	}
	return r, true
}

// Calls returns every request received.
func (m *MockPlugin) Calls() []plugin.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]plugin.Request(nil), m.calls...)
}

// CallCount returns how often stepID was dispatched.
func (m *MockPlugin) CallCount(stepID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.StepID == stepID {
			n++
		}
	}
	return n
}

var _ plugin.Executor = (*MockPlugin)(nil)
