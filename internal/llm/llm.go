package llm

import (
	"context"
	"strings"

	xerrors "ResearchMind/internal/errors"
)

// Client 定义了文本生成后端的统一接口。意图识别、规划、问答与评估
// 全部经由该接口访问大模型，后端可以是真实服务，也可以是禁用占位。
type Client interface {
	// Complete 以给定温度生成一段完整文本。
	Complete(ctx context.Context, prompt string, temperature float64) (string, error)
	// CompleteStream 返回增量文本流。生成结束后通道关闭，
	// 调用方必须读到通道关闭为止。
	CompleteStream(ctx context.Context, prompt string, temperature float64) (<-chan string, error)
}

// ErrUnavailable 表示未配置可用的大模型后端。调用方收到该错误时
// 应当走确定性的规则降级路径，而不是向上传播失败。
var ErrUnavailable = xerrors.New(xerrors.CodeOracleUnavailable, "未配置大模型后端")

type disabledClient struct{}

// Disabled 返回一个始终返回 ErrUnavailable 的客户端。
// 系统在没有任何后端配置时使用它，保证上层只需处理一种接口。
func Disabled() Client { return disabledClient{} }

func (disabledClient) Complete(context.Context, string, float64) (string, error) {
	return "", ErrUnavailable
}

func (disabledClient) CompleteStream(context.Context, string, float64) (<-chan string, error) {
	return nil, ErrUnavailable
}

// ExtractJSONObject 从模型输出中截取第一个完整的 JSON 对象。
// 模型偶尔会在 JSON 前后附加说明文字或代码围栏，这里做宽松截取。
func ExtractJSONObject(raw string) (string, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return raw[start : end+1], true
}
