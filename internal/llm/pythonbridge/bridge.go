package pythonbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Client 通过调用外部 Python 脚本实现文本生成。脚本从 stdin 读取
// JSON 请求 {"prompt": string, "temperature": number}，向 stdout 写出
// {"text": string}。适合接入本地模型或自定义推理管线。
type Client struct {
	pythonExec string
	scriptPath string
	workingDir string
}

// NewClient 创建 Python Bridge 客户端。
func NewClient(pythonExec, scriptPath, workingDir string) (*Client, error) {
	if scriptPath == "" {
		return nil, fmt.Errorf("未指定 Python 脚本路径")
	}
	if pythonExec == "" {
		pythonExec = "python3"
	}
	return &Client{
		pythonExec: pythonExec,
		scriptPath: scriptPath,
		workingDir: workingDir,
	}, nil
}

// Complete 调用外部脚本并解析输出。
func (c *Client) Complete(ctx context.Context, prompt string, temperature float64) (string, error) {
	payload := map[string]any{
		"prompt":      prompt,
		"temperature": temperature,
		"timestamp":   time.Now().Unix(),
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("序列化请求失败: %w", err)
	}

	command := exec.CommandContext(ctx, c.pythonExec, c.scriptPath)
	if c.workingDir != "" {
		command.Dir = c.workingDir
	}
	command.Stdin = bytes.NewReader(encoded)

	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", fmt.Errorf("执行 Python 脚本失败: %v, stderr=%s", err, strings.TrimSpace(stderr.String()))
	}

	var resp struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return "", fmt.Errorf("解析 Python 输出失败: %w", err)
	}
	if strings.TrimSpace(resp.Text) == "" {
		return "", fmt.Errorf("Python 脚本输出为空")
	}
	return resp.Text, nil
}

// CompleteStream 以单块形式模拟流式输出。外部脚本是一次性进程，
// 无法真正增量返回，这里保持接口一致。
func (c *Client) CompleteStream(ctx context.Context, prompt string, temperature float64) (<-chan string, error) {
	text, err := c.Complete(ctx, prompt, temperature)
	if err != nil {
		return nil, err
	}
	out := make(chan string, 1)
	out <- text
	close(out)
	return out, nil
}

// ResolveScriptPath 根据工作目录推导脚本绝对路径。
func ResolveScriptPath(baseDir, script string) string {
	if script == "" {
		return ""
	}
	if filepath.IsAbs(script) {
		return script
	}
	if baseDir == "" {
		return script
	}
	return filepath.Join(baseDir, script)
}
