package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"strings"

	loggerpkg "ResearchMind/pkg/logger"
)

// Service 基于静态 API Key 完成请求认证。
type Service struct {
	mode  Mode
	keys  map[string]*Subject
	audit *slog.Logger
}

// NewService 根据配置构建认证服务。
func NewService(cfg Config) (*Service, error) {
	mode := cfg.Mode
	if mode == "" {
		mode = ModeDisabled
	}
	switch mode {
	case ModeDisabled:
		return &Service{mode: mode, audit: loggerpkg.Audit()}, nil
	case ModeAPIKey:
	default:
		return nil, fmt.Errorf("不支持的认证模式: %s", mode)
	}

	if len(cfg.Keys) == 0 {
		return nil, fmt.Errorf("apikey 模式至少需要配置一个密钥")
	}
	keys := make(map[string]*Subject, len(cfg.Keys))
	for _, entry := range cfg.Keys {
		key := strings.TrimSpace(entry.Key)
		if key == "" {
			return nil, fmt.Errorf("API Key 不能为空")
		}
		if _, ok := keys[key]; ok {
			return nil, fmt.Errorf("API Key 重复: %s", entry.Name)
		}
		subject := &Subject{
			Username:    entry.Name,
			Roles:       append([]string(nil), entry.Roles...),
			Permissions: append([]string(nil), entry.Permissions...),
		}
		if subject.Username == "" {
			subject.Username = "apikey"
		}
		subject.normalise()
		keys[key] = subject
	}
	return &Service{mode: mode, keys: keys, audit: loggerpkg.Audit()}, nil
}

// Mode 返回当前认证模式。
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// AuthenticateRequest 解析 Authorization 头并返回对应主体。
func (s *Service) AuthenticateRequest(_ context.Context, authorization string) (*Subject, error) {
	if s == nil || s.mode == ModeDisabled {
		return &Subject{Username: "anonymous", Permissions: []string{"*"}}, nil
	}
	token := strings.TrimSpace(authorization)
	if token == "" {
		return nil, ErrMissingToken
	}
	if strings.HasPrefix(strings.ToLower(token), "bearer ") {
		token = strings.TrimSpace(token[len("bearer "):])
	}
	if token == "" {
		return nil, ErrMissingToken
	}
	for key, subject := range s.keys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(token)) == 1 {
			return subject.Clone(), nil
		}
	}
	return nil, ErrInvalidToken
}
