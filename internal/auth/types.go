package auth

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingToken 表示请求没有携带凭证。
	ErrMissingToken = errors.New("缺少访问凭证")
	// ErrInvalidToken 表示凭证无效或已被撤销。
	ErrInvalidToken = errors.New("访问凭证无效")
	// ErrPermissionDenied 表示主体没有执行该操作的权限。
	ErrPermissionDenied = errors.New("权限不足")
)

// Mode 表示身份认证的工作模式。
type Mode string

const (
	// ModeDisabled 关闭认证，所有请求直接放行。
	ModeDisabled Mode = "disabled"
	// ModeAPIKey 使用静态 API Key 认证。
	ModeAPIKey Mode = "apikey"
)

// APIKey 描述一个静态密钥及其绑定的主体。
type APIKey struct {
	Key         string   `json:"key"`
	Name        string   `json:"name"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// Config 描述认证服务的配置。
type Config struct {
	Mode Mode     `json:"mode"`
	Keys []APIKey `json:"keys,omitempty"`
}

// Subject 表示通过认证的访问主体。
type Subject struct {
	Username    string   `json:"username"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

func (s *Subject) normalise() {
	if s == nil {
		return
	}
	s.Username = strings.TrimSpace(s.Username)
	for i, role := range s.Roles {
		s.Roles[i] = strings.TrimSpace(role)
	}
	for i, perm := range s.Permissions {
		s.Permissions[i] = strings.TrimSpace(perm)
	}
}

// Normalise 清理主体中的空白字段。
func (s *Subject) Normalise() {
	s.normalise()
}

// HasPermission 判断主体是否拥有指定权限。
func (s *Subject) HasPermission(permission string) bool {
	if s == nil {
		return false
	}
	permission = strings.TrimSpace(permission)
	if permission == "" {
		return true
	}
	for _, candidate := range s.Permissions {
		if candidate == "*" || strings.EqualFold(candidate, permission) {
			return true
		}
	}
	return false
}

// Authorize 校验主体是否拥有全部所需权限。
func (s *Subject) Authorize(perms ...string) error {
	if s == nil {
		return ErrPermissionDenied
	}
	for _, perm := range perms {
		if !s.HasPermission(perm) {
			return fmt.Errorf("%w: %s", ErrPermissionDenied, perm)
		}
	}
	return nil
}

// Clone 返回主体的深拷贝。
func (s *Subject) Clone() *Subject {
	if s == nil {
		return nil
	}
	clone := &Subject{Username: s.Username}
	if len(s.Roles) > 0 {
		clone.Roles = append([]string(nil), s.Roles...)
	}
	if len(s.Permissions) > 0 {
		clone.Permissions = append([]string(nil), s.Permissions...)
	}
	return clone
}
