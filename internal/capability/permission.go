package capability

import (
	"context"
	"fmt"
	"strings"

	"github.com/shaiso/Pipeflow/internal/engine"
)

// AllScopes — scope, дающий доступ ко всем capabilities.
const AllScopes = "*"

type ctxKey string

const ctxPermissions ctxKey = "permissions"

// Permissions — набор выданных scope'ов.
type Permissions map[string]bool

// ParsePermissions разбирает список scope'ов через запятую.
// Используется для PIPEFLOW_PERMISSIONS.
func ParsePermissions(s string) Permissions {
	p := make(Permissions)
	for _, scope := range strings.Split(s, ",") {
		scope = strings.TrimSpace(scope)
		if scope != "" {
			p[scope] = true
		}
	}
	return p
}

// Allows проверяет, выдан ли scope.
//
// Поддерживает префиксы: "media:*" разрешает "media:read" и "media:write".
// nil — без ограничений; пустой набор не разрешает ничего.
func (p Permissions) Allows(scope string) bool {
	if p == nil || scope == "" || p[AllScopes] || p[scope] {
		return true
	}
	if i := strings.Index(scope, ":"); i > 0 {
		return p[scope[:i]+":*"]
	}
	return false
}

// WithPermissions добавляет выданные scope'ы в контекст.
func WithPermissions(ctx context.Context, p Permissions) context.Context {
	return context.WithValue(ctx, ctxPermissions, p)
}

// PermissionsFromContext извлекает scope'ы из контекста.
// Второе значение false, если права не заданы.
func PermissionsFromContext(ctx context.Context) (Permissions, bool) {
	p, ok := ctx.Value(ctxPermissions).(Permissions)
	return p, ok
}

// Require проверяет scope.
//
// Если права в контексте не заданы, проверка пропускается:
// движок, встроенный в процесс, доверяет вызывающему коду.
func Require(ctx context.Context, scope string) error {
	if scope == "" {
		return nil
	}
	p, ok := PermissionsFromContext(ctx)
	if !ok || p.Allows(scope) {
		return nil
	}
	return fmt.Errorf("%w: requires %s", engine.ErrPermissionDenied, scope)
}
