// Package capability содержит реестр capabilities и встроенные реализации.
//
// Capability — именованная операция с описанием входа/выхода
// и проверкой прав. Шаг ability находит её в Registry по имени
// и вызывает Execute с разрешённым входом.
//
//	registry := capability.DefaultRegistry()
//	c, err := registry.Lookup("core/http-request")
//	if err != nil {
//	    // engine.ErrCapabilityNotFound
//	}
//	result, err := c.Execute(ctx, map[string]any{"url": "https://example.com"})
//
// # Права
//
// Выданные scope'ы передаются через context:
//
//	ctx = capability.WithPermissions(ctx, capability.ParsePermissions("network:*,system:read"))
//
// Без WithPermissions проверка прав не выполняется.
//
// # Встроенные capabilities
//
//   - core/echo         — возвращает вход
//   - core/delay        — пауза (duration_sec / duration_ms)
//   - core/http-request — HTTP запрос (scope network:request)
//   - system/info       — диагностика движка (scope system:read)
package capability
