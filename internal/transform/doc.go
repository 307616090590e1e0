// Package transform содержит реестр чистых операций преобразования данных.
//
// Шаг transform разрешает input и params через контекст и вызывает:
//
//	registry.Apply(ctx, "pluck", items, map[string]any{"field": "name"})
//
// Неизвестная операция — engine.ErrUnknownOperation.
// Ошибки операций — *OperationError; неверные params классифицируются
// как config_error, остальные как transform_error.
//
// # Операции
//
//   - identity                               — вход без изменений
//   - pluck, filter, map, sort, unique       — работа с массивами объектов
//   - count, sum, first, last, flatten, join — агрегаты массивов
//   - merge, keys, values                    — объекты
//   - split, json_encode, json_decode        — строки и JSON
//   - template                               — Go template (функции engine.TemplateFuncs)
//   - jq                                     — jq выражение (gojq) с таймаутом
package transform
