// Package engine содержит ядро интерпретатора pipeline, не зависящее от типов шагов.
//
// Включает:
//   - context.go   — стек scope'ов переменных и разрешение ссылок ($a.b.c)
//   - condition.go — вычисление дерева условий (and/or с short-circuit)
//   - template.go  — рендеринг Go templates для операции template
//   - errors.go    — ExecutionError, ValidationError и классификация ошибок
//
// # Ссылки
//
// Строка, начинающаяся с "$", — ссылка на переменную:
//
//	$user            // переменная user
//	$user.name       // ключ name внутри user
//	$items.0.id      // первый элемент items, ключ id
//
// Отсутствующий корень — ошибка ErrReference. Отсутствующий ключ map
// на промежуточном сегменте даёт nil. Индекс вне диапазона или обращение
// внутрь скаляра — ErrReference.
//
// # Условия
//
//	{"field": "$order.total", "operator": "greater_than", "value": 100}
//	{"operator": "or", "conditions": [{...}, {...}]}
package engine
