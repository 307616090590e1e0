// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — соединение с автоматическим переподключением
//   - topology.go   — exchanges, queues, bindings
//   - publisher.go  — публикация сообщений
//   - consumer.go   — потребление с ack/nack и DLQ
//
// Типы сообщений:
//   - run.pending    — новый run ожидает выполнения (API, scheduler → runner)
//   - run.completed  — run завершён (runner → подписчики)
//
// Exchanges:
//   - pipeflow.runs  — события runs
//   - pipeflow.dlq   — dead letter queue
package mq
