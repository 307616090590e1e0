package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shaiso/Pipeflow/internal/domain"
)

// cronParser — парсер cron-выражений (5 полей, без секунд).
// Дескрипторы вида "@hourly" и "@every 5m" тоже принимаются.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// CalculateNextDue вычисляет следующее время выполнения для schedule.
//
// Cron-выражение вычисляется в timezone schedule, интервал просто
// добавляется к from. Результат — в UTC для хранения в БД.
func CalculateNextDue(sched *domain.Schedule, from time.Time) (time.Time, error) {
	loc, err := sched.Location()
	if err != nil {
		return time.Time{}, err
	}

	fromInTz := from.In(loc)

	if sched.IsCron() {
		return calculateNextCron(sched.CronExpr, fromInTz)
	}

	if sched.IsInterval() {
		return calculateNextInterval(sched.IntervalSec, fromInTz), nil
	}

	return time.Time{}, fmt.Errorf("%w: neither cron_expr nor interval_sec", domain.ErrInvalidSchedule)
}

// calculateNextCron вычисляет следующее время по cron-выражению.
func calculateNextCron(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}

	next := schedule.Next(from)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("cron expression %q never fires", cronExpr)
	}
	return next.UTC(), nil
}

// calculateNextInterval вычисляет следующее время по интервалу.
func calculateNextInterval(intervalSec int, from time.Time) time.Time {
	return from.Add(time.Duration(intervalSec) * time.Second).UTC()
}

// ValidateCronExpr проверяет валидность cron-выражения.
func ValidateCronExpr(cronExpr string) error {
	if _, err := cronParser.Parse(cronExpr); err != nil {
		return fmt.Errorf("%w: cron expression %q: %v", domain.ErrInvalidSchedule, cronExpr, err)
	}
	return nil
}

// Prepare проверяет schedule и вычисляет первое время выполнения.
// Используется при создании и изменении schedule через API.
func Prepare(sched *domain.Schedule, now time.Time) error {
	if err := sched.Validate(); err != nil {
		return err
	}
	if sched.IsCron() {
		if err := ValidateCronExpr(sched.CronExpr); err != nil {
			return err
		}
	}

	next, err := CalculateNextDue(sched, now)
	if err != nil {
		return err
	}
	sched.NextDueAt = &next
	return nil
}
