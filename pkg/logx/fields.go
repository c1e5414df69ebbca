package logx

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Field adds one key to a log line. Later fields overwrite earlier ones
// with the same key.
type Field func(e *zerolog.Event)

func apply(e *zerolog.Event, fields []Field) {
	for _, f := range fields {
		if f != nil {
			f(e)
		}
	}
}

func String(k, v string) Field          { return func(e *zerolog.Event) { e.Str(k, v) } }
func Int(k string, v int) Field         { return func(e *zerolog.Event) { e.Int(k, v) } }
func Int64(k string, v int64) Field     { return func(e *zerolog.Event) { e.Int64(k, v) } }
func Uint64(k string, v uint64) Field   { return func(e *zerolog.Event) { e.Uint64(k, v) } }
func Bool(k string, v bool) Field       { return func(e *zerolog.Event) { e.Bool(k, v) } }
func Float64(k string, v float64) Field { return func(e *zerolog.Event) { e.Float64(k, v) } }
func Duration(k string, v time.Duration) Field {
	return func(e *zerolog.Event) { e.Dur(k, v) }
}
func Time(k string, v time.Time) Field { return func(e *zerolog.Event) { e.Time(k, v) } }
func Any(k string, v any) Field        { return func(e *zerolog.Event) { e.Interface(k, v) } }

// Err is a no-op for a nil error.
func Err(err error) Field {
	if err == nil {
		return nil
	}
	return func(e *zerolog.Event) { e.Err(err) }
}

// Stack is a no-op for a blank trace.
func Stack(stack string) Field {
	if strings.TrimSpace(stack) == "" {
		return nil
	}
	return String("stack", stack)
}

// Domain keys. Using these keeps one spelling per concept across packages so
// log queries can join a reminder's schedule, fire and delivery lines.

func Component(name string) Field { return String("comp", name) }
func TaskID(id int64) Field       { return Int64("task_id", id) }
func UserID(id int64) Field       { return Int64("user_id", id) }

// ReminderKey is the delay-runtime key of one reminder, notify_<kind>_<task>.
func ReminderKey(key string) Field { return String("key", key) }

func Channel[T ~string](ch T) Field { return String("channel", string(ch)) }

// Reminder tags the task and key of one scheduled item.
func Reminder(taskID int64, key string) Field {
	return func(e *zerolog.Event) { e.Int64("task_id", taskID).Str("key", key) }
}
