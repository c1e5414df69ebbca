// Package scheduler registers periodic jobs (cron expressions or fixed
// intervals) and enqueues each trigger into the task engine.
//
// The scheduler only computes trigger times; execution, timeouts and retries
// belong to engine.Service.
package scheduler
