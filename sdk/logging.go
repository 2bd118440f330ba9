package sdk

import (
	"time"

	"github.com/sirupsen/logrus"
)

// LogrusObserver emits a structured log line for every observer callback.
// Routine callbacks (cache hits, request starts) log at debug so a
// production logger at info level only sees state changes and failures.
type LogrusObserver struct {
	logger *logrus.Logger
}

// NewLogrusObserver creates an observer logging through the given logger.
func NewLogrusObserver(logger *logrus.Logger) *LogrusObserver {
	return &LogrusObserver{logger: logger}
}

// OnRequestStart logs the outgoing request at debug
func (o *LogrusObserver) OnRequestStart(method, url string) {
	o.logger.WithFields(logrus.Fields{
		"method": method,
		"url":    url,
	}).Debug("request started")
}

// OnRequestEnd logs the completed request, at warn when it failed
func (o *LogrusObserver) OnRequestEnd(method, url string, duration time.Duration, err error) {
	fields := logrus.Fields{
		"method":      method,
		"url":         url,
		"duration_ms": duration.Milliseconds(),
	}
	if err != nil {
		o.logger.WithFields(fields).WithError(err).Warn("request failed")
		return
	}
	o.logger.WithFields(fields).Debug("request completed")
}

// OnRetryAttempt logs the failed attempt and the upcoming backoff
func (o *LogrusObserver) OnRetryAttempt(operation string, attempt int, delay time.Duration, err error) {
	o.logger.WithFields(logrus.Fields{
		"operation": operation,
		"attempt":   attempt,
		"delay_ms":  delay.Milliseconds(),
	}).WithError(err).Warn("retrying after failure")
}

// OnCircuitBreakerStateChange logs breaker transitions
func (o *LogrusObserver) OnCircuitBreakerStateChange(name string, oldState, newState CircuitState) {
	o.logger.WithFields(logrus.Fields{
		"breaker":   name,
		"old_state": oldState.String(),
		"new_state": newState.String(),
	}).Info("circuit breaker state changed")
}

// OnCacheHit logs at debug
func (o *LogrusObserver) OnCacheHit(key string) {
	o.logger.WithField("key", key).Debug("cache hit")
}

// OnCacheMiss logs at debug
func (o *LogrusObserver) OnCacheMiss(key string) {
	o.logger.WithField("key", key).Debug("cache miss")
}

// OnSettingsCheck logs the cycle result
func (o *LogrusObserver) OnSettingsCheck(changed bool, err error) {
	if err != nil {
		o.logger.WithError(err).Warn("settings check failed")
		return
	}
	if changed {
		o.logger.Info("settings updated")
		return
	}
	o.logger.Debug("settings unchanged")
}

// OnQueueFlush logs the flush result
func (o *LogrusObserver) OnQueueFlush(kind string, count int, err error) {
	fields := logrus.Fields{
		"queue": kind,
		"count": count,
	}
	if err != nil {
		o.logger.WithFields(fields).WithError(err).Warn("queue flush failed")
		return
	}
	o.logger.WithFields(fields).Debug("queue flushed")
}

// OnItemsDropped logs dropped items at warn
func (o *LogrusObserver) OnItemsDropped(kind string, count int) {
	o.logger.WithFields(logrus.Fields{
		"queue": kind,
		"count": count,
	}).Warn("queue items dropped")
}

// OnSessionRotated logs the rotation
func (o *LogrusObserver) OnSessionRotated(oldID, newID string, reason RotationReason) {
	o.logger.WithFields(logrus.Fields{
		"old_session": oldID,
		"new_session": newID,
		"reason":      string(reason),
	}).Info("session rotated")
}
