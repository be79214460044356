package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ProductionLogger is the engine's concrete Logger. It auto-detects JSON vs.
// text output, rate-limits error logs so a tight retry loop cannot flood
// stdout, and lazily starts emitting metrics once telemetry registers
// itself via SetMetricsRegistry.
type ProductionLogger struct {
	level       string
	debug       bool
	serviceName string
	component   string
	format      string
	output      io.Writer

	errorLimiter *RateLimiter

	mu             sync.RWMutex
	metricsEnabled bool
}

// NewProductionLogger builds a logger from a LoggingConfig. Format
// auto-detects JSON when KUBERNETES_SERVICE_HOST is set (matching the
// teacher's convention), unless LoggingConfig.Format overrides it.
func NewProductionLogger(cfg LoggingConfig, serviceName string) *ProductionLogger {
	format := cfg.Format
	if format == "" {
		if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
			format = "json"
		} else {
			format = "text"
		}
	}

	var output io.Writer = os.Stdout
	if cfg.Output == "stderr" {
		output = os.Stderr
	}

	level := strings.ToUpper(cfg.Level)
	if level == "" {
		level = "INFO"
	}

	l := &ProductionLogger{
		level:        level,
		debug:        level == "DEBUG",
		serviceName:  serviceName,
		component:    "engine",
		format:       format,
		output:       output,
		errorLimiter: NewRateLimiter(cfg.ErrorLogsPerSecond),
	}
	trackLogger(l)
	return l
}

// WithComponent returns a logger tagged with the given component name,
// sharing the parent's output/level/metrics configuration.
func (p *ProductionLogger) WithComponent(component string) Logger {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return &ProductionLogger{
		level:          p.level,
		debug:          p.debug,
		serviceName:    p.serviceName,
		component:      component,
		format:         p.format,
		output:         p.output,
		errorLimiter:   p.errorLimiter,
		metricsEnabled: p.metricsEnabled,
	}
}

// EnableMetrics is invoked by SetMetricsRegistry once telemetry has
// initialized.
func (p *ProductionLogger) EnableMetrics() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metricsEnabled = true
}

func (p *ProductionLogger) Info(msg string, fields map[string]interface{}) {
	p.logEvent(nil, "INFO", msg, fields)
}

func (p *ProductionLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent(ctx, "INFO", msg, fields)
}

func (p *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	if p.errorLimiter == nil || p.errorLimiter.Allow() {
		p.logEvent(nil, "ERROR", msg, fields)
	}
}

func (p *ProductionLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	if p.errorLimiter == nil || p.errorLimiter.Allow() {
		p.logEvent(ctx, "ERROR", msg, fields)
	}
}

func (p *ProductionLogger) Warn(msg string, fields map[string]interface{}) {
	p.logEvent(nil, "WARN", msg, fields)
}

func (p *ProductionLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent(ctx, "WARN", msg, fields)
}

func (p *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	if p.debug {
		p.logEvent(nil, "DEBUG", msg, fields)
	}
}

func (p *ProductionLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	if p.debug {
		p.logEvent(ctx, "DEBUG", msg, fields)
	}
}

func (p *ProductionLogger) logEvent(ctx context.Context, level, msg string, fields map[string]interface{}) {
	p.mu.RLock()
	format, serviceName, component, output, metricsEnabled := p.format, p.serviceName, p.component, p.output, p.metricsEnabled
	p.mu.RUnlock()

	timestamp := time.Now().Format(time.RFC3339)

	if format == "json" {
		entry := map[string]interface{}{
			"timestamp": timestamp,
			"level":     level,
			"service":   serviceName,
			"component": component,
			"message":   msg,
		}
		if ctx != nil {
			if baggage := contextBaggage(ctx); len(baggage) > 0 {
				for k, v := range baggage {
					entry["trace."+k] = v
				}
			}
		}
		for k, v := range fields {
			entry[k] = v
		}
		if data, err := json.Marshal(entry); err == nil {
			fmt.Fprintln(output, string(data))
		}
	} else {
		var fieldStr strings.Builder
		for k, v := range fields {
			fieldStr.WriteString(fmt.Sprintf(" %s=%v", k, v))
		}
		fmt.Fprintf(output, "%s [%s] [%s:%s] %s%s\n", timestamp, level, serviceName, component, msg, fieldStr.String())
	}

	if metricsEnabled {
		labels := []string{"level", level, "service", serviceName, "component", component}
		if registry := GetGlobalMetricsRegistry(); registry != nil {
			if ctx != nil {
				registry.EmitWithContext(ctx, "lalo.engine.log_events", 1.0, labels...)
			} else {
				registry.Counter("lalo.engine.log_events", labels...)
			}
		}
	}
}

func contextBaggage(ctx context.Context) map[string]string {
	if registry := GetGlobalMetricsRegistry(); registry != nil {
		return registry.GetBaggage(ctx)
	}
	return nil
}

// RateLimiter is a simple token-bucket limiter used to cap error-log volume.
// A zero-value *RateLimiter with rate<=0 allows everything.
type RateLimiter struct {
	ratePerSecond int
	tokens        int64
	lastRefill    int64
	mu            sync.Mutex
}

// NewRateLimiter builds a limiter allowing up to ratePerSecond Allow() calls
// to succeed per second. ratePerSecond<=0 disables limiting.
func NewRateLimiter(ratePerSecond int) *RateLimiter {
	return &RateLimiter{
		ratePerSecond: ratePerSecond,
		tokens:        int64(ratePerSecond),
		lastRefill:    time.Now().UnixNano(),
	}
}

// Allow reports whether the caller may proceed under the current rate.
func (r *RateLimiter) Allow() bool {
	if r == nil || r.ratePerSecond <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UnixNano()
	elapsed := now - atomic.LoadInt64(&r.lastRefill)
	if elapsed >= int64(time.Second) {
		r.tokens = int64(r.ratePerSecond)
		r.lastRefill = now
	}
	if r.tokens <= 0 {
		return false
	}
	r.tokens--
	return true
}
