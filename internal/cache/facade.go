package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"statecache/internal/obs"
)

const (
	DefaultTTL           = 300 * time.Second
	DefaultRemoteTimeout = 2 * time.Second

	backendRemote = "remote"
	backendLocal  = "local"
)

type Config struct {
	// Local defaults to a new TTLStore sweeping every SweepInterval.
	Local         *TTLStore
	SweepInterval time.Duration
	// Remote is optional. Without it the facade is unconfigured for life.
	Remote        Backend
	DefaultTTL    time.Duration
	RemoteTimeout time.Duration
	RetryInterval time.Duration
	Metrics       *obs.Metrics
	Events        *obs.EventLog
}

type Stats struct {
	Backend         string `json:"backend"`
	LocalEntryCount int    `json:"localEntryCount"`
	RemoteConnected bool   `json:"remoteConnected"`
}

// Facade routes get/set/delete to the remote backend while it is healthy and
// to the local TTLStore otherwise. Backend failures never reach the caller.
type Facade struct {
	local         *TTLStore
	remote        Backend
	health        *healthTracker
	defaultTTL    time.Duration
	remoteTimeout time.Duration
	metrics       *obs.Metrics
	events        *obs.EventLog
	flights       singleflight.Group
	tracer        trace.Tracer
	now           func() time.Time
	stopOnce      sync.Once
}

type remoteResult struct {
	payload []byte
	found   bool
}

func NewFacade(cfg Config) *Facade {
	f := &Facade{
		remote:        cfg.Remote,
		defaultTTL:    cfg.DefaultTTL,
		remoteTimeout: cfg.RemoteTimeout,
		metrics:       cfg.Metrics,
		events:        cfg.Events,
		tracer:        otel.Tracer("statecache/internal/cache"),
		now:           time.Now,
	}
	if f.defaultTTL <= 0 {
		f.defaultTTL = DefaultTTL
	}
	if f.remoteTimeout <= 0 {
		f.remoteTimeout = DefaultRemoteTimeout
	}
	f.local = cfg.Local
	if f.local == nil {
		metrics := cfg.Metrics
		f.local = NewTTLStore(TTLStoreConfig{
			SweepInterval: cfg.SweepInterval,
			OnSweep: func(removed int, remaining int) {
				metrics.RecordSweep(removed)
				metrics.SetLocalEntries(remaining)
			},
		})
	}
	f.health = newHealthTracker(cfg.Remote != nil, cfg.RetryInterval, f.onTransition)
	return f
}

func (f *Facade) Start() {
	f.local.Start()
	f.metrics.SetBackendState(f.health.current().String())
}

// Stop halts the sweep and closes the remote backend. Safe to call twice.
func (f *Facade) Stop() {
	f.stopOnce.Do(func() {
		f.local.Stop()
		if f.remote != nil {
			if err := f.remote.Close(); err != nil {
				f.events.Log(obs.Event{Event: "remote_close_failed", Backend: f.remote.Name(), Error: err.Error()})
			}
		}
	})
}

func (f *Facade) Health() Health {
	return f.health.current()
}

func (f *Facade) Local() *TTLStore {
	return f.local
}

func (f *Facade) Stats() Stats {
	healthy := f.health.current() == HealthOK
	backend := backendLocal
	if healthy {
		backend = backendRemote
	}
	return Stats{
		Backend:         backend,
		LocalEntryCount: f.local.Len(),
		RemoteConnected: healthy,
	}
}

// Get returns the value for key, or false on a miss. A remote hit is the
// JSON-decoded payload (numbers are float64). A local hit is the value exactly
// as passed to Set, maps and slices included, so callers must not mutate it.
// Use GetJSON for a read whose type does not depend on the serving backend.
func (f *Facade) Get(ctx context.Context, key string) (any, bool) {
	value, _, ok := f.get(ctx, key)
	return value, ok
}

// GetJSON decodes the value for key into dst. It reports false on a miss or
// when the stored value does not fit dst.
func (f *Facade) GetJSON(ctx context.Context, key string, dst any) bool {
	value, payload, ok := f.get(ctx, key)
	if !ok {
		return false
	}
	if payload == nil {
		encoded, err := json.Marshal(value)
		if err != nil {
			f.logKeyEvent("unserializable_value", "get", key, err)
			return false
		}
		payload = encoded
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		f.logKeyEvent("decode_failed", "get", key, err)
		return false
	}
	return true
}

func (f *Facade) get(ctx context.Context, key string) (any, []byte, bool) {
	ctx = orBackground(ctx)
	if allowed, probe := f.health.allow(f.now()); allowed {
		result, err := f.remoteGet(ctx, key)
		if err == nil {
			f.health.report(f.now(), RemoteSucceeded, probe)
			if !result.found {
				f.metrics.RecordCacheRequest("get", backendRemote, "miss")
				return nil, nil, false
			}
			var value any
			if err := json.Unmarshal(result.payload, &value); err != nil {
				f.metrics.RecordMalformedPayload()
				f.metrics.RecordCacheRequest("get", backendRemote, "malformed")
				f.logKeyEvent("malformed_payload", "get", key, err)
				return nil, nil, false
			}
			f.metrics.RecordCacheRequest("get", backendRemote, "hit")
			return value, result.payload, true
		}
		f.fail(ctx, "get", key, err, probe)
	}

	value, ok := f.local.Get(key)
	if !ok {
		f.metrics.RecordCacheRequest("get", backendLocal, "miss")
		return nil, nil, false
	}
	f.metrics.RecordCacheRequest("get", backendLocal, "hit")
	return value, nil, true
}

// Set stores value for ttl; ttl <= 0 means the default TTL. Writes made while
// the remote is degraded stay local and are not replayed on recovery.
func (f *Facade) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	ctx = orBackground(ctx)
	if ttl <= 0 {
		ttl = f.defaultTTL
	}
	if allowed, probe := f.health.allow(f.now()); allowed {
		payload, err := json.Marshal(value)
		if err != nil {
			f.health.release(probe)
			f.logKeyEvent("unserializable_value", "set", key, err)
			f.setLocal(key, value, ttl, "unserializable")
			return
		}
		_, err = f.callRemote(ctx, "set", func(callCtx context.Context) (remoteResult, error) {
			return remoteResult{}, f.remote.Set(callCtx, key, payload, ttl)
		})
		if err == nil {
			f.health.report(f.now(), RemoteSucceeded, probe)
			f.metrics.RecordCacheRequest("set", backendRemote, "ok")
			return
		}
		f.fail(ctx, "set", key, err, probe)
	}
	f.setLocal(key, value, ttl, "ok")
}

func (f *Facade) Delete(ctx context.Context, key string) {
	ctx = orBackground(ctx)
	if allowed, probe := f.health.allow(f.now()); allowed {
		_, err := f.callRemote(ctx, "delete", func(callCtx context.Context) (remoteResult, error) {
			return remoteResult{}, f.remote.Delete(callCtx, key)
		})
		if err == nil {
			f.health.report(f.now(), RemoteSucceeded, probe)
			f.metrics.RecordCacheRequest("delete", backendRemote, "ok")
			return
		}
		f.fail(ctx, "delete", key, err, probe)
	}
	f.local.Delete(key)
	f.metrics.RecordCacheRequest("delete", backendLocal, "ok")
	f.metrics.SetLocalEntries(f.local.Len())
}

func (f *Facade) setLocal(key string, value any, ttl time.Duration, result string) {
	if err := f.local.Set(key, value, ttl); err != nil {
		f.logKeyEvent("local_set_failed", "set", key, err)
		f.metrics.RecordCacheRequest("set", backendLocal, "error")
		return
	}
	f.metrics.RecordCacheRequest("set", backendLocal, result)
	f.metrics.SetLocalEntries(f.local.Len())
}

// remoteGet coalesces concurrent lookups of one key into a single remote
// call. The shared call is detached from any one caller's cancellation and
// bounded by the remote timeout instead.
func (f *Facade) remoteGet(ctx context.Context, key string) (remoteResult, error) {
	ch := f.flights.DoChan(key, func() (any, error) {
		return f.callRemote(context.WithoutCancel(ctx), "get", func(callCtx context.Context) (remoteResult, error) {
			payload, found, err := f.remote.Get(callCtx, key)
			return remoteResult{payload: payload, found: found}, err
		})
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return remoteResult{}, res.Err
		}
		return res.Val.(remoteResult), nil
	case <-ctx.Done():
		return remoteResult{}, ctx.Err()
	}
}

type remoteReply struct {
	result remoteResult
	err    error
}

// callRemote runs fn under the remote timeout. The wait is bounded even when
// a backend ignores its context; a late reply is discarded.
func (f *Facade) callRemote(ctx context.Context, op string, fn func(context.Context) (remoteResult, error)) (remoteResult, error) {
	ctx, cancel := context.WithTimeout(ctx, f.remoteTimeout)
	defer cancel()
	ctx, span := f.tracer.Start(ctx, "cache.remote."+op, trace.WithAttributes(
		attribute.String("cache.backend", f.remote.Name()),
		attribute.String("cache.op", op),
	))
	defer span.End()

	start := time.Now()
	done := make(chan remoteReply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- remoteReply{err: fmt.Errorf("%w: backend panic: %v", ErrUnavailable, r)}
			}
		}()
		result, err := fn(ctx)
		done <- remoteReply{result: result, err: err}
	}()

	var reply remoteReply
	select {
	case reply = <-done:
	case <-ctx.Done():
		reply = remoteReply{err: fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())}
	}
	f.metrics.ObserveRemote(op, time.Since(start), reply.err != nil)
	if reply.err != nil {
		span.RecordError(reply.err)
		span.SetStatus(otelcodes.Error, "remote call failed")
		return remoteResult{}, reply.err
	}
	return reply.result, nil
}

// fail settles a remote call that returned err; the caller then serves the
// request locally. A caller that gave up says nothing about the backend, and
// a rejection proves the backend is answering.
func (f *Facade) fail(ctx context.Context, op string, key string, err error, probe bool) {
	switch {
	case ctx.Err() != nil:
		f.health.release(probe)
	case errors.Is(err, ErrRejected):
		f.logKeyEvent("remote_rejected", op, key, err)
		f.health.report(f.now(), RemoteSucceeded, probe)
	default:
		f.health.report(f.now(), RemoteFailed, probe)
	}
}

func (f *Facade) onTransition(from Health, to Health) {
	name := ""
	if f.remote != nil {
		name = f.remote.Name()
	}
	f.events.Log(obs.Event{Event: "backend_transition", Backend: name, From: from.String(), To: to.String()})
	f.metrics.RecordBackendTransition(from.String(), to.String())
}

func (f *Facade) logKeyEvent(event string, op string, key string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	f.events.Log(obs.Event{Event: event, Op: op, Key: obs.RedactKey(key), Error: message})
}

func orBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
