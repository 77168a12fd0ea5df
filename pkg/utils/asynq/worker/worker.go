// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"runtime"

	"github.com/hibiken/asynq"

	"github.com/ace-ecosystem/ace/pkg/core/config"
	"github.com/ace-ecosystem/ace/pkg/core/registry"
)

// Option is a function, which configures the [Worker].
type Option func(conf *asynq.Config)

// Worker wraps an [asynq.Server] and [asynq.ServeMux] with additional
// convenience methods for task handlers.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

// WithLogLevel is an [Option], which configures the log level of the [Worker].
func WithLogLevel(level asynq.LogLevel) Option {
	opt := func(conf *asynq.Config) {
		conf.LogLevel = level
	}

	return opt
}

// WithErrorHandler is an [Option], which configures the [Worker] to use the
// specified [asynq.ErrorHandler].
func WithErrorHandler(handler asynq.ErrorHandler) Option {
	opt := func(conf *asynq.Config) {
		conf.ErrorHandler = handler
	}

	return opt
}

// WithBaseContext is an [Option], which configures the [Worker] to derive the
// contexts of task handlers from the given context.
func WithBaseContext(ctx context.Context) Option {
	opt := func(conf *asynq.Config) {
		conf.BaseContext = func() context.Context { return ctx }
	}

	return opt
}

// NewFromConfig creates a new [Worker] based on the provided
// [config.WorkerConfig] spec.
func NewFromConfig(r asynq.RedisClientOpt, conf config.WorkerConfig, opts ...Option) *Worker {
	concurrency := conf.Concurrency
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}

	defaultQueues := map[string]int{
		config.DefaultQueueName: 1,
	}

	queues := conf.Queues
	if len(queues) == 0 {
		queues = defaultQueues
	}

	config := asynq.Config{
		Concurrency:    concurrency,
		Queues:         queues,
		StrictPriority: conf.StrictPriority,
	}

	for _, opt := range opts {
		opt(&config)
	}

	server := asynq.NewServer(r, config)
	mux := asynq.NewServeMux()
	worker := &Worker{
		server: server,
		mux:    mux,
	}

	return worker
}

// Handle registers the handler for the given task name.
func (w *Worker) Handle(pattern string, handler asynq.Handler) {
	w.mux.Handle(pattern, handler)
}

// HandlersFromRegistry registers every handler from the given task registry
// with the [Worker].
func (w *Worker) HandlersFromRegistry(reg *registry.Registry[string, asynq.Handler]) {
	_ = reg.Range(func(name string, handler asynq.Handler) error {
		w.mux.Handle(name, handler)

		return nil
	})
}

// UseMiddlewares configures the [Worker] mux to use the given middlewares.
func (w *Worker) UseMiddlewares(mws ...asynq.MiddlewareFunc) {
	w.mux.Use(mws...)
}

// Run starts the [Worker] and blocks until an OS signal is received.
func (w *Worker) Run() error {
	return w.server.Run(w.mux)
}

// Start starts the [Worker] without blocking and stops it once the context
// is done.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		w.Shutdown()
	}()

	return nil
}

// Shutdown gracefully shuts down the [Worker].
func (w *Worker) Shutdown() {
	w.server.Shutdown()
}
