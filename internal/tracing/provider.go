// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package tracing wires a process-wide OpenTelemetry tracer provider for
// the rushti CLI: one span per dispatched task, propagated from the
// scheduler through the harness into the remote client, exported over
// stdouttrace by default so a run is traceable with no collector to
// stand up first — a real OTLP collector endpoint is an operational
// choice an operator can layer in later, not a prerequisite for tracing
// to do anything at all.
package tracing

import (
	"context"
	"io"
	"os"

	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config controls the sampling and export behavior of the process
// tracer provider.
type Config struct {
	// SampleRatio is the fraction of traces recorded, in [0, 1]. 1
	// records every task span; 0 disables tracing entirely (the
	// no-op provider).
	SampleRatio float64

	// Writer receives the exported spans, one JSON object per line. Nil
	// defaults to os.Stderr, keeping spans off the stdout stream the run
	// command's own dry-run/summary output uses.
	Writer io.Writer
}

// DefaultConfig samples every task span, exporting to stderr.
func DefaultConfig() Config {
	return Config{SampleRatio: 1}
}

// NewProvider installs a process-wide TracerProvider sampling at
// cfg.SampleRatio and returns it so the caller can Shutdown it on exit.
// A ratio of 0 or below installs nothing and returns a nil provider,
// leaving otel's default no-op global provider in place.
func NewProvider(ctx context.Context, serviceName, serviceVersion string, cfg Config) (*sdktrace.TracerProvider, error) {
	if cfg.SampleRatio <= 0 {
		return nil, nil
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRatio < 1 {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	writer := cfg.Writer
	if writer == nil {
		writer = os.Stderr
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(writer))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sampler),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tp)
	return tp, nil
}

// Tracer returns the tracer rushti's components instrument spans with,
// reading whatever TracerProvider is currently installed (the real one
// from NewProvider, or otel's no-op default if tracing is disabled or
// NewProvider was never called).
func Tracer() trace.Tracer {
	return otel.Tracer("rushti")
}
