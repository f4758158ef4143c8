// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package app wires the spot-ratio-webhook cobra command: flag parsing,
// environment-variable binding, config validation, and startup of the
// admission server, reconciler, and health/metrics endpoints.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	ctrlwebhook "sigs.k8s.io/controller-runtime/pkg/webhook"
	"sigs.k8s.io/controller-runtime/pkg/webhook/admission"

	"github.com/spotbalancer/admission-webhook/pkg/apis/config"
	"github.com/spotbalancer/admission-webhook/pkg/apis/config/validation"
	"github.com/spotbalancer/admission-webhook/pkg/logging"
	"github.com/spotbalancer/admission-webhook/pkg/metrics"
	"github.com/spotbalancer/admission-webhook/pkg/placement/balancer"
	"github.com/spotbalancer/admission-webhook/pkg/placement/engine"
	"github.com/spotbalancer/admission-webhook/pkg/placement/resolver"
	"github.com/spotbalancer/admission-webhook/pkg/placement/store"
	"github.com/spotbalancer/admission-webhook/pkg/reconciler"
	"github.com/spotbalancer/admission-webhook/pkg/webhook/mutate"
	"github.com/spotbalancer/admission-webhook/pkg/webhook/validate"
)

// seconds bundles the handful of options that are expressed as durations in
// Config but as plain integer-seconds flags/env vars on the command line,
// matching the external configuration table.
type seconds struct {
	webhookTimeout    int
	redisDefaultTTL   int
	lockTTL           int
	reconcileInterval int
}

// NewCommand builds the root cobra command for the webhook binary.
func NewCommand() *cobra.Command {
	conf := &config.Config{}
	var secs seconds

	cmd := &cobra.Command{
		Use:   "spot-ratio-webhook",
		Short: "Admission webhook enforcing a per-job spot/on-demand executor ratio",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := bindEnv(cmd); err != nil {
				return err
			}

			conf.WebhookTimeout = time.Duration(secs.webhookTimeout) * time.Second
			conf.RedisDefaultTTL = time.Duration(secs.redisDefaultTTL) * time.Second
			conf.LockTTL = time.Duration(secs.lockTTL) * time.Second
			conf.ReconcileInterval = time.Duration(secs.reconcileInterval) * time.Second

			config.SetDefaults(conf)
			if errs := validation.ValidateConfig(conf); len(errs) > 0 {
				return fmt.Errorf("invalid configuration: %w", errs.ToAggregate())
			}
			return run(cmd.Context(), conf)
		},
	}

	addFlags(cmd.Flags(), conf, &secs)
	return cmd
}

func addFlags(fs *pflag.FlagSet, conf *config.Config, secs *seconds) {
	fs.StringVar((*string)(&conf.SpotPreference), "spot-preference", string(engine.Strict), "STRICT or BEST_EFFORT")
	fs.Float64Var(&conf.DefaultSpotRatio, "default-spot-ratio", 0.5, "fallback target spot ratio in [0,1]")

	fs.IntVar(&secs.webhookTimeout, "webhook-timeout-seconds", 10, "upper bound, in seconds, on a single admission handler invocation")
	fs.StringVar(&conf.RedisURL, "redis-url", "", "state store endpoint (required)")
	fs.IntVar(&secs.redisDefaultTTL, "redis-default-ttl-seconds", 86400, "TTL, in seconds, applied to counter and ratio records")
	fs.IntVar(&secs.lockTTL, "lock-ttl-seconds", 5, "per-key distributed lock TTL in seconds")

	fs.StringVar(&conf.CapacityTypeLabel, "capacity-type-label", "node.kubernetes.io/capacity-type", "node-selector key for capacity type")
	fs.StringVar(&conf.WorkloadRoleLabel, "workload-role-label", "spark-role", "pod label key carrying the workload role")
	fs.StringVar(&conf.DriverRoleValue, "driver-role-value", "driver", "role label value identifying a driver pod")
	fs.StringVar(&conf.ExecutorRoleValue, "executor-role-value", "executor", "role label value identifying an executor pod")
	fs.StringVar(&conf.JobIDLabel, "job-id-label", "spark-app-selector", "pod label key carrying the job identifier")
	fs.StringVar(&conf.SpotRatioAnnotation, "spot-ratio-annotation", "scheduling.spotbalancer.io/spot-ratio", "driver-pod annotation key carrying the target ratio")

	fs.BoolVar(&conf.ReconcileEnabled, "reconcile-enabled", true, "enable the background reconciliation loop")
	fs.IntVar(&secs.reconcileInterval, "reconcile-interval-seconds", 300, "reconciliation loop cadence in seconds")

	fs.StringVar((*string)(&conf.LogLevel), "log-level", string(logging.InfoLevel), "debug, info, or error")
	fs.StringVar((*string)(&conf.LogFormat), "log-format", string(logging.FormatJSON), "json or text")

	fs.IntVar(&conf.Port, "port", 9443, "admission-webhook HTTPS listen port")
	fs.IntVar(&conf.HealthProbePort, "health-probe-port", 8080, "port serving /healthz and /metrics")
	fs.StringVar(&conf.CertDir, "cert-dir", "/tmp/k8s-webhook-server/serving-certs", "directory holding the TLS serving certificate")
}

// bindEnv overlays any matching environment variable onto a flag that was
// not explicitly set on the command line, so every option in the external
// configuration table can be supplied either way.
func bindEnv(cmd *cobra.Command) error {
	var errs []string
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		configName := strings.ReplaceAll(f.Name, "-", "_")
		if !f.Changed && v.IsSet(configName) {
			if err := cmd.Flags().Set(f.Name, fmt.Sprintf("%v", v.Get(configName))); err != nil {
				errs = append(errs, err.Error())
			}
		}
	})

	if len(errs) > 0 {
		return fmt.Errorf("error mapping environment variables to flags: %s", strings.Join(errs, "; "))
	}
	return nil
}

func run(ctx context.Context, conf *config.Config) error {
	log, err := logging.NewZapLogger(conf.LogLevel, conf.LogFormat)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	opt, err := redis.ParseURL(conf.RedisURL)
	if err != nil {
		return fmt.Errorf("invalid redis-url: %w", err)
	}
	redisClient := redis.NewClient(opt)
	defer redisClient.Close()
	stateStore := store.New(redisClient)

	restConfig, err := rest.InClusterConfig()
	if err != nil {
		return fmt.Errorf("failed to load in-cluster config: %w", err)
	}
	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return fmt.Errorf("failed to build kubernetes client: %w", err)
	}

	metrics.MustRegister(prometheus.DefaultRegisterer)

	b := balancer.New(stateStore, log, conf.LockTTL, conf.RedisDefaultTTL)

	res := &resolver.Resolver{
		Store:        stateStore,
		Pods:         clientset,
		Log:          log,
		TTL:          conf.RedisDefaultTTL,
		DefaultRatio: conf.DefaultSpotRatio,
	}
	res.Labels.JobID = conf.JobIDLabel
	res.Labels.WorkloadRole = conf.WorkloadRoleLabel
	res.Labels.DriverRoleValue = conf.DriverRoleValue
	res.Labels.SpotRatioAnnotation = conf.SpotRatioAnnotation

	decoder := admission.NewDecoder(scheme.Scheme)

	server := ctrlwebhook.NewServer(ctrlwebhook.Options{Port: conf.Port, CertDir: conf.CertDir})
	mutate.AddToManager(server, &mutate.Handler{Conf: conf, Balancer: b, Resolver: res, Logger: log.WithName("mutate"), Decoder: decoder})
	validate.AddToManager(server, &validate.Handler{Conf: conf, Balancer: b, Logger: log.WithName("validate"), Decoder: decoder})

	rec := &reconciler.Reconciler{Conf: conf, Pods: clientset, Balancer: b, Log: log.WithName("reconciler")}
	rec.Start(ctx)
	defer rec.Stop()

	healthSrv := newHealthServer(conf, stateStore, log)
	go func() {
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(err, "health/metrics server exited unexpectedly")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = healthSrv.Shutdown(shutdownCtx)
	}()

	log.Info("starting admission webhook server", "port", conf.Port, "healthProbePort", conf.HealthProbePort)
	return server.Start(ctx)
}

func newHealthServer(conf *config.Config, s store.Store, log logr.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), conf.WebhookTimeout)
		defer cancel()
		if err := s.Ping(ctx); err != nil {
			log.Error(err, "healthz check failed")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", conf.HealthProbePort),
		Handler: mux,
	}
}
