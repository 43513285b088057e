package main

import (
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/approvalflow/approval"
	"github.com/dshills/approvalflow/graph"
	"github.com/dshills/approvalflow/graph/emit"
	"github.com/dshills/approvalflow/graph/store"
	"github.com/dshills/approvalflow/internal/config"
	"github.com/dshills/approvalflow/internal/logger"
)

// app holds what a single flowctl invocation needs. The store and service
// are opened on first use so that commands like validate work without a
// database.
type app struct {
	cfgFile string
	output  string

	cfg      *config.Config
	log      *zap.Logger
	catalog  *graph.Catalog
	registry *prometheus.Registry
	metrics  *graph.PrometheusMetrics

	st         store.Store[approval.Record]
	closeStore func() error
	svc        *approval.Service
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "flowctl",
		Short: "Run approval workflows",
		Long: `flowctl drives approval processes modelled as directed graphs.

Templates are read from the templates directory (<id>.json, <id>.yaml or
<id>.yml). Instances and their audit trail are kept in the configured store.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.shutdown(cmd.ErrOrStderr())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default ./flowctl.yaml or ~/.flowctl/flowctl.yaml)")
	flags.StringVarP(&a.output, "output", "o", "text", "output format: text or json")
	config.BindFlags(flags)

	root.AddCommand(
		newValidateCmd(a),
		newTemplatesCmd(a),
		newStartCmd(a),
		newDecideCmd(a, approval.Approve),
		newDecideCmd(a, approval.Reject),
		newShowCmd(a),
		newHistoryCmd(a),
		newPendingCmd(a),
		newListCmd(a),
	)
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	if a.output != "text" && a.output != "json" {
		return fmt.Errorf("unsupported output format: %s", a.output)
	}

	cfg, err := config.Load(a.cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	a.cfg = cfg

	log, err := logger.New(logger.Config{Debug: cfg.Log.Debug, Format: cfg.Log.Format, File: cfg.Log.File})
	if err != nil {
		return err
	}
	a.log = log
	a.log.Debug("configuration loaded",
		zap.String("config_file", cfg.File),
		zap.String("templates_dir", cfg.TemplatesDir),
		zap.String("store", cfg.Store.Driver),
	)

	a.catalog = graph.NewCatalog(graph.DirLoader(cfg.TemplatesDir))
	if cfg.Metrics.Enabled {
		a.registry = prometheus.NewRegistry()
		a.metrics = graph.NewPrometheusMetrics(a.registry)
	}
	return nil
}

// service opens the store and builds the approval service.
func (a *app) service() (*approval.Service, error) {
	if a.svc != nil {
		return a.svc, nil
	}

	switch a.cfg.Store.Driver {
	case config.DriverMemory:
		a.st = store.NewMemStore[approval.Record]()
	case config.DriverSQLite:
		st, err := store.NewSQLiteStore[approval.Record](a.cfg.Store.DSN)
		if err != nil {
			return nil, err
		}
		a.st, a.closeStore = st, st.Close
	case config.DriverMySQL:
		st, err := store.NewMySQLStore[approval.Record](a.cfg.Store.DSN)
		if err != nil {
			return nil, err
		}
		a.st, a.closeStore = st, st.Close
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", a.cfg.Store.Driver)
	}

	opts := []approval.Option{
		approval.WithLogger(a.log),
		approval.WithEmitter(emit.NewZapEmitter(a.log.Named("engine"))),
	}
	if a.metrics != nil {
		opts = append(opts, approval.WithMetrics(a.metrics))
	}
	svc, err := approval.NewService(a.catalog, a.st, opts...)
	if err != nil {
		return nil, err
	}
	a.svc = svc
	return svc, nil
}

func (a *app) shutdown(stderr io.Writer) error {
	if a.registry != nil {
		if err := writeMetrics(stderr, a.registry); err != nil {
			return err
		}
	}
	if a.closeStore != nil {
		if err := a.closeStore(); err != nil {
			return fmt.Errorf("close store: %w", err)
		}
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
	return nil
}

// writeMetrics dumps the registry in the Prometheus text format.
func writeMetrics(w io.Writer, registry *prometheus.Registry) error {
	families, err := registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
