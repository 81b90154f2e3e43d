package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wisefido-vitals/internal/config"
	"wisefido-vitals/internal/models"
	"wisefido-vitals/internal/report"
	"wisefido-vitals/internal/repository"
	"wisefido-vitals/internal/service"
	"wisefido-vitals/owl-common/database"
	"wisefido-vitals/owl-common/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const serviceName = "wisefido-vitals"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          serviceName,
		Short:        "Patient vital signs ingestion, anomaly detection and alerting",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newSeedThresholdsCmd())
	rootCmd.AddCommand(newExportAlertsCmd())
	return rootCmd
}

// ============================================
// serve
// ============================================

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the vitals service until SIGINT / SIGTERM",
		RunE: func(cmd *cobra.Command, _ []string) error {
			// 1. 加载配置
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			// 2. 初始化日志
			log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, serviceName)
			if err != nil {
				return fmt.Errorf("failed to init logger: %w", err)
			}
			defer log.Sync()

			// 3. 创建上下文（支持优雅关闭）
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			// 4. 创建服务
			vitalsService, err := service.NewVitalsService(ctx, cfg, log)
			if err != nil {
				log.Error("Failed to create vitals service", zap.Error(err))
				return err
			}
			defer vitalsService.Stop()

			// 5. 启动服务（在 goroutine 中）
			serviceErrChan := make(chan error, 1)
			go func() {
				serviceErrChan <- vitalsService.Start(ctx)
			}()

			// 6. 等待信号（优雅关闭）
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigChan)

			select {
			case sig := <-sigChan:
				log.Info("Received signal, shutting down",
					zap.String("signal", sig.String()),
				)
				cancel()
				<-serviceErrChan
			case err := <-serviceErrChan:
				if err != nil {
					log.Error("Service error", zap.Error(err))
					return err
				}
			}

			log.Info("Vitals service stopped")
			return nil
		},
	}
}

// ============================================
// seed-thresholds
// ============================================

func newSeedThresholdsCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed-thresholds",
		Short: "Create the schema and upsert disease thresholds from a YAML file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sets, err := config.LoadThresholdSeed(file)
			if err != nil {
				return err
			}

			return withDatabase(cmd.Context(), func(ctx context.Context, cfg *config.Config, db *sql.DB, log *zap.Logger) error {
				if err := repository.EnsureSchema(ctx, db); err != nil {
					return err
				}
				thresholds := service.NewThresholdService(repository.NewThresholdRepository(db, log), cfg.Thresholds.Default, log)
				if err := thresholds.Seed(ctx, sets); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d threshold sets\n", len(sets))
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML threshold seed file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// ============================================
// export-alerts
// ============================================

type exportOptions struct {
	out        string
	patientID  int64
	severity   string
	unresolved bool
	from       string
	to         string
	sort       string
}

func newExportAlertsCmd() *cobra.Command {
	opts := exportOptions{}

	cmd := &cobra.Command{
		Use:   "export-alerts",
		Short: "Export alerts matching the filters to an Excel workbook",
		RunE: func(cmd *cobra.Command, _ []string) error {
			filters, err := opts.filters()
			if err != nil {
				return err
			}

			return withDatabase(cmd.Context(), func(ctx context.Context, cfg *config.Config, db *sql.DB, log *zap.Logger) error {
				alertRepo := repository.NewAlertRepository(db, log)
				alerts := service.NewAlertService(db, alertRepo, nil, nil, cfg.Alerts.ListMaxLimit, cfg.Alerts.ListMaxLimit, log)

				all, err := collectAlerts(ctx, alerts, filters, cfg.Alerts.ListMaxLimit)
				if err != nil {
					return err
				}

				ids := make([]int64, 0, len(all))
				for _, a := range all {
					if a.AnomalyID != nil {
						ids = append(ids, *a.AnomalyID)
					}
				}
				anomalies, err := repository.NewAnomalyRepository(db, log).GetByIDs(ctx, ids)
				if err != nil {
					return err
				}

				f, err := os.Create(opts.out)
				if err != nil {
					return fmt.Errorf("failed to create output file: %w", err)
				}
				if err := report.WriteAlertsWorkbook(f, all, anomalies, time.Now()); err != nil {
					f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return fmt.Errorf("failed to close output file: %w", err)
				}

				log.Info("Alerts exported",
					zap.String("file", opts.out),
					zap.Int("count", len(all)),
				)
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "Exported %d alerts to %s\n", len(all), opts.out)
				return err
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.out, "out", "o", "alerts.xlsx", "output file")
	flags.Int64Var(&opts.patientID, "patient", 0, "only alerts of this patient")
	flags.StringVar(&opts.severity, "severity", "", "only alerts of this severity (red, yellow, blue)")
	flags.BoolVar(&opts.unresolved, "unresolved", false, "only unresolved alerts")
	flags.StringVar(&opts.from, "from", "", "created at or after (RFC3339)")
	flags.StringVar(&opts.to, "to", "", "created at or before (RFC3339)")
	flags.StringVar(&opts.sort, "sort", string(models.SortCreatedAtDesc), "created_at_desc, created_at_asc, severity_desc or severity_asc")
	return cmd
}

// filters 把命令行参数转换为查询条件
func (o exportOptions) filters() (models.AlertFilters, error) {
	filters := models.AlertFilters{Sort: models.AlertSort(o.sort)}

	if o.patientID < 0 {
		return filters, models.NewValidationError("patient", "must be positive")
	}
	if o.patientID > 0 {
		id := o.patientID
		filters.PatientID = &id
	}
	if o.severity != "" {
		sev, err := models.ParseSeverity(o.severity)
		if err != nil {
			return filters, err
		}
		filters.Severity = &sev
	}
	if o.unresolved {
		resolved := false
		filters.IsResolved = &resolved
	}
	if o.from != "" {
		t, err := time.Parse(time.RFC3339, o.from)
		if err != nil {
			return filters, models.NewValidationError("from", "expected RFC3339 time")
		}
		filters.CreatedAfter = &t
	}
	if o.to != "" {
		t, err := time.Parse(time.RFC3339, o.to)
		if err != nil {
			return filters, models.NewValidationError("to", "expected RFC3339 time")
		}
		filters.CreatedBefore = &t
	}
	return filters, nil
}

// AlertLister 报警分页查询
type AlertLister interface {
	List(ctx context.Context, filters models.AlertFilters) ([]models.Alert, error)
}

// collectAlerts 逐页读取全部匹配的报警
// 未指定截止时间时固定为导出开始时刻，避免导出期间新写入的报警造成分页重复
func collectAlerts(ctx context.Context, lister AlertLister, filters models.AlertFilters, pageSize int) ([]models.Alert, error) {
	if pageSize <= 0 {
		pageSize = 500
	}
	filters.Limit = pageSize
	if filters.CreatedBefore == nil {
		cutoff := time.Now().UTC()
		filters.CreatedBefore = &cutoff
	}

	var all []models.Alert
	for skip := 0; ; skip += pageSize {
		filters.Skip = skip
		page, err := lister.List(ctx, filters)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < pageSize {
			return all, nil
		}
	}
}

// withDatabase 加载配置、初始化日志并连接数据库，fn 返回后关闭连接
func withDatabase(ctx context.Context, fn func(ctx context.Context, cfg *config.Config, db *sql.DB, log *zap.Logger) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, serviceName)
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer log.Sync()

	db, err := database.NewPostgresDB(ctx, &cfg.Database)
	if err != nil {
		return err
	}
	defer database.Close(db)

	return fn(ctx, cfg, db, log)
}
