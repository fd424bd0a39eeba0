package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cuongbtq/order-reports/internal/api/dto"
	"github.com/cuongbtq/order-reports/internal/client"
	"github.com/cuongbtq/order-reports/internal/domain"
	"github.com/cuongbtq/order-reports/shared/logger"
	"github.com/joho/godotenv"
)

const usage = `Usage: report-cli [flags] <command> [args]

Commands:
  generate <order_id> <csv|pdf>   submit, poll until done, download
  submit   <order_id> <csv|pdf>   submit a report job
  status   <job_id>               print the job snapshot
  poll     <job_id>               poll until COMPLETED or FAILED
  download <job_id>               save the report file
  delete   <job_id>               delete the job and its file
  list     <order_id>             list an order's jobs, newest first

Flags:
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, stdout io.Writer) int {
	_ = godotenv.Load()

	defaultAPI := os.Getenv("REPORT_API_URL")
	if defaultAPI == "" {
		defaultAPI = "http://localhost:8080"
	}

	fs := flag.NewFlagSet("report-cli", flag.ContinueOnError)
	apiURL := fs.String("api", defaultAPI, "Base URL of the report API")
	interval := fs.Duration("interval", client.DefaultPollInterval, "Polling interval")
	timeout := fs.Duration("timeout", 10*time.Minute, "Give up polling after this long")
	outDir := fs.String("out", ".", "Directory for downloaded reports")
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 2 {
		fs.Usage()
		return 2
	}

	log := logger.NewDefault()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	cli := &commands{
		api:      client.New(*apiURL, nil),
		interval: *interval,
		outDir:   *outDir,
		stdout:   stdout,
		logger:   log.Logger,
	}

	if err := cli.dispatch(ctx, fs.Arg(0), fs.Args()[1:]); err != nil {
		var conflict *client.ConflictError
		if errors.As(err, &conflict) && conflict.ExistingJobID != "" {
			log.Error("A report for this order and format is already in progress",
				slog.String("job_id", conflict.ExistingJobID),
				slog.String("status", conflict.ExistingStatus),
			)
			return 1
		}
		log.Error("Command failed", slog.String("command", fs.Arg(0)), slog.Any("error", err))
		return 1
	}
	return 0
}

type commands struct {
	api      *client.Client
	interval time.Duration
	outDir   string
	stdout   io.Writer
	logger   *slog.Logger
}

func (c *commands) dispatch(ctx context.Context, name string, args []string) error {
	switch name {
	case "generate":
		orderID, format, err := parseOrderFormat(args)
		if err != nil {
			return err
		}
		return c.generate(ctx, orderID, format)
	case "submit":
		orderID, format, err := parseOrderFormat(args)
		if err != nil {
			return err
		}
		job, err := c.api.Submit(ctx, orderID, format)
		if err != nil {
			return err
		}
		return c.print(job)
	case "status":
		job, err := c.api.Get(ctx, args[0])
		if err != nil {
			return err
		}
		return c.print(job)
	case "poll":
		job, err := c.poll(ctx, args[0])
		if err != nil {
			return err
		}
		return c.print(job)
	case "download":
		return c.download(ctx, args[0])
	case "delete":
		if err := c.api.Delete(ctx, args[0]); err != nil {
			return err
		}
		c.logger.Info("Report job deleted", slog.String("job_id", args[0]))
		return nil
	case "list":
		var orderID int64
		if _, err := fmt.Sscan(args[0], &orderID); err != nil {
			return fmt.Errorf("invalid order id %q", args[0])
		}
		jobs, err := c.api.ListByOrder(ctx, orderID)
		if err != nil {
			return err
		}
		return c.print(jobs)
	default:
		return fmt.Errorf("unknown command %q", name)
	}
}

// generate follows an existing in-flight job for the pair instead of failing
func (c *commands) generate(ctx context.Context, orderID int64, format domain.Format) error {
	tracker := client.NewTracker(c.api)
	job, err := tracker.Ensure(ctx, orderID, format)
	if err != nil {
		return err
	}
	c.logger.Info("Report job submitted",
		slog.String("job_id", job.ID),
		slog.String("status", job.Status),
	)

	job, err = c.poll(ctx, job.ID)
	if err != nil {
		return err
	}
	if job.Status == string(domain.StatusFailed) {
		return fmt.Errorf("report job %s failed: %s", job.ID, job.ErrorDetail)
	}
	return c.download(ctx, job.ID)
}

func (c *commands) poll(ctx context.Context, jobID string) (*dto.ReportJobDTO, error) {
	last := ""
	return c.api.Poll(ctx, jobID, c.interval, func(job *dto.ReportJobDTO) {
		if job.Status != last {
			c.logger.Info("Report job status", slog.String("job_id", job.ID), slog.String("status", job.Status))
			last = job.Status
		}
	})
}

func (c *commands) download(ctx context.Context, jobID string) error {
	report, err := c.api.Download(ctx, jobID)
	if err != nil {
		return err
	}

	name := report.FileName
	if name == "" {
		name = jobID
	}
	path := filepath.Join(c.outDir, filepath.Base(name))
	if err := os.WriteFile(path, report.Data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	c.logger.Info("Report downloaded",
		slog.String("job_id", jobID),
		slog.String("path", path),
		slog.Int("bytes", len(report.Data)),
	)
	return nil
}

func (c *commands) print(v any) error {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseOrderFormat(args []string) (int64, domain.Format, error) {
	if len(args) < 2 {
		return 0, "", errors.New("expected <order_id> <csv|pdf>")
	}
	var orderID int64
	if _, err := fmt.Sscan(args[0], &orderID); err != nil || orderID <= 0 {
		return 0, "", fmt.Errorf("invalid order id %q", args[0])
	}
	format, err := domain.ParseFormat(args[1])
	if err != nil {
		return 0, "", err
	}
	return orderID, format, nil
}
