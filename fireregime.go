package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/bimalab/fireregime/metrics"
	"github.com/bimalab/fireregime/processor"
	"github.com/bimalab/fireregime/utils"
	"github.com/gammazero/workerpool"
	reuseport "github.com/kavu/go_reuseport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
)

var (
	confFile    = flag.String("conf", "config.yaml", "Job configuration file (JSON or YAML).")
	jobName     = flag.String("job", "", "Run only the named job.")
	envFile     = flag.String("env", ".env", "Environment file overriding service settings.")
	dataDir     = flag.String("data_dir", utils.DataDir, "Data directory holding the templates.")
	debug       = flag.Bool("debug", false, "Verbose logging.")
	metricsAddr = flag.String("metrics_addr", "", "Address serving Prometheus metrics, e.g. :9100.")
	logDir      = flag.String("log_dir", "", "Job metrics directory, '-' for stdout.")
	conc        = flag.Int("conc", 1, "Number of jobs run concurrently.")
)

type runner struct {
	config   *utils.Config
	source   processor.RasterSource
	series   utils.SeriesStore
	mLogger  metrics.Logger
	log      *zap.SugaredLogger
	concJobs int
}

func (rn *runner) env(job *utils.Job) *processor.PipelineEnv {
	sc := rn.config.ServiceConfig
	return &processor.PipelineEnv{
		Source:      rn.source,
		Exporter:    processor.NewGeoTIFFExporter(sc.OutputDir, processor.ExportParamsFromConfig(job.Export), rn.log),
		Series:      rn.series,
		OutputDir:   sc.OutputDir,
		TemplateDir: sc.TemplateDir,
		ConcLimit:   sc.GrpcConcLimit,
		Log:         rn.log,
	}
}

func (rn *runner) runJob(ctx context.Context, job *utils.Job) error {
	mc := metrics.NewMetricsCollector(rn.mLogger)
	mc.Update(func(info *metrics.MetricsInfo) {
		info.JobName = job.Name
		info.JobType = job.Type
	})

	var files []string
	var err error
	switch job.Type {
	case utils.JobFrequency:
		var res *processor.FrequencyResult
		res, err = processor.InitFrequencyPipeline(rn.env(job), mc).Process(ctx, job)
		if res != nil {
			files = res.Files
		}
	case utils.JobSeverity:
		var res *processor.SeverityResult
		res, err = processor.InitSeverityPipeline(ctx, rn.env(job), mc, make(chan error, 100)).Process(ctx, job)
		if res != nil {
			files = res.Files
		}
	default:
		err = fmt.Errorf("unknown job type %q", job.Type)
	}
	mc.Finish(err)

	if err != nil {
		return fmt.Errorf("job %s: %w", job.Name, err)
	}
	rn.log.Infow("job finished", "job", job.Name, "type", job.Type, "files", len(files))
	return nil
}

func (rn *runner) run(ctx context.Context, jobs []*utils.Job) error {
	bar := progressbar.Default(int64(len(jobs)), "Running jobs")
	wp := workerpool.New(rn.concJobs)

	var mu sync.Mutex
	var failed []error
	for _, job := range jobs {
		job := job
		wp.Submit(func() {
			if err := rn.runJob(ctx, job); err != nil {
				rn.log.Errorf("%v", err)
				mu.Lock()
				failed = append(failed, err)
				mu.Unlock()
			}
			bar.Add(1)
		})
	}
	wp.StopWait()

	if len(failed) > 0 {
		return fmt.Errorf("%d of %d jobs failed, first: %w", len(failed), len(jobs), failed[0])
	}
	return nil
}

func metricsLoggers(reg prometheus.Registerer, log *zap.SugaredLogger) (metrics.MultiLogger, func(), error) {
	loggers := metrics.MultiLogger{metrics.NewPrometheusLogger(reg)}
	closeFn := func() {}
	if len(*logDir) == 0 {
		return loggers, closeFn, nil
	}
	if *logDir == "-" {
		return append(loggers, metrics.NewStdoutLogger(log)), closeFn, nil
	}

	maxLogFileSize := int64(0)
	if val, ok := os.LookupEnv("FIREREGIME_MAX_LOG_FILE_SIZE"); ok {
		valInt, e := strconv.ParseInt(val, 10, 64)
		if e == nil {
			maxLogFileSize = valInt
		} else {
			log.Errorf("invalid FIREREGIME_MAX_LOG_FILE_SIZE: %v", e)
		}
	}
	maxLogFiles := -1
	if val, ok := os.LookupEnv("FIREREGIME_MAX_LOG_FILES"); ok {
		valInt, e := strconv.ParseInt(val, 10, 32)
		if e == nil {
			maxLogFiles = int(valInt)
		} else {
			log.Errorf("invalid FIREREGIME_MAX_LOG_FILES: %v", e)
		}
	}

	fl, err := metrics.NewFileLogger(*logDir, maxLogFileSize, maxLogFiles, log)
	if err != nil {
		return nil, closeFn, err
	}
	return append(loggers, fl), fl.Close, nil
}

func serveMetrics(reg *prometheus.Registry, log *zap.SugaredLogger) error {
	ln, err := reuseport.Listen("tcp", *metricsAddr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		if err := http.Serve(ln, mux); err != nil {
			log.Errorf("metrics server: %v", err)
		}
	}()
	log.Infof("serving metrics on %s", ln.Addr())
	return nil
}

func main() {
	flag.Parse()
	utils.DataDir = *dataDir

	log, err := utils.NewLogger(*debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	config := &utils.Config{}
	if err := config.LoadConfigFile(*confFile); err != nil {
		log.Fatalf("Error in loading config file: %v", err)
	}
	if err := config.ApplyEnv(*envFile); err != nil {
		log.Fatalf("%v", err)
	}
	sc := config.ServiceConfig
	if sc.MASAddress == "" || len(sc.WorkerNodes) == 0 {
		log.Fatalf("mas_address and worker_nodes are required (or %s and %s)", utils.EnvMASAddress, utils.EnvWorkerNodes)
	}

	var jobs []*utils.Job
	if *jobName != "" {
		job, err := config.FindJob(*jobName)
		if err != nil {
			log.Fatalf("%v", err)
		}
		jobs = append(jobs, job)
	} else {
		for i := range config.Jobs {
			jobs = append(jobs, &config.Jobs[i])
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	loggers, closeLoggers, err := metricsLoggers(reg, log)
	if err != nil {
		log.Fatalf("metrics logger: %v", err)
	}
	defer closeLoggers()
	if *metricsAddr != "" {
		if err := serveMetrics(reg, log); err != nil {
			log.Fatalf("metrics listener: %v", err)
		}
	}

	indexer := processor.NewAcquisitionIndexer(sc.MASAddress, log)
	grpcSource := processor.NewGRPCRasterSource(indexer, sc.WorkerNodes, sc.MaxGrpcRecvMsgSize, sc.GrpcConcLimit, log)
	source := processor.NewCachedSource(grpcSource, utils.NewCache(sc.Memcache), log)

	series := utils.MultiSeriesStore{&utils.CSVSeriesStore{Dir: sc.OutputDir}}
	if sc.SeriesDSN != "" {
		pg, err := utils.NewPostgresSeriesStore(ctx, sc.SeriesDSN)
		if err != nil {
			log.Fatalf("%v", err)
		}
		series = append(series, pg)
	}
	defer series.Close()

	rn := &runner{
		config:   config,
		source:   source,
		series:   series,
		mLogger:  loggers,
		log:      log,
		concJobs: *conc,
	}
	if err := rn.run(ctx, jobs); err != nil {
		log.Errorf("%v", err)
		closeLoggers()
		log.Sync()
		os.Exit(1)
	}
}
