package utils

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

var DataDir = "."

// string used to format Go ISO times
const ISOFormat = "2006-01-02T15:04:05.000Z"

// Environment variables overriding the service configuration.
const (
	EnvMASAddress  = "FIREREGIME_MAS_ADDRESS"
	EnvWorkerNodes = "FIREREGIME_WORKER_NODES"
	EnvMemcache    = "FIREREGIME_MEMCACHE"
	EnvSeriesDSN   = "FIREREGIME_SERIES_DSN"
	EnvOutputDir   = "FIREREGIME_OUTPUT_DIR"
)

const (
	JobFrequency = "frequency"
	JobSeverity  = "severity"
)

const DefaultRecvMsgSize = 10 * 1024 * 1024
const DefaultGrpcConcLimit = 16

// Severity job defaults.
const (
	DefaultMaxCloudCover  = 10
	DefaultFileDimensions = 4000
)

type ServiceConfig struct {
	MASAddress         string   `json:"mas_address" yaml:"mas_address"`
	WorkerNodes        []string `json:"worker_nodes" yaml:"worker_nodes"`
	Memcache           string   `json:"memcache" yaml:"memcache"`
	SeriesDSN          string   `json:"series_dsn" yaml:"series_dsn"`
	OutputDir          string   `json:"output_dir" yaml:"output_dir"`
	TemplateDir        string   `json:"template_dir" yaml:"template_dir"`
	MaxGrpcRecvMsgSize int      `json:"max_grpc_recv_msg_size" yaml:"max_grpc_recv_msg_size"`
	GrpcConcLimit      int      `json:"grpc_conc_limit" yaml:"grpc_conc_limit"`
}

// RegionConfig points to a GeoJSON FeatureCollection of regions of
// interest.
type RegionConfig struct {
	Path         string `json:"path" yaml:"path"`
	IDProperty   string `json:"id_property" yaml:"id_property"`
	NameProperty string `json:"name_property" yaml:"name_property"`
	CRS          string `json:"crs" yaml:"crs"`
}

type MaskConfig struct {
	CloudBand    string  `json:"cloud_band" yaml:"cloud_band"`
	SnowBand     string  `json:"snow_band" yaml:"snow_band"`
	SCLBand      string  `json:"scl_band" yaml:"scl_band"`
	MaxCloudProb float64 `json:"max_cloud_prob" yaml:"max_cloud_prob"`
	MaxSnowProb  float64 `json:"max_snow_prob" yaml:"max_snow_prob"`
	ExcludedSCL  []int   `json:"excluded_scl" yaml:"excluded_scl"`
}

// ClassRuleConfig leaves Lower or Upper unset for an open-ended rule.
type ClassRuleConfig struct {
	Lower          *float64 `json:"lower" yaml:"lower"`
	Upper          *float64 `json:"upper" yaml:"upper"`
	LowerInclusive bool     `json:"lower_inclusive" yaml:"lower_inclusive"`
	UpperInclusive bool     `json:"upper_inclusive" yaml:"upper_inclusive"`
	Class          uint8    `json:"class" yaml:"class"`
	Label          string   `json:"label" yaml:"label"`
}

type ClassTableConfig struct {
	Name     string            `json:"name" yaml:"name"`
	Policy   string            `json:"policy" yaml:"policy"`
	Default  uint8             `json:"default" yaml:"default"`
	MinClass uint8             `json:"min_class" yaml:"min_class"`
	MaxClass uint8             `json:"max_class" yaml:"max_class"`
	Rules    []ClassRuleConfig `json:"rules" yaml:"rules"`
}

// ExportConfig describes the GeoTIFF outputs of a job. Scale is the ground
// sampling distance in metres.
type ExportConfig struct {
	FileNamePrefix string  `json:"file_name_prefix" yaml:"file_name_prefix"`
	Scale          float64 `json:"scale" yaml:"scale"`
	CRS            string  `json:"crs" yaml:"crs"`
	MaxPixels      float64 `json:"max_pixels" yaml:"max_pixels"`
	FileDimensions int     `json:"file_dimensions" yaml:"file_dimensions"`
	Quicklook      bool    `json:"quicklook" yaml:"quicklook"`
}

// Job is one analysis run over a set of regions.
type Job struct {
	Name          string            `json:"name" yaml:"name"`
	Type          string            `json:"type" yaml:"type"`
	Collection    string            `json:"collection" yaml:"collection"`
	Band          string            `json:"band" yaml:"band"`
	Bands         []string          `json:"bands" yaml:"bands"`
	StartISODate  string            `json:"start_isodate" yaml:"start_isodate"`
	EndISODate    string            `json:"end_isodate" yaml:"end_isodate"`
	StartYear     int               `json:"start_year" yaml:"start_year"`
	EndYear       int               `json:"end_year" yaml:"end_year"`
	TimeGen       string            `json:"time_generator" yaml:"time_generator"`
	MaxCloudCover float64           `json:"max_cloud_cover" yaml:"max_cloud_cover"`
	Resolution    float64           `json:"resolution" yaml:"resolution"`
	RescaleBy     float64           `json:"rescale_by" yaml:"rescale_by"`
	Region        RegionConfig      `json:"region" yaml:"region"`
	Mask          *MaskConfig       `json:"mask" yaml:"mask"`
	ClassTable    *ClassTableConfig `json:"class_table" yaml:"class_table"`
	Palette       *Palette          `json:"palette" yaml:"palette"`
	Export        ExportConfig      `json:"export" yaml:"export"`

	StartTime time.Time `json:"-" yaml:"-"`
	EndTime   time.Time `json:"-" yaml:"-"`
}

// Config holds the service endpoints and the jobs to run.
type Config struct {
	ServiceConfig ServiceConfig `json:"service_config" yaml:"service_config"`
	Jobs          []Job         `json:"jobs" yaml:"jobs"`
}

// LoadConfigFile parses a JSON or YAML document, fills defaults and
// validates the jobs.
func (config *Config) LoadConfigFile(configFile string) error {
	*config = Config{}
	cfg, err := ioutil.ReadFile(configFile)
	if err != nil {
		return fmt.Errorf("Error while reading config file: %s. Error: %v", configFile, err)
	}

	switch strings.ToLower(filepath.Ext(configFile)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(cfg, config)
		if err != nil {
			return fmt.Errorf("Error at YAML parsing config document: %s. Error: %v", configFile, err)
		}
	default:
		err = json.Unmarshal(cfg, config)
		if err != nil {
			return fmt.Errorf("Error at JSON parsing config document: %s. Error: %v", configFile, err)
		}
	}

	return config.init()
}

func (config *Config) init() error {
	sc := &config.ServiceConfig
	if sc.MaxGrpcRecvMsgSize <= 0 {
		sc.MaxGrpcRecvMsgSize = DefaultRecvMsgSize
	}
	if sc.GrpcConcLimit <= 0 {
		sc.GrpcConcLimit = DefaultGrpcConcLimit
	}
	if sc.OutputDir == "" {
		sc.OutputDir = DataDir
	}
	if sc.TemplateDir == "" {
		sc.TemplateDir = filepath.Join(DataDir, "templates")
	}

	names := map[string]bool{}
	for i := range config.Jobs {
		job := &config.Jobs[i]
		if job.Name == "" {
			return fmt.Errorf("job %d has no name", i)
		}
		if names[job.Name] {
			return fmt.Errorf("duplicate job name %s", job.Name)
		}
		names[job.Name] = true
		if err := job.init(); err != nil {
			return fmt.Errorf("job %s: %v", job.Name, err)
		}
	}
	return nil
}

func (job *Job) init() error {
	switch job.Type {
	case JobFrequency, JobSeverity:
	default:
		return fmt.Errorf("unknown job type %q", job.Type)
	}
	if job.Collection == "" {
		return fmt.Errorf("collection is required")
	}
	if job.Region.Path == "" {
		return fmt.Errorf("region path is required")
	}
	if job.Resolution <= 0 {
		return fmt.Errorf("resolution must be positive")
	}

	if job.Export.Scale <= 0 {
		job.Export.Scale = 30
	}
	if job.Export.CRS == "" {
		job.Export.CRS = "EPSG:4674"
	}
	if job.Export.MaxPixels <= 0 {
		job.Export.MaxPixels = 1e13
	}
	if job.Export.FileNamePrefix == "" {
		job.Export.FileNamePrefix = job.Name
	}

	if job.Palette != nil && len(job.Palette.Colours) < 2 {
		return fmt.Errorf("The colour palette must contain at least 2 colours.")
	}

	if job.Type == JobFrequency {
		if job.Band == "" {
			return fmt.Errorf("frequency job needs a product band")
		}
		if job.RescaleBy == 0 {
			job.RescaleBy = 100
		}
		return nil
	}

	if job.Band == "" {
		job.Band = "nbr"
	}
	// negative disables the scene cloud filter
	if job.MaxCloudCover == 0 {
		job.MaxCloudCover = DefaultMaxCloudCover
	}
	if job.Export.FileDimensions == 0 {
		job.Export.FileDimensions = DefaultFileDimensions
	}
	if job.TimeGen == "" {
		job.TimeGen = "monthly"
	}
	if job.TimeGen != "monthly" && job.TimeGen != "yearly" {
		return fmt.Errorf("unsupported time generator %q", job.TimeGen)
	}
	if job.StartYear == 0 || job.EndYear < job.StartYear {
		return fmt.Errorf("invalid year range %d-%d", job.StartYear, job.EndYear)
	}

	var err error
	if job.StartISODate != "" {
		job.StartTime, err = time.Parse(ISOFormat, job.StartISODate)
		if err != nil {
			return fmt.Errorf("start_isodate: %v", err)
		}
	} else {
		job.StartTime = time.Date(job.StartYear, time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	if job.EndISODate != "" {
		job.EndTime, err = time.Parse(ISOFormat, job.EndISODate)
		if err != nil {
			return fmt.Errorf("end_isodate: %v", err)
		}
	} else {
		job.EndTime = time.Date(job.EndYear, time.December, 31, 23, 59, 59, 0, time.UTC)
	}
	if job.EndTime.Before(job.StartTime) {
		return fmt.Errorf("end date %v before start date %v", job.EndTime, job.StartTime)
	}
	return nil
}

// ApplyEnv loads envFile when it exists and overrides the service
// configuration with the FIREREGIME_* variables.
func (config *Config) ApplyEnv(envFile string) error {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return fmt.Errorf("Error loading env file %s: %v", envFile, err)
			}
		}
	}

	sc := &config.ServiceConfig
	if v := os.Getenv(EnvMASAddress); v != "" {
		sc.MASAddress = v
	}
	if v := os.Getenv(EnvWorkerNodes); v != "" {
		sc.WorkerNodes = nil
		for _, node := range strings.Split(v, ",") {
			if node = strings.TrimSpace(node); node != "" {
				sc.WorkerNodes = append(sc.WorkerNodes, node)
			}
		}
	}
	if v := os.Getenv(EnvMemcache); v != "" {
		sc.Memcache = v
	}
	if v := os.Getenv(EnvSeriesDSN); v != "" {
		sc.SeriesDSN = v
	}
	if v := os.Getenv(EnvOutputDir); v != "" {
		sc.OutputDir = v
	}
	return nil
}

// FindJob returns the named job.
func (config *Config) FindJob(name string) (*Job, error) {
	for i := range config.Jobs {
		if config.Jobs[i].Name == name {
			return &config.Jobs[i], nil
		}
	}
	return nil, fmt.Errorf("job %s not found", name)
}
