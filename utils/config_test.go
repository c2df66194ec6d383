package utils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const yamlConfig = `service_config:
  mas_address: mas:8888
  worker_nodes: [worker1:6000, worker2:6000]
jobs:
  - name: cerrado_severity
    type: severity
    collection: /s2/l2a
    start_year: 2021
    end_year: 2021
    max_cloud_cover: 20
    resolution: 0.00027
    region:
      path: regions/cerrado.geojson
      id_property: CD_UF
    mask:
      max_cloud_prob: 10
    export:
      quicklook: true
  - name: cerrado_frequency
    type: frequency
    collection: /fire/frequency
    band: frequency
    resolution: 0.00027
    region:
      path: regions/cerrado.geojson
    class_table:
      name: custom
      min_class: 1
      max_class: 2
      rules:
        - {upper: 5, upper_inclusive: true, class: 1, label: few}
        - {lower: 5, class: 2, label: many}
`

func writeConfig(t *testing.T, name, body string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadConfigFileYAML(t *testing.T) {
	config := &Config{}
	require.NoError(t, config.LoadConfigFile(writeConfig(t, "config.yaml", yamlConfig)))

	sc := config.ServiceConfig
	assert.Equal(t, "mas:8888", sc.MASAddress)
	assert.Equal(t, []string{"worker1:6000", "worker2:6000"}, sc.WorkerNodes)
	assert.Equal(t, DefaultRecvMsgSize, sc.MaxGrpcRecvMsgSize)
	assert.Equal(t, DefaultGrpcConcLimit, sc.GrpcConcLimit)
	assert.Equal(t, filepath.Join(DataDir, "templates"), sc.TemplateDir)

	job, err := config.FindJob("cerrado_severity")
	require.NoError(t, err)
	assert.Equal(t, "nbr", job.Band)
	assert.Equal(t, "monthly", job.TimeGen)
	assert.Equal(t, time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), job.StartTime)
	assert.Equal(t, time.Date(2021, 12, 31, 23, 59, 59, 0, time.UTC), job.EndTime)
	assert.Equal(t, 20.0, job.MaxCloudCover)
	assert.Equal(t, DefaultFileDimensions, job.Export.FileDimensions)
	assert.Equal(t, 30.0, job.Export.Scale)
	assert.Equal(t, "EPSG:4674", job.Export.CRS)
	assert.Equal(t, 1e13, job.Export.MaxPixels)
	assert.Equal(t, "cerrado_severity", job.Export.FileNamePrefix)
	assert.True(t, job.Export.Quicklook)
	assert.Equal(t, 10.0, job.Mask.MaxCloudProb)

	freq, err := config.FindJob("cerrado_frequency")
	require.NoError(t, err)
	assert.Equal(t, 100.0, freq.RescaleBy)
	assert.Zero(t, freq.MaxCloudCover)
	require.Len(t, freq.ClassTable.Rules, 2)
	assert.Nil(t, freq.ClassTable.Rules[0].Lower)
	assert.Equal(t, 5.0, *freq.ClassTable.Rules[1].Lower)

	_, err = config.FindJob("nope")
	assert.Error(t, err)
}

func TestLoadConfigFileJSON(t *testing.T) {
	body := `{"jobs": [{"name": "a", "type": "severity", "collection": "/s2", "start_year": 2020, "end_year": 2021,
	  "time_generator": "yearly", "start_isodate": "2020-06-01T00:00:00.000Z", "resolution": 1,
	  "region": {"path": "r.geojson"}}]}`
	config := &Config{}
	require.NoError(t, config.LoadConfigFile(writeConfig(t, "config.json", body)))
	job := config.Jobs[0]
	assert.Equal(t, time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC), job.StartTime)
	assert.Equal(t, "yearly", job.TimeGen)
	assert.Equal(t, float64(DefaultMaxCloudCover), job.MaxCloudCover)
}

func TestLoadConfigFileKeepsDisabledCloudFilter(t *testing.T) {
	body := `{"jobs": [{"name": "a", "type": "severity", "collection": "/s2", "start_year": 2020, "end_year": 2020,
	  "max_cloud_cover": -1, "resolution": 1, "region": {"path": "r.geojson"}, "export": {"file_dimensions": 512}}]}`
	config := &Config{}
	require.NoError(t, config.LoadConfigFile(writeConfig(t, "config.json", body)))
	assert.Equal(t, -1.0, config.Jobs[0].MaxCloudCover)
	assert.Equal(t, 512, config.Jobs[0].Export.FileDimensions)
}

func TestLoadConfigFileInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown type":   `{"jobs": [{"name": "a", "type": "nbr", "collection": "/s2", "resolution": 1, "region": {"path": "r"}}]}`,
		"duplicate name": `{"jobs": [{"name": "a", "type": "frequency", "band": "f", "collection": "/f", "resolution": 1, "region": {"path": "r"}}, {"name": "a", "type": "frequency", "band": "f", "collection": "/f", "resolution": 1, "region": {"path": "r"}}]}`,
		"no region":      `{"jobs": [{"name": "a", "type": "frequency", "band": "f", "collection": "/f", "resolution": 1}]}`,
		"year range":     `{"jobs": [{"name": "a", "type": "severity", "collection": "/s2", "start_year": 2021, "end_year": 2020, "resolution": 1, "region": {"path": "r"}}]}`,
		"time generator": `{"jobs": [{"name": "a", "type": "severity", "collection": "/s2", "start_year": 2021, "end_year": 2021, "time_generator": "daily", "resolution": 1, "region": {"path": "r"}}]}`,
		"short palette":  `{"jobs": [{"name": "a", "type": "frequency", "band": "f", "collection": "/f", "resolution": 1, "region": {"path": "r"}, "palette": {"colours": ["ffffff"]}}]}`,
		"not json":       `{`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			config := &Config{}
			assert.Error(t, config.LoadConfigFile(writeConfig(t, "config.json", body)))
		})
	}
}

func TestApplyEnv(t *testing.T) {
	envFile := writeConfig(t, ".env", "FIREREGIME_MAS_ADDRESS=mas.internal:8888\nFIREREGIME_WORKER_NODES=w1:6000, w2:6000,\n")
	t.Setenv(EnvMASAddress, "")
	t.Setenv(EnvWorkerNodes, "")
	t.Setenv(EnvOutputDir, "/srv/out")
	os.Unsetenv(EnvMASAddress)
	os.Unsetenv(EnvWorkerNodes)

	config := &Config{ServiceConfig: ServiceConfig{MASAddress: "localhost:8888"}}
	require.NoError(t, config.ApplyEnv(envFile))
	assert.Equal(t, "mas.internal:8888", config.ServiceConfig.MASAddress)
	assert.Equal(t, []string{"w1:6000", "w2:6000"}, config.ServiceConfig.WorkerNodes)
	assert.Equal(t, "/srv/out", config.ServiceConfig.OutputDir)

	assert.NoError(t, (&Config{}).ApplyEnv(filepath.Join(t.TempDir(), "missing.env")))
}
