package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/lox/qmodes/internal/modes"
)

// Config holds the settings shared by every job, populated from
// environment variables (and a .env file when present).
type Config struct {
	DataDir   string `validate:"required"`
	OutputDir string `validate:"required"`
	Catalog   string `validate:"required"`

	Author string
	Email  string `validate:"omitempty,email"`

	NK int `validate:"gt=0"`
	NM int `validate:"gt=0"`
	NN int `validate:"gt=1"`

	CDSURL string `validate:"required,url"`
	CDSKey string

	FTPMirror string `validate:"omitempty,url"`

	LogLevel  string `validate:"oneof=debug info warn error"`
	LogFormat string `validate:"oneof=json text"`

	MetricsFile string
}

var validate = validator.New()

// Load reads configuration from environment variables, applying defaults
// where unset. A .env file in the working directory is loaded first and
// never overrides variables already set.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	dims, err := loadDims()
	if err != nil {
		return nil, err
	}

	output := envOrDefault("QMODES_OUTPUT_DIR", ".")
	cfg := &Config{
		DataDir:     envOrDefault("QMODES_DATA_DIR", "MODES_data"),
		OutputDir:   output,
		Catalog:     envOrDefault("QMODES_CATALOG", filepath.Join(output, "qmodes.db")),
		Author:      os.Getenv("QMODES_AUTHOR"),
		Email:       os.Getenv("QMODES_EMAIL"),
		NK:          dims.K,
		NM:          dims.M,
		NN:          dims.N,
		CDSURL:      envOrDefault("CDSAPI_URL", "https://cds.climate.copernicus.eu/api"),
		CDSKey:      os.Getenv("CDSAPI_KEY"),
		FTPMirror:   os.Getenv("QMODES_FTP_MIRROR"),
		LogLevel:    strings.ToLower(envOrDefault("LOG_LEVEL", "info")),
		LogFormat:   strings.ToLower(envOrDefault("LOG_FORMAT", "text")),
		MetricsFile: os.Getenv("QMODES_METRICS_FILE"),
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func loadDims() (modes.Dims, error) {
	d := modes.DefaultDims
	for _, v := range []struct {
		key string
		dst *int
	}{
		{"QMODES_NK", &d.K},
		{"QMODES_NM", &d.M},
		{"QMODES_NN", &d.N},
	} {
		s := os.Getenv(v.key)
		if s == "" {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return d, fmt.Errorf("invalid %s: %w", v.key, err)
		}
		*v.dst = n
	}
	return d, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Dims returns the MODES truncation.
func (c *Config) Dims() modes.Dims {
	return modes.Dims{K: c.NK, M: c.NM, N: c.NN}
}

// Paths lays out the input and output directories under the data and
// output roots.
type Paths struct {
	VSF    string // vsf/
	VSFInt string // vsf_int/
	Hough  string // hough/
	Coef   string // coef/
	ERA    string // ERA_Data/
	QK     string // qk_data/
	QModes string // qMODES_Data/
	Plots  string // plots/
}

func (c *Config) Paths() Paths {
	return Paths{
		VSF:    filepath.Join(c.DataDir, "vsf"),
		VSFInt: filepath.Join(c.DataDir, "vsf_int"),
		Hough:  filepath.Join(c.DataDir, "hough"),
		Coef:   filepath.Join(c.DataDir, "coef"),
		ERA:    filepath.Join(c.DataDir, "ERA_Data"),
		QK:     filepath.Join(c.OutputDir, "qk_data"),
		QModes: filepath.Join(c.OutputDir, "qMODES_Data"),
		Plots:  filepath.Join(c.OutputDir, "plots"),
	}
}
