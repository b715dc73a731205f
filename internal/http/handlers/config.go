package handlers

import (
	"context"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/codecconf/internal/config"
	"github.com/jmylchreest/codecconf/internal/observability"
)

// ConfigHandler exposes the effective configuration with secrets removed.
type ConfigHandler struct {
	cfg *config.Config
}

// NewConfigHandler creates a new config handler.
func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{cfg: cfg}
}

// Register registers the config routes with the API.
func (h *ConfigHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getConfig",
		Method:      http.MethodGet,
		Path:        "/api/v1/config",
		Summary:     "Get configuration",
		Description: "Returns the configuration the server started with. Database credentials are redacted.",
		Tags:        []string{"System"},
	}, h.GetConfig)
}

// ConfigResponse is the effective configuration.
type ConfigResponse struct {
	Driver   DriverConfigData   `json:"driver"`
	Device   DeviceConfigData   `json:"device"`
	Suite    SuiteConfigData    `json:"suite"`
	Results  ResultsConfigData  `json:"results"`
	Database DatabaseConfigData `json:"database"`
	Server   ServerConfigData   `json:"server"`
}

// DriverConfigData represents work-loop defaults.
type DriverConfigData struct {
	Mode             string `json:"mode"`
	PollTimeout      string `json:"poll_timeout"`
	EOSWithLastFrame bool   `json:"eos_with_last_frame"`
}

// DeviceConfigData represents software device sizing.
type DeviceConfigData struct {
	InputSlots    int    `json:"input_slots"`
	OutputSlots   int    `json:"output_slots"`
	MaxInputSize  string `json:"max_input_size"` // Human-readable, e.g. "1.0 MiB"
	ReorderDepth  int    `json:"reorder_depth"`
	FuseOutputEOS bool   `json:"fuse_output_eos"`
}

// SuiteConfigData represents suite execution settings.
type SuiteConfigData struct {
	Parallelism int      `json:"parallelism"`
	VectorsDir  string   `json:"vectors_dir,omitempty"`
	FrameLimit  int      `json:"frame_limit"`
	CaseTimeout string   `json:"case_timeout"`
	Cases       []string `json:"cases,omitempty"`
	Schedule    string   `json:"schedule,omitempty"`
}

// ResultsConfigData represents result housekeeping.
type ResultsConfigData struct {
	Retention string `json:"retention"`
}

// DatabaseConfigData represents database configuration.
type DatabaseConfigData struct {
	Driver       string `json:"driver"`
	DSN          string `json:"dsn"`
	MaxOpenConns int    `json:"max_open_conns"`
	MaxIdleConns int    `json:"max_idle_conns"`
}

// ServerConfigData represents server configuration.
type ServerConfigData struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
}

// ConfigInput is the input for getting the configuration.
type ConfigInput struct{}

// ConfigOutput is the output for getting the configuration.
type ConfigOutput struct {
	Body ConfigResponse
}

// GetConfig returns the effective configuration.
func (h *ConfigHandler) GetConfig(_ context.Context, _ *ConfigInput) (*ConfigOutput, error) {
	c := h.cfg
	return &ConfigOutput{Body: ConfigResponse{
		Driver: DriverConfigData{
			Mode:             c.Driver.Mode,
			PollTimeout:      c.Driver.PollTimeout.String(),
			EOSWithLastFrame: c.Driver.EOSWithLastFrame,
		},
		Device: DeviceConfigData{
			InputSlots:    c.Device.InputSlots,
			OutputSlots:   c.Device.OutputSlots,
			MaxInputSize:  c.Device.MaxInputSize.String(),
			ReorderDepth:  c.Device.ReorderDepth,
			FuseOutputEOS: c.Device.FuseOutputEOS,
		},
		Suite: SuiteConfigData{
			Parallelism: c.Suite.Parallelism,
			VectorsDir:  c.Suite.VectorsDir,
			FrameLimit:  c.Suite.FrameLimit,
			CaseTimeout: c.Suite.CaseTimeout.String(),
			Cases:       c.Suite.Cases,
			Schedule:    c.Suite.Schedule,
		},
		Results: ResultsConfigData{Retention: c.Results.Retention.String()},
		Database: DatabaseConfigData{
			Driver:       c.Database.Driver,
			DSN:          redactDSN(c.Database.DSN),
			MaxOpenConns: c.Database.MaxOpenConns,
			MaxIdleConns: c.Database.MaxIdleConns,
		},
		Server: ServerConfigData{
			Host:         c.Server.Host,
			Port:         c.Server.Port,
			ReadTimeout:  c.Server.ReadTimeout.String(),
			WriteTimeout: c.Server.WriteTimeout.String(),
		},
	}}, nil
}

var dsnPassword = regexp.MustCompile(`(?i)(password=)(\S+)`)

// redactDSN removes passwords from URL, key=value and user:pass@ DSNs.
func redactDSN(dsn string) string {
	if strings.Contains(dsn, "://") {
		if u, err := url.Parse(dsn); err == nil {
			return u.Redacted()
		}
	}
	dsn = dsnPassword.ReplaceAllString(dsn, "${1}"+observability.RedactedValue)
	if at := strings.Index(dsn, "@"); at > 0 {
		if colon := strings.Index(dsn[:at], ":"); colon >= 0 {
			dsn = dsn[:colon+1] + observability.RedactedValue + dsn[at:]
		}
	}
	return dsn
}
