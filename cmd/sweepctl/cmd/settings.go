package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// settings is the validated view of the merged configuration
type settings struct {
	ServerURL      string        `validate:"required,url"`
	APIKey         string        `validate:"required"`
	Location       string        `validate:"required"`
	Output         string        `validate:"oneof=table json yaml"`
	LogFormat      string        `validate:"oneof=text json"`
	LogFile        string
	LogCapacity    int           `validate:"gt=0"`
	StatusFast     time.Duration `validate:"gt=0"`
	StatusSlow     time.Duration `validate:"gt=0"`
	LogFast        time.Duration `validate:"gt=0"`
	LogSlow        time.Duration `validate:"gt=0"`
	FailureWindow  time.Duration `validate:"gt=0"`
	RequestTimeout time.Duration `validate:"gt=0"`
	ConfirmTimeout time.Duration `validate:"gt=0"`
	ConfirmEvery   time.Duration `validate:"gt=0"`
	Freshness      time.Duration `validate:"gte=0"`
	LowProgress    float64       `validate:"gte=0,lte=100"`
	BaseWeight     float64       `validate:"gte=0,lte=1"`
	ETAWindow      time.Duration `validate:"gt=0"`
	OTLPEndpoint   string
}

var settingKeys = map[string]string{
	"ServerURL":      "server_url",
	"APIKey":         "api_key",
	"Location":       "location",
	"Output":         "output",
	"LogFormat":      "log_format",
	"LogCapacity":    "log_capacity",
	"StatusFast":     "poll.status_fast",
	"StatusSlow":     "poll.status_slow",
	"LogFast":        "poll.log_fast",
	"LogSlow":        "poll.log_slow",
	"FailureWindow":  "failure_window",
	"RequestTimeout": "request_timeout",
	"ConfirmTimeout": "confirm_timeout",
	"ConfirmEvery":   "confirm_interval",
	"Freshness":      "freshness",
	"LowProgress":    "eta.low_progress_percent",
	"BaseWeight":     "eta.base_weight",
	"ETAWindow":      "eta.window",
}

func loadSettings() (settings, error) {
	s := settings{
		ServerURL:      GetServerURL(),
		APIKey:         GetAPIKey(),
		Location:       viper.GetString("location"),
		Output:         outputFormat,
		LogFormat:      viper.GetString("log_format"),
		LogFile:        viper.GetString("log_file"),
		LogCapacity:    viper.GetInt("log_capacity"),
		StatusFast:     viper.GetDuration("poll.status_fast"),
		StatusSlow:     viper.GetDuration("poll.status_slow"),
		LogFast:        viper.GetDuration("poll.log_fast"),
		LogSlow:        viper.GetDuration("poll.log_slow"),
		FailureWindow:  viper.GetDuration("failure_window"),
		RequestTimeout: viper.GetDuration("request_timeout"),
		ConfirmTimeout: viper.GetDuration("confirm_timeout"),
		ConfirmEvery:   viper.GetDuration("confirm_interval"),
		Freshness:      viper.GetDuration("freshness"),
		LowProgress:    viper.GetFloat64("eta.low_progress_percent"),
		BaseWeight:     viper.GetFloat64("eta.base_weight"),
		ETAWindow:      viper.GetDuration("eta.window"),
		OTLPEndpoint:   viper.GetString("otlp_endpoint"),
	}
	return s, s.validate()
}

func (s settings) validate() error {
	err := validator.New().Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("failed to validate configuration: %w", err)
	}
	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		key := settingKeys[fe.Field()]
		if key == "" {
			key = fe.Field()
		}
		if fe.Param() != "" {
			problems = append(problems, fmt.Sprintf("%s must satisfy %s=%s", key, fe.Tag(), fe.Param()))
		} else {
			problems = append(problems, fmt.Sprintf("%s is %s", key, fe.Tag()))
		}
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
}
