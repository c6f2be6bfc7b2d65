package driver

import (
	"github.com/arcs-skku/SSpark/internal/dag"
	"github.com/spf13/viper"
)

func loadConfig() {
	viper.SetConfigName("ssparkrc")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.sspark")

	setupDefaults()

	viper.ReadInConfig()

	viper.SetEnvPrefix("sspark")
	viper.AutomaticEnv()
}

func setupDefaults() {
	defaultSettings := map[string]interface{}{
		"max_consecutive_stage_attempts":                  4,
		"unregister_output_on_host_on_fetch_failure":      false,
		"external_shuffle_service_enabled":                false,
		"dynamic_allocation_enabled":                      false,
		"barrier_max_concurrent_tasks_check_interval":     "15s",
		"barrier_max_concurrent_tasks_check_max_failures": 40,
		"resubmit_timeout":                                "200ms",
		"test_no_stage_retry":                             false,
	}
	for key, value := range defaultSettings {
		viper.SetDefault(key, value)
	}
}

func newConfig() *dag.Config {
	loadConfig() // Load viper config from settings file(s) and environment
	return &dag.Config{
		MaxConsecutiveStageAttempts:               viper.GetInt("max_consecutive_stage_attempts"),
		UnregisterOutputOnHostOnFetchFailure:      viper.GetBool("unregister_output_on_host_on_fetch_failure"),
		ExternalShuffleServiceEnabled:             viper.GetBool("external_shuffle_service_enabled"),
		DynamicAllocationEnabled:                  viper.GetBool("dynamic_allocation_enabled"),
		BarrierMaxConcurrentTasksCheckInterval:    viper.GetDuration("barrier_max_concurrent_tasks_check_interval"),
		BarrierMaxConcurrentTasksCheckMaxFailures: viper.GetInt("barrier_max_concurrent_tasks_check_max_failures"),
		ResubmitTimeout:                           viper.GetDuration("resubmit_timeout"),
		TestNoStageRetry:                          viper.GetBool("test_no_stage_retry"),
	}
}
