package config

import (
	"os"
	"strconv"
	"time"
)

type PlanConfig struct {
	TrialCostCoins    int64
	MonthlyCostCoins  int64
	TrialDuration     time.Duration
	MonthlyDuration   time.Duration
	SweepInterval     time.Duration
	SweepBatchSize    int
	ProvisionStepWait time.Duration
	VerifyLockTimeout time.Duration
}

func LoadPlanConfig() *PlanConfig {
	return &PlanConfig{
		TrialCostCoins:    getEnvAsInt64("PLAN_TRIAL_COST_COINS", 0),
		MonthlyCostCoins:  getEnvAsInt64("PLAN_MONTHLY_COST_COINS", 100),
		TrialDuration:     getEnvAsDuration("PLAN_TRIAL_DURATION", 7*24*time.Hour),
		MonthlyDuration:   getEnvAsDuration("PLAN_MONTHLY_DURATION", 30*24*time.Hour),
		SweepInterval:     getEnvAsDuration("SWEEP_INTERVAL", 30*time.Minute),
		SweepBatchSize:    getEnvAsInt("SWEEP_BATCH_SIZE", 100),
		ProvisionStepWait: getEnvAsDuration("PROVISION_STEP_WAIT", 2*time.Second),
		VerifyLockTimeout: getEnvAsDuration("VERIFY_LOCK_TIMEOUT", 30*time.Second),
	}
}

// CoinCost returns the creation cost for a plan in coins.
func (c *PlanConfig) CoinCost(plan string) int64 {
	if plan == "TRIAL" {
		return c.TrialCostCoins
	}
	return c.MonthlyCostCoins
}

// Duration returns how long a deployment on the given plan runs before expiry.
func (c *PlanConfig) Duration(plan string) time.Duration {
	if plan == "TRIAL" {
		return c.TrialDuration
	}
	return c.MonthlyDuration
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.ParseInt(val, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}
