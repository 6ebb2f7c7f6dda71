package config

import (
	"flag"
	"time"

	"github.com/caarlos0/env/v6"
)

/*
адрес и порт запуска сервиса: переменная окружения ОС RUN_ADDRESS или флаг -a;
токен телеграм-бота: переменная окружения ОС TELEGRAM_BOT_TOKEN или флаг -t;
идентификатор Google-таблицы: переменная окружения ОС GOOGLE_SHEETS_ID или флаг -s;
файл сервисного аккаунта: переменная окружения ОС GOOGLE_SERVICE_ACCOUNT_JSON или флаг -c.
*/

type ServerConfig struct {
	RunAddress         string `env:"RUN_ADDRESS"`
	TelegramToken      string `env:"TELEGRAM_BOT_TOKEN"`
	SpreadsheetID      string `env:"GOOGLE_SHEETS_ID"`
	CredentialsFile    string `env:"GOOGLE_SERVICE_ACCOUNT_JSON"`
	PollIntervalSecs   int    `env:"POLLING_INTERVAL"`
	MaxSupplyAgeDays   int    `env:"MAX_SUPPLY_AGE_DAYS"`
	SheetsMinDelaySecs int    `env:"SHEETS_MIN_DELAY"`
	WBRetryAttempts    int    `env:"WB_API_RETRY_ATTEMPTS"`
	WBRetryDelaySecs   int    `env:"WB_API_RETRY_DELAY"`
	WBCooldownSecs     int    `env:"WB_API_RATE_LIMIT_DELAY"`
}

func NewConfig() (*ServerConfig, error) {
	var params ServerConfig
	err := env.Parse(&params)
	if err != nil {
		return nil, err
	}

	var commandLineParams ServerConfig

	flag.StringVar(&commandLineParams.RunAddress, "a", "localhost:8080", "Base address to listen on")
	flag.StringVar(&commandLineParams.TelegramToken, "t", "", "Telegram bot token")
	flag.StringVar(&commandLineParams.SpreadsheetID, "s", "", "Google spreadsheet id")
	flag.StringVar(&commandLineParams.CredentialsFile, "c", "service_account.json", "Google service account file")
	flag.Parse()

	if params.RunAddress == "" {
		params.RunAddress = commandLineParams.RunAddress
	}
	if params.TelegramToken == "" {
		params.TelegramToken = commandLineParams.TelegramToken
	}
	if params.SpreadsheetID == "" {
		params.SpreadsheetID = commandLineParams.SpreadsheetID
	}
	if params.CredentialsFile == "" {
		params.CredentialsFile = commandLineParams.CredentialsFile
	}
	if params.PollIntervalSecs == 0 {
		params.PollIntervalSecs = 300
	}
	if params.MaxSupplyAgeDays == 0 {
		params.MaxSupplyAgeDays = 7
	}
	if params.SheetsMinDelaySecs == 0 {
		params.SheetsMinDelaySecs = 2
	}
	if params.WBRetryAttempts == 0 {
		params.WBRetryAttempts = 3
	}
	if params.WBRetryDelaySecs == 0 {
		params.WBRetryDelaySecs = 2
	}
	if params.WBCooldownSecs == 0 {
		params.WBCooldownSecs = 60
	}

	return &params, nil
}

func (c *ServerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSecs) * time.Second
}
